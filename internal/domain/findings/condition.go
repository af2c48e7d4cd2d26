package findings

import (
	"encoding/json"
	"fmt"
)

// Condition is one of the classes the chest X-ray classifier scores. The
// numeric value is the index of the class in the classifier output.
type Condition int

const (
	Atelectasis Condition = iota
	Cardiomegaly
	Consolidation
	Edema
	Effusion
	Emphysema
	Fibrosis
	Hernia
	Infiltration
	Mass
	Nodule
	PleuralThickening
	Pneumonia
	Pneumothorax
	Normal

	// NumConditions is the length of the classifier output vector.
	NumConditions = int(Normal) + 1
)

var conditionNames = [NumConditions]string{
	Atelectasis:       "Atelectasis",
	Cardiomegaly:      "Cardiomegaly",
	Consolidation:     "Consolidation",
	Edema:             "Edema",
	Effusion:          "Effusion",
	Emphysema:         "Emphysema",
	Fibrosis:          "Fibrosis",
	Hernia:            "Hernia",
	Infiltration:      "Infiltration",
	Mass:              "Mass",
	Nodule:            "Nodule",
	PleuralThickening: "Pleural_Thickening",
	Pneumonia:         "Pneumonia",
	Pneumothorax:      "Pneumothorax",
	Normal:            "Normal",
}

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	return c >= 0 && int(c) < NumConditions
}

func (c Condition) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Condition(%d)", int(c))
	}
	return conditionNames[c]
}

// ParseCondition returns the condition with the given classifier label.
func ParseCondition(s string) (Condition, error) {
	for i, name := range conditionNames {
		if name == s {
			return Condition(i), nil
		}
	}
	return 0, fmt.Errorf("unknown condition: %q", s)
}

func (c Condition) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown condition: %d", int(c))
	}
	return json.Marshal(conditionNames[c])
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCondition(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Conditions returns every condition in classifier output order.
func Conditions() []Condition {
	out := make([]Condition, NumConditions)
	for i := range out {
		out[i] = Condition(i)
	}
	return out
}
