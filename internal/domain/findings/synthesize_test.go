package findings

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func probs(set map[Condition]float64) Probabilities {
	var p Probabilities
	for c, v := range set {
		p[c] = v
	}
	return p
}

func TestCatalog_Complete(t *testing.T) {
	for _, c := range Conditions() {
		n := len(Locations(c))
		if c != Normal && (n < 2 || n > 3) {
			t.Errorf("%s has %d locations, want 2-3", c, n)
		}
		if Description(c) == "" {
			t.Errorf("%s has no description", c)
		}
		if c.String() == "" {
			t.Errorf("condition %d has no name", int(c))
		}
	}
}

func TestConditionOrder(t *testing.T) {
	want := []string{
		"Atelectasis", "Cardiomegaly", "Consolidation", "Edema", "Effusion",
		"Emphysema", "Fibrosis", "Hernia", "Infiltration", "Mass", "Nodule",
		"Pleural_Thickening", "Pneumonia", "Pneumothorax", "Normal",
	}
	var got []string
	for _, c := range Conditions() {
		got = append(got, c.String())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("condition order mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesize_AllBelowThreshold(t *testing.T) {
	p := probs(map[Condition]float64{Pneumonia: 0.49, Normal: 0.3, Mass: 0.1})
	got := Synthesize(p)
	if len(got) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(got))
	}
	if got[0].Type != Normal {
		t.Errorf("Type = %s, want Normal", got[0].Type)
	}
	if got[0].Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", got[0].Confidence)
	}
	if got[0].Location != "Clear lung fields" {
		t.Errorf("Location = %q, want %q", got[0].Location, "Clear lung fields")
	}
	if got[0].Description != Description(Normal) {
		t.Errorf("Description = %q", got[0].Description)
	}
}

func TestSynthesize_ZeroVector(t *testing.T) {
	got := Synthesize(Probabilities{})
	if len(got) != 1 || got[0].Type != Normal || got[0].Confidence != DefaultNormalConfidence {
		t.Fatalf("unexpected result for zero vector: %+v", got)
	}
}

func TestSynthesize_OnlyNormalSelected(t *testing.T) {
	got := Synthesize(probs(map[Condition]float64{Normal: 0.7, Effusion: 0.2}))
	if len(got) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(got))
	}
	if got[0].Type != Normal {
		t.Errorf("Type = %s, want Normal", got[0].Type)
	}
	if got[0].Confidence != 0.7 {
		t.Errorf("Confidence = %v, want 0.7", got[0].Confidence)
	}
}

func TestSynthesize_PneumoniaScenario(t *testing.T) {
	got := Synthesize(probs(map[Condition]float64{Pneumonia: 0.8, Normal: 0.1}))

	want := []Anomaly{
		{Type: Pneumonia, Location: "Right lung field", Confidence: 0.8, Description: Description(Pneumonia)},
		{Type: Pneumonia, Location: "Left lung field", Confidence: 0.72, Description: "Additional pneumonia findings in this region."},
		{Type: Pneumonia, Location: "Bilateral lung bases", Confidence: 0.64, Description: "Additional pneumonia findings in this region."},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Synthesize mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesize_SingleClassProperties(t *testing.T) {
	for _, c := range Conditions() {
		if c == Normal {
			continue
		}
		t.Run(c.String(), func(t *testing.T) {
			p := probs(map[Condition]float64{c: 0.63})
			got := Synthesize(p)
			if len(got) != len(Locations(c)) {
				t.Fatalf("len = %d, want %d", len(got), len(Locations(c)))
			}
			if got[0].Confidence != 0.63 {
				t.Errorf("first confidence = %v, want exactly 0.63", got[0].Confidence)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Confidence >= got[i-1].Confidence {
					t.Errorf("confidence not strictly descending at %d: %v >= %v", i, got[i].Confidence, got[i-1].Confidence)
				}
				if !strings.Contains(got[i].Description, strings.ToLower(c.String())+" findings in this region") {
					t.Errorf("secondary description %q does not reference class", got[i].Description)
				}
			}
			for _, a := range got {
				if a.Confidence < 0 || a.Confidence > 1 {
					t.Errorf("confidence %v out of range", a.Confidence)
				}
			}
		})
	}
}

func TestSynthesize_HigherProbabilityFirst(t *testing.T) {
	got := Synthesize(probs(map[Condition]float64{Atelectasis: 0.55, Pneumothorax: 0.9, Normal: 0.6}))

	nPneumothorax := len(Locations(Pneumothorax))
	nAtelectasis := len(Locations(Atelectasis))
	if len(got) != nPneumothorax+nAtelectasis {
		t.Fatalf("len = %d, want %d", len(got), nPneumothorax+nAtelectasis)
	}
	for i, a := range got {
		want := Pneumothorax
		if i >= nPneumothorax {
			want = Atelectasis
		}
		if a.Type != want {
			t.Errorf("anomaly %d type = %s, want %s", i, a.Type, want)
		}
		if a.Type == Normal {
			t.Error("Normal must be dropped when abnormal classes are selected")
		}
	}
}

func TestSynthesize_TiesKeepClassifierOrder(t *testing.T) {
	got := Synthesize(probs(map[Condition]float64{Nodule: 0.7, Cardiomegaly: 0.7}))
	if got[0].Type != Cardiomegaly {
		t.Fatalf("first type = %s, want Cardiomegaly", got[0].Type)
	}
	if got[len(got)-1].Type != Nodule {
		t.Errorf("last type = %s, want Nodule", got[len(got)-1].Type)
	}
}

func TestSynthesize_ThresholdInclusive(t *testing.T) {
	got := Synthesize(probs(map[Condition]float64{Hernia: 0.5}))
	if got[0].Type != Hernia {
		t.Errorf("probability equal to threshold should be selected, got %s", got[0].Type)
	}
}

func TestProbabilitiesFrom(t *testing.T) {
	if _, err := ProbabilitiesFrom(make([]float64, 14)); err == nil {
		t.Error("expected error for short vector")
	}
	bad := make([]float64, NumConditions)
	bad[3] = 1.2
	if _, err := ProbabilitiesFrom(bad); err == nil {
		t.Error("expected error for out-of-range probability")
	}
	ok := make([]float64, NumConditions)
	ok[int(Edema)] = 0.9
	p, err := ProbabilitiesFrom(ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p[Edema] != 0.9 {
		t.Errorf("p[Edema] = %v, want 0.9", p[Edema])
	}
}

func TestAnomaly_JSON(t *testing.T) {
	a := Anomaly{Type: PleuralThickening, Location: "Right pleural surface", Confidence: 0.6, Description: "x"}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"Pleural_Thickening"`) {
		t.Errorf("unexpected JSON: %s", data)
	}
	var back Anomaly
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type != PleuralThickening {
		t.Errorf("Type = %s, want Pleural_Thickening", back.Type)
	}
	if err := json.Unmarshal([]byte(`{"type":"Flu"}`), &back); err == nil {
		t.Error("expected error for unknown condition")
	}
}

func TestIsNormal(t *testing.T) {
	if !IsNormal(Synthesize(Probabilities{})) {
		t.Error("zero vector findings should be normal")
	}
	if IsNormal(Synthesize(probs(map[Condition]float64{Mass: 0.9}))) {
		t.Error("mass findings should not be normal")
	}
}
