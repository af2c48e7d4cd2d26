package findings

// Canonical anatomical regions per condition. The first entry is the primary
// site; later entries are secondary attributions with decayed confidence.
var locations = [NumConditions][]string{
	Atelectasis:       {"Lower lung zones", "Right middle lobe", "Left lower lobe"},
	Cardiomegaly:      {"Cardiac silhouette", "Mediastinal contour"},
	Consolidation:     {"Right lung field", "Left lung field", "Bilateral lung bases"},
	Edema:             {"Bilateral perihilar regions", "Lower lung zones", "Peripheral lung fields"},
	Effusion:          {"Right costophrenic angle", "Left costophrenic angle", "Bilateral pleural spaces"},
	Emphysema:         {"Upper lung zones", "Bilateral lung fields", "Peripheral lung regions"},
	Fibrosis:          {"Lower lung zones", "Peripheral lung fields", "Bilateral lung bases"},
	Hernia:            {"Diaphragmatic contour", "Lower chest region"},
	Infiltration:      {"Right lung field", "Left lung field", "Perihilar regions"},
	Mass:              {"Right lung field", "Left lung field", "Hilar region"},
	Nodule:            {"Upper lung zones", "Middle lung zones", "Lower lung zones"},
	PleuralThickening: {"Right pleural surface", "Left pleural surface", "Bilateral pleural spaces"},
	Pneumonia:         {"Right lung field", "Left lung field", "Bilateral lung bases"},
	Pneumothorax:      {"Right pleural space", "Left pleural space", "Apical region"},
	Normal:            {"Clear lung fields", "Normal cardiac silhouette", "Clear costophrenic angles"},
}

var descriptions = [NumConditions]string{
	Atelectasis:       "Areas of collapsed or poorly ventilated lung tissue, potentially indicating underlying obstruction or compression.",
	Cardiomegaly:      "Enlarged cardiac silhouette suggesting possible heart enlargement, requiring correlation with clinical findings.",
	Consolidation:     "Dense opacity indicating airspace filling, typically associated with infection or inflammation.",
	Edema:             "Increased interstitial markings and fluid accumulation suggesting pulmonary edema, requires assessment of cardiac function.",
	Effusion:          "Fluid accumulation in pleural space affecting lung expansion and respiratory function.",
	Emphysema:         "Increased lucency and altered lung architecture indicating airspace enlargement and tissue destruction.",
	Fibrosis:          "Scarring and architectural distortion of lung tissue suggesting chronic inflammatory or fibrotic process.",
	Hernia:            "Abnormal protrusion through the diaphragm, potentially affecting cardiopulmonary function.",
	Infiltration:      "Patchy opacities suggesting inflammatory or infectious process with varied distribution.",
	Mass:              "Well-defined opacity requiring further investigation to determine nature and malignancy potential.",
	Nodule:            "Small rounded opacity requiring follow-up to assess stability and characteristics.",
	PleuralThickening: "Abnormal thickening of pleural surfaces suggesting chronic inflammatory or fibrotic changes.",
	Pneumonia:         "Consolidative changes indicating active infection requiring appropriate antimicrobial therapy.",
	Pneumothorax:      "Air in pleural space causing lung collapse, requires immediate evaluation of extent and intervention if necessary.",
	Normal:            "No significant abnormalities detected. Lung fields are clear with normal cardiac silhouette and costophrenic angles.",
}

// Locations returns the canonical regions for c, primary site first.
func Locations(c Condition) []string {
	if !c.Valid() {
		return nil
	}
	out := make([]string, len(locations[c]))
	copy(out, locations[c])
	return out
}

// Description returns the canonical finding text for c.
func Description(c Condition) string {
	if !c.Valid() {
		return ""
	}
	return descriptions[c]
}
