package domain

// Version is the response schema tag carried on every result document.
const Version = "farmchain-ai-v1.0"

// Canonical soil parameter names. Stage 1 normalizes every recognized
// phrasing onto these keys and every key is always present in its output.
var CanonicalParameters = []string{"pH", "Nitrogen", "Phosphorus", "Potassium", "Organic Carbon"}

// Reading sources. Anything else in model output is treated as invented.
const (
	SourceReport  = "report"
	SourceMissing = "missing"
)

// ParameterReading is one extracted measurement, or an explicit missing
// marker (nil value, source "missing").
type ParameterReading struct {
	Value         *float64 `json:"value"`
	Unit          string   `json:"unit"`
	Source        string   `json:"source"`
	UnitUncertain bool     `json:"unit_uncertain"`
}

// Missing reports whether this reading carries no usable measurement.
func (p ParameterReading) Missing() bool {
	return p.Value == nil || p.Source != SourceReport
}

// ExtractedParameters maps canonical parameter names to readings.
type ExtractedParameters map[string]ParameterReading

// MissingMarker returns the explicit not-found reading.
func MissingMarker() ParameterReading {
	return ParameterReading{Value: nil, Source: SourceMissing}
}

// AnyMissing reports whether at least one canonical parameter is unmeasured.
func (e ExtractedParameters) AnyMissing() bool {
	for _, name := range CanonicalParameters {
		if r, ok := e[name]; !ok || r.Missing() {
			return true
		}
	}
	return false
}

// Classification is one categorized soil axis. Confidence is always set;
// below 0.5 the category is forced to "Unknown" before Stage 2 returns.
type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// SoilProfile maps canonical parameter names to classifications.
type SoilProfile map[string]Classification

// Category returns the label for a parameter, or "Unknown" when absent.
func (s SoilProfile) Category(param string) string {
	if c, ok := s[param]; ok && c.Category != "" {
		return c.Category
	}
	return "Unknown"
}

// AnyUnknown reports whether any canonical axis is unlabeled.
func (s SoilProfile) AnyUnknown() bool {
	for _, name := range CanonicalParameters {
		if s.Category(name) == "Unknown" {
			return true
		}
	}
	return false
}

// CropPlan is the crop slice of a recommendation set: 2-3 primary crops for
// the requested season with typical duration ranges.
type CropPlan struct {
	Primary       []string          `json:"primary"`
	Season        string            `json:"season"`
	CropDurations map[string]string `json:"crop_durations,omitempty"`
}

// FertilizerGuidance is the nutrient-level fertilizer advice: a qualitative
// quantity tier per growth stage, never a numeric dose.
type FertilizerGuidance struct {
	StageTiers  map[string]string `json:"stage_tiers"`
	Fertilizers []string          `json:"fertilizers,omitempty"`
}

// RecommendationSet is Stage 3 output. Invariant: no field contains an exact
// quantity; fertilizer tiers come only from {Low, Medium, High}.
type RecommendationSet struct {
	Crops      CropPlan                      `json:"crop_recommendation"`
	Fertilizer map[string]FertilizerGuidance `json:"fertilizer_plan"`
	Equipment  map[string][]string           `json:"equipment_plan"`
}

// Explanation is the farmer-facing summary. Content and Disclaimer are never
// empty; Advisory is an optional model-written paragraph that is dropped when
// it fails validation.
type Explanation struct {
	Language   string `json:"language"`
	Content    string `json:"content"`
	Advisory   string `json:"advisory,omitempty"`
	Disclaimer string `json:"disclaimer"`
}

// AnalysisResult is the aggregate response document. It is always well
// formed: on failure Success is false and a fallback Explanation with the
// canonical disclaimer is still present.
type AnalysisResult struct {
	Version             string              `json:"version"`
	ExtractedParameters ExtractedParameters `json:"extracted_parameters"`
	SoilProfile         SoilProfile         `json:"soil_profile"`
	Recommendations     *RecommendationSet  `json:"recommendations,omitempty"`
	Explanation         Explanation         `json:"explanation"`
	Success             bool                `json:"success"`
	Error               string              `json:"error,omitempty"`
}
