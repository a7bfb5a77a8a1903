package pipeline

import (
	"strings"
	"testing"

	"farmchain/internal/agronomy"
	"farmchain/internal/domain"
)

func TestSanitizeModelJSON(t *testing.T) {
	cases := []struct{ name, in, want string }{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Here is the result: {"a":1} hope that helps`, `{"a":1}`},
		{"nested braces", `text {"a":{"b":2}} text`, `{"a":{"b":2}}`},
	}
	for _, c := range cases {
		if got := sanitizeModelJSON(c.in); got != c.want {
			t.Errorf("%s: sanitizeModelJSON(%q) = %q, want %q", c.name, c.in, got, c.want)
		}
	}
}

func TestCheckNoNumericSoilValues(t *testing.T) {
	bad := []string{
		"The soil pH: 7.2 indicates neutral conditions",
		"Nitrogen = 180 suggests deficiency",
		"Apply 150 kg/ha before sowing",
		"use 50kg of urea per acre",
		"apply 25 bags",
		"organic carbon: 0.45",
	}
	for _, s := range bad {
		if err := checkNoNumericSoilValues(s); err == nil {
			t.Errorf("accepted forbidden text %q", s)
		}
	}

	good := []string{
		"Nitrogen levels are Low. Apply fertilizer at the recommended tier.",
		"Soybean matures in 90-110 days",
		"pH is neutral and suits most crops",
		"Keep potassium intake Medium during flowering",
	}
	for _, s := range good {
		if err := checkNoNumericSoilValues(s); err != nil {
			t.Errorf("rejected allowed text %q: %v", s, err)
		}
	}
}

func TestFinalizeReassertsDisclaimer(t *testing.T) {
	o := New(nil, nil, agronomy.Default(), 0)
	req := kharifRequest("x")
	req.Language = domain.LanguageEnglish

	result := domain.AnalysisResult{
		Explanation: domain.Explanation{
			Language:   domain.LanguageEnglish,
			Content:    "Soil is fine.",
			Disclaimer: "Trust this advice completely.",
		},
	}
	o.finalize(&result, req)
	if result.Explanation.Disclaimer != o.Tables.Disclaimer(domain.LanguageEnglish) {
		t.Errorf("disclaimer not re-asserted: %q", result.Explanation.Disclaimer)
	}
	if result.Version != domain.Version {
		t.Errorf("version = %q", result.Version)
	}
}

func TestFinalizeScrubsAdvisoryNumericLeak(t *testing.T) {
	o := New(nil, nil, agronomy.Default(), 0)
	req := kharifRequest("x")
	req.Language = domain.LanguageEnglish

	result := domain.AnalysisResult{
		Recommendations: &domain.RecommendationSet{
			Crops: domain.CropPlan{Primary: []string{"Soybean", "Tur"}, Season: domain.SeasonKharif},
		},
		Explanation: domain.Explanation{
			Language:   domain.LanguageEnglish,
			Content:    "Soil is fine.",
			Advisory:   "Apply 120 kg/ha of urea for best results.",
			Disclaimer: o.Tables.Disclaimer(domain.LanguageEnglish),
		},
	}
	o.finalize(&result, req)
	if strings.Contains(result.Explanation.Advisory, "kg/ha") {
		t.Errorf("numeric leak survived finalize: %q", result.Explanation.Advisory)
	}
	if result.Explanation.Advisory == "" {
		t.Error("advisory should be replaced, not emptied")
	}
}

func TestFinalizeCoercesInvalidTiers(t *testing.T) {
	o := New(nil, nil, agronomy.Default(), 0)
	result := domain.AnalysisResult{
		Recommendations: &domain.RecommendationSet{
			Fertilizer: map[string]domain.FertilizerGuidance{
				"Nitrogen": {StageTiers: map[string]string{"Basal": "Moderate", "Vegetative": "High"}},
			},
		},
		Explanation: domain.Explanation{Content: "x"},
	}
	o.finalize(&result, kharifRequest("x"))
	tiers := result.Recommendations.Fertilizer["Nitrogen"].StageTiers
	if tiers["Basal"] != agronomy.CategoryLow {
		t.Errorf("invalid tier = %q, want coerced to Low", tiers["Basal"])
	}
	if tiers["Vegetative"] != agronomy.CategoryHigh {
		t.Errorf("valid tier changed: %q", tiers["Vegetative"])
	}
}
