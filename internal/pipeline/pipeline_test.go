package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"farmchain/internal/agronomy"
	"farmchain/internal/domain"
	"farmchain/internal/llm"
)

// fakeClient scripts model behavior per stage. Stages are told apart by their
// system prompts, so one fake serves a whole pipeline run.
type fakeClient struct {
	fn func(systemPrompt, userPrompt string) (string, error)
}

func (f *fakeClient) Complete(_ context.Context, systemPrompt, userPrompt string, _ float64) (string, llm.Usage, error) {
	text, err := f.fn(systemPrompt, userPrompt)
	return text, llm.Usage{InputTokens: 10, OutputTokens: 5}, err
}

func stageOf(systemPrompt string) string {
	switch {
	case strings.Contains(systemPrompt, "text extractor"):
		return "extract"
	case strings.Contains(systemPrompt, "classification assistant"):
		return "classify"
	case strings.Contains(systemPrompt, "recommendation assistant"):
		return "advise"
	case strings.Contains(systemPrompt, "advisory assistant"):
		return "explain"
	}
	return "unknown"
}

const extractPartialResponse = `{"extracted_parameters": {
	"pH": {"value": 7.8, "unit": "", "source": "report", "unit_uncertain": false},
	"Nitrogen": {"value": 215, "unit": "kg/ha", "source": "report", "unit_uncertain": false},
	"Phosphorus": {"value": null, "unit": "", "source": "missing", "unit_uncertain": false},
	"Potassium": {"value": null, "unit": "", "source": "missing", "unit_uncertain": false},
	"Organic Carbon": {"value": null, "unit": "", "source": "missing", "unit_uncertain": false}}}`

const classifyInferredResponse = `{"soil_profile": {
	"Phosphorus": {"category": "Medium", "confidence": 0.6},
	"Potassium": {"category": "High", "confidence": 0.7},
	"Organic Carbon": {"category": "Medium", "confidence": 0.55}}}`

const adviseValidResponse = `{"crop_recommendation": {"primary": ["Soybean", "Tur"], "season": "Kharif", "crop_durations": {"Soybean": "90-110 days", "Tur": "150-180 days"}},
	"fertilizer_plan": {
	"Nitrogen": {"stage_tiers": {"Basal": "Medium", "Vegetative": "High", "Flowering": "Low", "Grain Filling": "Low"}, "fertilizers": ["Urea", "DAP"]},
	"Phosphorus": {"stage_tiers": {"Basal": "Medium", "Vegetative": "Low", "Flowering": "Low", "Grain Filling": "Low"}, "fertilizers": ["DAP", "SSP"]},
	"Potassium": {"stage_tiers": {"Basal": "Medium", "Vegetative": "Low", "Flowering": "Medium", "Grain Filling": "Low"}, "fertilizers": ["MOP", "SOP"]}},
	"equipment_plan": {"land_preparation": ["Tractor", "Plough"], "sowing": ["Seed Drill"], "irrigation": ["Drip System"], "spraying": ["Power Sprayer"], "harvesting": ["Harvester"]}}`

const advisoryValidResponse = `The soil in your field is suitable for Soybean and Tur this season. Keep fertilizer use at the recommended intensity and consult your local extension office before sowing.`

func scriptedOrchestrator(t *testing.T, fn func(stage, userPrompt string) (string, error)) *Orchestrator {
	t.Helper()
	client := &fakeClient{fn: func(systemPrompt, userPrompt string) (string, error) {
		return fn(stageOf(systemPrompt), userPrompt)
	}}
	return New(client, client, agronomy.Default(), 30*time.Second)
}

func kharifRequest(reportText string) domain.AnalysisRequest {
	return domain.AnalysisRequest{
		ReportText:     reportText,
		District:       "Pune",
		IrrigationType: domain.IrrigationIrrigated,
		Season:         domain.SeasonKharif,
		Language:       "english",
	}
}

func TestAnalyzePartialReport(t *testing.T) {
	o := scriptedOrchestrator(t, func(stage, _ string) (string, error) {
		switch stage {
		case "extract":
			return extractPartialResponse, nil
		case "classify":
			return classifyInferredResponse, nil
		case "advise":
			return adviseValidResponse, nil
		case "explain":
			return advisoryValidResponse, nil
		}
		return "", errors.New("unexpected stage")
	})

	result, err := o.Analyze(context.Background(), kharifRequest("pH: 7.8\nAvailable Nitrogen (N): 215 kg/ha"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Version != domain.Version {
		t.Errorf("version = %q", result.Version)
	}

	if got := result.SoilProfile.Category("pH"); got != agronomy.CategoryAlkaline {
		t.Errorf("pH category = %q, want Alkaline", got)
	}
	if got := result.SoilProfile.Category("Nitrogen"); got != agronomy.CategoryMedium {
		t.Errorf("Nitrogen category = %q, want Medium", got)
	}
	if c := result.SoilProfile["pH"]; c.Confidence != 0.95 {
		t.Errorf("measured pH confidence = %v, want 0.95", c.Confidence)
	}
	if c := result.SoilProfile["Phosphorus"]; c.Confidence > 0.8 {
		t.Errorf("inferred Phosphorus confidence = %v, want <= 0.8", c.Confidence)
	}

	// Missing parameters in the report force conservative mode: every tier Low
	// regardless of what the model proposed.
	for nutrient, g := range result.Recommendations.Fertilizer {
		for stage, tier := range g.StageTiers {
			if tier != agronomy.CategoryLow {
				t.Errorf("%s %s tier = %q, want Low under conservative rule", nutrient, stage, tier)
			}
		}
	}

	if len(result.Recommendations.Crops.Primary) < 2 || len(result.Recommendations.Crops.Primary) > 3 {
		t.Errorf("crop count = %d, want 2-3", len(result.Recommendations.Crops.Primary))
	}
	if result.Recommendations.Crops.Season != domain.SeasonKharif {
		t.Errorf("season = %q", result.Recommendations.Crops.Season)
	}

	if !strings.Contains(strings.ToLower(result.Explanation.Content), "alkaline") {
		t.Errorf("summary should mention alkaline pH: %q", result.Explanation.Content)
	}
	if !o.Tables.IsCanonicalDisclaimer(result.Explanation.Disclaimer) {
		t.Errorf("disclaimer not canonical: %q", result.Explanation.Disclaimer)
	}
}

func TestAnalyzeEmptyReportStaysSuccessful(t *testing.T) {
	// The report carries no values and the model correctly finds none. That is
	// a degraded extraction, not a failure.
	o := scriptedOrchestrator(t, func(stage, _ string) (string, error) {
		switch stage {
		case "extract":
			return `{"extracted_parameters": {}}`, nil
		case "classify":
			return `{"soil_profile": {
				"pH": {"category": "Neutral", "confidence": 0.45},
				"Nitrogen": {"category": "Low", "confidence": 0.4},
				"Phosphorus": {"category": "Low", "confidence": 0.4},
				"Potassium": {"category": "Medium", "confidence": 0.45},
				"Organic Carbon": {"category": "Poor", "confidence": 0.4}}}`, nil
		case "advise":
			return adviseValidResponse, nil
		case "explain":
			return advisoryValidResponse, nil
		}
		return "", errors.New("unexpected stage")
	})

	result, err := o.Analyze(context.Background(), kharifRequest("The field was inspected after the previous harvest."))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !result.Success {
		t.Fatalf("degraded extraction must keep success=true, got error %q", result.Error)
	}

	for _, param := range domain.CanonicalParameters {
		if !result.ExtractedParameters[param].Missing() {
			t.Errorf("%s should be missing", param)
		}
		if got := result.SoilProfile.Category(param); got != agronomy.CategoryUnknown {
			t.Errorf("%s category = %q, want Unknown below the confidence gate", param, got)
		}
	}
	for _, g := range result.Recommendations.Fertilizer {
		for stage, tier := range g.StageTiers {
			if tier != agronomy.CategoryLow {
				t.Errorf("stage %s tier = %q, want Low", stage, tier)
			}
		}
	}
	if !strings.Contains(result.Explanation.Content, "Soil testing is recommended") {
		t.Errorf("summary should nudge toward soil testing: %q", result.Explanation.Content)
	}
}

func TestAnalyzeBackendUnreachable(t *testing.T) {
	o := scriptedOrchestrator(t, func(_, _ string) (string, error) {
		return "", llm.ErrModelUnavailable
	})

	result, err := o.Analyze(context.Background(), kharifRequest("pH: 7.8\nAvailable Nitrogen (N): 215 kg/ha"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Success {
		t.Fatal("model failure must set success=false")
	}
	if result.Error == "" {
		t.Fatal("expected error detail in result")
	}
	if !ModelUnavailable(result) {
		t.Errorf("ModelUnavailable = false for %q", result.Error)
	}

	// The regex fallback still reads values written plainly in the text.
	if got := result.SoilProfile.Category("pH"); got != agronomy.CategoryAlkaline {
		t.Errorf("pH category = %q, want Alkaline from regex fallback", got)
	}
	if got := result.SoilProfile.Category("Nitrogen"); got != agronomy.CategoryMedium {
		t.Errorf("Nitrogen category = %q, want Medium from regex fallback", got)
	}

	// Deterministic conservative recommendations and the canonical disclaimer
	// survive a dead backend.
	if len(result.Recommendations.Crops.Primary) < 2 {
		t.Errorf("fallback crops = %v, want at least 2", result.Recommendations.Crops.Primary)
	}
	if result.Explanation.Advisory == "" {
		t.Error("fallback advisory missing")
	}
	if !o.Tables.IsCanonicalDisclaimer(result.Explanation.Disclaimer) {
		t.Errorf("disclaimer not canonical: %q", result.Explanation.Disclaimer)
	}
}

func TestAnalyzeRejectsUnknownDistrict(t *testing.T) {
	o := scriptedOrchestrator(t, func(_, _ string) (string, error) {
		t.Fatal("pipeline must not run for invalid requests")
		return "", nil
	})

	req := kharifRequest("pH: 7.0")
	req.District = "Mumbai City"
	_, err := o.Analyze(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAnalyzeNumericLeakInAdviceFails(t *testing.T) {
	// A stage that emits fertilizer quantities is malformed output: the run
	// falls back deterministically and reports failure.
	leaky := strings.Replace(adviseValidResponse, `"fertilizers": ["Urea", "DAP"]`,
		`"fertilizers": ["Apply 150 kg/ha Urea"]`, 1)
	o := scriptedOrchestrator(t, func(stage, _ string) (string, error) {
		switch stage {
		case "extract":
			return extractPartialResponse, nil
		case "classify":
			return classifyInferredResponse, nil
		case "advise":
			return leaky, nil
		case "explain":
			return advisoryValidResponse, nil
		}
		return "", errors.New("unexpected stage")
	})

	result, err := o.Analyze(context.Background(), kharifRequest("pH: 7.8\nAvailable Nitrogen (N): 215 kg/ha"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Success {
		t.Fatal("numeric leak in stage output must set success=false")
	}
	for _, g := range result.Recommendations.Fertilizer {
		for _, f := range g.Fertilizers {
			if strings.Contains(f, "kg/ha") {
				t.Errorf("numeric quantity leaked into result: %q", f)
			}
		}
	}
}

func TestAnalyzeOutOfSeasonCropsDropped(t *testing.T) {
	// Wheat and Gram are Rabi crops; a Kharif run must not return them.
	outOfSeason := strings.Replace(adviseValidResponse,
		`"primary": ["Soybean", "Tur"]`, `"primary": ["Wheat", "Gram", "Soybean"]`, 1)
	o := scriptedOrchestrator(t, func(stage, _ string) (string, error) {
		switch stage {
		case "extract":
			return extractPartialResponse, nil
		case "classify":
			return classifyInferredResponse, nil
		case "advise":
			return outOfSeason, nil
		case "explain":
			return advisoryValidResponse, nil
		}
		return "", errors.New("unexpected stage")
	})

	result, err := o.Analyze(context.Background(), kharifRequest("pH: 7.8\nAvailable Nitrogen (N): 215 kg/ha"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for _, crop := range result.Recommendations.Crops.Primary {
		if !o.Tables.IsCropInSeason(crop, domain.SeasonKharif) {
			t.Errorf("out-of-season crop %q in result", crop)
		}
	}
	if len(result.Recommendations.Crops.Primary) < 2 {
		t.Errorf("crop floor not met: %v", result.Recommendations.Crops.Primary)
	}
}

func TestAnalyzeMarathiDefaults(t *testing.T) {
	o := scriptedOrchestrator(t, func(stage, _ string) (string, error) {
		switch stage {
		case "extract":
			return extractPartialResponse, nil
		case "classify":
			return classifyInferredResponse, nil
		case "advise":
			return adviseValidResponse, nil
		case "explain":
			return "", llm.ErrModelTimeout
		}
		return "", errors.New("unexpected stage")
	})

	req := kharifRequest("pH: 7.8\nAvailable Nitrogen (N): 215 kg/ha")
	req.Language = ""
	result, err := o.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Explanation.Language != domain.LanguageMarathi {
		t.Errorf("language = %q, want marathi default", result.Explanation.Language)
	}
	// Advisory model failed; the deterministic Marathi fallback fills in.
	if result.Explanation.Advisory == "" {
		t.Error("fallback advisory missing")
	}
	if result.Explanation.Disclaimer != o.Tables.Disclaimer(domain.LanguageMarathi) {
		t.Errorf("disclaimer = %q, want Marathi canonical", result.Explanation.Disclaimer)
	}
	// Advisory failure is cosmetic, not a stage failure.
	if !result.Success {
		t.Errorf("advisory fallback must not flip success, got error %q", result.Error)
	}
}
