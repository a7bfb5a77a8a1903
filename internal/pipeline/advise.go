package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"farmchain/internal/agronomy"
	"farmchain/internal/domain"
	"farmchain/internal/llm"
)

// Growth stages used in fertilizer plans.
var growthStages = []string{"Basal", "Vegetative", "Flowering", "Grain Filling"}

// Standard fertilizer products per nutrient for Maharashtra.
var standardFertilizers = map[string][]string{
	"Nitrogen":   {"Urea", "DAP"},
	"Phosphorus": {"DAP", "SSP"},
	"Potassium":  {"MOP", "SOP"},
}

const adviseMaxAttempts = 2

const adviseSystemPromptFmt = `You are an agronomy recommendation assistant for the Maharashtra, India agriculture system.

Base every recommendation only on the provided soil profile categories. The profile is read-only.

Rules (mandatory):
1. Never generate or mention numeric soil values or exact fertilizer quantities (no kg/ha, no kg/acre). Fertilizer intensity is expressed only as "Low", "Medium" or "High".
2. Season adherence: recommend only crops valid for season %s. Kharif: Soybean, Tur, Cotton, Maize, Rice, Bajra, Jowar, Groundnut, Sugarcane. Rabi: Wheat, Gram, Onion, Tomato, Potato, Mustard, Sunflower, Garlic, Fenugreek, Coriander. Summer: Watermelon, Muskmelon, Cucumber, Bitter Gourd, Okra.
3. Fertility filtering: if Nitrogen is "Low" or Organic Carbon is "Poor", do not recommend high-input crops (Onion, Sugarcane, Banana, Cotton).
4. Select 2-3 primary crops with typical Maharashtra duration ranges (for example "90-110 days").
5. Fertilizer plan: per nutrient, a tier for each growth stage (Basal, Vegetative, Flowering, Grain Filling) and standard products.
6. Equipment: standard Maharashtra farm equipment per farming stage.

Respond with JSON only (no markdown), in this exact shape:
{"crop_recommendation": {"primary": ["Soybean", "Tur"], "season": "%s", "crop_durations": {"Soybean": "90-110 days", "Tur": "150-180 days"}}, "fertilizer_plan": {"Nitrogen": {"stage_tiers": {"Basal": "Medium", "Vegetative": "High", "Flowering": "Low", "Grain Filling": "Low"}, "fertilizers": ["Urea", "DAP"]}, "Phosphorus": {"stage_tiers": {"Basal": "Medium", "Vegetative": "Low", "Flowering": "Low", "Grain Filling": "Low"}, "fertilizers": ["DAP", "SSP"]}, "Potassium": {"stage_tiers": {"Basal": "Medium", "Vegetative": "Low", "Flowering": "Medium", "Grain Filling": "Low"}, "fertilizers": ["MOP", "SOP"]}}, "equipment_plan": {"land_preparation": ["Tractor", "Plough", "Harrow"], "sowing": ["Seed Drill", "Planter"], "irrigation": ["Drip System", "Sprinkler"], "spraying": ["Power Sprayer"], "harvesting": ["Harvester", "Thresher"]}}`

// advise runs Stage 3. The model proposes; the engine disposes: season
// adherence, fertility filtering, tier coercion and the conservative rule
// are all enforced here, after the model call. On model failure the stage
// substitutes a fully deterministic conservative recommendation set.
func (o *Orchestrator) advise(ctx context.Context, profile domain.SoilProfile, extracted domain.ExtractedParameters, req domain.AnalysisRequest) (*domain.RecommendationSet, llm.Usage, error) {
	conservative := profile.AnyUnknown() || extracted.AnyMissing()
	nitrogenCat := profile.Category("Nitrogen")
	organicCarbonCat := profile.Category("Organic Carbon")

	systemPrompt := fmt.Sprintf(adviseSystemPromptFmt, req.Season, req.Season)
	profileJSON, _ := json.Marshal(profile)
	soilType := req.SoilType
	if soilType == "" {
		soilType = "Unknown"
	}
	userPrompt := fmt.Sprintf(
		"District: %s\nSeason: %s\nIrrigation Type: %s\nSoil Type: %s\nSoil Profile (read-only): %s",
		req.District, req.Season, req.IrrigationType, soilType, profileJSON)

	var totalUsage llm.Usage
	var lastErr error
	for attempt := 0; attempt < adviseMaxAttempts; attempt++ {
		responseText, usage, err := o.JSON.Complete(ctx, systemPrompt, userPrompt, o.JSONTemperature)
		totalUsage.Add(usage)
		if err != nil {
			lastErr = fmt.Errorf("advise: %w", err)
			break // model boundary failure: retrying inside the stage is pointless
		}

		rec, err := parseRecommendationResponse(responseText)
		if err != nil {
			lastErr = fmt.Errorf("advise: %w", err)
			log.Printf("pipeline stage=advise attempt=%d parse_err=%v", attempt, err)
			continue
		}

		o.enforceRecommendationRules(rec, req, nitrogenCat, organicCarbonCat, conservative)
		if len(rec.Crops.Primary) >= 2 {
			return rec, totalUsage, nil
		}
		// Everything the model proposed was out of season or filtered; one
		// re-ask, then the deterministic fallback.
		lastErr = fmt.Errorf("advise: model proposed no valid crops for season %s", req.Season)
		log.Printf("pipeline stage=advise attempt=%d no_valid_crops=1", attempt)
	}

	rec := o.fallbackRecommendations(req, nitrogenCat, organicCarbonCat)
	return rec, totalUsage, lastErr
}

func parseRecommendationResponse(responseText string) (*domain.RecommendationSet, error) {
	if err := checkNoNumericSoilValues(maskCropDurations(responseText)); err != nil {
		return nil, fmt.Errorf("malformed stage output: %w", err)
	}
	var rec domain.RecommendationSet
	if err := json.Unmarshal([]byte(sanitizeModelJSON(responseText)), &rec); err != nil {
		return nil, fmt.Errorf("malformed stage output: %w", err)
	}
	return &rec, nil
}

// maskCropDurations hides the one field where digits are legitimate
// ("90-110 days") from the numeric-value scan.
func maskCropDurations(s string) string {
	return strings.ReplaceAll(s, "crop_durations", "crop_duration_labels")
}

// enforceRecommendationRules applies the deterministic constraints the model
// cannot be trusted with.
func (o *Orchestrator) enforceRecommendationRules(rec *domain.RecommendationSet, req domain.AnalysisRequest, nitrogenCat, organicCarbonCat string, conservative bool) {
	// Season adherence: drop anything outside the season's crop list.
	var kept []string
	for _, crop := range rec.Crops.Primary {
		if !o.Tables.IsCropInSeason(crop, req.Season) {
			log.Printf("pipeline stage=advise dropped_out_of_season crop=%s season=%s", crop, req.Season)
			delete(rec.Crops.CropDurations, crop)
			continue
		}
		kept = append(kept, crop)
	}
	rec.Crops.Primary = kept

	// Fertility filtering. Unknown fertility counts as insufficient: a
	// high-input crop needs demonstrated Medium/High nitrogen and
	// Medium/Rich organic carbon.
	nEffective := nitrogenCat
	if nEffective == unknownCategory {
		nEffective = agronomy.CategoryLow
	}
	ocEffective := organicCarbonCat
	if ocEffective == unknownCategory {
		ocEffective = agronomy.CategoryPoor
	}
	kept = kept[:0]
	for _, crop := range rec.Crops.Primary {
		if o.Tables.ShouldFilterCrop(crop, nEffective, ocEffective) {
			log.Printf("pipeline stage=advise filtered_high_input crop=%s nitrogen=%s organic_carbon=%s", crop, nitrogenCat, organicCarbonCat)
			delete(rec.Crops.CropDurations, crop)
			continue
		}
		kept = append(kept, crop)
	}
	rec.Crops.Primary = kept

	// Pad to the 2-crop floor from the conservative list, cap at 3.
	rec.Crops.Primary = o.padCrops(rec.Crops.Primary, req.Season)
	if len(rec.Crops.Primary) > 3 {
		for _, crop := range rec.Crops.Primary[3:] {
			delete(rec.Crops.CropDurations, crop)
		}
		rec.Crops.Primary = rec.Crops.Primary[:3]
	}
	rec.Crops.Season = req.Season

	// Tier coercion: every fertilizer entry ends up a single member of
	// {Low, Medium, High}; conservative mode forces Low throughout.
	if rec.Fertilizer == nil {
		rec.Fertilizer = map[string]domain.FertilizerGuidance{}
	}
	for _, nutrient := range []string{"Nitrogen", "Phosphorus", "Potassium"} {
		g, ok := rec.Fertilizer[nutrient]
		if !ok {
			g = domain.FertilizerGuidance{}
		}
		if g.StageTiers == nil {
			g.StageTiers = map[string]string{}
		}
		for _, stage := range growthStages {
			tier := coerceTier(g.StageTiers[stage])
			if conservative {
				tier = agronomy.CategoryLow
			}
			g.StageTiers[stage] = tier
		}
		// Drop stages the model invented beyond the known set.
		for stage := range g.StageTiers {
			if !knownGrowthStage(stage) {
				delete(g.StageTiers, stage)
			}
		}
		if len(g.Fertilizers) == 0 {
			g.Fertilizers = standardFertilizers[nutrient]
		}
		rec.Fertilizer[nutrient] = g
	}

	if len(rec.Equipment) == 0 {
		rec.Equipment = defaultEquipmentPlan(req.IrrigationType)
	}
}

func (o *Orchestrator) padCrops(crops []string, season string) []string {
	if len(crops) >= 2 {
		return crops
	}
	have := make(map[string]bool, len(crops))
	for _, c := range crops {
		have[strings.ToLower(c)] = true
	}
	for _, c := range o.Tables.ConservativeCrops[season] {
		if len(crops) >= 2 {
			break
		}
		if !have[strings.ToLower(c)] {
			crops = append(crops, c)
			have[strings.ToLower(c)] = true
		}
	}
	return crops
}

func knownGrowthStage(stage string) bool {
	for _, s := range growthStages {
		if s == stage {
			return true
		}
	}
	return false
}

// coerceTier maps whatever the model wrote onto one tier. Ranges collapse to
// their lower bound; anything numeric or unrecognized becomes Low.
func coerceTier(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "low", strings.HasPrefix(s, "low to"), strings.HasPrefix(s, "low-"):
		return agronomy.CategoryLow
	case s == "medium", strings.HasPrefix(s, "medium to"), strings.HasPrefix(s, "medium-"):
		return agronomy.CategoryMedium
	case s == "high":
		return agronomy.CategoryHigh
	default:
		return agronomy.CategoryLow
	}
}

// fallbackRecommendations is the deterministic Stage 3 substitute: low-input
// crops for the season, Low tiers throughout, standard equipment.
func (o *Orchestrator) fallbackRecommendations(req domain.AnalysisRequest, nitrogenCat, organicCarbonCat string) *domain.RecommendationSet {
	var crops []string
	for _, c := range o.Tables.ConservativeCrops[req.Season] {
		if o.Tables.ShouldFilterCrop(c, nitrogenCat, organicCarbonCat) {
			continue
		}
		crops = append(crops, c)
		if len(crops) == 3 {
			break
		}
	}

	fertilizer := make(map[string]domain.FertilizerGuidance, 3)
	for _, nutrient := range []string{"Nitrogen", "Phosphorus", "Potassium"} {
		tiers := make(map[string]string, len(growthStages))
		for _, stage := range growthStages {
			tiers[stage] = agronomy.CategoryLow
		}
		fertilizer[nutrient] = domain.FertilizerGuidance{
			StageTiers:  tiers,
			Fertilizers: standardFertilizers[nutrient],
		}
	}

	return &domain.RecommendationSet{
		Crops: domain.CropPlan{
			Primary: crops,
			Season:  req.Season,
		},
		Fertilizer: fertilizer,
		Equipment:  defaultEquipmentPlan(req.IrrigationType),
	}
}

func defaultEquipmentPlan(irrigationType string) map[string][]string {
	plan := map[string][]string{
		"land_preparation": {"Tractor", "Plough", "Harrow"},
		"sowing":           {"Seed Drill", "Planter"},
		"spraying":         {"Power Sprayer"},
		"harvesting":       {"Harvester", "Thresher"},
	}
	if irrigationType == domain.IrrigationIrrigated {
		plan["irrigation"] = []string{"Drip System", "Sprinkler"}
	}
	return plan
}
