// Package agronomy holds the fixed regional rule tables for Maharashtra:
// soil-parameter thresholds, crop-season mappings, fertility rules and the
// canonical disclaimers. The pipeline consumes these tables but never edits
// them at runtime.
package agronomy

import (
	"fmt"
	"strings"
)

// Category labels produced by threshold categorization.
const (
	CategoryUnknown = "Unknown"

	CategoryLow    = "Low"
	CategoryMedium = "Medium"
	CategoryHigh   = "High"

	CategoryAcidic   = "Acidic"
	CategoryNeutral  = "Neutral"
	CategoryAlkaline = "Alkaline"

	CategoryPoor = "Poor"
	CategoryRich = "Rich"
)

// Band maps a closed numeric interval to one category.
type Band struct {
	Category string  `yaml:"category"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
}

// Tables is the full rule set. The zero value is unusable; start from
// Default() or Load().
type Tables struct {
	// Thresholds per parameter name, ordered low to high. pH is handled by
	// explicit logic, not bands.
	Thresholds map[string][]Band `yaml:"thresholds"`

	SeasonCrops    map[string][]string `yaml:"season_crops"`
	HighInputCrops []string            `yaml:"high_input_crops"`
	// Low-input crops safe to suggest per season when the profile is too
	// uncertain for the model's picks.
	ConservativeCrops map[string][]string `yaml:"conservative_crops"`

	Districts []string `yaml:"districts"`
	SoilTypes []string `yaml:"soil_types"`

	Disclaimers map[string]string `yaml:"disclaimers"`
}

// Default returns the built-in Maharashtra rule set.
func Default() *Tables {
	return &Tables{
		Thresholds: map[string][]Band{
			"Nitrogen": {
				{Category: CategoryLow, Min: 0, Max: 199.999},
				{Category: CategoryMedium, Min: 200, Max: 280},
				{Category: CategoryHigh, Min: 280.001, Max: 10000},
			},
			"Phosphorus": {
				{Category: CategoryLow, Min: 0, Max: 9.999},
				{Category: CategoryMedium, Min: 10, Max: 25},
				{Category: CategoryHigh, Min: 25.001, Max: 10000},
			},
			"Potassium": {
				{Category: CategoryLow, Min: 0, Max: 109.999},
				{Category: CategoryMedium, Min: 110, Max: 280},
				{Category: CategoryHigh, Min: 280.001, Max: 10000},
			},
			"Organic Carbon": {
				{Category: CategoryPoor, Min: 0, Max: 0.399},
				{Category: CategoryMedium, Min: 0.4, Max: 0.75},
				{Category: CategoryRich, Min: 0.751, Max: 100},
			},
		},
		SeasonCrops: map[string][]string{
			"Kharif": {"Soybean", "Tur", "Cotton", "Maize", "Rice", "Bajra", "Jowar", "Groundnut", "Sugarcane"},
			"Rabi":   {"Wheat", "Gram", "Onion", "Tomato", "Potato", "Mustard", "Sunflower", "Garlic", "Fenugreek", "Coriander"},
			"Summer": {"Watermelon", "Muskmelon", "Cucumber", "Bitter Gourd", "Okra"},
		},
		HighInputCrops: []string{"Onion", "Sugarcane", "Banana", "Cotton"},
		ConservativeCrops: map[string][]string{
			"Kharif": {"Soybean", "Tur", "Jowar"},
			"Rabi":   {"Gram", "Wheat", "Coriander"},
			"Summer": {"Okra", "Cucumber"},
		},
		Districts: []string{
			"Thane", "Pune", "Nashik", "Aurangabad", "Nagpur", "Kolhapur",
			"Satara", "Solapur", "Sangli", "Ahmednagar", "Jalgaon", "Dhule",
			"Nanded", "Latur", "Osmanabad", "Beed", "Jalna", "Parbhani",
			"Hingoli", "Washim", "Buldhana", "Akola", "Amravati", "Yavatmal",
			"Wardha", "Chandrapur", "Gadchiroli", "Bhandara", "Gondia", "Raigad",
			"Ratnagiri", "Sindhudurg",
		},
		SoilTypes: []string{"Loamy", "Clayey", "Sandy", "Alluvial", "Black", "Red", "Laterite"},
		Disclaimers: map[string]string{
			"english": "This recommendation is based on soil reports, district conditions, and standard agriculture guidelines. Please consult your local agriculture officer for final decisions.",
			"marathi": "हा सल्ला माती अहवाल, जिल्ह्याची परिस्थिती व मानक कृषी मार्गदर्शक तत्वांवर आधारित आहे. अंतिम निर्णयासाठी स्थानिक कृषी अधिकाऱ्यांचा सल्ला घ्यावा.",
		},
	}
}

// CategorizePH buckets a pH reading. Values outside 0-14 are rejected.
func CategorizePH(value float64) (string, error) {
	if value < 0 || value > 14 {
		return "", fmt.Errorf("invalid pH value %v: must be between 0 and 14", value)
	}
	switch {
	case value < 6.5:
		return CategoryAcidic, nil
	case value <= 7.5:
		return CategoryNeutral, nil
	default:
		return CategoryAlkaline, nil
	}
}

// Categorize maps a measured value to its category for the named parameter.
func (t *Tables) Categorize(param string, value float64) (string, error) {
	if param == "pH" {
		return CategorizePH(value)
	}
	bands, ok := t.Thresholds[param]
	if !ok {
		return "", fmt.Errorf("unknown parameter: %s", param)
	}
	for _, b := range bands {
		if value >= b.Min && value <= b.Max {
			return b.Category, nil
		}
	}
	return "", fmt.Errorf("value %v out of range for %s", value, param)
}

// CategoriesFor lists the valid (non-Unknown) labels for a parameter axis.
func (t *Tables) CategoriesFor(param string) []string {
	if param == "pH" {
		return []string{CategoryAcidic, CategoryNeutral, CategoryAlkaline}
	}
	bands, ok := t.Thresholds[param]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(bands))
	for _, b := range bands {
		out = append(out, b.Category)
	}
	return out
}

// CropsForSeason returns the crop list for a season, or nil if the season is
// not recognized.
func (t *Tables) CropsForSeason(season string) []string {
	return t.SeasonCrops[season]
}

// IsCropInSeason reports whether crop belongs to the season's list.
func (t *Tables) IsCropInSeason(crop, season string) bool {
	for _, c := range t.SeasonCrops[season] {
		if strings.EqualFold(c, crop) {
			return true
		}
	}
	return false
}

// ValidateCropsForSeason reports whether every crop belongs to the season.
// An empty crop list is invalid.
func (t *Tables) ValidateCropsForSeason(crops []string, season string) bool {
	if len(crops) == 0 || season == "" {
		return false
	}
	for _, crop := range crops {
		if !t.IsCropInSeason(crop, season) {
			return false
		}
	}
	return true
}

// ShouldFilterCrop reports whether a high-input crop must be dropped because
// the soil cannot support it: Nitrogen Low or Organic Carbon Poor.
func (t *Tables) ShouldFilterCrop(crop, nitrogenCategory, organicCarbonCategory string) bool {
	highInput := false
	for _, c := range t.HighInputCrops {
		if strings.EqualFold(c, crop) {
			highInput = true
			break
		}
	}
	if !highInput {
		return false
	}
	return nitrogenCategory == CategoryLow || organicCarbonCategory == CategoryPoor
}

// KnownDistrict reports whether the district is in the fixed Maharashtra set.
func (t *Tables) KnownDistrict(district string) bool {
	for _, d := range t.Districts {
		if strings.EqualFold(d, district) {
			return true
		}
	}
	return false
}

// KnownSoilType reports whether the hint is a recognized soil type.
func (t *Tables) KnownSoilType(soilType string) bool {
	for _, s := range t.SoilTypes {
		if strings.EqualFold(s, soilType) {
			return true
		}
	}
	return false
}

// Disclaimer returns the canonical disclaimer for a language, defaulting to
// English for unrecognized codes. Never empty.
func (t *Tables) Disclaimer(language string) string {
	key := strings.ToLower(strings.TrimSpace(language))
	switch key {
	case "mr":
		key = "marathi"
	case "en":
		key = "english"
	}
	if d, ok := t.Disclaimers[key]; ok && d != "" {
		return d
	}
	return t.Disclaimers["english"]
}

// IsCanonicalDisclaimer reports whether text is one of the canonical
// disclaimers.
func (t *Tables) IsCanonicalDisclaimer(text string) bool {
	for _, d := range t.Disclaimers {
		if d == text {
			return true
		}
	}
	return false
}
