package pipeline

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"farmchain/internal/agronomy"
	"farmchain/internal/domain"
	"farmchain/internal/llm"
)

// explain runs Stage 4. The summary is assembled deterministically from the
// soil profile categories; the model only contributes the optional advisory
// paragraph, which is validated and silently replaced when it misbehaves.
// The disclaimer is canonical and never depends on model output.
func (o *Orchestrator) explain(ctx context.Context, rec *domain.RecommendationSet, profile domain.SoilProfile, req domain.AnalysisRequest) (domain.Explanation, llm.Usage) {
	content := buildSummary(profile, req)
	if strings.TrimSpace(content) == "" {
		content = fallbackSummary(req.Language)
	}

	advisory, usage := o.generateAdvisory(ctx, rec, profile, req)
	if advisory == "" {
		advisory = fallbackAdvisory(rec, req)
	}

	return domain.Explanation{
		Language:   req.Language,
		Content:    content,
		Advisory:   advisory,
		Disclaimer: o.Tables.Disclaimer(req.Language),
	}, usage
}

// summarySentence returns the farmer-facing sentence for one axis category,
// in the requested language. Unknown categories get the soil-testing nudge.
func summarySentence(param, category, language string) string {
	mr := language == domain.LanguageMarathi
	switch param {
	case "pH":
		if category == unknownCategory {
			if mr {
				return "मातीच्या सामूची (pH) माहिती उपलब्ध नाही. माती परीक्षण करून घ्यावे."
			}
			return "Soil pH data is not available. Soil testing is recommended."
		}
		if mr {
			return fmt.Sprintf("मातीचा सामू (pH) %s आहे.", marathiCategory(category))
		}
		return fmt.Sprintf("Soil pH is %s.", strings.ToLower(category))
	case "Nitrogen":
		if category == unknownCategory {
			if mr {
				return "नत्राची (N) माहिती उपलब्ध नाही. माती परीक्षण करून घ्यावे."
			}
			return "Nitrogen data is not available. Soil testing is recommended."
		}
		if mr {
			return fmt.Sprintf("नत्राचे (N) प्रमाण %s आहे.", marathiCategory(category))
		}
		s := fmt.Sprintf("Nitrogen levels are %s.", strings.ToLower(category))
		if category == agronomy.CategoryLow {
			s += " Nutrient supplementation is required to improve soil fertility."
		}
		return s
	case "Phosphorus":
		switch category {
		case agronomy.CategoryLow:
			if mr {
				return "स्फुरदाचे (P) प्रमाण कमी आहे; पूरक खताची आवश्यकता आहे."
			}
			return "Phosphorus levels are low and may require supplementation."
		case agronomy.CategoryHigh:
			if mr {
				return "स्फुरदाचे (P) प्रमाण पुरेसे आहे."
			}
			return "Phosphorus levels are adequate."
		}
		return ""
	case "Potassium":
		switch category {
		case agronomy.CategoryLow:
			if mr {
				return "पालाशाचे (K) प्रमाण कमी आहे; पूरक खताची आवश्यकता आहे."
			}
			return "Potassium levels are low and may require supplementation."
		case agronomy.CategoryHigh:
			if mr {
				return "पालाशाचे (K) प्रमाण पुरेसे आहे."
			}
			return "Potassium levels are adequate."
		}
		return ""
	case "Organic Carbon":
		switch category {
		case agronomy.CategoryPoor:
			if mr {
				return "सेंद्रिय कर्बाचे प्रमाण कमी आहे; जमिनीची सुपीकता सुधारण्याची गरज आहे."
			}
			return "Soil organic carbon is poor, indicating low fertility. Soil improvement is advised."
		case agronomy.CategoryMedium:
			if mr {
				return "सेंद्रिय कर्बाचे प्रमाण मध्यम आहे."
			}
			return "Soil organic carbon is moderate."
		case agronomy.CategoryRich:
			if mr {
				return "सेंद्रिय कर्बाचे प्रमाण भरपूर आहे; जमीन सुपीक आहे."
			}
			return "Soil organic carbon is rich, indicating good fertility."
		}
		return ""
	}
	return ""
}

func marathiCategory(category string) string {
	switch category {
	case agronomy.CategoryLow:
		return "कमी"
	case agronomy.CategoryMedium:
		return "मध्यम"
	case agronomy.CategoryHigh:
		return "जास्त"
	case agronomy.CategoryAcidic:
		return "आम्लधर्मी"
	case agronomy.CategoryNeutral:
		return "उदासीन"
	case agronomy.CategoryAlkaline:
		return "विम्लधर्मी"
	default:
		return category
	}
}

// buildSummary assembles the rule-based explanation from categories only.
// No model involvement: categories in, sentences out.
func buildSummary(profile domain.SoilProfile, req domain.AnalysisRequest) string {
	var parts []string
	for _, param := range domain.CanonicalParameters {
		if s := summarySentence(param, profile.Category(param), req.Language); s != "" {
			parts = append(parts, s)
		}
	}
	if req.Language == domain.LanguageMarathi {
		parts = append(parts, fmt.Sprintf("हा सल्ला %s जिल्ह्यातील %s हंगामासाठी व %s सिंचनासाठी आहे.",
			req.District, marathiSeason(req.Season), marathiIrrigation(req.IrrigationType)))
	} else {
		parts = append(parts, fmt.Sprintf("This recommendation is for the %s season with %s irrigation in %s district.",
			strings.ToLower(req.Season), strings.ToLower(req.IrrigationType), req.District))
	}
	return strings.Join(parts, " ")
}

func marathiSeason(season string) string {
	switch season {
	case domain.SeasonKharif:
		return "खरीप"
	case domain.SeasonRabi:
		return "रब्बी"
	case domain.SeasonSummer:
		return "उन्हाळी"
	}
	return season
}

func marathiIrrigation(irrigation string) string {
	switch irrigation {
	case domain.IrrigationIrrigated:
		return "बागायती"
	case domain.IrrigationRainFed:
		return "कोरडवाहू"
	}
	return irrigation
}

func fallbackSummary(language string) string {
	if language == domain.LanguageMarathi {
		return "माती अहवालाचे विश्लेषण पूर्ण होऊ शकले नाही. माती परीक्षण करून घ्यावे."
	}
	return "The soil report could not be fully analyzed. Soil testing is recommended."
}

const advisorySystemPrompt = `You are an agriculture advisory assistant for Maharashtra, India farmers.

Write a friendly 2-4 sentence advisory based only on the data provided.

Rules (mandatory):
1. Never mention numeric soil values or fertilizer amounts (no "pH 7.2", no "150 kg/ha"). Use only the provided categories.
2. Mention only the listed recommended crops. Do not suggest alternatives or crops from other seasons.
3. Do not contradict the provided categories or change the season or irrigation type.
4. Use simple, farmer-friendly language. No markdown, no JSON; return only the advisory text.`

// generateAdvisory asks the text model for the human-friendly paragraph and
// validates it. Returns "" when generation fails or validation rejects the
// output; the caller substitutes the deterministic fallback.
func (o *Orchestrator) generateAdvisory(ctx context.Context, rec *domain.RecommendationSet, profile domain.SoilProfile, req domain.AnalysisRequest) (string, llm.Usage) {
	languageName := "English"
	if req.Language == domain.LanguageMarathi {
		languageName = "Marathi"
	}
	crops := "None"
	if rec != nil && len(rec.Crops.Primary) > 0 {
		crops = strings.Join(rec.Crops.Primary, ", ")
	}
	userPrompt := fmt.Sprintf(
		"Soil pH Category: %s\nNitrogen Category: %s\nOrganic Carbon Category: %s\nRecommended Crops: %s\nSeason: %s\nIrrigation: %s\nDistrict: %s\nLanguage: %s",
		profile.Category("pH"), profile.Category("Nitrogen"), profile.Category("Organic Carbon"),
		crops, req.Season, req.IrrigationType, req.District, languageName)

	advisory, usage, err := o.Text.Complete(ctx, advisorySystemPrompt, userPrompt, o.TextTemperature)
	if err != nil {
		log.Printf("pipeline stage=explain advisory_err=%v", err)
		return "", usage
	}

	advisory = cleanAdvisory(advisory)
	if reason := o.validateAdvisory(advisory, rec, profile); reason != "" {
		log.Printf("pipeline stage=explain advisory_rejected reason=%s", reason)
		return "", usage
	}
	return advisory, usage
}

var advisoryPreambleRe = regexp.MustCompile(`(?i)^(here\s+is|here's|advisory|output|result)[\s:]*`)

func cleanAdvisory(s string) string {
	s = strings.TrimSpace(s)
	s = advisoryPreambleRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// validateAdvisory rejects model text that leaks numbers, contradicts the
// profile, or mentions crops outside the recommended list. Returns the
// rejection reason, or "" when the advisory is acceptable.
func (o *Orchestrator) validateAdvisory(advisory string, rec *domain.RecommendationSet, profile domain.SoilProfile) string {
	if advisory == "" {
		return "empty"
	}
	if err := checkNoNumericSoilValues(advisory); err != nil {
		return "numeric_values"
	}

	lower := strings.ToLower(advisory)
	if profile.Category("Nitrogen") == agronomy.CategoryLow {
		if strings.Contains(lower, "nitrogen") && (strings.Contains(lower, "medium") || strings.Contains(lower, "sufficient nitrogen") || strings.Contains(lower, "adequate nitrogen") || strings.Contains(lower, "high nitrogen")) {
			return "contradicts_nitrogen"
		}
	}
	if profile.Category("pH") == agronomy.CategoryNeutral {
		if strings.Contains(lower, "soil is acidic") || strings.Contains(lower, "soil is alkaline") {
			return "contradicts_ph"
		}
	}

	if rec != nil && len(rec.Crops.Primary) > 0 {
		recommended := make(map[string]bool, len(rec.Crops.Primary))
		for _, c := range rec.Crops.Primary {
			recommended[strings.ToLower(c)] = true
		}
		for _, seasonCrops := range o.Tables.SeasonCrops {
			for _, crop := range seasonCrops {
				cl := strings.ToLower(crop)
				if recommended[cl] {
					continue
				}
				if regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(crop) + `\b`).MatchString(advisory) {
					return "foreign_crop:" + cl
				}
			}
		}
	}
	return ""
}

// fallbackAdvisory is the deterministic advisory used whenever the model's
// paragraph is unavailable or rejected.
func fallbackAdvisory(rec *domain.RecommendationSet, req domain.AnalysisRequest) string {
	crops := "suitable crops"
	cropsMR := "योग्य पिके"
	if rec != nil && len(rec.Crops.Primary) > 0 {
		crops = strings.Join(rec.Crops.Primary, ", ")
		cropsMR = crops
	}
	if req.Language == domain.LanguageMarathi {
		return fmt.Sprintf("या मातीच्या परिस्थितीत %s या पिकांची लागवड करण्याची शिफारस केली जाते. %s हंगामात %s पद्धतीने या पिकांची लागवड करावी.",
			cropsMR, marathiSeason(req.Season), marathiIrrigation(req.IrrigationType))
	}
	return fmt.Sprintf("Based on the soil conditions, %s are recommended for cultivation. These crops should be grown during the %s season with %s irrigation.",
		crops, strings.ToLower(req.Season), strings.ToLower(req.IrrigationType))
}
