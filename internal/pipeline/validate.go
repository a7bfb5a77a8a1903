package pipeline

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"farmchain/internal/agronomy"
	"farmchain/internal/domain"
)

// sanitizeModelJSON strips markdown code fences and any prose around the JSON
// object. Local models wrap JSON in fences often enough that parsing the raw
// response directly is a reliability bug.
func sanitizeModelJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	// Prose before or after the object: cut to the outermost braces.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// Numeric soil values and fertilizer quantities must never appear in model
// output that reaches a farmer. These patterns catch the common leak shapes.
var forbiddenNumericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bph\b[\s:=]+\d+(?:\.\d+)?`),
	regexp.MustCompile(`(?i)\b(?:nitrogen|phosphorus|potassium|organic\s+carbon)\b[\s:=]+\d+(?:\.\d+)?`),
	regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*kg\s*/\s*(?:ha|acre)`),
	regexp.MustCompile(`(?i)\bapply\s+\d+`),
	regexp.MustCompile(`(?i)\d+\s*(?:kg|grams?|tonnes?)\s+(?:of\s+)?(?:urea|dap|ssp|mop|sop)`),
}

// checkNoNumericSoilValues scans text for numeric soil values or fertilizer
// quantities. A hit means the producing stage output is rejected wholesale.
func checkNoNumericSoilValues(s string) error {
	for _, re := range forbiddenNumericPatterns {
		if m := re.FindString(s); m != "" {
			return fmt.Errorf("numeric value in model output: %q", m)
		}
	}
	return nil
}

func validTier(tier string) bool {
	switch tier {
	case agronomy.CategoryLow, agronomy.CategoryMedium, agronomy.CategoryHigh:
		return true
	}
	return false
}

// finalize is the last gate before a result leaves the pipeline. It does not
// trust the stages: the disclaimer is re-asserted from the canonical pool,
// fertilizer tiers are re-checked against the tier vocabulary, and text
// fields are re-scanned for numeric leaks.
func (o *Orchestrator) finalize(result *domain.AnalysisResult, req domain.AnalysisRequest) {
	result.Version = domain.Version

	if result.Explanation.Language == "" {
		result.Explanation.Language = req.Language
	}
	if strings.TrimSpace(result.Explanation.Content) == "" {
		result.Explanation.Content = fallbackSummary(req.Language)
	}
	if !o.Tables.IsCanonicalDisclaimer(result.Explanation.Disclaimer) {
		log.Printf("pipeline stage=validate replaced_disclaimer=1")
		result.Explanation.Disclaimer = o.Tables.Disclaimer(req.Language)
	}

	if err := checkNoNumericSoilValues(result.Explanation.Advisory); err != nil {
		log.Printf("pipeline stage=validate advisory_numeric_leak=1 err=%v", err)
		result.Explanation.Advisory = fallbackAdvisory(result.Recommendations, req)
	}

	if result.Recommendations != nil {
		for nutrient, g := range result.Recommendations.Fertilizer {
			for stage, tier := range g.StageTiers {
				if !validTier(tier) {
					log.Printf("pipeline stage=validate coerced_tier nutrient=%s stage=%s tier=%q", nutrient, stage, tier)
					g.StageTiers[stage] = agronomy.CategoryLow
				}
			}
		}
	}
}
