package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"farmchain/internal/domain"
	"farmchain/internal/llm"
)

// parameterAliases maps lowercased report phrasings onto canonical parameter
// names. Stage 1 output only ever carries canonical keys.
var parameterAliases = map[string]string{
	"ph":                   "pH",
	"p.h.":                 "pH",
	"soil reaction":        "pH",
	"soil ph":              "pH",
	"n":                    "Nitrogen",
	"nitrogen":             "Nitrogen",
	"available nitrogen":   "Nitrogen",
	"p":                    "Phosphorus",
	"phosphorus":           "Phosphorus",
	"available phosphorus": "Phosphorus",
	"k":                    "Potassium",
	"potassium":            "Potassium",
	"available potassium":  "Potassium",
	"oc":                   "Organic Carbon",
	"organic carbon":       "Organic Carbon",
	"organic_carbon":       "Organic Carbon",
	"organic carbon %":     "Organic Carbon",
	"oc%":                  "Organic Carbon",
}

func canonicalParameterName(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimSuffix(key, ":")
	if canonical, ok := parameterAliases[key]; ok {
		return canonical, true
	}
	// Accept phrasings like "Available Nitrogen (N)".
	if idx := strings.Index(key, "("); idx > 0 {
		if canonical, ok := parameterAliases[strings.TrimSpace(key[:idx])]; ok {
			return canonical, true
		}
	}
	return "", false
}

const extractSystemPrompt = `You are a soil report text extractor for the Maharashtra, India agriculture system.

Rules (mandatory):
1. EXTRACTION ONLY. Extract numeric values that are explicitly written in the report text. Never generate, predict, estimate, or infer values. Never use typical values, averages, or ranges.
2. MISSING PARAMETERS. If a parameter (pH, Nitrogen, Phosphorus, Potassium, Organic Carbon) is not found in the text, or the name appears without a numeric value, set value to null and source to "missing".
3. NORMALIZATION. "Soil Reaction" -> pH; "Available Nitrogen (N)" or "N" -> Nitrogen; "Available Phosphorus (P)" or "P" -> Phosphorus; "Available Potassium (K)" or "K" -> Potassium; "Organic Carbon (OC)" or "OC" -> Organic Carbon.
4. UNITS. pH has no unit. Nitrogen, Phosphorus and Potassium are kg/ha; if the report gives no unit, set unit_uncertain true. Organic Carbon is % or g/kg.
5. Every extracted value must have source "report". Valid sources are "report" and "missing" only.

Respond with JSON only (no markdown), in this exact shape:
{"extracted_parameters": {"pH": {"value": 7.8, "unit": "", "source": "report", "unit_uncertain": false}, "Nitrogen": {"value": null, "unit": "", "source": "missing", "unit_uncertain": false}}}`

// extractedResponse is the Stage 1 model output envelope.
type extractedResponse struct {
	ExtractedParameters map[string]rawReading `json:"extracted_parameters"`
}

type rawReading struct {
	Value         json.RawMessage `json:"value"`
	Unit          string          `json:"unit"`
	Source        string          `json:"source"`
	UnitUncertain bool            `json:"unit_uncertain"`
}

// extract runs Stage 1. It never aborts the pipeline: on model failure it
// falls back to a deterministic regex sweep over the report text and marks
// everything else missing. The returned error reports model-level failure so
// the orchestrator can account for it in the success flag.
func (o *Orchestrator) extract(ctx context.Context, reportText string) (domain.ExtractedParameters, llm.Usage, error) {
	responseText, usage, err := o.JSON.Complete(ctx, extractSystemPrompt, "Report text:\n"+reportText, o.JSONTemperature)
	if err != nil {
		log.Printf("pipeline stage=extract fallback=regex err=%v", err)
		return regexFallbackExtract(reportText), usage, fmt.Errorf("extract: %w", err)
	}

	var resp extractedResponse
	if perr := json.Unmarshal([]byte(sanitizeModelJSON(responseText)), &resp); perr != nil {
		log.Printf("pipeline stage=extract fallback=regex parse_err=%v", perr)
		return regexFallbackExtract(reportText), usage, fmt.Errorf("extract: malformed stage output: %w", perr)
	}

	params := normalizeExtracted(resp.ExtractedParameters)

	// A model that finds nothing in a report that plainly carries values is a
	// degraded extraction, not a hard stop; sweep the text directly.
	if allMissing(params) {
		if fallback := regexFallbackExtract(reportText); !allMissing(fallback) {
			log.Printf("pipeline stage=extract model_found=0 regex_recovered=1")
			params = fallback
		}
	}
	return params, usage, nil
}

// normalizeExtracted folds model output onto the canonical key set. Every
// canonical parameter is present in the result; readings with invented
// sources or unparseable values become explicit missing markers.
func normalizeExtracted(raw map[string]rawReading) domain.ExtractedParameters {
	params := make(domain.ExtractedParameters, len(domain.CanonicalParameters))
	for _, name := range domain.CanonicalParameters {
		params[name] = domain.MissingMarker()
	}
	for name, r := range raw {
		canonical, ok := canonicalParameterName(name)
		if !ok {
			log.Printf("pipeline stage=extract dropped_unrecognized_param=%q", name)
			continue
		}
		value, ok := parseNumericValue(r.Value)
		if !ok || r.Source != domain.SourceReport {
			continue // keep the missing marker
		}
		reading := domain.ParameterReading{
			Value:         &value,
			Unit:          normalizeUnit(canonical, r.Unit),
			Source:        domain.SourceReport,
			UnitUncertain: r.UnitUncertain,
		}
		if canonical != "pH" && canonical != "Organic Carbon" && strings.TrimSpace(r.Unit) == "" {
			reading.UnitUncertain = true
			reading.Unit = "kg/ha"
		}
		params[canonical] = reading
	}
	return params
}

func normalizeUnit(param, unit string) string {
	unit = strings.TrimSpace(unit)
	switch param {
	case "pH":
		return ""
	case "Organic Carbon":
		if unit == "" {
			return "%"
		}
		return unit
	default:
		if unit == "" || strings.EqualFold(unit, "kg/ha") {
			return "kg/ha"
		}
		return unit
	}
}

// parseNumericValue accepts a JSON number or a numeric string; everything
// else (null, objects, prose) is not a measurement.
func parseNumericValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func allMissing(params domain.ExtractedParameters) bool {
	for _, r := range params {
		if !r.Missing() {
			return false
		}
	}
	return true
}

// Deterministic extraction patterns, one per canonical parameter. Bounds
// keep pH readings from being mistaken for nutrient values and vice versa.
var fallbackPatterns = []struct {
	param   string
	re      *regexp.Regexp
	min     float64
	max     float64
	unit    string
	hasUnit bool
}{
	{"pH", regexp.MustCompile(`(?i)(?:\bph\b|soil\s+reaction)\s*[:=\-]?\s*(\d+(?:\.\d+)?)`), 0, 14, "", true},
	{"Nitrogen", regexp.MustCompile(`(?i)(?:available\s+)?nitrogen\s*(?:\(\s*n\s*\))?\s*[:=\-]?\s*(\d+(?:\.\d+)?)\s*(kg/(?:ha|acre))?`), 10, 1000, "kg/ha", false},
	{"Phosphorus", regexp.MustCompile(`(?i)(?:available\s+)?phosphorus\s*(?:\(\s*p\s*\))?\s*[:=\-]?\s*(\d+(?:\.\d+)?)\s*(kg/(?:ha|acre))?`), 0.5, 1000, "kg/ha", false},
	{"Potassium", regexp.MustCompile(`(?i)(?:available\s+)?potassium\s*(?:\(\s*k\s*\))?\s*[:=\-]?\s*(\d+(?:\.\d+)?)\s*(kg/(?:ha|acre))?`), 1, 2000, "kg/ha", false},
	{"Organic Carbon", regexp.MustCompile(`(?i)organic\s+carbon\s*(?:\(\s*oc\s*\))?\s*[:=\-]?\s*(\d+(?:\.\d+)?)\s*%?`), 0, 100, "%", true},
}

// regexFallbackExtract sweeps the raw text for explicitly written values.
// Used when the model is unreachable or returned nothing usable.
func regexFallbackExtract(reportText string) domain.ExtractedParameters {
	params := make(domain.ExtractedParameters, len(domain.CanonicalParameters))
	for _, name := range domain.CanonicalParameters {
		params[name] = domain.MissingMarker()
	}
	for _, p := range fallbackPatterns {
		m := p.re.FindStringSubmatch(reportText)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil || value < p.min || value > p.max {
			continue
		}
		reading := domain.ParameterReading{
			Value:  &value,
			Unit:   p.unit,
			Source: domain.SourceReport,
		}
		if !p.hasUnit {
			if len(m) > 2 && m[2] != "" {
				reading.Unit = m[2]
			} else {
				reading.UnitUncertain = true
			}
		}
		params[p.param] = reading
	}
	return params
}
