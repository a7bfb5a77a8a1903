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

// Confidence assignments used by Stage 2. Measured values categorized from
// the threshold tables are near-certain; model inference over missing values
// is capped well below that; a failed inference stays under the gate so the
// axis reads Unknown.
const (
	measuredConfidence    = 0.95
	maxInferredConfidence = 0.8
	failedInferConfidence = 0.3
	confidenceGate        = 0.5
	unknownCategory       = agronomy.CategoryUnknown
)

const classifySystemPrompt = `You are a soil classification assistant for the Maharashtra, India agriculture system.

Measured values are already categorized by backend threshold logic and are not your task. You only infer categories for parameters that are missing from the lab report, using soil type characteristics and district patterns.

Rules (mandatory):
1. Never generate or mention numeric soil values. Never predict what a measured value might be.
2. Only categorize the parameters listed as missing in the input.
3. Categories: pH: Acidic, Neutral, Alkaline. Nitrogen, Phosphorus, Potassium: Low, Medium, High. Organic Carbon: Poor, Medium, Rich.
4. Set confidence between 0.5 and 0.8 for inferred categories; lower for rain-fed districts, higher for irrigated.
5. Typical patterns: Black soil: Low Nitrogen, Medium Phosphorus, High Potassium. Red soil: Low across nutrients. Alluvial: Medium across nutrients.

Respond with JSON only (no markdown):
{"soil_profile": {"Nitrogen": {"category": "Low", "confidence": 0.65}, "Phosphorus": {"category": "Medium", "confidence": 0.6}}}`

type classifyResponse struct {
	SoilProfile map[string]struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	} `json:"soil_profile"`
}

// classify runs Stage 2. Measured parameters are categorized deterministically
// from the threshold tables and locked; only missing parameters go to the
// model for inference. The confidence gate runs last: any axis below 0.5
// leaves this stage as Unknown, whatever the raw classification proposed.
func (o *Orchestrator) classify(ctx context.Context, extracted domain.ExtractedParameters, req domain.AnalysisRequest) (domain.SoilProfile, llm.Usage, error) {
	profile := make(domain.SoilProfile, len(domain.CanonicalParameters))

	var missing []string
	for _, name := range domain.CanonicalParameters {
		reading := extracted[name]
		if reading.Missing() {
			missing = append(missing, name)
			profile[name] = domain.Classification{Category: unknownCategory, Confidence: failedInferConfidence}
			continue
		}
		category, err := o.Tables.Categorize(name, *reading.Value)
		if err != nil {
			// Out-of-range measurement: do not guess.
			log.Printf("pipeline stage=classify param=%s value=%v err=%v", name, *reading.Value, err)
			profile[name] = domain.Classification{Category: unknownCategory, Confidence: failedInferConfidence}
			continue
		}
		profile[name] = domain.Classification{Category: category, Confidence: measuredConfidence}
	}

	var usage llm.Usage
	var stageErr error
	if len(missing) > 0 {
		inferred, u, err := o.inferMissing(ctx, missing, req)
		usage = u
		if err != nil {
			// Missing axes stay Unknown at low confidence; the pipeline
			// continues with conservative downstream behavior.
			log.Printf("pipeline stage=classify infer_missing=%d err=%v", len(missing), err)
			stageErr = fmt.Errorf("classify: %w", err)
		} else {
			for _, name := range missing {
				c, ok := inferred[name]
				if !ok {
					continue
				}
				profile[name] = c
			}
		}
	}

	// Confidence gate: < 0.5 forces Unknown. Exactly 0.5 keeps the label.
	for name, c := range profile {
		if c.Confidence < confidenceGate {
			c.Category = unknownCategory
			profile[name] = c
		}
	}

	// Measured values can never leave this stage mis-labeled: re-assert the
	// threshold category over whatever the merge produced.
	for _, name := range domain.CanonicalParameters {
		reading := extracted[name]
		if reading.Missing() {
			continue
		}
		if category, err := o.Tables.Categorize(name, *reading.Value); err == nil {
			if profile[name].Category != category {
				log.Printf("pipeline stage=classify locked param=%s category=%s", name, category)
			}
			profile[name] = domain.Classification{Category: category, Confidence: measuredConfidence}
		}
	}

	return profile, usage, stageErr
}

// inferMissing asks the model to categorize unmeasured parameters from
// regional context. Confidence is clamped to the inference cap and labels
// outside the axis vocabulary are discarded.
func (o *Orchestrator) inferMissing(ctx context.Context, missing []string, req domain.AnalysisRequest) (map[string]domain.Classification, llm.Usage, error) {
	soilType := req.SoilType
	if soilType == "" {
		soilType = "Unknown"
	}
	userPrompt := fmt.Sprintf(
		"District: %s\nSoil Type: %s\nIrrigation Type: %s\nMissing parameters to infer: %s",
		req.District, soilType, req.IrrigationType, strings.Join(missing, ", "))

	responseText, usage, err := o.JSON.Complete(ctx, classifySystemPrompt, userPrompt, o.JSONTemperature)
	if err != nil {
		return nil, usage, err
	}
	if err := checkNoNumericSoilValues(responseText); err != nil {
		return nil, usage, fmt.Errorf("malformed stage output: %w", err)
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(sanitizeModelJSON(responseText)), &resp); err != nil {
		return nil, usage, fmt.Errorf("malformed stage output: %w", err)
	}

	out := make(map[string]domain.Classification, len(resp.SoilProfile))
	for name, c := range resp.SoilProfile {
		canonical, ok := canonicalParameterName(name)
		if !ok {
			continue
		}
		confidence := c.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > maxInferredConfidence {
			confidence = maxInferredConfidence
		}
		category := strings.TrimSpace(c.Category)
		if !o.validCategory(canonical, category) {
			category = unknownCategory
		}
		out[canonical] = domain.Classification{Category: category, Confidence: confidence}
	}
	return out, usage, nil
}

func (o *Orchestrator) validCategory(param, category string) bool {
	for _, c := range o.Tables.CategoriesFor(param) {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}
