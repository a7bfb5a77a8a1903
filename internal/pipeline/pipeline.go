// Package pipeline runs the four-stage soil analysis: extraction,
// classification, advisory and explanation, with deterministic rule
// enforcement after every model call.
package pipeline

import (
	"context"
	"log"
	"strings"
	"time"

	"farmchain/internal/agronomy"
	"farmchain/internal/domain"
	"farmchain/internal/llm"
)

// Orchestrator wires the stages together. JSON is the structured-output
// client used by extract/classify/advise; Text is the free-text client used
// for the advisory paragraph. Both may point at the same backend.
type Orchestrator struct {
	JSON   llm.Client
	Text   llm.Client
	Tables *agronomy.Tables

	JSONTemperature float64
	TextTemperature float64
	Timeout         time.Duration
}

// New builds an orchestrator with the standard temperatures. Pass the same
// client twice when a single backend serves both roles.
func New(jsonClient, textClient llm.Client, tables *agronomy.Tables, timeout time.Duration) *Orchestrator {
	if tables == nil {
		tables = agronomy.Default()
	}
	return &Orchestrator{
		JSON:            jsonClient,
		Text:            textClient,
		Tables:          tables,
		JSONTemperature: 0.1,
		TextTemperature: 0.3,
		Timeout:         timeout,
	}
}

// Pipeline states, logged at each transition.
const (
	stateReceived    = "received"
	stateExtracting  = "extracting"
	stateClassifying = "classifying"
	stateAdvising    = "advising"
	stateExplaining  = "explaining"
	stateValidated   = "validated"
	stateReturned    = "returned"
)

// Analyze runs a request through all four stages. The returned error is
// non-nil only for admission failures (invalid request); every downstream
// failure is absorbed into the result, with Success=false when a model call
// failed or a stage produced malformed output.
func (o *Orchestrator) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	start := time.Now()
	log.Printf("pipeline state=%s district=%s season=%s irrigation=%s", stateReceived, req.District, req.Season, req.IrrigationType)

	if err := req.Validate(o.Tables); err != nil {
		return domain.AnalysisResult{}, err
	}

	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	var usage llm.Usage
	var stageErrs []error

	log.Printf("pipeline state=%s", stateExtracting)
	extracted, u, err := o.extract(ctx, req.ReportText)
	usage.Add(u)
	if err != nil {
		stageErrs = append(stageErrs, err)
	}

	log.Printf("pipeline state=%s missing=%d", stateClassifying, countMissing(extracted))
	profile, u, err := o.classify(ctx, extracted, req)
	usage.Add(u)
	if err != nil {
		stageErrs = append(stageErrs, err)
	}

	log.Printf("pipeline state=%s unknown_axes=%v", stateAdvising, profile.AnyUnknown())
	rec, u, err := o.advise(ctx, profile, extracted, req)
	usage.Add(u)
	if err != nil {
		stageErrs = append(stageErrs, err)
	}

	log.Printf("pipeline state=%s language=%s", stateExplaining, req.Language)
	explanation, u := o.explain(ctx, rec, profile, req)
	usage.Add(u)

	result := domain.AnalysisResult{
		Version:             domain.Version,
		ExtractedParameters: extracted,
		SoilProfile:         profile,
		Recommendations:     rec,
		Explanation:         explanation,
		Success:             len(stageErrs) == 0,
	}
	if len(stageErrs) > 0 {
		result.Error = joinStageErrors(stageErrs)
	}

	o.finalize(&result, req)
	log.Printf("pipeline state=%s", stateValidated)

	log.Printf("pipeline state=%s success=%v tokens=%d elapsed=%s",
		stateReturned, result.Success, usage.TotalTokens(), time.Since(start).Round(time.Millisecond))
	return result, nil
}

func countMissing(extracted domain.ExtractedParameters) int {
	n := 0
	for _, r := range extracted {
		if r.Missing() {
			n++
		}
	}
	return n
}

func joinStageErrors(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// ModelUnavailable reports whether any stage error in the result stems from
// an unreachable or timed-out model backend.
func ModelUnavailable(result domain.AnalysisResult) bool {
	return !result.Success &&
		(strings.Contains(result.Error, llm.ErrModelUnavailable.Error()) ||
			strings.Contains(result.Error, llm.ErrModelTimeout.Error()))
}
