// Package domain defines the analysis request/result types exchanged between
// the web layer and the soil-advisory pipeline.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"farmchain/internal/agronomy"
)

// ErrInvalidRequest marks admission-time validation failures. Requests that
// fail admission never reach the pipeline.
var ErrInvalidRequest = errors.New("invalid request")

const (
	SeasonKharif = "Kharif"
	SeasonRabi   = "Rabi"
	SeasonSummer = "Summer"

	IrrigationRainFed   = "Rain-fed"
	IrrigationIrrigated = "Irrigated"

	LanguageEnglish = "english"
	LanguageMarathi = "marathi"
)

// AnalysisRequest is the single input object for one pipeline run. Immutable
// after Validate succeeds.
type AnalysisRequest struct {
	ReportText     string `json:"report_text"`
	District       string `json:"district"`
	SoilType       string `json:"soil_type,omitempty"`
	IrrigationType string `json:"irrigation_type"`
	Season         string `json:"season"`
	Language       string `json:"language,omitempty"`
}

// Validate checks required fields and enum membership against the rule
// tables. It normalizes the language field (default marathi) and the district
// casing. All failures wrap ErrInvalidRequest.
func (r *AnalysisRequest) Validate(tables *agronomy.Tables) error {
	if strings.TrimSpace(r.ReportText) == "" {
		return fmt.Errorf("%w: report_text is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.District) == "" {
		return fmt.Errorf("%w: district is required", ErrInvalidRequest)
	}
	if !tables.KnownDistrict(r.District) {
		return fmt.Errorf("%w: district %q is not a recognized Maharashtra district", ErrInvalidRequest, r.District)
	}
	switch r.Season {
	case SeasonKharif, SeasonRabi, SeasonSummer:
	case "":
		return fmt.Errorf("%w: season is required", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: season %q must be one of Kharif, Rabi, Summer", ErrInvalidRequest, r.Season)
	}
	switch r.IrrigationType {
	case IrrigationRainFed, IrrigationIrrigated:
	case "":
		return fmt.Errorf("%w: irrigation_type is required", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: irrigation_type %q must be Rain-fed or Irrigated", ErrInvalidRequest, r.IrrigationType)
	}
	if r.SoilType != "" && !tables.KnownSoilType(r.SoilType) {
		return fmt.Errorf("%w: soil_type %q is not a recognized soil type", ErrInvalidRequest, r.SoilType)
	}

	switch strings.ToLower(strings.TrimSpace(r.Language)) {
	case "", LanguageMarathi, "mr":
		r.Language = LanguageMarathi
	case LanguageEnglish, "en":
		r.Language = LanguageEnglish
	default:
		return fmt.Errorf("%w: language %q must be english or marathi", ErrInvalidRequest, r.Language)
	}
	return nil
}
