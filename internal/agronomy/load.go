package agronomy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a rule-table override file and merges it over the built-in
// defaults. Sections absent from the file keep their default values, so a
// deployment can override just the thresholds or just the disclaimers.
func Load(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agronomy tables: %w", err)
	}
	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse agronomy tables yaml: %w", err)
	}

	t := Default()
	if len(override.Thresholds) > 0 {
		t.Thresholds = override.Thresholds
	}
	if len(override.SeasonCrops) > 0 {
		t.SeasonCrops = override.SeasonCrops
	}
	if len(override.HighInputCrops) > 0 {
		t.HighInputCrops = override.HighInputCrops
	}
	if len(override.ConservativeCrops) > 0 {
		t.ConservativeCrops = override.ConservativeCrops
	}
	if len(override.Districts) > 0 {
		t.Districts = override.Districts
	}
	if len(override.SoilTypes) > 0 {
		t.SoilTypes = override.SoilTypes
	}
	if len(override.Disclaimers) > 0 {
		t.Disclaimers = override.Disclaimers
	}
	return t, nil
}
