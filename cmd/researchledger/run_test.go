package main

import (
	"testing"

	"github.com/TobiSchelling/researchledger/internal/config"
)

func TestDefaultConfigKeepsPlanStopRule(t *testing.T) {
	cfg := config.Default()
	if opts := orchestratorOptions(cfg, nil); opts.StopRule != 0 {
		t.Errorf("expected no stop rule override by default, got %d", opts.StopRule)
	}
}

func TestStopRuleFlagOverrides(t *testing.T) {
	old := stopRule
	t.Cleanup(func() { stopRule = old })

	cfg := config.Default()
	stopRule = 25
	applyRunFlags(cfg)
	if opts := orchestratorOptions(cfg, nil); opts.StopRule != 25 {
		t.Errorf("expected --stop-rule to override, got %d", opts.StopRule)
	}
}
