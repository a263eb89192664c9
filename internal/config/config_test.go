package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Name != "be-tranche-core" {
		t.Errorf("service name = %q", cfg.Service.Name)
	}
	if cfg.Policy.Oversubscription != PolicyReject {
		t.Errorf("default oversubscription = %q, want reject", cfg.Policy.Oversubscription)
	}
	if cfg.Policy.MinActivationScore.String() != "60" {
		t.Errorf("default min activation score = %s, want 60", cfg.Policy.MinActivationScore)
	}
	if cfg.Policy.TrancheLockTimeout != 5*time.Second {
		t.Errorf("default lock timeout = %s", cfg.Policy.TrancheLockTimeout)
	}
	if !cfg.Features.EnableAttestations || !cfg.Features.EnableCreditScoring {
		t.Error("gates should default on")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLICY_OVERSUBSCRIPTION", "partial_fill")
	t.Setenv("POLICY_MIN_ACTIVATION_SCORE", "72.5")
	t.Setenv("POLICY_TRANCHE_LOCK_TIMEOUT", "250ms")
	t.Setenv("ENABLE_CREDIT_SCORING", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy.Oversubscription != PolicyPartialFill {
		t.Errorf("oversubscription = %q", cfg.Policy.Oversubscription)
	}
	if cfg.Policy.MinActivationScore.String() != "72.5" {
		t.Errorf("min score = %s", cfg.Policy.MinActivationScore)
	}
	if cfg.Policy.TrancheLockTimeout != 250*time.Millisecond {
		t.Errorf("lock timeout = %s", cfg.Policy.TrancheLockTimeout)
	}
	if cfg.Features.EnableCreditScoring {
		t.Error("credit scoring should be off")
	}
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	t.Run("unknown oversubscription", func(t *testing.T) {
		t.Setenv("POLICY_OVERSUBSCRIPTION", "first_come")
		if _, err := Load(); err == nil {
			t.Fatal("expected error for unknown oversubscription policy")
		}
	})

	t.Run("malformed score", func(t *testing.T) {
		t.Setenv("POLICY_MIN_ACTIVATION_SCORE", "sixty")
		if _, err := Load(); err == nil {
			t.Fatal("expected error for malformed score")
		}
	})
}
