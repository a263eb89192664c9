package service

import (
	"testing"

	"github.com/commons-ledger/be-tranche-core/internal/repository"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to repository.TrancheStatus
		want     bool
	}{
		{repository.TrancheStatusOpen, repository.TrancheStatusFunding, true},
		{repository.TrancheStatusOpen, repository.TrancheStatusFunded, true},
		{repository.TrancheStatusOpen, repository.TrancheStatusActive, false},
		{repository.TrancheStatusFunding, repository.TrancheStatusFunded, true},
		{repository.TrancheStatusFunding, repository.TrancheStatusOpen, false},
		{repository.TrancheStatusFunded, repository.TrancheStatusActive, true},
		{repository.TrancheStatusFunded, repository.TrancheStatusRepaying, false},
		{repository.TrancheStatusActive, repository.TrancheStatusRepaying, true},
		{repository.TrancheStatusRepaying, repository.TrancheStatusCompleted, true},
		{repository.TrancheStatusRepaying, repository.TrancheStatusActive, false},
		{repository.TrancheStatusCompleted, repository.TrancheStatusDefaulted, false},
		{repository.TrancheStatusDefaulted, repository.TrancheStatusOpen, false},
		{repository.TrancheStatusCancelled, repository.TrancheStatusFunding, false},
	}
	for _, c := range cases {
		if got := canTransition(c.from, c.to); got != c.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}

	t.Run("terminal states have no exits", func(t *testing.T) {
		for _, terminal := range []repository.TrancheStatus{
			repository.TrancheStatusCompleted,
			repository.TrancheStatusDefaulted,
			repository.TrancheStatusCancelled,
		} {
			if exits := trancheTransitions[terminal]; len(exits) != 0 {
				t.Errorf("%s has exits %v", terminal, exits)
			}
		}
	})
}

func TestApplyFundingProgress(t *testing.T) {
	t.Run("first pledge moves open to funding", func(t *testing.T) {
		tr := &repository.Tranche{
			Status:        repository.TrancheStatusOpen,
			TargetAmount:  mustUSD("1000"),
			PledgedAmount: mustUSD("100"),
		}
		reached, err := applyFundingProgress(tr)
		if err != nil {
			t.Fatalf("applyFundingProgress: %v", err)
		}
		if reached {
			t.Error("target should not be reached")
		}
		if tr.Status != repository.TrancheStatusFunding {
			t.Errorf("status = %s, want funding", tr.Status)
		}
	})

	t.Run("reaching target moves to funded", func(t *testing.T) {
		tr := &repository.Tranche{
			Status:        repository.TrancheStatusFunding,
			TargetAmount:  mustUSD("1000"),
			PledgedAmount: mustUSD("1000"),
		}
		reached, err := applyFundingProgress(tr)
		if err != nil {
			t.Fatalf("applyFundingProgress: %v", err)
		}
		if !reached {
			t.Error("target should be reached")
		}
		if tr.Status != repository.TrancheStatusFunded {
			t.Errorf("status = %s, want funded", tr.Status)
		}
	})

	t.Run("single pledge can fund an open tranche outright", func(t *testing.T) {
		tr := &repository.Tranche{
			Status:        repository.TrancheStatusOpen,
			TargetAmount:  mustUSD("1000"),
			PledgedAmount: mustUSD("1000"),
		}
		reached, _ := applyFundingProgress(tr)
		if !reached || tr.Status != repository.TrancheStatusFunded {
			t.Errorf("reached=%v status=%s", reached, tr.Status)
		}
	})
}
