package service

import (
	"time"

	"github.com/commons-ledger/be-tranche-core/internal/repository"
)

// The tranche state machine lives here and nowhere else. Status values
// are only ever flipped through these helpers, so the legality of a
// transition is never re-derived ad hoc at a status read site.

// trancheTransitions is the adjacency table:
//
//	open → funding → funded → active → repaying → completed
//
// with defaulted reachable from every post-open funded state and
// cancelled from every non-terminal state (subject to the zero-funds
// guard enforced by the lifecycle service).
var trancheTransitions = map[repository.TrancheStatus][]repository.TrancheStatus{
	repository.TrancheStatusOpen: {
		repository.TrancheStatusFunding,
		repository.TrancheStatusFunded, // a single pledge can hit the target outright
		repository.TrancheStatusCancelled,
	},
	repository.TrancheStatusFunding: {
		repository.TrancheStatusFunded,
		repository.TrancheStatusDefaulted,
		repository.TrancheStatusCancelled,
	},
	repository.TrancheStatusFunded: {
		repository.TrancheStatusActive,
		repository.TrancheStatusDefaulted,
		repository.TrancheStatusCancelled,
	},
	repository.TrancheStatusActive: {
		repository.TrancheStatusRepaying,
		repository.TrancheStatusDefaulted,
		repository.TrancheStatusCancelled,
	},
	repository.TrancheStatusRepaying: {
		repository.TrancheStatusCompleted,
		repository.TrancheStatusDefaulted,
		repository.TrancheStatusCancelled,
	},
	repository.TrancheStatusCompleted: nil,
	repository.TrancheStatusDefaulted: nil,
	repository.TrancheStatusCancelled: nil,
}

// canTransition reports whether from → to is a legal edge.
func canTransition(from, to repository.TrancheStatus) bool {
	for _, next := range trancheTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyFundingProgress flips the in-memory status as pledged_amount
// grows: the first pledge moves open → funding, and reaching the target
// moves open/funding → funded (pending settlement). Returns whether the
// target was reached by this mutation. The caller holds the tranche lock
// and persists the result atomically.
func applyFundingProgress(t *repository.Tranche) (targetReached bool, err error) {
	reached, err := t.PledgedAmount.GreaterThanOrEqual(t.TargetAmount)
	if err != nil {
		return false, err
	}

	switch {
	case reached && t.Status.AcceptsFunds():
		t.Status = repository.TrancheStatusFunded
		return true, nil
	case t.Status == repository.TrancheStatusOpen && t.PledgedAmount.IsPositive():
		t.Status = repository.TrancheStatusFunding
	}
	return false, nil
}

// stampClosed records the moment a tranche reached a terminal state.
func stampClosed(t *repository.Tranche, now time.Time) {
	closed := now
	t.ClosedDate = &closed
}
