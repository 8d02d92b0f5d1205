package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allStatuses = []SyncStatus{SyncStatusPending, SyncStatusSyncing, SyncStatusSynced, SyncStatusFailed}

// Property: synced is terminal and every allowed move goes through syncing
func TestSyncStatusStateMachineProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	statusGen := gen.IntRange(0, len(allStatuses)-1).Map(func(i int) SyncStatus {
		return allStatuses[i]
	})

	properties.Property("synced has no outgoing transitions", prop.ForAll(
		func(next SyncStatus) bool {
			return !SyncStatusSynced.CanTransitionTo(next)
		},
		statusGen,
	))

	properties.Property("allowed transitions enter or leave syncing", prop.ForAll(
		func(from, to SyncStatus) bool {
			if !from.CanTransitionTo(to) {
				return true
			}
			return from == SyncStatusSyncing || to == SyncStatusSyncing
		},
		statusGen,
		statusGen,
	))

	properties.TestingRun(t)
}
