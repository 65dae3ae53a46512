package models

// SyncState is a record's position in the synchronization state machine.
type SyncState string

const (
	SyncPending  SyncState = "pending"
	SyncSyncing  SyncState = "syncing"
	SyncSynced   SyncState = "synced"
	SyncConflict SyncState = "conflict"
	SyncFailed   SyncState = "failed"
)

// AllSyncStates lists every state in lifecycle order.
var AllSyncStates = []SyncState{SyncPending, SyncSyncing, SyncSynced, SyncConflict, SyncFailed}

var transitions = map[SyncState][]SyncState{
	SyncPending:  {SyncSyncing},
	SyncSyncing:  {SyncSynced, SyncConflict, SyncFailed, SyncPending},
	SyncSynced:   {SyncPending},
	SyncFailed:   {SyncPending},
	SyncConflict: {SyncPending, SyncSynced},
}

// Valid reports whether s is a known state.
func (s SyncState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Unsynced reports whether the record still has work outstanding that the
// engine will pick up on its own.
func (s SyncState) Unsynced() bool {
	return s == SyncPending || s == SyncSyncing || s == SyncFailed
}

// CanTransition reports whether from -> to is an edge of the state machine.
// syncing -> pending is the requeue taken when a newer local version exists
// at response time; conflict -> synced is taken when the remote side wins a
// resolution.
func CanTransition(from, to SyncState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UnsyncedStates are the states counted by the unsynced statistic.
var UnsyncedStates = []SyncState{SyncPending, SyncSyncing, SyncFailed}
