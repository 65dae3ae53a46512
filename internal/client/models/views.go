package models

import "time"

// QuotaState is the storage ceiling and the bytes charged against it.
type QuotaState struct {
	UsedBytes  int64 `json:"used_bytes"`
	LimitBytes int64 `json:"limit_bytes"`
}

// Percentage is UsedBytes/LimitBytes*100 clamped to [0, 100].
func (q QuotaState) Percentage() float64 {
	if q.LimitBytes <= 0 {
		return 100
	}
	p := float64(q.UsedBytes) / float64(q.LimitBytes) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// RemoteSnapshot is the system of record's copy of a record as reported
// with a conflict.
type RemoteSnapshot struct {
	RemoteID  string    `json:"remote_id"`
	Version   int64     `json:"version"`
	Deleted   bool      `json:"deleted"`
	Content   Content   `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conflict pairs the local record with the diverged remote copy.
type Conflict struct {
	Local  AnimalRecord
	Remote RemoteSnapshot
}

// Statistics feeds the dashboard counters.
type Statistics struct {
	TotalAnimals  int
	TotalBreeds   int
	UnsyncedCount int
	ConflictCount int
	FailedCount   int
	StorageUsage  QuotaState
}

type BreedCount struct {
	Breed string
	Count int
}

// Analytics summarises a user's identifications since a point in time.
type Analytics struct {
	UserID            string
	Since             time.Time
	Total             int
	AverageConfidence float64
	BreedDistribution []BreedCount
}

// SyncStatus is the sync summary shown next to the connectivity badge.
type SyncStatus struct {
	Online       bool
	LastSyncAt   *time.Time
	PendingCount int
	FailedCount  int
	Conflicts    int
	Backlog      int
}
