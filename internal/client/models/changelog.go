package models

import "time"

// Operation is the kind of mutation a change-log entry records.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeLogEntry is one local mutation awaiting (or past) remote application.
// Sequence is assigned by the store and is strictly increasing.
type ChangeLogEntry struct {
	Sequence       int64
	RecordID       string
	Operation      Operation
	PayloadVersion int64
	Payload        Content
	CreatedAt      time.Time
	AppliedAt      *time.Time
}
