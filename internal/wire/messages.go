package wire

import "time"

// Push outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
)

// Operations carried by a push.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Record is the synchronised subset of an animal record.
type Record struct {
	ID         string    `json:"id"`
	BreedName  string    `json:"breed_name"`
	Confidence float64   `json:"confidence"`
	CapturedAt time.Time `json:"captured_at"`
	UserID     string    `json:"user_id"`
	Location   *Location `json:"location,omitempty"`
	Features   []string  `json:"features,omitempty"`
	ImageRef   string    `json:"image_ref,omitempty"`
}

type PushRequest struct {
	RecordID       string  `json:"record_id"`
	Sequence       int64   `json:"sequence"`
	Operation      string  `json:"operation"`
	BaseVersion    int64   `json:"base_version"`
	PayloadVersion int64   `json:"payload_version"`
	Record         *Record `json:"record,omitempty"`
	Image          []byte  `json:"image,omitempty"`
}

// Snapshot is the server's current view of a record, returned on conflict.
type Snapshot struct {
	RemoteID  string    `json:"remote_id"`
	Version   int64     `json:"version"`
	Deleted   bool      `json:"deleted"`
	Record    Record    `json:"record"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PushResponse struct {
	Outcome       string    `json:"outcome"`
	RemoteID      string    `json:"remote_id,omitempty"`
	RemoteVersion int64     `json:"remote_version,omitempty"`
	Snapshot      *Snapshot `json:"snapshot,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}
