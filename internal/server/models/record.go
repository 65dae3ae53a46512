// Package models defines the server-side persistence models for synced
// animal records and push receipts.
package models

import "time"

type Location struct {
	Latitude  float64
	Longitude float64
}

// Record is the canonical copy of an animal record. ID is the id assigned
// on the device; RemoteID is issued by the server on first acceptance.
type Record struct {
	ID         string
	RemoteID   string
	UserID     string
	BreedName  string
	Confidence float64
	CapturedAt time.Time
	Location   *Location
	Features   []string
	ImageRef   string
	ImageKey   string
	Version    int64
	Deleted    bool
	UpdatedAt  time.Time
}

// Receipt remembers the outcome of a push so that a replayed
// (record id, sequence) pair gets the same answer without being applied twice.
type Receipt struct {
	RecordID      string
	Sequence      int64
	UserID        string
	Outcome       string
	RemoteID      string
	RemoteVersion int64
	Reason        string
	CreatedAt     time.Time
}
