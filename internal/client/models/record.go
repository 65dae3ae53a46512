// Package models defines the client-side data model of the offline record
// store: animal records, image blobs, change-log entries and the derived
// views built on top of them.
package models

import (
	"math"
	"strings"
	"time"

	"github.com/pashudhan/fieldsync/internal/common"
)

// Timestamps are stored as Unix nanoseconds.
var (
	minTimestamp = time.Unix(0, math.MinInt64).UTC()
	maxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// Location is an optional capture position.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Content is the user-owned part of a record. It is what gets snapshotted
// into the change log and pushed to the system of record.
type Content struct {
	BreedName  string    `json:"breed_name"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id"`
	Location   *Location `json:"location,omitempty"`
	Features   []string  `json:"features,omitempty"`
	ImageRef   string    `json:"image_ref,omitempty"`
}

// Validate checks the fields a record cannot be stored without.
func (c Content) Validate() error {
	if strings.TrimSpace(c.BreedName) == "" {
		return common.ValidationError("breedName", "is required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return common.ValidationError("userId", "is required")
	}
	if c.Timestamp.IsZero() {
		return common.ValidationError("timestamp", "is required")
	}
	if c.Timestamp.Before(minTimestamp) || c.Timestamp.After(maxTimestamp) {
		return common.ValidationError("timestamp", "is out of range")
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 100 {
		return common.ValidationError("confidence", "must be within [0, 100]")
	}
	if l := c.Location; l != nil {
		if !(l.Latitude >= -90 && l.Latitude <= 90) || !(l.Longitude >= -180 && l.Longitude <= 180) {
			return common.ValidationError("location", "is out of range")
		}
	}
	return nil
}

// AnimalRecord is a single breed-identification entry.
//
// RemoteID is empty until the system of record has assigned one. Version is
// bumped on every local mutation; RemoteVersion is the server version the
// last accepted push produced and is sent back as the optimistic base.
type AnimalRecord struct {
	ID string `json:"id"`
	Content

	SyncState     SyncState  `json:"sync_state"`
	RemoteID      string     `json:"remote_id,omitempty"`
	Version       int64      `json:"version"`
	RemoteVersion int64      `json:"remote_version"`
	Attempts      int        `json:"attempts,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	SizeBytes     int64      `json:"size_bytes"`
	Deleted       bool       `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RecordHandle is returned by Put.
type RecordHandle struct {
	ID       string
	ImageRef string
	Version  int64
}

// Patch describes a local edit. Nil fields are left untouched. BaseVersion
// must equal the record's current version.
type Patch struct {
	BaseVersion   int64
	BreedName     *string
	Confidence    *float64
	Timestamp     *time.Time
	Location      *Location
	ClearLocation bool
	Features      []string
}

// Apply returns c with the patch applied.
func (p Patch) Apply(c Content) Content {
	if p.BreedName != nil {
		c.BreedName = *p.BreedName
	}
	if p.Confidence != nil {
		c.Confidence = *p.Confidence
	}
	if p.Timestamp != nil {
		c.Timestamp = *p.Timestamp
	}
	if p.ClearLocation {
		c.Location = nil
	} else if p.Location != nil {
		loc := *p.Location
		c.Location = &loc
	}
	if p.Features != nil {
		c.Features = append([]string(nil), p.Features...)
	}
	return c
}

// Filter restricts List. Zero values match everything.
type Filter struct {
	States    []SyncState
	BreedName string
	UserID    string
	From      time.Time
	To        time.Time
	Ascending bool
}

// Page bounds a listing. Limit 0 means no limit.
type Page struct {
	Offset int
	Limit  int
}
