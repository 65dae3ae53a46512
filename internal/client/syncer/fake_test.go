package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pashudhan/fieldsync/internal/wire"
)

type receiptKey struct {
	recordID string
	sequence int64
}

type remoteRow struct {
	remoteID string
	version  int64
	deleted  bool
	record   wire.Record
	image    []byte
}

// fakeRemote is an in-memory system of record with the same optimistic
// concurrency and receipt rules as the real server.
type fakeRemote struct {
	mu       sync.Mutex
	rows     map[string]*remoteRow
	receipts map[receiptKey]*wire.PushResponse
	pushes   []*wire.PushRequest
	applied  int

	// before runs ahead of every push; a non-nil error is returned without
	// touching state.
	before func(n int, req *wire.PushRequest) error
	// lose drops the reply of the n-th push after it has been applied.
	lose map[int]bool
	// reject refuses pushes for these record ids.
	reject map[string]string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		rows:     make(map[string]*remoteRow),
		receipts: make(map[receiptKey]*wire.PushResponse),
		lose:     make(map[int]bool),
		reject:   make(map[string]string),
	}
}

func (f *fakeRemote) Push(ctx context.Context, req *wire.PushRequest) (*wire.PushResponse, error) {
	f.mu.Lock()
	n := len(f.pushes)
	f.pushes = append(f.pushes, req)
	before := f.before
	f.mu.Unlock()

	if before != nil {
		if err := before(n, req); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	resp := f.apply(req)
	if f.lose[n] {
		return nil, fmt.Errorf("%w: reply lost", context.DeadlineExceeded)
	}
	return resp, nil
}

func (f *fakeRemote) apply(req *wire.PushRequest) *wire.PushResponse {
	key := receiptKey{req.RecordID, req.Sequence}
	if r, ok := f.receipts[key]; ok {
		return r
	}
	if reason, ok := f.reject[req.RecordID]; ok {
		r := &wire.PushResponse{Outcome: wire.OutcomeRejected, Reason: reason}
		f.receipts[key] = r
		return r
	}

	row := f.rows[req.RecordID]
	current := int64(0)
	if row != nil {
		current = row.version
	}
	if current != req.BaseVersion {
		return &wire.PushResponse{Outcome: wire.OutcomeConflict, Snapshot: f.snapshot(row)}
	}

	if row == nil {
		row = &remoteRow{remoteID: "srv-" + req.RecordID}
		f.rows[req.RecordID] = row
	}
	row.version++
	switch req.Operation {
	case wire.OpDelete:
		row.deleted = true
	default:
		row.deleted = false
		row.record = *req.Record
		if req.Image != nil {
			row.image = req.Image
		}
	}
	f.applied++
	r := &wire.PushResponse{Outcome: wire.OutcomeAccepted, RemoteID: row.remoteID, RemoteVersion: row.version}
	f.receipts[key] = r
	return r
}

func (f *fakeRemote) snapshot(row *remoteRow) *wire.Snapshot {
	if row == nil {
		return nil
	}
	return &wire.Snapshot{
		RemoteID:  row.remoteID,
		Version:   row.version,
		Deleted:   row.deleted,
		Record:    row.record,
		UpdatedAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// edit changes a record on the server as another device would.
func (f *fakeRemote) edit(id, breed string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	row.version++
	row.record.BreedName = breed
}

func (f *fakeRemote) row(id string) remoteRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.rows[id]; r != nil {
		return *r
	}
	return remoteRow{}
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeRemote) sequences(id string) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, p := range f.pushes {
		if p.RecordID == id {
			out = append(out, p.Sequence)
		}
	}
	return out
}

func (f *fakeRemote) Health(context.Context) error { return nil }
func (f *fakeRemote) Close() error                 { return nil }
