// Package services contains the server-side business logic of the system
// of record.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pashudhan/fieldsync/internal/common"
	"github.com/pashudhan/fieldsync/internal/logging"
	"github.com/pashudhan/fieldsync/internal/server/blobstore"
	"github.com/pashudhan/fieldsync/internal/server/models"
	"github.com/pashudhan/fieldsync/internal/server/repositories/repomanager"
	"github.com/pashudhan/fieldsync/internal/wire"
)

const reasonForeignRecord = "record belongs to another user"

// RecordService applies pushed changes to the canonical record set.
//
// A push is applied at most once per (record id, sequence): the outcome of
// every accepted or rejected push is stored as a receipt and replayed on
// retry. Conflicts are not stored, so a retried push is checked again
// against the current version.
type RecordService struct {
	repos  repomanager.Manager
	blobs  blobstore.Store
	now    func() time.Time
	logger logging.Logger
}

func NewRecordService(repos repomanager.Manager, blobs blobstore.Store, now func() time.Time, logger logging.Logger) *RecordService {
	if now == nil {
		now = time.Now
	}
	return &RecordService{
		repos:  repos,
		blobs:  blobs,
		now:    now,
		logger: logger.With("module", "record_service"),
	}
}

// Push applies req on behalf of userID. Malformed requests and records owned
// by someone else are answered with a rejected outcome; storage failures
// are returned as errors so the client retries.
func (s *RecordService) Push(ctx context.Context, userID string, req *wire.PushRequest) (*wire.PushResponse, error) {
	if userID == "" {
		return nil, common.ErrorUnauthorized
	}
	if reason := validate(req); reason != "" {
		s.logger.Warn(ctx, "push rejected", "user_id", userID, "reason", reason)
		return &wire.PushResponse{Outcome: wire.OutcomeRejected, Reason: reason}, nil
	}

	var resp *wire.PushResponse
	err := s.repos.InTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		var err error
		resp, err = s.apply(ctx, r, userID, req)
		return err
	})
	if err != nil {
		s.logger.Error(ctx, "push failed", "record_id", req.RecordID, "sequence", req.Sequence, "error", err)
		return nil, err
	}

	s.logger.Debug(ctx, "push handled",
		"record_id", req.RecordID, "sequence", req.Sequence, "operation", req.Operation, "outcome", resp.Outcome)
	return resp, nil
}

func (s *RecordService) apply(ctx context.Context, r repomanager.Repos, userID string, req *wire.PushRequest) (*wire.PushResponse, error) {
	rc, err := r.Receipts.Get(ctx, req.RecordID, req.Sequence)
	switch {
	case err == nil:
		if rc.UserID != userID {
			return &wire.PushResponse{Outcome: wire.OutcomeRejected, Reason: reasonForeignRecord}, nil
		}
		return fromReceipt(rc), nil
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	cur, err := r.Records.Get(ctx, req.RecordID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		cur = nil
	case err != nil:
		return nil, err
	}

	if cur != nil && cur.UserID != userID {
		resp := &wire.PushResponse{Outcome: wire.OutcomeRejected, Reason: reasonForeignRecord}
		return resp, r.Receipts.Create(ctx, s.receipt(req, userID, resp))
	}

	var current int64
	if cur != nil {
		current = cur.Version
	}
	if current != req.BaseVersion {
		return s.settle(ctx, r, userID, req, cur)
	}

	next := s.next(cur, userID, req)
	if len(req.Image) > 0 && req.Operation != wire.OpDelete {
		key := imageKey(userID, next.RemoteID, req.Sequence)
		if err := s.blobs.Put(ctx, key, req.Image, http.DetectContentType(req.Image)); err != nil {
			return nil, fmt.Errorf("store image: %w", err)
		}
		next.ImageKey = key
	}

	if cur == nil {
		err = r.Records.Create(ctx, next)
	} else {
		err = r.Records.Update(ctx, next, req.BaseVersion)
	}
	if errors.Is(err, common.ErrVersionConflict) {
		return s.raced(ctx, r, userID, req)
	}
	if err != nil {
		return nil, err
	}

	resp := &wire.PushResponse{Outcome: wire.OutcomeAccepted, RemoteID: next.RemoteID, RemoteVersion: next.Version}
	if err := r.Receipts.Create(ctx, s.receipt(req, userID, resp)); err != nil {
		return nil, err
	}
	return resp, nil
}

// raced answers a push whose write lost to a concurrent one.
func (s *RecordService) raced(ctx context.Context, r repomanager.Repos, userID string, req *wire.PushRequest) (*wire.PushResponse, error) {
	cur, err := r.Records.Get(ctx, req.RecordID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	return s.settle(ctx, r, userID, req, cur)
}

// settle answers a push whose base version no longer matches cur. The row
// lock may have been waiting on a transaction applying this very sequence,
// so its receipt is read again and replayed; anything else is a conflict.
func (s *RecordService) settle(ctx context.Context, r repomanager.Repos, userID string, req *wire.PushRequest, cur *models.Record) (*wire.PushResponse, error) {
	rc, err := r.Receipts.Get(ctx, req.RecordID, req.Sequence)
	if err == nil && rc.UserID == userID {
		return fromReceipt(rc), nil
	}
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	return conflict(cur, req.BaseVersion), nil
}

func (s *RecordService) next(cur *models.Record, userID string, req *wire.PushRequest) *models.Record {
	var rec models.Record
	if cur != nil {
		rec = *cur
	} else {
		rec = models.Record{ID: req.RecordID, RemoteID: uuid.NewString(), UserID: userID}
	}
	rec.Version = req.BaseVersion + 1
	rec.UpdatedAt = s.now().UTC()

	switch req.Operation {
	case wire.OpDelete:
		rec.Deleted = true
		if cur == nil && req.Record != nil {
			setContent(&rec, req.Record)
		}
	default:
		rec.Deleted = false
		setContent(&rec, req.Record)
	}
	return &rec
}

func (s *RecordService) receipt(req *wire.PushRequest, userID string, resp *wire.PushResponse) *models.Receipt {
	return &models.Receipt{
		RecordID:      req.RecordID,
		Sequence:      req.Sequence,
		UserID:        userID,
		Outcome:       resp.Outcome,
		RemoteID:      resp.RemoteID,
		RemoteVersion: resp.RemoteVersion,
		Reason:        resp.Reason,
		CreatedAt:     s.now().UTC(),
	}
}

func validate(req *wire.PushRequest) string {
	switch {
	case req == nil:
		return "empty request"
	case req.RecordID == "":
		return "record id is required"
	case req.Sequence <= 0:
		return "sequence must be positive"
	case req.BaseVersion < 0:
		return "base version must not be negative"
	}

	switch req.Operation {
	case wire.OpCreate, wire.OpUpdate:
		if req.Record == nil {
			return "record payload is required"
		}
	case wire.OpDelete:
	default:
		return fmt.Sprintf("unknown operation %q", req.Operation)
	}

	if rec := req.Record; rec != nil {
		if rec.ID != "" && rec.ID != req.RecordID {
			return "payload id does not match record id"
		}
		if rec.Confidence < 0 || rec.Confidence > 100 {
			return "confidence out of range"
		}
	}
	return ""
}

func setContent(rec *models.Record, w *wire.Record) {
	rec.BreedName = w.BreedName
	rec.Confidence = w.Confidence
	rec.CapturedAt = w.CapturedAt.UTC()
	rec.Features = w.Features
	rec.ImageRef = w.ImageRef
	rec.Location = nil
	if w.Location != nil {
		rec.Location = &models.Location{Latitude: w.Location.Latitude, Longitude: w.Location.Longitude}
	}
}

func conflict(cur *models.Record, base int64) *wire.PushResponse {
	resp := &wire.PushResponse{Outcome: wire.OutcomeConflict}
	if cur == nil {
		resp.Reason = fmt.Sprintf("base version %d, record unknown", base)
		return resp
	}
	resp.Reason = fmt.Sprintf("base version %d, current %d", base, cur.Version)
	resp.Snapshot = snapshot(cur)
	return resp
}

func snapshot(rec *models.Record) *wire.Snapshot {
	w := wire.Record{
		ID:         rec.ID,
		BreedName:  rec.BreedName,
		Confidence: rec.Confidence,
		CapturedAt: rec.CapturedAt,
		UserID:     rec.UserID,
		Features:   rec.Features,
		ImageRef:   rec.ImageRef,
	}
	if rec.Location != nil {
		w.Location = &wire.Location{Latitude: rec.Location.Latitude, Longitude: rec.Location.Longitude}
	}
	return &wire.Snapshot{
		RemoteID:  rec.RemoteID,
		Version:   rec.Version,
		Deleted:   rec.Deleted,
		Record:    w,
		UpdatedAt: rec.UpdatedAt,
	}
}

func fromReceipt(rc *models.Receipt) *wire.PushResponse {
	return &wire.PushResponse{
		Outcome:       rc.Outcome,
		RemoteID:      rc.RemoteID,
		RemoteVersion: rc.RemoteVersion,
		Reason:        rc.Reason,
	}
}

func imageKey(userID, remoteID string, sequence int64) string {
	return fmt.Sprintf("users/%s/%s/%d", userID, remoteID, sequence)
}
