// Package services holds the use cases the CLI drives: turning a photo
// into a stored record.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/identify"
	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/client/store"
	"github.com/pashudhan/fieldsync/internal/logging"
)

// CaptureInput describes one field capture. Breed, when set, overrides the
// identified breed; the identified confidence is kept.
type CaptureInput struct {
	UserID   string
	Image    []byte
	Location *models.Location
	Breed    string
	At       time.Time
}

type CaptureService interface {
	Capture(ctx context.Context, in CaptureInput) (*models.AnimalRecord, error)
}

type captureService struct {
	identifier identify.Identifier
	store      *store.Store
	now        func() time.Time
	logger     logging.Logger
}

func NewCaptureService(identifier identify.Identifier, s *store.Store, now func() time.Time, logger logging.Logger) CaptureService {
	if now == nil {
		now = time.Now
	}
	return &captureService{identifier: identifier, store: s, now: now, logger: logger.With("module", "capture")}
}

func (s *captureService) Capture(ctx context.Context, in CaptureInput) (*models.AnimalRecord, error) {
	res, err := s.identifier.Identify(ctx, in.Image)
	if err != nil {
		return nil, fmt.Errorf("identify: %w", err)
	}

	c := models.Content{
		BreedName:  res.Breed,
		Confidence: res.Confidence,
		Timestamp:  in.At,
		UserID:     in.UserID,
		Location:   in.Location,
		Features:   res.Features,
	}
	if b := strings.TrimSpace(in.Breed); b != "" {
		c.BreedName = b
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = s.now().UTC()
	}

	h, err := s.store.Put(ctx, c, in.Image)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "animal captured", "record_id", h.ID, "breed", c.BreedName, "confidence", c.Confidence)
	return s.store.Get(ctx, h.ID)
}
