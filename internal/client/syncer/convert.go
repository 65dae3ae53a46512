package syncer

import (
	"github.com/pashudhan/fieldsync/internal/client/models"
	"github.com/pashudhan/fieldsync/internal/wire"
)

func toWireRecord(id string, c models.Content) *wire.Record {
	r := &wire.Record{
		ID:         id,
		BreedName:  c.BreedName,
		Confidence: c.Confidence,
		CapturedAt: c.Timestamp,
		UserID:     c.UserID,
		Features:   c.Features,
		ImageRef:   c.ImageRef,
	}
	if c.Location != nil {
		r.Location = &wire.Location{Latitude: c.Location.Latitude, Longitude: c.Location.Longitude}
	}
	return r
}

func fromWireRecord(r wire.Record) models.Content {
	c := models.Content{
		BreedName:  r.BreedName,
		Confidence: r.Confidence,
		Timestamp:  r.CapturedAt,
		UserID:     r.UserID,
		Features:   r.Features,
		ImageRef:   r.ImageRef,
	}
	if r.Location != nil {
		c.Location = &models.Location{Latitude: r.Location.Latitude, Longitude: r.Location.Longitude}
	}
	return c
}

func fromWireSnapshot(s *wire.Snapshot) models.RemoteSnapshot {
	if s == nil {
		return models.RemoteSnapshot{}
	}
	return models.RemoteSnapshot{
		RemoteID:  s.RemoteID,
		Version:   s.Version,
		Deleted:   s.Deleted,
		Content:   fromWireRecord(s.Record),
		UpdatedAt: s.UpdatedAt,
	}
}
