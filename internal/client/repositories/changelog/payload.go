package changelog

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/pashudhan/fieldsync/internal/client/models"
)

func EncodePayload(c models.Content) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func DecodePayload(b []byte) (models.Content, error) {
	var c models.Content
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return c, fmt.Errorf("failed to decompress payload: %w", err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("failed to decode payload: %w", err)
	}
	return c, nil
}
