package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodec_Registered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)
	assert.Equal(t, "json", c.Name())
}

func TestCodec_PushRequestShape(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	req := &PushRequest{
		RecordID:    "r1",
		Sequence:    7,
		Operation:   OpCreate,
		BaseVersion: 0,
		Record:      &Record{ID: "r1", BreedName: "Gir", Confidence: 92, CapturedAt: at, UserID: "u1"},
	}

	b, err := Codec{}.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"record_id":"r1"`)
	assert.Contains(t, string(b), `"sequence":7`)
	assert.NotContains(t, string(b), `"image"`)

	var back PushRequest
	require.NoError(t, Codec{}.Unmarshal(b, &back))
	assert.Equal(t, "Gir", back.Record.BreedName)
	assert.True(t, at.Equal(back.Record.CapturedAt))
}
