package identify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_Deterministic(t *testing.T) {
	s := NewStatic()
	img := []byte("photo of a cow")

	a, err := s.Identify(context.Background(), img)
	require.NoError(t, err)
	b, err := s.Identify(context.Background(), img)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.Breed)
	assert.NotEmpty(t, a.Features)
	assert.GreaterOrEqual(t, a.Confidence, 70.0)
	assert.Less(t, a.Confidence, 100.0)
}

func TestStatic_SingleCandidate(t *testing.T) {
	s := &Static{Candidates: []Candidate{{Breed: "Murrah", Features: []string{"black coat"}}}}
	r, err := s.Identify(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "Murrah", r.Breed)
	assert.Equal(t, []string{"black coat"}, r.Features)

	r.Features[0] = "changed"
	assert.Equal(t, "black coat", s.Candidates[0].Features[0])
}

func TestStatic_Errors(t *testing.T) {
	_, err := NewStatic().Identify(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoImage)

	_, err = (&Static{}).Identify(context.Background(), []byte("x"))
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewStatic().Identify(ctx, []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}
