// Package identify defines the breed-identification collaborator used when
// a new record is captured. The model behind it is opaque to the store.
package identify

import (
	"context"
	"errors"

	"golang.org/x/crypto/blake2b"
)

var ErrNoImage = errors.New("empty image")

// Result is what an identification returns for one image.
type Result struct {
	Breed      string
	Confidence float64
	Features   []string
}

type Identifier interface {
	Identify(ctx context.Context, image []byte) (Result, error)
}

// Candidate is one breed a Static identifier can answer with.
type Candidate struct {
	Breed    string
	Features []string
}

// DefaultCandidates are common Indian cattle and buffalo breeds.
var DefaultCandidates = []Candidate{
	{Breed: "Gir", Features: []string{"domed forehead", "long pendulous ears", "red mottled coat"}},
	{Breed: "Sahiwal", Features: []string{"reddish brown coat", "loose skin", "short horns"}},
	{Breed: "Red Sindhi", Features: []string{"deep red coat", "compact body"}},
	{Breed: "Tharparkar", Features: []string{"white grey coat", "lyre shaped horns"}},
	{Breed: "Ongole", Features: []string{"white coat", "large hump", "short horns"}},
	{Breed: "Kankrej", Features: []string{"silver grey coat", "lyre shaped horns", "broad forehead"}},
	{Breed: "Murrah", Features: []string{"jet black coat", "tightly curled horns"}},
	{Breed: "Jaffarabadi", Features: []string{"heavy drooping horns", "massive frame"}},
}

// Static is a deterministic offline Identifier: the same image always maps
// to the same candidate and confidence.
type Static struct {
	Candidates []Candidate
}

func NewStatic() *Static {
	return &Static{Candidates: DefaultCandidates}
}

func (s *Static) Identify(ctx context.Context, image []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(image) == 0 {
		return Result{}, ErrNoImage
	}
	if len(s.Candidates) == 0 {
		return Result{}, errors.New("no candidate breeds configured")
	}

	sum := blake2b.Sum256(image)
	c := s.Candidates[int(sum[0])%len(s.Candidates)]
	// 70.0 to 99.9 in tenths.
	confidence := 70 + float64((int(sum[1])<<8|int(sum[2]))%300)/10

	return Result{
		Breed:      c.Breed,
		Confidence: confidence,
		Features:   append([]string(nil), c.Features...),
	}, nil
}
