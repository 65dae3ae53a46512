package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/pashudhan/fieldsync/internal/client/services"
)

// Add captures the photo at args[0]. Remaining arguments, when present,
// name the breed and override the identified one.
func (a *App) Add(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("add <image> [breed]")
	}
	image, err := a.readFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	locText, err := GetOptionalText(a.reader, "Location as lat,lon (empty to skip)", "", a.out)
	if err != nil {
		return err
	}
	loc, err := ParseLocation(locText)
	if err != nil {
		return err
	}

	rec, err := a.capture.Capture(ctx, services.CaptureInput{
		UserID:   a.config.UserID,
		Image:    image,
		Location: loc,
		Breed:    strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s: %s (%.1f%%), %s\n", rec.ID, rec.BreedName, rec.Confidence, rec.SyncState)
	return nil
}
