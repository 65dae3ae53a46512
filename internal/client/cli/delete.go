package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/models"
)

func (a *App) Edit(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("edit <id>")
	}
	rec, err := a.store.Get(ctx, args[0])
	if err != nil {
		return err
	}

	breed, err := GetOptionalText(a.reader, "Breed", rec.BreedName, a.out)
	if err != nil {
		return err
	}
	current := strconv.FormatFloat(rec.Confidence, 'f', -1, 64)
	confText, err := GetOptionalText(a.reader, "Confidence", current, a.out)
	if err != nil {
		return err
	}
	confidence, err := strconv.ParseFloat(strings.TrimSuffix(confText, "%"), 64)
	if err != nil {
		return fmt.Errorf("confidence: %w", err)
	}

	updated, err := a.store.Update(ctx, rec.ID, models.Patch{
		BaseVersion: rec.Version,
		BreedName:   &breed,
		Confidence:  &confidence,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s to version %d, %s\n", updated.ID, updated.Version, updated.SyncState)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("delete <id>")
	}
	if err := a.store.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", args[0])
	return nil
}

// Purge deletes synced records captured more than the given number of days
// ago, defaulting to the configured retention age.
func (a *App) Purge(ctx context.Context, args []string) error {
	days, err := parseDays(args, int(a.config.RetentionAge/(24*time.Hour)))
	if err != nil {
		return err
	}
	n, err := a.store.Purge(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Purged %d synced records older than %d days\n", n, days)
	return nil
}
