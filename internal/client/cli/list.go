package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pashudhan/fieldsync/internal/client/models"
)

const listLimit = 50

// List prints the newest records, optionally only those in one sync state.
func (a *App) List(ctx context.Context, args []string) error {
	var f models.Filter
	if len(args) > 0 {
		s := models.SyncState(args[0])
		if !s.Valid() {
			return usage("list [pending|syncing|synced|conflict|failed]")
		}
		f.States = []models.SyncState{s}
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBREED\tCONFIDENCE\tCAPTURED\tSTATE")
	n := 0
	for rec, err := range a.store.List(ctx, f, models.Page{Limit: listLimit}) {
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%s\n",
			rec.ID, rec.BreedName, rec.Confidence, rec.Timestamp.Local().Format(time.DateTime), rec.SyncState)
		n++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(a.out, "No records.")
	}
	return nil
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("show <id>")
	}
	rec, err := a.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	printRecord(a.out, rec)

	if rec.SyncState == models.SyncConflict {
		c, err := a.store.Conflict(ctx, rec.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Server copy (version %d):\n", c.Remote.Version)
		if c.Remote.Deleted {
			fmt.Fprintln(a.out, "  deleted on the server")
		} else {
			printContent(a.out, "  ", c.Remote.Content)
		}
	}
	return nil
}

func (a *App) Conflicts(ctx context.Context, _ []string) error {
	cs, err := a.store.Conflicts(ctx)
	if err != nil {
		return err
	}
	if len(cs) == 0 {
		fmt.Fprintln(a.out, "No conflicts.")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOCAL\tSERVER\tSERVER VERSION")
	for _, c := range cs {
		remote := c.Remote.Content.BreedName
		if c.Remote.Deleted {
			remote = "(deleted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.Local.ID, c.Local.BreedName, remote, c.Remote.Version)
	}
	return tw.Flush()
}

func printRecord(w io.Writer, rec *models.AnimalRecord) {
	fmt.Fprintf(w, "ID:          %s\n", rec.ID)
	printContent(w, "", rec.Content)
	fmt.Fprintf(w, "Sync state:  %s\n", rec.SyncState)
	fmt.Fprintf(w, "Version:     %d (server %d)\n", rec.Version, rec.RemoteVersion)
	if rec.RemoteID != "" {
		fmt.Fprintf(w, "Remote id:   %s\n", rec.RemoteID)
	}
	if rec.LastError != "" {
		fmt.Fprintf(w, "Last error:  %s (attempt %d)\n", rec.LastError, rec.Attempts)
	}
	if rec.NextAttemptAt != nil {
		fmt.Fprintf(w, "Next retry:  %s\n", rec.NextAttemptAt.Local().Format(time.DateTime))
	}
}

func printContent(w io.Writer, indent string, c models.Content) {
	fmt.Fprintf(w, "%sBreed:       %s\n", indent, c.BreedName)
	fmt.Fprintf(w, "%sConfidence:  %.1f%%\n", indent, c.Confidence)
	fmt.Fprintf(w, "%sCaptured:    %s\n", indent, c.Timestamp.Local().Format(time.DateTime))
	fmt.Fprintf(w, "%sUser:        %s\n", indent, c.UserID)
	if c.Location != nil {
		fmt.Fprintf(w, "%sLocation:    %.5f, %.5f\n", indent, c.Location.Latitude, c.Location.Longitude)
	}
	if len(c.Features) > 0 {
		fmt.Fprintf(w, "%sFeatures:    %s\n", indent, strings.Join(c.Features, ", "))
	}
}
