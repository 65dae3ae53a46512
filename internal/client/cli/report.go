package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

func (a *App) Stats(ctx context.Context, _ []string) error {
	st, err := a.stats.Statistics(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Animals:    %d\n", st.TotalAnimals)
	fmt.Fprintf(a.out, "Breeds:     %d\n", st.TotalBreeds)
	fmt.Fprintf(a.out, "Unsynced:   %d\n", st.UnsyncedCount)
	fmt.Fprintf(a.out, "Conflicts:  %d\n", st.ConflictCount)
	fmt.Fprintf(a.out, "Failed:     %d\n", st.FailedCount)
	fmt.Fprintf(a.out, "Storage:    %.1f%% of %.1f MiB\n",
		st.StorageUsage.Percentage(), float64(st.StorageUsage.LimitBytes)/(1<<20))
	return nil
}

func (a *App) Status(ctx context.Context, _ []string) error {
	ss, err := a.stats.SyncStatus(ctx)
	if err != nil {
		return err
	}
	mode := "offline"
	if ss.Online {
		mode = "online"
	}
	last := "never"
	if ss.LastSyncAt != nil {
		last = ss.LastSyncAt.Local().Format(time.DateTime)
	}
	fmt.Fprintf(a.out, "Connectivity: %s\n", mode)
	fmt.Fprintf(a.out, "Last sync:    %s\n", last)
	fmt.Fprintf(a.out, "Pending:      %d (%d changes)\n", ss.PendingCount, ss.Backlog)
	fmt.Fprintf(a.out, "Failed:       %d\n", ss.FailedCount)
	fmt.Fprintf(a.out, "Conflicts:    %d\n", ss.Conflicts)
	return nil
}

// Analytics reports the current user's identifications over the last
// args[0] days, 30 by default.
func (a *App) Analytics(ctx context.Context, args []string) error {
	days, err := parseDays(args, 30)
	if err != nil {
		return err
	}
	since := a.now().Add(-time.Duration(days) * 24 * time.Hour)
	an, err := a.stats.Analytics(ctx, a.config.UserID, since)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Identifications in the last %d days: %d (average confidence %.1f%%)\n",
		days, an.Total, an.AverageConfidence)
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, bc := range an.BreedDistribution {
		fmt.Fprintf(tw, "  %s\t%d\n", bc.Breed, bc.Count)
	}
	return tw.Flush()
}

func (a *App) Export(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("export <file>")
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	n, err := a.store.Export(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exported %d records to %s\n", n, args[0])
	return nil
}

func (a *App) Import(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("import <file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := a.store.Import(ctx, f)
	if err != nil {
		if res.Imported > 0 {
			fmt.Fprintf(a.out, "Imported %d records before the failure\n", res.Imported)
		}
		return err
	}
	fmt.Fprintf(a.out, "Imported %d records, skipped %d already present\n", res.Imported, res.Skipped)
	return nil
}

// Clear deletes every record after the user confirms. The deletions are
// synced like any other.
func (a *App) Clear(ctx context.Context, _ []string) error {
	answer, err := GetSimpleText(a.reader, "Delete ALL records on this device and the server? Type yes to confirm", a.out)
	if err != nil {
		return err
	}
	if answer != "yes" {
		fmt.Fprintln(a.out, "Nothing deleted")
		return nil
	}
	n, err := a.store.ClearAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %d records\n", n)
	return nil
}
