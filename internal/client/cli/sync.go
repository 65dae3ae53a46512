package cli

import (
	"context"
	"fmt"

	"github.com/pashudhan/fieldsync/internal/client/syncer"
)

var policies = map[string]syncer.Resolver{
	"local":  syncer.KeepLocal,
	"remote": syncer.KeepRemote,
	"latest": syncer.LastWriteWins,
}

// Sync probes the server and drains the change log once.
func (a *App) Sync(ctx context.Context, _ []string) error {
	if !a.prober.Probe(ctx) {
		fmt.Fprintln(a.out, "Server unreachable; changes stay queued.")
		return nil
	}
	rep, err := a.engine.Drain(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Synced %d, conflicts %d, retrying %d, failed %d\n",
		rep.Synced, rep.Conflicts, rep.Retrying, rep.Failed)
	return nil
}

func (a *App) Resolve(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("resolve <id> <local|remote|latest>")
	}
	policy, ok := policies[args[1]]
	if !ok {
		return usage("resolve <id> <local|remote|latest>")
	}
	rec, err := a.engine.Resolve(ctx, args[0], policy)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Fprintf(a.out, "Resolved %s: removed, deleted on the server\n", args[0])
		return nil
	}
	fmt.Fprintf(a.out, "Resolved %s: %s, %s\n", rec.ID, rec.BreedName, rec.SyncState)
	return nil
}

func (a *App) Retry(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("retry <id>")
	}
	rec, err := a.engine.Retry(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Queued %s again\n", rec.ID)
	return nil
}
