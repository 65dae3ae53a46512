// Package cli provides the interactive field client.
//
// It wires configuration, the offline record store, the sync engine and a
// connectivity watcher behind a line-oriented REPL. Every command works
// offline; captures are synchronised in the background whenever the
// server is reachable.
//
// Commands:
//   - add <image> [breed]      capture a photo, identify it and store it
//   - list [state]             list records, newest first
//   - show <id>                show one record
//   - edit <id>                edit breed and confidence
//   - delete <id>              delete a record
//   - stats, status            dashboard counters and sync status
//   - analytics [days]         identifications per breed
//   - sync                     push pending changes now
//   - conflicts                list parked conflicts
//   - resolve <id> <policy>    settle a conflict (local, remote, latest)
//   - retry <id>               re-queue a failed record
//   - purge [days]             delete synced records older than the cutoff
//   - export <file>            write every record to a JSON file
//   - import <file>            read records back from an export
//   - clear                    delete every record, after confirmation
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
