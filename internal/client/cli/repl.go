package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface defines the command surface the REPL dispatches to. The real
// App type satisfies it; tests can provide a lightweight stub.
type execIface interface {
	Add(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Stats(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Analytics(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Conflicts(ctx context.Context, args []string) error
	Resolve(ctx context.Context, args []string) error
	Retry(ctx context.Context, args []string) error
	Purge(ctx context.Context, args []string) error
	Export(ctx context.Context, args []string) error
	Import(ctx context.Context, args []string) error
	Clear(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  add <image> [breed]      capture and identify a photo
  (l)ist [state]           list records
  show <id>                show a record
  edit <id>                edit a record
  delete <id>              delete a record
  stats                    dashboard counters
  status                   sync status
  analytics [days]         identifications per breed
  sync                     push pending changes now
  conflicts                list conflicts
  resolve <id> <policy>    local, remote or latest
  retry <id>               retry a failed record
  purge [days]             delete old synced records
  export <file>            export records as JSON
  import <file>            import records from an export
  clear                    delete every record
  exit | quit              leave the program`

// runREPL reads commands from scanner until EOF, exit or quit, or until ctx
// is done. Errors from command handlers are printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, promptFn func() string, scanner *bufio.Scanner, out io.Writer) {
	commands := map[string]func(context.Context, []string) error{
		"add":       a.Add,
		"l":         a.List,
		"list":      a.List,
		"show":      a.Show,
		"edit":      a.Edit,
		"delete":    a.Delete,
		"stats":     a.Stats,
		"status":    a.Status,
		"analytics": a.Analytics,
		"sync":      a.Sync,
		"conflicts": a.Conflicts,
		"resolve":   a.Resolve,
		"retry":     a.Retry,
		"purge":     a.Purge,
		"export":    a.Export,
		"import":    a.Import,
		"clear":     a.Clear,
	}

	for ctx.Err() == nil {
		fmt.Fprint(out, promptFn())
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			fmt.Fprintln(out, helpText)
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		}

		run, ok := commands[cmd]
		if !ok {
			fmt.Fprintln(out, "Unknown command:", cmd)
			continue
		}
		if err := run(ctx, args); err != nil {
			fmt.Fprintln(out, "Error:", err)
		}
	}
}
