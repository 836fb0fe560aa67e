package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// errUsage marks a command invoked with the wrong arguments.
var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Add(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	SetValue(ctx context.Context, args []string) error
	Value(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Failed(ctx context.Context, args []string) error
	Retry(ctx context.Context, args []string) error
	ClearFailed(ctx context.Context, args []string) error
	Conflicts(ctx context.Context, args []string) error
	Resolve(ctx context.Context, args []string) error
	Verify(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  list [bucket]                      buckets, or live records of a bucket
  show <bucket> <uuid>               one record with its metadata
  add <bucket> name=value...         create a record
  edit <bucket> <uuid> name=value... change fields of a record
  delete <bucket> [uuid...]          tombstone records (all when no uuid)
  set <key> <json>                   store a plain JSON document
  value <key>                        print a plain JSON document
  sync                               push the queue and pull now
  status                             queue, conflict and delivery counters
  failed                             entries that exhausted their retries
  retry [id...]                      requeue failed entries
  clearfailed                        drop all failed entries
  conflicts                          conflicts waiting for a decision
  resolve <id> local|remote          settle a conflict
  verify                             check the legacy migration
  exit | quit                        leave the program`

// runREPL starts a simple read-eval-print loop.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF, on ctx cancellation or
// when the user types "exit" or "quit".
//
// Errors returned by command handlers are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("cs %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn(helpText)
		case "l", "list":
			err = a.List(ctx, args)
		case "show":
			err = a.Show(ctx, args)
		case "add":
			err = a.Add(ctx, args)
		case "edit":
			err = a.Edit(ctx, args)
		case "delete", "rm":
			err = a.Delete(ctx, args)
		case "set":
			err = a.SetValue(ctx, args)
		case "value":
			err = a.Value(ctx, args)
		case "sync":
			err = a.Sync(ctx, args)
		case "status":
			err = a.Status(ctx, args)
		case "failed":
			err = a.Failed(ctx, args)
		case "retry":
			err = a.Retry(ctx, args)
		case "clearfailed":
			err = a.ClearFailed(ctx, args)
		case "conflicts":
			err = a.Conflicts(ctx, args)
		case "resolve":
			err = a.Resolve(ctx, args)
		case "verify":
			err = a.Verify(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if errors.Is(err, errUsage) {
			printlnFn("Usage:", strings.TrimPrefix(err.Error(), errUsage.Error()+": "))
		} else if err != nil {
			printlnFn("error:", err)
		}
	}
}
