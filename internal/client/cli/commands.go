package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
)

func (a *App) List(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return usage("list [bucket]")
	}
	if len(args) == 0 {
		keys, err := a.sync.Buckets(ctx)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			printlnFn("(empty)")
			return nil
		}
		for _, k := range keys {
			printlnFn(k)
		}
		return nil
	}
	recs, err := a.sync.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		printlnFn("(empty)")
		return nil
	}
	for _, rec := range recs {
		printlnFn(fmt.Sprintf("%s  v%d  %-8s  %s", rec.UUID(), rec.Version(), rec.Meta.SyncStatus, summarize(rec.Fields)))
	}
	return nil
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("show <bucket> <uuid>")
	}
	rec, err := a.sync.GetRecord(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func (a *App) Add(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("add <bucket> name=value...")
	}
	fields, err := ParseFields(args[1:])
	if err != nil {
		return err
	}
	res, err := a.sync.Set(ctx, args[0], models.NewRecord(fields))
	if err != nil {
		return err
	}
	printlnFn("created", res.Records[0].UUID())
	return nil
}

func (a *App) Edit(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return usage("edit <bucket> <uuid> name=value...")
	}
	fields, err := ParseFields(args[2:])
	if err != nil {
		return err
	}
	rec, err := a.sync.GetRecord(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	for k, v := range fields {
		rec.Set(k, v)
	}
	res, err := a.sync.Set(ctx, args[0], rec)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("updated %s to v%d", rec.UUID(), res.Records[0].Version()))
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("delete <bucket> [uuid...]")
	}
	if len(args) == 1 {
		answer, err := GetSimpleText(a.reader, fmt.Sprintf("Delete every record in %q? (yes/no)", args[0]), os.Stdout)
		if err != nil {
			return err
		}
		if answer != "yes" {
			printlnFn("cancelled")
			return nil
		}
	}
	res, err := a.sync.Remove(ctx, args[0], args[1:]...)
	if err != nil {
		return err
	}
	printlnFn("deleted", len(res.Records), "record(s)")
	return nil
}

func (a *App) SetValue(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("set <key> <json>")
	}
	raw := json.RawMessage(strings.Join(args[1:], " "))
	if !json.Valid(raw) {
		return fmt.Errorf("value for %s is not valid JSON", args[0])
	}
	if _, err := a.sync.SetValue(ctx, args[0], raw); err != nil {
		return err
	}
	printlnFn("stored", args[0])
	return nil
}

func (a *App) Value(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("value <key>")
	}
	var v json.RawMessage
	found, err := a.sync.GetValue(ctx, args[0], &v)
	if err != nil {
		return err
	}
	if !found {
		printlnFn("(not set)")
		return nil
	}
	printlnFn(string(v))
	return nil
}

func (a *App) Sync(ctx context.Context, _ []string) error {
	err := a.sync.SyncNow(ctx)
	a.modeFromError(err)
	if err != nil {
		return err
	}
	return a.Status(ctx, nil)
}

func (a *App) Status(ctx context.Context, _ []string) error {
	st, err := a.sync.Stats(ctx)
	if err != nil {
		return err
	}
	printlnFn("device:     ", st.DeviceID)
	printlnFn("mode:       ", a.getMode())
	printlnFn("queued:     ", st.QueueLength)
	printlnFn("failed:     ", st.FailedLength)
	printlnFn("conflicts:  ", st.UnresolvedConflicts)
	printlnFn("delivered:  ", st.Delivered)
	printlnFn("retries:    ", st.Retries)
	if !st.LastSyncAt.IsZero() {
		printlnFn("last pull:  ", st.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
	}
	if st.LastError != "" {
		printlnFn("last error: ", st.LastError)
	}
	if st.WeakIDs {
		printlnFn("warning: ids are generated without a secure random source")
	}
	return nil
}

func (a *App) Failed(ctx context.Context, _ []string) error {
	failed, err := a.sync.FailedEntries(ctx)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		printlnFn("(none)")
		return nil
	}
	for _, f := range failed {
		printlnFn(fmt.Sprintf("%s  %s %s/%s  attempts=%d  %s", f.ID, f.Operation, f.Key, f.UUID, f.Attempts, f.Reason))
	}
	return nil
}

func (a *App) Retry(ctx context.Context, args []string) error {
	n, err := a.sync.RetryFailed(ctx, args...)
	if err != nil {
		return err
	}
	printlnFn("requeued", n, "entry(ies)")
	return nil
}

func (a *App) ClearFailed(ctx context.Context, _ []string) error {
	n, err := a.sync.ClearFailed(ctx)
	if err != nil {
		return err
	}
	printlnFn("dropped", n, "entry(ies)")
	return nil
}

func (a *App) Conflicts(ctx context.Context, _ []string) error {
	pending, err := a.conflicts.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		printlnFn("(none)")
		return nil
	}
	for _, c := range pending {
		printlnFn(fmt.Sprintf("%s  %s/%s  %s", c.ID, c.Key, c.UUID, c.Reason))
		printlnFn("  local: ", summarize(c.Local.Fields))
		printlnFn("  remote:", summarize(c.Remote.Fields))
	}
	return nil
}

func (a *App) Resolve(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("resolve <id> local|remote")
	}
	rec, err := a.conflicts.Resolve(ctx, args[0], models.ConflictChoice(args[1]))
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("kept %s copy of %s as v%d", args[1], rec.UUID(), rec.Version()))
	return nil
}

func (a *App) Verify(ctx context.Context, _ []string) error {
	m := a.sync.Migrator()
	if m == nil {
		return fmt.Errorf("migration not available before init")
	}
	report, err := m.VerifyMigration(ctx)
	if err != nil {
		return err
	}
	printlnFn("valid:  ", report.Valid)
	printlnFn("records:", report.Records)
	for _, issue := range report.Issues {
		printlnFn("  -", issue)
	}
	return nil
}

// summarize renders fields as sorted name=value pairs.
func summarize(fields map[string]any) string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	printlnFn(string(b))
	return nil
}
