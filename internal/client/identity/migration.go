package identity

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/documents"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/cleansync/internal/client/repositories/records"
	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/dbx"
	"github.com/dmitrijs2005/cleansync/internal/logging"
)

// DefaultBuckets are the collections imported from legacy storage.
var DefaultBuckets = []string{"quotes", "invoices", "clients", "contracts"}

// BucketReport describes the migration of one bucket.
type BucketReport struct {
	Bucket   string   `json:"bucket"`
	Records  int      `json:"records"`
	Repaired int      `json:"repaired"`
	Issues   []string `json:"issues,omitempty"`
	Failed   bool     `json:"failed"`
	Error    string   `json:"error,omitempty"`
}

// MigrationReport is the outcome of RunMigration.
type MigrationReport struct {
	// Skipped is set when the migration had already completed.
	Skipped bool            `json:"skipped"`
	Buckets []*BucketReport `json:"buckets"`
	Total   int             `json:"total"`
	Failed  int             `json:"failed"`
}

// VerificationReport is the outcome of VerifyMigration.
type VerificationReport struct {
	Valid     bool           `json:"valid"`
	Records   int            `json:"records"`
	PerBucket map[string]int `json:"perBucket"`
	Issues    []string       `json:"issues"`
}

// Migrator converts legacy documents (whole JSON arrays of untagged records
// stored per bucket) into stamped rows of the record store.
type Migrator struct {
	db         *sql.DB
	stamper    *Stamper
	validators *Validators
	ids        *IDGenerator
	buckets    []string
	logger     logging.Logger
	now        func() time.Time
}

func NewMigrator(db *sql.DB, stamper *Stamper, validators *Validators, ids *IDGenerator,
	buckets []string, logger logging.Logger, now func() time.Time) *Migrator {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if now == nil {
		now = time.Now
	}
	return &Migrator{
		db:         db,
		stamper:    stamper,
		validators: validators,
		ids:        ids,
		buckets:    buckets,
		logger:     logger,
		now:        now,
	}
}

// RunMigration performs the one-time pass. It is a no-op once the completion
// flag is set. A bucket that cannot be parsed or stored is reported as failed
// and keeps its legacy document; the other buckets still migrate. Only a
// failure to read or write the completion flag is returned as an error.
func (m *Migrator) RunMigration(ctx context.Context) (*MigrationReport, error) {
	meta := metadata.NewSQLiteRepository(m.db)

	done, err := metadata.GetBool(ctx, meta, metadata.KeyMigrationComplete)
	if err != nil {
		return nil, fmt.Errorf("read migration flag: %w", err)
	}
	if done {
		return &MigrationReport{Skipped: true, Buckets: []*BucketReport{}}, nil
	}

	report := &MigrationReport{Buckets: make([]*BucketReport, 0, len(m.buckets))}
	for _, bucket := range m.buckets {
		br := &BucketReport{Bucket: bucket}
		err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return m.migrateBucket(ctx, tx, br)
		})
		if err != nil {
			br.Failed = true
			br.Error = err.Error()
			br.Records, br.Repaired = 0, 0
			report.Failed++
			m.logger.Error(ctx, "bucket migration failed", "bucket", bucket, "error", err)
		} else if br.Records > 0 {
			m.logger.Info(ctx, "bucket migrated", "bucket", bucket, "records", br.Records, "repaired", br.Repaired)
		}
		report.Total += br.Records
		report.Buckets = append(report.Buckets, br)
	}

	if err := metadata.SetBool(ctx, meta, metadata.KeyMigrationComplete, true); err != nil {
		return report, fmt.Errorf("write migration flag: %w", err)
	}
	return report, nil
}

func (m *Migrator) migrateBucket(ctx context.Context, tx dbx.DBTX, br *BucketReport) error {
	docs := documents.NewSQLiteRepository(tx)
	recs := records.NewSQLiteRepository(tx)
	q := queue.NewSQLiteRepository(tx)

	raw, err := docs.Get(ctx, br.Bucket)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	items, err := splitLegacy(raw)
	if err != nil {
		return fmt.Errorf("parse legacy %s: %w", br.Bucket, err)
	}

	kind := KindForBucket(br.Bucket)
	for i, item := range items {
		var rec models.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			br.Issues = append(br.Issues, fmt.Sprintf("item %d skipped: %v", i, err))
			continue
		}

		res := m.validators.ValidateAndRepair(&rec, kind)
		if res.Repaired {
			br.Repaired++
		}
		for _, issue := range res.Issues {
			br.Issues = append(br.Issues, fmt.Sprintf("item %d: %s", i, issue))
		}

		stamped := m.stamper.Stamp(&rec)
		stamped.MarkQueued()
		if err := recs.Upsert(ctx, br.Bucket, stamped); err != nil {
			return err
		}

		entry, err := models.NewQueueEntry(m.ids.New(), br.Bucket, stamped, common.OperationCreate, m.now())
		if err != nil {
			return fmt.Errorf("encode %s: %w", stamped.UUID(), err)
		}
		if err := q.Enqueue(ctx, entry); err != nil {
			return err
		}
		br.Records++
	}

	return docs.Delete(ctx, br.Bucket)
}

// splitLegacy accepts either an array of records or a single record.
func splitLegacy(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		return []json.RawMessage{trimmed}, nil
	}
	return nil, errors.New("legacy value is neither an array nor an object")
}

// VerifyMigration checks that every stored record carries metadata with a
// valid uuid and that no legacy documents were left behind.
func (m *Migrator) VerifyMigration(ctx context.Context) (*VerificationReport, error) {
	recs := records.NewSQLiteRepository(m.db)
	docs := documents.NewSQLiteRepository(m.db)

	report := &VerificationReport{PerBucket: map[string]int{}, Issues: []string{}}

	buckets, err := recs.Buckets(ctx)
	if err != nil {
		return nil, err
	}
	for _, bucket := range buckets {
		list, err := recs.List(ctx, bucket, true)
		if err != nil {
			return nil, err
		}
		for i, rec := range list {
			switch {
			case rec.Meta == nil:
				report.Issues = append(report.Issues, fmt.Sprintf("%s[%d]: missing metadata", bucket, i))
			case !ValidID(rec.Meta.UUID):
				report.Issues = append(report.Issues, fmt.Sprintf("%s[%d]: invalid uuid %q", bucket, i, rec.Meta.UUID))
			}
		}
		report.PerBucket[bucket] = len(list)
		report.Records += len(list)
	}

	for _, bucket := range m.buckets {
		raw, err := docs.Get(ctx, bucket)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("%s: legacy document not migrated", bucket))
		}
	}

	report.Valid = len(report.Issues) == 0
	return report, nil
}

// ResetMigration clears the completion flag so the next RunMigration
// performs the pass again.
func (m *Migrator) ResetMigration(ctx context.Context) error {
	return metadata.NewSQLiteRepository(m.db).Delete(ctx, metadata.KeyMigrationComplete)
}
