package ledger

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLite is a ledger persisted in a SQLite database file
type SQLite struct {
	db *sql.DB
	mu sync.Mutex // serializes writes
}

// NewSQLite opens (or creates) the ledger database at path and migrates its schema
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, goerr.Wrap(err, "failed to create ledger directory", goerr.V("dir", dir))
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open ledger database", goerr.V("path", path))
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to set pragma", goerr.V("pragma", p))
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS outcomes (
			repository       TEXT NOT NULL,
			transform_id     TEXT NOT NULL,
			kind             TEXT NOT NULL,
			pull_request_url TEXT NOT NULL DEFAULT '',
			branch_name      TEXT NOT NULL DEFAULT '',
			stage            TEXT NOT NULL DEFAULT '',
			error_kind       TEXT NOT NULL DEFAULT '',
			message          TEXT NOT NULL DEFAULT '',
			run_id           TEXT NOT NULL DEFAULT '',
			recorded_at      TEXT NOT NULL,
			PRIMARY KEY (repository, transform_id)
		);

		CREATE INDEX IF NOT EXISTS idx_outcomes_transform ON outcomes(transform_id, kind);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return goerr.Wrap(err, "failed to migrate ledger schema")
	}
	return nil
}

func (s *SQLite) Record(ctx context.Context, repo *model.RepositoryRef, id model.TransformID, o *model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (repository, transform_id, kind, pull_request_url, branch_name, stage, error_kind, message, run_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository, transform_id) DO UPDATE SET
			kind             = excluded.kind,
			pull_request_url = excluded.pull_request_url,
			branch_name      = excluded.branch_name,
			stage            = excluded.stage,
			error_kind       = excluded.error_kind,
			message          = excluded.message,
			run_id           = excluded.run_id,
			recorded_at      = excluded.recorded_at`,
		repo.FullName(), string(id), string(o.Kind), o.PullRequestURL, o.BranchName,
		string(o.Stage), string(o.ErrorKind), o.Message, o.RunID,
		o.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to record outcome",
			goerr.V("repo", repo.FullName()),
			goerr.V("transform_id", id))
	}
	return nil
}

const selectOutcome = `SELECT repository, kind, pull_request_url, branch_name, stage, error_kind, message, run_id, recorded_at FROM outcomes`

func (s *SQLite) Get(ctx context.Context, repo *model.RepositoryRef, id model.TransformID) (*model.Outcome, error) {
	row := s.db.QueryRowContext(ctx, selectOutcome+` WHERE repository = ? AND transform_id = ?`, repo.FullName(), string(id))
	_, o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read outcome", goerr.V("repo", repo.FullName()))
	}
	return o, nil
}

func (s *SQLite) Summarize(ctx context.Context, id model.TransformID) (model.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM outcomes WHERE transform_id = ? GROUP BY kind`, string(id))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to summarize outcomes", goerr.V("transform_id", id))
	}
	defer rows.Close()

	summary := model.Summary{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, goerr.Wrap(err, "failed to scan summary row")
		}
		summary[model.OutcomeKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate summary rows")
	}
	return summary, nil
}

func (s *SQLite) List(ctx context.Context, id model.TransformID) ([]*model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectOutcome+` WHERE transform_id = ? ORDER BY repository`, string(id))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list outcomes", goerr.V("transform_id", id))
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		repo, o, err := scanOutcome(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan outcome row")
		}
		entries = append(entries, &model.LedgerEntry{Repository: repo, TransformID: id, Outcome: o})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate outcome rows")
	}
	return entries, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (string, *model.Outcome, error) {
	var (
		repo, kind, stage, errorKind, recordedAt string
		o                                        model.Outcome
	)
	if err := row.Scan(&repo, &kind, &o.PullRequestURL, &o.BranchName, &stage, &errorKind, &o.Message, &o.RunID, &recordedAt); err != nil {
		return "", nil, err
	}
	o.Kind = model.OutcomeKind(kind)
	o.Stage = model.Stage(stage)
	o.ErrorKind = types.ErrorKind(errorKind)

	t, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return "", nil, goerr.Wrap(err, "invalid recorded_at", goerr.V("value", recordedAt))
	}
	o.RecordedAt = t
	return repo, &o, nil
}
