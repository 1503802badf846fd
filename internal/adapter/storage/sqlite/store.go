package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBFile is the database file name inside the data directory.
const DBFile = "webmclip.db"

// Store keeps session outcomes and the batch queue in one SQLite file.
type Store struct {
	db      *sql.DB
	queries *queries
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA cache_size = -4000", // 4MB
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

var gooseMu sync.Mutex

func migrate(db *sql.DB) error {
	// goose keeps its FS and dialect in package globals.
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	db, err := sql.Open("sqlite", filepath.Join(dataDir, DBFile))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; WAL still lets readers through.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newStoreWithDB(db), nil
}

func newStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, queries: newQueries(db)}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) SaveOutcome(o *domain.Outcome) error {
	if o == nil || o.SessionID == "" {
		return errors.New("outcome without session id")
	}
	return s.queries.UpsertSession(context.Background(), sessionRow{
		ID:           o.SessionID,
		State:        string(o.State),
		InputPath:    o.InputPath,
		OutputPath:   o.OutputPath,
		BitrateKbps:  int64(o.BitrateKbps),
		SizeSpec:     string(o.SizeSpec),
		ErrorMessage: outcomeMessage(o),
		StartedAt:    o.StartedAt,
		FinishedAt:   o.FinishedAt,
	})
}

func (s *Store) GetOutcome(sessionID string) (*domain.Outcome, error) {
	row, err := s.queries.GetSession(context.Background(), sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return outcomeFromRow(row), nil
}

func (s *Store) ListOutcomes(limit int) ([]*domain.Outcome, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.queries.ListSessions(context.Background(), limit)
	if err != nil {
		return nil, err
	}
	result := make([]*domain.Outcome, len(rows))
	for i, row := range rows {
		result[i] = outcomeFromRow(row)
	}
	return result, nil
}

func outcomeMessage(o *domain.Outcome) string {
	if o.ErrorMessage == "" && o.Err != nil {
		return o.Err.Error()
	}
	return o.ErrorMessage
}

func outcomeFromRow(row sessionRow) *domain.Outcome {
	return &domain.Outcome{
		SessionID:    row.ID,
		State:        domain.SessionState(row.State),
		InputPath:    row.InputPath,
		OutputPath:   row.OutputPath,
		BitrateKbps:  int(row.BitrateKbps),
		SizeSpec:     domain.SizeSpec(row.SizeSpec),
		ErrorMessage: row.ErrorMessage,
		StartedAt:    row.StartedAt,
		FinishedAt:   row.FinishedAt,
	}
}

var _ port.HistoryStore = (*Store)(nil)
