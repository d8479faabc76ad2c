package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leafsii/combined-position/internal/position"
	"github.com/leafsii/combined-position/internal/quotes"
	"github.com/leafsii/combined-position/migrations"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const DefaultListLimit = 20

// Run is one recorded quote batch.
type Run struct {
	ID           string               `json:"id"`
	SessionID    string               `json:"sessionId"`
	Generation   uint64               `json:"generation"`
	ChainID      string               `json:"chainId"`
	TokenAddress string               `json:"tokenAddress"`
	TokenSymbol  string               `json:"tokenSymbol"`
	TotalAmount  decimal.Decimal      `json:"totalAmount"`
	Status       position.QuoteStatus `json:"status"`
	Error        string               `json:"error,omitempty"`
	StartedAt    time.Time            `json:"startedAt"`
	Duration     time.Duration        `json:"duration"`
	Vaults       []RunVault           `json:"vaults"`
}

type RunVault struct {
	VaultID     string               `json:"vaultId"`
	Amount      decimal.Decimal      `json:"amount"`
	Status      position.QuoteStatus `json:"status"`
	Error       string               `json:"error,omitempty"`
	QuoteCount  int                  `json:"quoteCount"`
	BestQuoteID string               `json:"bestQuoteId,omitempty"`
	Discarded   bool                 `json:"discarded,omitempty"`
}

// Repository records quote runs in Postgres (pgx) or SQLite.
type Repository struct {
	db      *sql.DB
	dialect string
	logger  *zap.SugaredLogger
}

// Open picks the driver from the DSN: postgres URLs and keyword DSNs use pgx,
// "sqlite:" prefixed paths use SQLite.
func Open(dsn string, logger *zap.SugaredLogger) (*Repository, error) {
	driver, dialect, source := parseDSN(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if dialect == "sqlite3" {
		// a single connection keeps :memory: databases alive and serializes writes
		db.SetMaxOpenConns(1)
	}
	return NewRepository(db, dialect, logger), nil
}

func parseDSN(dsn string) (driver, dialect, source string) {
	if rest, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return "sqlite", "sqlite3", rest
	}
	return "pgx", "postgres", dsn
}

func NewRepository(db *sql.DB, dialect string, logger *zap.SugaredLogger) *Repository {
	return &Repository{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// Migrate applies the embedded goose migrations.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.RunMigrations(ctx, "up")
}

// RunMigrations runs one goose command (up, down, status, version) against
// the embedded migrations.
func (r *Repository) RunMigrations(ctx context.Context, command string) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(r.dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, r.db, ".")
	case "down":
		err = goose.DownContext(ctx, r.db, ".")
	case "status":
		err = goose.StatusContext(ctx, r.db, ".")
	case "version":
		err = goose.VersionContext(ctx, r.db, ".")
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$\d+`)

// rebind rewrites $n placeholders for SQLite. Queries bind their arguments in
// order, so positional ? is equivalent.
func (r *Repository) rebind(query string) string {
	if r.dialect != "sqlite3" {
		return query
	}
	return placeholder.ReplaceAllString(query, "?")
}

// RecordRun stores a batch report and its per-vault rows in one transaction.
func (r *Repository) RecordRun(ctx context.Context, sessionID string, report *quotes.BatchReport) error {
	if report == nil {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	runID := uuid.NewString()
	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO quote_runs (id, session_id, generation, chain_id, token_address, token_symbol,
			total_amount, status, error, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`),
		runID,
		sessionID,
		int64(report.Generation),
		string(report.ChainID),
		report.Token.Address,
		report.Token.Symbol,
		report.TotalAmount.String(),
		string(report.Status),
		report.Error,
		report.StartedAt.UnixMilli(),
		report.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to store quote run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO quote_run_vaults (run_id, ordinal, vault_id, amount, status, error,
			quote_count, best_quote_id, discarded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, v := range report.Vaults {
		_, err := stmt.ExecContext(ctx,
			runID,
			i,
			v.VaultID,
			v.Amount.String(),
			string(v.Status),
			v.Error,
			v.QuoteCount,
			v.BestQuoteID,
			v.Discarded,
		)
		if err != nil {
			return fmt.Errorf("failed to store vault %s: %w", v.VaultID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debugw("Recorded quote run", "session", sessionID, "run", runID, "vaults", len(report.Vaults))
	return nil
}

// ListRuns returns the latest runs of a session, newest first.
func (r *Repository) ListRuns(ctx context.Context, sessionID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, session_id, generation, chain_id, token_address, token_symbol,
			total_amount, status, error, started_at, duration_ms
		FROM quote_runs
		WHERE session_id = $1
		ORDER BY started_at DESC, generation DESC
		LIMIT $2
	`), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			generation int64
			total      string
			startedMs  int64
			durationMs int64
		)
		err := rows.Scan(
			&run.ID,
			&run.SessionID,
			&generation,
			&run.ChainID,
			&run.TokenAddress,
			&run.TokenSymbol,
			&total,
			&run.Status,
			&run.Error,
			&startedMs,
			&durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quote run: %w", err)
		}
		run.Generation = uint64(generation)
		run.StartedAt = time.UnixMilli(startedMs)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		if run.TotalAmount, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("invalid total amount %q: %w", total, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for i := range runs {
		vaults, err := r.runVaults(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Vaults = vaults
	}
	return runs, nil
}

func (r *Repository) runVaults(ctx context.Context, runID string) ([]RunVault, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT vault_id, amount, status, error, quote_count, best_quote_id, discarded
		FROM quote_run_vaults
		WHERE run_id = $1
		ORDER BY ordinal
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run vaults: %w", err)
	}
	defer rows.Close()

	var vaults []RunVault
	for rows.Next() {
		var (
			v      RunVault
			amount string
		)
		if err := rows.Scan(&v.VaultID, &amount, &v.Status, &v.Error, &v.QuoteCount, &v.BestQuoteID, &v.Discarded); err != nil {
			return nil, fmt.Errorf("failed to scan run vault: %w", err)
		}
		if v.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid vault amount %q: %w", amount, err)
		}
		vaults = append(vaults, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return vaults, nil
}

// Health check
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

var _ Recorder = (*Repository)(nil)
var _ Recorder = NoopRecorder{}

// NewRecorder opens and migrates a Repository, or returns a NoopRecorder when
// dsn is empty.
func NewRecorder(ctx context.Context, dsn string, logger *zap.SugaredLogger) (Recorder, error) {
	if dsn == "" {
		logger.Infow("No database configured, quote runs are not recorded")
		return NoopRecorder{}, nil
	}
	repo, err := Open(dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := repo.Ping(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}
