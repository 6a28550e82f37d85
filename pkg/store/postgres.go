package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database. Schema is not touched; call
// Migrate first.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects, configures the pool, and applies pending migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

// Migrate applies every pending embedded migration.
func Migrate(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Close() error { return s.db.Close() }

const upsertUserSQL = `INSERT INTO users (id, external_id, email, credits)
VALUES ($1, $2, $3, $4)
ON CONFLICT (external_id) DO UPDATE
SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END
RETURNING id, external_id, email, credits, created_at`

func (s *PostgresStore) EnsureUser(ctx context.Context, externalID, email string, initialCredits decimal.Decimal) (*User, error) {
	if externalID == "" {
		return nil, fmt.Errorf("store: external id must not be empty")
	}
	if initialCredits.IsNegative() {
		return nil, ErrInvalidAmount
	}
	var u User
	err := s.db.QueryRowContext(ctx, upsertUserSQL, uuid.New().String(), externalID, email, initialCredits).
		Scan(&u.ID, &u.ExternalID, &u.Email, &u.Credits, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetCredits(ctx context.Context, userID string) (decimal.Decimal, error) {
	var credits decimal.Decimal
	err := s.db.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = $1", userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get credits: %w", err)
	}
	return credits, nil
}

const deductSQL = `UPDATE users SET credits = credits - $1, updated_at = now()
WHERE id = $2 AND credits >= $1
RETURNING credits`

// DeductCredits is a single conditional UPDATE, so concurrent debits
// serialize on the row and never drive the balance negative.
func (s *PostgresStore) DeductCredits(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, deductSQL, amount, userID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("deduct credits: %w", err)
	}
	current, gerr := s.GetCredits(ctx, userID)
	if gerr != nil {
		return decimal.Zero, gerr
	}
	return current, ErrInsufficientCredits
}

const addCreditsSQL = `UPDATE users SET credits = credits + $1, updated_at = now()
WHERE id = $2
RETURNING credits`

func (s *PostgresStore) AddCredits(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, addCreditsSQL, amount, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("add credits: %w", err)
	}
	return balance, nil
}

const insertAnalysisSQL = `INSERT INTO analyses (id, user_id, analysis_text, user_context, model_used,
input_tokens, output_tokens, cost_usd, charge_usd, usage_digest,
profile_image_count, conversation_image_count, image_hashes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func (s *PostgresStore) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if err := a.Usage.Validate(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	hashes := a.ImageHashes
	if hashes == nil {
		hashes = []string{}
	}
	_, err := s.db.ExecContext(ctx, insertAnalysisSQL,
		a.ID, a.UserID, a.Text, a.UserContext, a.Usage.Model,
		a.Usage.InputTokens, a.Usage.OutputTokens, a.Usage.Cost, a.Usage.Charge, a.UsageDigest,
		a.ProfileImageCount, a.ConversationImageCount, pq.Array(hashes), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

const analysisColumns = `id, user_id, analysis_text, user_context, model_used,
input_tokens, output_tokens, cost_usd, charge_usd, usage_digest,
profile_image_count, conversation_image_count, image_hashes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*Analysis, error) {
	var a Analysis
	err := row.Scan(&a.ID, &a.UserID, &a.Text, &a.UserContext, &a.Usage.Model,
		&a.Usage.InputTokens, &a.Usage.OutputTokens, &a.Usage.Cost, &a.Usage.Charge, &a.UsageDigest,
		&a.ProfileImageCount, &a.ConversationImageCount, pq.Array(&a.ImageHashes), &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+analysisColumns+" FROM analyses WHERE id = $1", id)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, userID string, limit int) ([]*Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+analysisColumns+" FROM analyses WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
		userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const upsertGateSQL = `INSERT INTO gates (id, user_id, analysis_id, state, snapshot, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (id) DO UPDATE
SET state = EXCLUDED.state, snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
WHERE gates.user_id = EXCLUDED.user_id
RETURNING created_at, updated_at`

func (s *PostgresStore) SaveGate(ctx context.Context, g *GateRecord) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, upsertGateSQL,
		g.ID, g.UserID, g.AnalysisID, g.State, []byte(g.Snapshot), now).
		Scan(&g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// The conflict row belongs to another user.
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("save gate: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGate(ctx context.Context, id string) (*GateRecord, error) {
	var (
		g    GateRecord
		snap []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, analysis_id, state, snapshot, created_at, updated_at FROM gates WHERE id = $1", id).
		Scan(&g.ID, &g.UserID, &g.AnalysisID, &g.State, &snap, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get gate: %w", err)
	}
	g.Snapshot = snap
	return &g, nil
}

const insertCoCreationSQL = `INSERT INTO co_creations (id, user_id, gate_id, analysis_id, message, model_used,
input_tokens, output_tokens, cost_usd, charge_usd, usage_digest, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (s *PostgresStore) SaveCoCreation(ctx context.Context, c *CoCreation) error {
	if err := c.Usage.Validate(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, insertCoCreationSQL,
		c.ID, c.UserID, c.GateID, c.AnalysisID, c.Message, c.Usage.Model,
		c.Usage.InputTokens, c.Usage.OutputTokens, c.Usage.Cost, c.Usage.Charge, c.UsageDigest, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save co-creation: %w", err)
	}
	return nil
}

const insertTransactionSQL = `INSERT INTO transactions (id, user_id, stripe_session_id, stripe_payment_intent,
amount_usd, credits_added, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (stripe_session_id) DO NOTHING`

func (s *PostgresStore) CompleteTransaction(ctx context.Context, t *Transaction) (bool, decimal.Decimal, error) {
	if t.Credits.IsNegative() || t.AmountUSD.IsNegative() {
		return false, decimal.Zero, ErrInvalidAmount
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Status = TransactionCompleted

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertTransactionSQL,
		t.ID, t.UserID, t.SessionID, t.PaymentIntent, t.AmountUSD, t.Credits, t.Status)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("insert transaction: %w", err)
	}

	var balance decimal.Decimal
	if n == 0 {
		err = tx.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = $1", t.UserID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return false, decimal.Zero, ErrNotFound
		}
		if err != nil {
			return false, decimal.Zero, fmt.Errorf("get credits: %w", err)
		}
		return false, balance, tx.Commit()
	}

	err = tx.QueryRowContext(ctx, addCreditsSQL, t.Credits, t.UserID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return false, decimal.Zero, ErrNotFound
	}
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("credit user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, decimal.Zero, fmt.Errorf("commit transaction: %w", err)
	}
	return true, balance, nil
}
