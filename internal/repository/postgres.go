package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/macstore/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrPaymentSessionNotFound = errors.New("payment session not found")
	ErrDuplicateBuyOrder      = errors.New("buy order already registered")
)

const uniqueViolation = "23505"

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

func (c *Credentials) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

type OutboxEvent struct {
	ID          int
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// PaymentRepository is the durable payment session ledger and its outbox.
type PaymentRepository interface {
	CreatePaymentSession(ctx context.Context, s *domain.PaymentSession) error
	GetPaymentSession(ctx context.Context, token string) (*domain.PaymentSession, *domain.PaymentConfirmation, error)
	GetPaymentSessionByBuyOrder(ctx context.Context, buyOrder string) (*domain.PaymentSession, error)
	RecordConfirmation(ctx context.Context, token string, c *domain.PaymentConfirmation, status domain.PaymentSessionStatus, event *OutboxEvent) (bool, error)
	MarkAborted(ctx context.Context, token string) error
	ClaimCartClear(ctx context.Context, token string) (bool, error)
	ReleaseCartClear(ctx context.Context, token string) error
	InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int) error
	ExpireStaleSessions(ctx context.Context, createdBefore time.Time) (int64, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(cred *Credentials) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	slog.Info("connected to postgres", "host", cred.Host, "db", cred.DBName)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) RunMigrations() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (r *PostgresRepository) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRepository) CreatePaymentSession(ctx context.Context, s *domain.PaymentSession) error {
	query := `
		INSERT INTO payment_sessions (token, buy_order, session_id, user_id, checkout_id, amount, form_action, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		RETURNING created_at, updated_at`

	if s.Status == "" {
		s.Status = domain.PaymentSessionCreated
	}
	err := r.db.QueryRowContext(ctx, query,
		s.Token, s.BuyOrderID, s.SessionID, s.UserID, s.CheckoutID, s.Amount, s.FormAction, s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateBuyOrder
		}
		return fmt.Errorf("failed to insert payment session: %w", err)
	}
	return nil
}

const selectSession = `
	SELECT token, buy_order, session_id, user_id, COALESCE(checkout_id, ''), amount, form_action, status,
	       confirmation, created_at, updated_at
	FROM payment_sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.PaymentSession, *domain.PaymentConfirmation, error) {
	var (
		s            domain.PaymentSession
		confirmation []byte
	)
	err := row.Scan(&s.Token, &s.BuyOrderID, &s.SessionID, &s.UserID, &s.CheckoutID, &s.Amount,
		&s.FormAction, &s.Status, &confirmation, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrPaymentSessionNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan payment session: %w", err)
	}

	if len(confirmation) == 0 {
		return &s, nil, nil
	}
	var c domain.PaymentConfirmation
	if err := json.Unmarshal(confirmation, &c); err != nil {
		return nil, nil, fmt.Errorf("failed to decode stored confirmation: %w", err)
	}
	return &s, &c, nil
}

// GetPaymentSession returns the session and, once confirmed, the stored
// commit result.
func (r *PostgresRepository) GetPaymentSession(ctx context.Context, token string) (*domain.PaymentSession, *domain.PaymentConfirmation, error) {
	return scanSession(r.db.QueryRowContext(ctx, selectSession+` WHERE token = $1`, token))
}

func (r *PostgresRepository) GetPaymentSessionByBuyOrder(ctx context.Context, buyOrder string) (*domain.PaymentSession, error) {
	s, _, err := scanSession(r.db.QueryRowContext(ctx, selectSession+` WHERE buy_order = $1`, buyOrder))
	return s, err
}

// RecordConfirmation stores the first commit result for a token together with
// its outbox event. The gateway's answer wins over a local EXPIRED or ABORTED
// mark set while the commit was in flight. It returns false when another
// caller already stored a result; nothing is written in that case.
func (r *PostgresRepository) RecordConfirmation(ctx context.Context, token string, c *domain.PaymentConfirmation,
	status domain.PaymentSessionStatus, event *OutboxEvent) (bool, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("failed to encode confirmation: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE payment_sessions
		SET status = $2, confirmation = $3, updated_at = NOW()
		WHERE token = $1 AND confirmation IS NULL`,
		token, status, string(payload))
	if err != nil {
		return false, fmt.Errorf("failed to record confirmation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if event != nil {
		if err := insertOutbox(ctx, tx, event); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit confirmation: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) MarkAborted(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_sessions SET status = $2, updated_at = NOW()
		WHERE token = $1 AND status = $3`,
		token, domain.PaymentSessionAborted, domain.PaymentSessionCreated)
	if err != nil {
		return fmt.Errorf("failed to mark session aborted: %w", err)
	}
	return nil
}

// ClaimCartClear marks the buyer's cart of an approved session as cleared.
// Only one caller per token gets true.
func (r *PostgresRepository) ClaimCartClear(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_sessions SET cart_cleared_at = NOW(), updated_at = NOW()
		WHERE token = $1 AND status = $2 AND cart_cleared_at IS NULL`,
		token, domain.PaymentSessionApproved)
	if err != nil {
		return false, fmt.Errorf("failed to claim cart clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ReleaseCartClear undoes a claim whose cart delete failed, so the next
// confirmation of the token retries it.
func (r *PostgresRepository) ReleaseCartClear(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_sessions SET cart_cleared_at = NULL, updated_at = NOW()
		WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to release cart clear: %w", err)
	}
	return nil
}

// ExpireStaleSessions closes sessions whose shopper never came back from the
// gateway page.
func (r *PostgresRepository) ExpireStaleSessions(ctx context.Context, createdBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_sessions SET status = $1, updated_at = NOW()
		WHERE status = $2 AND created_at < $3`,
		domain.PaymentSessionExpired, domain.PaymentSessionCreated, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to expire payment sessions: %w", err)
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOutbox(ctx context.Context, db execer, event *OutboxEvent) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		event.AggregateID, event.EventType, string(event.Payload))
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	return insertOutbox(ctx, r.db, event)
}

func (r *PostgresRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox_events
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) MarkEventAsProcessed(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox event %d not found", id)
	}
	return nil
}
