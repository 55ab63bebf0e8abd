package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const uniqueViolation = "23505"

// PostgresRepository stores credentials in the credentials table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Connect opens and pings a Postgres handle for dsn.
func Connect(ctx context.Context, dsn string, log logrus.FieldLogger) (*sql.DB, error) {
	log.Info("credential: connecting to database")

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.WithError(err).Error("credential: failed to open database connection")
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		log.WithError(err).Error("credential: failed to ping database")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("credential: database connection established")
	return db, nil
}

func (r *PostgresRepository) GetByIdentity(ctx context.Context, identity string) (*Credential, error) {
	query := `SELECT id, identity, secret_hash, role, created_at, updated_at
		FROM credentials
		WHERE identity = $1`

	cred := &Credential{}
	err := r.db.QueryRowContext(ctx, query, identity).Scan(
		&cred.ID, &cred.Identity, &cred.Hash, &cred.Role, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return cred, nil
}

func (r *PostgresRepository) Create(ctx context.Context, cred *Credential) error {
	query := `INSERT INTO credentials (identity, secret_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, cred.Identity, cred.Hash, cred.Role).
		Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateHash(ctx context.Context, identity, hash string) error {
	query := `UPDATE credentials SET secret_hash = $1, updated_at = NOW() WHERE identity = $2`

	res, err := r.db.ExecContext(ctx, query, hash, identity)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, identity string) error {
	query := `DELETE FROM credentials WHERE identity = $1`

	res, err := r.db.ExecContext(ctx, query, identity)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
