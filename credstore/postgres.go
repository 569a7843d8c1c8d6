package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/credstore/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const uniqueViolation = "23505"

var (
	_ goGate.CredentialStore     = (*Postgres)(nil)
	_ goGate.IdentityCreator     = (*Postgres)(nil)
	_ goGate.PasswordHashUpdater = (*Postgres)(nil)
)

// DBTX is the subset of database/sql used by Postgres. *sql.DB and *sql.Tx
// both satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres stores identities in the identities table.
type Postgres struct {
	db DBTX
}

func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// Open connects through the pgx driver and applies pending migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func (p *Postgres) FindByUsername(ctx context.Context, username string) (goGate.Identity, error) {
	query :=
		`SELECT id, username, password_hash FROM identities
		 WHERE username = $1`

	var identity goGate.Identity
	err := p.db.QueryRowContext(ctx, query, username).Scan(&identity.ID, &identity.Username, &identity.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return goGate.Identity{}, goGate.ErrIdentityNotFound
		}
		return goGate.Identity{}, fmt.Errorf("db error: %w", err)
	}
	return identity, nil
}

func (p *Postgres) FindByID(ctx context.Context, id int64) (goGate.Identity, error) {
	query :=
		`SELECT id, username, password_hash FROM identities
		 WHERE id = $1`

	var identity goGate.Identity
	err := p.db.QueryRowContext(ctx, query, id).Scan(&identity.ID, &identity.Username, &identity.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return goGate.Identity{}, goGate.ErrIdentityNotFound
		}
		return goGate.Identity{}, fmt.Errorf("db error: %w", err)
	}
	return identity, nil
}

func (p *Postgres) CreateIdentity(ctx context.Context, username, passwordHash string) (goGate.Identity, error) {
	query :=
		`INSERT INTO identities (username, password_hash)
		 VALUES ($1, $2)
		 RETURNING id`

	identity := goGate.Identity{Username: username, PasswordHash: passwordHash}
	err := p.db.QueryRowContext(ctx, query, username, passwordHash).Scan(&identity.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return goGate.Identity{}, goGate.ErrIdentityExists
		}
		return goGate.Identity{}, fmt.Errorf("db error: %w", err)
	}
	return identity, nil
}

func (p *Postgres) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	query :=
		`UPDATE identities SET password_hash = $1, updated_at = now()
		 WHERE id = $2`

	res, err := p.db.ExecContext(ctx, query, passwordHash, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return goGate.ErrIdentityNotFound
	}
	return nil
}
