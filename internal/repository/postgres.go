package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/smallbiznis/tokenauth/internal/domain"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, so callers decide
// whether repository calls run inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Compile-time interface assertions.
var (
	_ UserRepository       = (*PostgresUserRepo)(nil)
	_ CredentialRepository = (*PostgresCredentialRepo)(nil)
	_ TokenRepository      = (*PostgresTokenRepo)(nil)
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func wrapNotFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db DBTX
}

func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, status, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (domain.UserProfile, error) {
	var u domain.UserProfile
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Status, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return domain.UserProfile{}, wrapNotFound("get user by id", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.UserProfile, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
	if err != nil {
		return domain.UserProfile{}, wrapNotFound("get user", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET last_login_at = $2, updated_at = now() WHERE id = $1`, userID, at.UTC()); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

const insertUserSQL = `INSERT INTO users (id, email, name, status)
VALUES ($1, $2, $3, $4)
RETURNING ` + userColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.UserProfile) (domain.UserProfile, error) {
	status := user.Status
	if status == "" {
		status = domain.UserStatusActive
	}
	created, err := scanUser(r.db.QueryRow(ctx, insertUserSQL, user.ID, normalizeEmail(user.Email), user.Name, status))
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// PostgresCredentialRepo implements CredentialRepository.
type PostgresCredentialRepo struct {
	db   DBTX
	node *snowflake.Node
}

func NewPostgresCredentialRepo(db DBTX, node *snowflake.Node) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db, node: node}
}

const credentialColumns = `c.id, c.user_id, c.password_hash, c.created_at, c.updated_at`

func scanCredential(row pgx.Row) (domain.UserCredential, error) {
	var c domain.UserCredential
	err := row.Scan(&c.ID, &c.UserID, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetByEmail resolves the user by email and loads their credential.
func (r *PostgresCredentialRepo) GetByEmail(ctx context.Context, email string) (domain.UserCredential, error) {
	cred, err := scanCredential(r.db.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM user_credentials c JOIN users u ON u.id = c.user_id WHERE u.email = $1`,
		normalizeEmail(email),
	))
	if err != nil {
		return domain.UserCredential{}, wrapNotFound("get credential", err)
	}
	return cred, nil
}

func (r *PostgresCredentialRepo) GetByUserID(ctx context.Context, userID string) (domain.UserCredential, error) {
	cred, err := scanCredential(r.db.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM user_credentials c WHERE c.user_id = $1`, userID))
	if err != nil {
		return domain.UserCredential{}, wrapNotFound("get credential by user", err)
	}
	return cred, nil
}

func (r *PostgresCredentialRepo) Create(ctx context.Context, cred domain.UserCredential) (domain.UserCredential, error) {
	if cred.ID == 0 {
		cred.ID = r.node.Generate().Int64()
	}
	created, err := scanCredential(r.db.QueryRow(ctx,
		`INSERT INTO user_credentials AS c (id, user_id, password_hash) VALUES ($1, $2, $3) RETURNING `+credentialColumns,
		cred.ID, cred.UserID, cred.PasswordHash,
	))
	if err != nil {
		return domain.UserCredential{}, fmt.Errorf("create credential: %w", err)
	}
	return created, nil
}

func (r *PostgresCredentialRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE user_credentials SET password_hash = $2, updated_at = now() WHERE user_id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update password: %w", ErrNotFound)
	}
	return nil
}

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db   DBTX
	node *snowflake.Node
}

func NewPostgresTokenRepo(db DBTX, node *snowflake.Node) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db, node: node}
}

const tokenColumns = `id, user_id, token, expires_at, created_at, revoked`

func scanToken(row pgx.Row) (domain.AuthToken, error) {
	var t domain.AuthToken
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt, &t.Revoked)
	return t, err
}

// A conflicting id merges the mutable columns; token and user_id never change.
const upsertTokenSQL = `INSERT INTO auth_tokens (id, user_id, token, expires_at, revoked)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at, revoked = EXCLUDED.revoked
RETURNING ` + tokenColumns

// Save inserts a new token or merges an existing one. A zero ID is assigned
// before insert.
func (r *PostgresTokenRepo) Save(ctx context.Context, token domain.AuthToken) (domain.AuthToken, error) {
	if token.ID == 0 {
		token.ID = r.node.Generate().Int64()
	}
	saved, err := scanToken(r.db.QueryRow(ctx, upsertTokenSQL,
		token.ID,
		token.UserID,
		token.Token,
		token.ExpiresAt.UTC(),
		token.Revoked,
	))
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("save token: %w", err)
	}
	return saved, nil
}

func (r *PostgresTokenRepo) GetByValue(ctx context.Context, tokenHash string) (domain.AuthToken, error) {
	token, err := scanToken(r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM auth_tokens WHERE token = $1`, tokenHash))
	if err != nil {
		return domain.AuthToken{}, wrapNotFound("get token", err)
	}
	return token, nil
}

func (r *PostgresTokenRepo) GetAllForUser(ctx context.Context, userID string) ([]domain.AuthToken, error) {
	rows, err := r.db.Query(ctx, `SELECT `+tokenColumns+` FROM auth_tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.AuthToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// Revoke marks the token revoked. Unknown hashes are not an error.
func (r *PostgresTokenRepo) Revoke(ctx context.Context, tokenHash string) error {
	if _, err := r.db.Exec(ctx, `UPDATE auth_tokens SET revoked = TRUE WHERE token = $1`, tokenHash); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE auth_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresTokenRepo) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM auth_tokens WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
