package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/repository"
)

var (
	_ repository.UserRepository  = (*DB)(nil)
	_ repository.TokenRepository = (*DB)(nil)
)

const userColumns = `u.id, u.email, u.name, u.is_active, u.created_at, u.updated_at`

func scanUser(row interface{ Scan(...any) error }, u *model.User) error {
	return row.Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
}

// UpsertUserByEmail inserts a new user or updates the name of the existing
// one. A returning user is re-activated.
func (db *DB) UpsertUserByEmail(ctx context.Context, email, name string) (*model.User, error) {
	now := db.timestamp()

	var id int64
	err := db.queryRow(ctx, db.conn, `SELECT id FROM users WHERE email = ?`, email).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id, err = db.insert(ctx, db.conn,
			`INSERT INTO users (email, name, is_active, created_at, updated_at)
			 VALUES (?, ?, TRUE, ?, ?)`,
			email, name, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: inserting user %s: %w", email, err)
		}
	case err != nil:
		return nil, fmt.Errorf("sqlstore: looking up user %s: %w", email, err)
	default:
		_, err = db.exec(ctx, db.conn,
			`UPDATE users SET name = ?, is_active = TRUE, updated_at = ? WHERE id = ?`,
			name, now, id,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: updating user %d: %w", id, err)
		}
	}

	return db.GetUser(ctx, id)
}

func (db *DB) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := scanUser(db.queryRow(ctx, db.conn,
		`SELECT `+userColumns+` FROM users u WHERE u.id = ?`, id), &u)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting user %d: %w", id, err)
	}
	return &u, nil
}

// FindActiveToken returns a non-revoked token whose owner is active.
// Expired tokens are returned too; deciding what to do with them is the
// caller's business.
func (db *DB) FindActiveToken(ctx context.Context, accessToken string) (*model.OAuthToken, *model.User, error) {
	var (
		t       model.OAuthToken
		u       model.User
		refresh sql.NullString
	)
	err := db.queryRow(ctx, db.conn,
		`SELECT t.id, t.user_id, t.access_token, t.refresh_token, t.expires_at,
		        t.scope, t.token_type, t.is_revoked, t.created_at, t.updated_at,
		        `+userColumns+`
		 FROM oauth_tokens t
		 JOIN users u ON u.id = t.user_id
		 WHERE t.access_token = ? AND t.is_revoked = FALSE AND u.is_active = TRUE
		 ORDER BY t.id DESC
		 LIMIT 1`,
		accessToken,
	).Scan(
		&t.ID, &t.UserID, &t.AccessToken, &refresh, &t.ExpiresAt,
		&t.Scope, &t.TokenType, &t.IsRevoked, &t.CreatedAt, &t.UpdatedAt,
		&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperror.NotFound("token", "")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: finding token: %w", err)
	}
	t.RefreshToken = refresh.String
	return &t, &u, nil
}

// ReplaceToken revokes every earlier token of the user and stores tok.
func (db *DB) ReplaceToken(ctx context.Context, tok *model.OAuthToken) error {
	now := db.timestamp()
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx,
			`UPDATE oauth_tokens SET is_revoked = TRUE, updated_at = ?
			 WHERE user_id = ? AND is_revoked = FALSE`,
			now, tok.UserID,
		); err != nil {
			return fmt.Errorf("revoking tokens: %w", err)
		}

		id, err := db.insert(ctx, tx,
			`INSERT INTO oauth_tokens
			   (user_id, access_token, refresh_token, expires_at, scope, token_type, is_revoked, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, FALSE, ?, ?)`,
			tok.UserID, tok.AccessToken, nullString(tok.RefreshToken), tok.ExpiresAt.UTC(),
			tok.Scope, tok.TokenType, now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting token: %w", err)
		}
		tok.ID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlstore: replacing token for user %d: %w", tok.UserID, err)
	}

	tok.IsRevoked = false
	tok.CreatedAt = now
	tok.UpdatedAt = now
	return nil
}
