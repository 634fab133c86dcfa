package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/repository"
)

var (
	_ repository.APIKeyRepository = (*DB)(nil)
	_ repository.UsageRepository  = (*DB)(nil)
)

const keyColumns = `k.id, k.user_id, k.property_id, k.key_name, k.description, k.api_key,
	k.is_active, k.created_at, k.updated_at, k.last_used_at`

// scanKey reads keyColumns followed by any extra destinations.
func scanKey(row interface{ Scan(...any) error }, k *model.APIKey, extra ...any) error {
	var (
		propRef  sql.NullInt64
		lastUsed sql.NullTime
	)
	dest := append([]any{&k.ID, &k.UserID, &propRef, &k.Name, &k.Description, &k.Key,
		&k.IsActive, &k.CreatedAt, &k.UpdatedAt, &lastUsed}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	if propRef.Valid {
		k.PropertyRef = &propRef.Int64
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	return nil
}

// FindActiveKey resolves a per-user key. The bound property is attached
// only while it is still active.
func (db *DB) FindActiveKey(ctx context.Context, key string) (*model.APIKey, *model.User, error) {
	var k model.APIKey
	var u model.User
	err := scanKey(db.queryRow(ctx, db.conn,
		`SELECT `+keyColumns+`, `+userColumns+`
		 FROM user_api_keys k
		 JOIN users u ON u.id = k.user_id
		 WHERE k.api_key = ? AND k.is_active = TRUE AND u.is_active = TRUE`,
		key,
	), &k, &u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperror.NotFound("api key", "")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: finding api key: %w", err)
	}

	if k.PropertyRef != nil {
		p, err := db.GetProperty(ctx, k.UserID, *k.PropertyRef)
		switch {
		case err == nil:
			k.Property = p
		case !errors.Is(err, apperror.ErrNotFound):
			return nil, nil, err
		}
	}
	return &k, &u, nil
}

// TouchKey records the moment a key was last used.
func (db *DB) TouchKey(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	res, err := db.exec(ctx, db.conn,
		`UPDATE user_api_keys SET last_used_at = ? WHERE id = ?`, nullTime(&at), id)
	if err != nil {
		return fmt.Errorf("sqlstore: touching api key %d: %w", id, err)
	}
	return requireAffected(res, "api key", id)
}

func (db *DB) CreateKey(ctx context.Context, k *model.APIKey, limit int) error {
	now := db.timestamp()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := db.lockUser(ctx, tx, k.UserID); err != nil {
			return err
		}
		if limit > 0 {
			n, err := db.countActive(ctx, tx, "user_api_keys", k.UserID)
			if err != nil {
				return err
			}
			if n >= limit {
				return repository.ErrLimitReached
			}
		}

		id, err := db.insert(ctx, tx,
			`INSERT INTO user_api_keys
			   (user_id, property_id, key_name, description, api_key, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, TRUE, ?, ?)`,
			k.UserID, nullInt64(k.PropertyRef), k.Name, k.Description, k.Key, now, now,
		)
		if err != nil {
			return fmt.Errorf("sqlstore: inserting api key %q: %w", k.Name, err)
		}
		k.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	k.IsActive = true
	k.CreatedAt = now
	k.UpdatedAt = now
	return nil
}

// ListKeys returns the user's active keys, newest first, with their bound
// properties attached.
func (db *DB) ListKeys(ctx context.Context, userID int64) ([]model.APIKey, error) {
	rows, err := db.query(ctx, db.conn,
		`SELECT `+keyColumns+` FROM user_api_keys k
		 WHERE k.user_id = ? AND k.is_active = TRUE
		 ORDER BY k.created_at DESC, k.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing api keys: %w", err)
	}

	keys := []model.APIKey{}
	for rows.Next() {
		var k model.APIKey
		if err := scanKey(rows, &k); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlstore: scanning api key: %w", err)
		}
		keys = append(keys, k)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: iterating api keys: %w", err)
	}

	// properties are loaded after the cursor is closed: SQLite runs on a
	// single connection
	for i := range keys {
		if keys[i].PropertyRef == nil {
			continue
		}
		p, err := db.GetProperty(ctx, userID, *keys[i].PropertyRef)
		if err == nil {
			keys[i].Property = p
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
	}
	return keys, nil
}

func (db *DB) DeactivateKey(ctx context.Context, userID, id int64) error {
	res, err := db.exec(ctx, db.conn,
		`UPDATE user_api_keys SET is_active = FALSE, updated_at = ?
		 WHERE id = ? AND user_id = ? AND is_active = TRUE`,
		db.timestamp(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: deactivating api key %d: %w", id, err)
	}
	return requireAffected(res, "api key", id)
}

func (db *DB) InsertUsage(ctx context.Context, e *model.UsageLog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = db.timestamp()
	}
	id, err := db.insert(ctx, db.conn,
		`INSERT INTO api_usage_logs
		   (user_id, caller, endpoint, method, status_code, response_time_ms,
		    user_agent, ip_address, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(e.UserID), e.Caller, e.Endpoint, e.Method, e.StatusCode, e.ResponseTimeMS,
		e.UserAgent, e.IPAddress, e.ErrorMessage, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting usage log: %w", err)
	}
	e.ID = id
	return nil
}
