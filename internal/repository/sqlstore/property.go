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

var _ repository.PropertyRepository = (*DB)(nil)

const propertyColumns = `p.id, p.user_id, p.property_id, p.property_name, p.website_url,
	p.is_default, p.is_active, p.created_at, p.updated_at`

func scanProperty(row interface{ Scan(...any) error }, p *model.Property) error {
	return row.Scan(&p.ID, &p.UserID, &p.PropertyID, &p.PropertyName, &p.WebsiteURL,
		&p.IsDefault, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
}

func (db *DB) ResolveProperty(ctx context.Context, userID int64) (string, error) {
	var propertyID string
	err := db.queryRow(ctx, db.conn,
		`SELECT property_id FROM ga4_properties
		 WHERE user_id = ? AND is_active = TRUE
		 ORDER BY is_default DESC, created_at ASC, id ASC
		 LIMIT 1`,
		userID,
	).Scan(&propertyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlstore: resolving property for user %d: %w", userID, err)
	}
	return propertyID, nil
}

// GetProperty returns one of the user's active properties.
func (db *DB) GetProperty(ctx context.Context, userID, id int64) (*model.Property, error) {
	var p model.Property
	err := scanProperty(db.queryRow(ctx, db.conn,
		`SELECT `+propertyColumns+` FROM ga4_properties p
		 WHERE p.id = ? AND p.user_id = ? AND p.is_active = TRUE`,
		id, userID,
	), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("property", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting property %d: %w", id, err)
	}
	return &p, nil
}

// findActiveProperty looks up the user's active row for a GA4 property id.
func (db *DB) findActiveProperty(ctx context.Context, q queryer, userID int64, propertyID string) (*model.Property, error) {
	var p model.Property
	err := scanProperty(db.queryRow(ctx, q,
		`SELECT `+propertyColumns+` FROM ga4_properties p
		 WHERE p.user_id = ? AND p.property_id = ? AND p.is_active = TRUE
		 ORDER BY p.id
		 LIMIT 1`,
		userID, propertyID,
	), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("property", propertyID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: finding property %s: %w", propertyID, err)
	}
	return &p, nil
}

// ListProperties returns the user's active properties, newest first.
func (db *DB) ListProperties(ctx context.Context, userID int64) ([]model.Property, error) {
	rows, err := db.query(ctx, db.conn,
		`SELECT `+propertyColumns+` FROM ga4_properties p
		 WHERE p.user_id = ? AND p.is_active = TRUE
		 ORDER BY p.created_at DESC, p.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing properties: %w", err)
	}
	defer rows.Close()

	props := []model.Property{}
	for rows.Next() {
		var p model.Property
		if err := scanProperty(rows, &p); err != nil {
			return nil, fmt.Errorf("sqlstore: scanning property: %w", err)
		}
		props = append(props, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating properties: %w", err)
	}
	return props, nil
}

func (db *DB) CreateProperty(ctx context.Context, p *model.Property, limit int) error {
	now := db.timestamp()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := db.lockUser(ctx, tx, p.UserID); err != nil {
			return err
		}

		_, err := db.findActiveProperty(ctx, tx, p.UserID, p.PropertyID)
		switch {
		case err == nil:
			return repository.ErrDuplicate
		case !errors.Is(err, apperror.ErrNotFound):
			return err
		}

		if limit > 0 {
			n, err := db.countActive(ctx, tx, "ga4_properties", p.UserID)
			if err != nil {
				return err
			}
			if n >= limit {
				return repository.ErrLimitReached
			}
		}

		id, err := db.insert(ctx, tx,
			`INSERT INTO ga4_properties
			   (user_id, property_id, property_name, website_url, is_default, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, TRUE, ?, ?)`,
			p.UserID, p.PropertyID, p.PropertyName, p.WebsiteURL, p.IsDefault, now, now,
		)
		if err != nil {
			return fmt.Errorf("sqlstore: inserting property %s: %w", p.PropertyID, err)
		}
		p.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	p.IsActive = true
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// DeactivateProperty soft-deletes one of the user's active properties.
// A deactivated property also loses its default flag.
func (db *DB) DeactivateProperty(ctx context.Context, userID, id int64) error {
	res, err := db.exec(ctx, db.conn,
		`UPDATE ga4_properties SET is_active = FALSE, is_default = FALSE, updated_at = ?
		 WHERE id = ? AND user_id = ? AND is_active = TRUE`,
		db.timestamp(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: deactivating property %d: %w", id, err)
	}
	return requireAffected(res, "property", id)
}

// SetDefaultProperty makes id the user's only default property.
func (db *DB) SetDefaultProperty(ctx context.Context, userID, id int64) error {
	now := db.timestamp()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := db.queryRow(ctx, tx,
			`SELECT COUNT(*) FROM ga4_properties WHERE id = ? AND user_id = ? AND is_active = TRUE`,
			id, userID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking property: %w", err)
		}
		if exists == 0 {
			return apperror.NotFound("property", strconv.FormatInt(id, 10))
		}

		if _, err := db.exec(ctx, tx,
			`UPDATE ga4_properties SET is_default = FALSE, updated_at = ?
			 WHERE user_id = ? AND is_default = TRUE`,
			now, userID,
		); err != nil {
			return fmt.Errorf("clearing default: %w", err)
		}
		if _, err := db.exec(ctx, tx,
			`UPDATE ga4_properties SET is_default = TRUE, updated_at = ? WHERE id = ?`,
			now, id,
		); err != nil {
			return fmt.Errorf("setting default: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlstore: setting default property %d: %w", id, err)
	}
	return nil
}

func (db *DB) SyncDiscoveredProperties(ctx context.Context, userID int64, found []model.DiscoveredProperty) error {
	now := db.timestamp()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx,
			`UPDATE ga4_properties SET is_active = FALSE, updated_at = ? WHERE user_id = ?`,
			now, userID,
		); err != nil {
			return fmt.Errorf("deactivating properties: %w", err)
		}

		var firstID int64
		for i, d := range found {
			var id int64
			err := db.queryRow(ctx, tx,
				`SELECT id FROM ga4_properties WHERE user_id = ? AND property_id = ? ORDER BY id LIMIT 1`,
				userID, d.PropertyID,
			).Scan(&id)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				id, err = db.insert(ctx, tx,
					`INSERT INTO ga4_properties
					   (user_id, property_id, property_name, website_url, is_default, is_active, created_at, updated_at)
					 VALUES (?, ?, ?, '', FALSE, TRUE, ?, ?)`,
					userID, d.PropertyID, d.DisplayName, now, now,
				)
				if err != nil {
					return fmt.Errorf("inserting property %s: %w", d.PropertyID, err)
				}
			case err != nil:
				return fmt.Errorf("looking up property %s: %w", d.PropertyID, err)
			default:
				if _, err := db.exec(ctx, tx,
					`UPDATE ga4_properties SET is_active = TRUE, property_name = ?, updated_at = ? WHERE id = ?`,
					d.DisplayName, now, id,
				); err != nil {
					return fmt.Errorf("reactivating property %s: %w", d.PropertyID, err)
				}
			}
			if i == 0 {
				firstID = id
			}
		}
		if firstID == 0 {
			return nil
		}

		var defaults int
		if err := db.queryRow(ctx, tx,
			`SELECT COUNT(*) FROM ga4_properties WHERE user_id = ? AND is_active = TRUE AND is_default = TRUE`,
			userID,
		).Scan(&defaults); err != nil {
			return fmt.Errorf("counting defaults: %w", err)
		}
		if defaults > 0 {
			return nil
		}
		if _, err := db.exec(ctx, tx,
			`UPDATE ga4_properties SET is_default = FALSE WHERE user_id = ?`, userID,
		); err != nil {
			return fmt.Errorf("clearing stale defaults: %w", err)
		}
		if _, err := db.exec(ctx, tx,
			`UPDATE ga4_properties SET is_default = TRUE, updated_at = ? WHERE id = ?`, now, firstID,
		); err != nil {
			return fmt.Errorf("setting default: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlstore: syncing properties for user %d: %w", userID, err)
	}
	return nil
}

func requireAffected(res sql.Result, resource string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, strconv.FormatInt(id, 10))
	}
	return nil
}
