package sqlstore

import (
	"fmt"
	"strings"
)

// schema is expanded per dialect: {{ID}} becomes the auto-increment primary
// key and {{TIME}} the timestamp column type.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         {{ID}},
		email      TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL DEFAULT '',
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{TIME}} NOT NULL,
		updated_at {{TIME}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_tokens (
		id            {{ID}},
		user_id       BIGINT NOT NULL REFERENCES users(id),
		access_token  TEXT NOT NULL,
		refresh_token TEXT,
		expires_at    {{TIME}} NOT NULL,
		scope         TEXT NOT NULL DEFAULT '',
		token_type    TEXT NOT NULL DEFAULT 'Bearer',
		is_revoked    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    {{TIME}} NOT NULL,
		updated_at    {{TIME}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_access_token ON oauth_tokens(access_token)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_user_id ON oauth_tokens(user_id)`,
	`CREATE TABLE IF NOT EXISTS ga4_properties (
		id            {{ID}},
		user_id       BIGINT NOT NULL REFERENCES users(id),
		property_id   TEXT NOT NULL,
		property_name TEXT NOT NULL DEFAULT '',
		website_url   TEXT NOT NULL DEFAULT '',
		is_default    BOOLEAN NOT NULL DEFAULT FALSE,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    {{TIME}} NOT NULL,
		updated_at    {{TIME}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ga4_properties_user_id ON ga4_properties(user_id)`,
	`CREATE TABLE IF NOT EXISTS user_api_keys (
		id          {{ID}},
		user_id     BIGINT NOT NULL REFERENCES users(id),
		property_id BIGINT REFERENCES ga4_properties(id),
		key_name    TEXT NOT NULL,
		api_key     TEXT NOT NULL UNIQUE,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  {{TIME}} NOT NULL,
		updated_at  {{TIME}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_api_keys_user_id ON user_api_keys(user_id)`,
	`CREATE TABLE IF NOT EXISTS api_usage_logs (
		id               {{ID}},
		user_id          BIGINT REFERENCES users(id),
		caller           TEXT NOT NULL DEFAULT '',
		endpoint         TEXT NOT NULL,
		method           TEXT NOT NULL,
		status_code      INTEGER NOT NULL,
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		user_agent       TEXT NOT NULL DEFAULT '',
		ip_address       TEXT NOT NULL DEFAULT '',
		error_message    TEXT NOT NULL DEFAULT '',
		created_at       {{TIME}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_usage_logs_created_at ON api_usage_logs(created_at)`,
}

// columns added after the first release; addColumnIfNotExists keeps
// older databases working.
var addedColumns = []struct{ table, column, definition string }{
	{"user_api_keys", "description", "TEXT NOT NULL DEFAULT ''"},
	{"user_api_keys", "last_used_at", "{{TIME}}"},
}

func (db *DB) expand(stmt string) string {
	return strings.NewReplacer(
		"{{ID}}", db.dialect.idType,
		"{{TIME}}", db.dialect.timeType,
	).Replace(stmt)
}

func (db *DB) migrate() error {
	for _, stmt := range schema {
		if _, err := db.conn.Exec(db.expand(stmt)); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	for _, c := range addedColumns {
		if err := db.addColumnIfNotExists(c.table, c.column, db.expand(c.definition)); err != nil {
			return fmt.Errorf("adding %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

// addColumnIfNotExists makes ALTER TABLE ADD COLUMN idempotent.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var lookup string
	switch db.dialect.name {
	case "postgres":
		lookup = `SELECT COUNT(*) FROM information_schema.columns
		          WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?`
	default:
		lookup = `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	}

	var count int
	if err := db.conn.QueryRow(db.rebind(lookup), table, column).Scan(&count); err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err := db.conn.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition))
	return err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
