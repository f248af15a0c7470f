package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// NewConnection opens (and creates if needed) the local cache database.
// The agent is the only writer, so a single connection avoids SQLITE_BUSY
// races between the poll loop and the HTTP handlers.
func NewConnection(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// InitSchema creates the cache tables when they do not exist yet. The
// column set mirrors the upstream tables, plus the local-only print
// tracking columns on "order" which never leave this database.
func InitSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS company (
			company_id INTEGER PRIMARY KEY,
			company_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS menu_category (
			menu_category_id INTEGER PRIMARY KEY,
			category_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS menu_item (
			menu_item_id INTEGER PRIMARY KEY,
			menu_category_id INTEGER,
			menu_item_name TEXT NOT NULL DEFAULT '',
			price INTEGER NOT NULL DEFAULT 0,
			is_available INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS option_group (
			option_group_id INTEGER PRIMARY KEY,
			option_group_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS menu_item_option_group (
			menu_item_id INTEGER NOT NULL,
			option_group_id INTEGER NOT NULL,
			PRIMARY KEY (menu_item_id, option_group_id)
		)`,
		`CREATE TABLE IF NOT EXISTS option_item (
			option_item_id INTEGER PRIMARY KEY,
			option_item_name TEXT NOT NULL DEFAULT '',
			price INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS option_group_item (
			option_group_id INTEGER NOT NULL,
			option_item_id INTEGER NOT NULL,
			PRIMARY KEY (option_group_id, option_item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS "order" (
			order_id INTEGER PRIMARY KEY,
			company_id INTEGER,
			company_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT '',
			is_dine_in INTEGER NOT NULL DEFAULT 1,
			total_price INTEGER NOT NULL DEFAULT 0,
			is_printed INTEGER NOT NULL DEFAULT 0,
			print_status TEXT NOT NULL DEFAULT 'NEW',
			print_attempts INTEGER NOT NULL DEFAULT 0,
			last_print_attempt TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS order_item (
			order_item_id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id INTEGER NOT NULL,
			item_name TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL DEFAULT 1,
			unit_price INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS order_item_option (
			order_item_option_id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_item_id INTEGER NOT NULL,
			option_name TEXT NOT NULL DEFAULT '',
			option_price INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS cache_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_print_status ON "order" (print_status)`,
		`CREATE INDEX IF NOT EXISTS idx_order_item_order_id ON order_item (order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_item_option_item_id ON order_item_option (order_item_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}
