package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/sellerhub/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// InitDB opens the sqlite database and bootstraps the schema. The returned
// handle is also stored in the package-level DB for the rest of the app.
func InitDB(databasePath string) *sql.DB {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// races between concurrent ingest transactions.
	db.SetMaxOpenConns(1)

	DB = db

	if logger.L != nil {
		logger.L.Info("Ensuring database schema", "databasePath", databasePath)
	} else {
		stdlog.Println("Ensuring database schema for:", databasePath)
	}

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS sale_facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seller_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		item_id TEXT,
		title TEXT,
		category TEXT NOT NULL DEFAULT 'uncategorized',
		list_price_cents INTEGER NOT NULL DEFAULT 0,
		sale_price_cents INTEGER NOT NULL DEFAULT 0,
		fees_cents INTEGER NOT NULL DEFAULT 0,
		listed_at TEXT NOT NULL,
		sold_at TEXT,
		status TEXT NOT NULL,
		source_upload_id TEXT NOT NULL,
		ingested_at TIMESTAMP NOT NULL,
		UNIQUE(seller_id, order_id)
	);

	CREATE INDEX IF NOT EXISTS idx_sale_facts_seller_sold_at
		ON sale_facts(seller_id, sold_at);

	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		filename TEXT,
		accepted INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		inserted INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		unchanged INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err = DB.Exec(createTableStatement); err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}

	migrateSaleFactsTable()

	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
	return db
}

// migrateSaleFactsTable adds columns introduced after the first release to
// databases created before them.
func migrateSaleFactsTable() {
	rows, err := DB.Query("PRAGMA table_info(sale_facts)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'sale_facts'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'sale_facts': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'sale_facts'", "error", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'sale_facts'", "error", err)
		}
		return
	}

	if _, ok := columnExists["title"]; !ok {
		if _, err := DB.Exec("ALTER TABLE sale_facts ADD COLUMN title TEXT"); err != nil {
			logger.L.Error("Error adding 'title' column to 'sale_facts' table", "error", err)
		} else {
			logger.L.Info("Added 'title' column to 'sale_facts' table")
		}
	}
	if _, ok := columnExists["item_id"]; !ok {
		if _, err := DB.Exec("ALTER TABLE sale_facts ADD COLUMN item_id TEXT"); err != nil {
			logger.L.Error("Error adding 'item_id' column to 'sale_facts' table", "error", err)
		} else {
			logger.L.Info("Added 'item_id' column to 'sale_facts' table")
		}
	}
}
