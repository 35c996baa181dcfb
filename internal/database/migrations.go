package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS opportunities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    identity_key TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    description TEXT DEFAULT '',
    url TEXT DEFAULT '',
    agency TEXT DEFAULT '',
    category TEXT DEFAULT '',
    summary TEXT DEFAULT '',
    score REAL DEFAULT 0,
    posted_date TEXT DEFAULT '',
    due_date TEXT DEFAULT '',
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_opportunities_score ON opportunities(score DESC, posted_date DESC);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "run log, source and scoring detail columns",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    fetched INTEGER DEFAULT 0,
    kept INTEGER DEFAULT 0,
    ingested INTEGER DEFAULT 0,
    created INTEGER DEFAULT 0,
    updated INTEGER DEFAULT 0,
    error_count INTEGER DEFAULT 0,
    message TEXT DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`); err != nil {
				return err
			}
			for _, col := range []struct{ name, def string }{
				{"source", "TEXT DEFAULT ''"},
				{"commodity_code", "TEXT DEFAULT ''"},
				{"rule_score", "REAL DEFAULT 0"},
				{"external_score", "REAL DEFAULT 0"},
				{"rationale", "TEXT DEFAULT ''"},
			} {
				if err := addColumn(tx, "opportunities", col.name, col.def); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "import legacy rfps rows",
		Up:          importLegacyRFPs,
	},
}

// addColumn adds a column unless it already exists.
func addColumn(tx *sql.Tx, table, column, def string) error {
	ok, err := hasColumn(tx, table, column)
	if err != nil || ok {
		return err
	}
	_, err = tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, def))
	if err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

// importLegacyRFPs copies rows of the pre-versioning rfps table. The old
// table carries no dates, so every imported key is undated. Existing keys are
// left alone.
func importLegacyRFPs(tx *sql.Tx) error {
	ok, err := tableExists(tx, "rfps")
	if err != nil || !ok {
		return err
	}

	rows, err := tx.Query(`SELECT COALESCE(title, ''), COALESCE(description, ''), COALESCE(url, ''),
		COALESCE(agency, ''), COALESCE(category, ''), COALESCE(summary, ''), COALESCE(score, 0)
		FROM rfps ORDER BY id`)
	if err != nil {
		return fmt.Errorf("reading rfps: %w", err)
	}
	var legacy []Opportunity
	for rows.Next() {
		var o Opportunity
		if err := rows.Scan(&o.Title, &o.Description, &o.URL, &o.Agency, &o.Category, &o.Summary, &o.Score); err != nil {
			rows.Close()
			return err
		}
		legacy = append(legacy, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	imported := 0
	for _, o := range legacy {
		res, err := tx.Exec(`INSERT INTO opportunities
			(identity_key, title, description, url, agency, category, summary, score, rule_score, source, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'legacy', ?, ?)
			ON CONFLICT(identity_key) DO NOTHING`,
			IdentityKey(o.Title, o.Agency, ""), defaultTitle(o.Title), o.Description, o.URL, o.Agency,
			o.Category, o.Summary, o.Score, o.Score, now, now)
		if err != nil {
			return fmt.Errorf("importing rfp %q: %w", o.Title, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}
	log.Printf("imported %d of %d legacy rfps rows", imported, len(legacy))
	return nil
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
