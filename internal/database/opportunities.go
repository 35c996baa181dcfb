package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

const opportunityColumns = `id, identity_key, title, COALESCE(description, ''), COALESCE(url, ''),
	COALESCE(agency, ''), COALESCE(category, ''), COALESCE(source, ''), COALESCE(commodity_code, ''),
	COALESCE(summary, ''), COALESCE(rationale, ''), COALESCE(score, 0), COALESCE(rule_score, 0),
	COALESCE(external_score, 0), COALESCE(posted_date, ''), COALESCE(due_date, ''),
	COALESCE(created_at, ''), COALESCE(updated_at, '')`

// IdentityKey derives the dedup key of a notice. Each part is trimmed,
// lowercased and whitespace-collapsed; empty parts get a placeholder so the
// key is always well-formed.
func IdentityKey(title, agency, posted string) string {
	return strings.Join([]string{
		keyPart(title, "untitled"),
		keyPart(agency, "unknown-agency"),
		keyPart(posted, "undated"),
	}, "|")
}

func keyPart(s, fallback string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if s == "" {
		return fallback
	}
	return s
}

// changedColumns is true in an upsert when the incoming row differs from the
// stored one in any column the update writes.
var changedColumns = func() string {
	cols := []string{"title", "description", "agency", "category", "source", "commodity_code",
		"summary", "rationale", "score", "rule_score", "external_score", "posted_date", "due_date"}
	conds := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		conds = append(conds, fmt.Sprintf("opportunities.%s IS NOT excluded.%s", c, c))
	}
	conds = append(conds, "(excluded.url <> '' AND opportunities.url IS NOT excluded.url)")
	return "(" + strings.Join(conds, " OR ") + ")"
}()

func defaultTitle(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return "Untitled"
}

// UpsertOpportunity inserts o or updates the row with the same identity key.
// An empty incoming URL keeps the stored one, created_at is never changed and
// updated_at moves only when a stored value does.
// It reports whether a new row was created.
func (db *DB) UpsertOpportunity(ctx context.Context, o Opportunity) (bool, error) {
	if o.IdentityKey == "" {
		o.IdentityKey = IdentityKey(o.Title, o.Agency, o.PostedDate)
	}
	o.Title = defaultTitle(o.Title)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM opportunities WHERE identity_key = ?", o.IdentityKey,
	).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", o.IdentityKey, err)
	}

	now := db.timestamp()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO opportunities
			(identity_key, title, description, url, agency, category, source, commodity_code,
			 summary, rationale, score, rule_score, external_score, posted_date, due_date,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_key) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			url = CASE WHEN excluded.url <> '' THEN excluded.url ELSE opportunities.url END,
			agency = excluded.agency,
			category = excluded.category,
			source = excluded.source,
			commodity_code = excluded.commodity_code,
			summary = excluded.summary,
			rationale = excluded.rationale,
			score = excluded.score,
			rule_score = excluded.rule_score,
			external_score = excluded.external_score,
			posted_date = excluded.posted_date,
			due_date = excluded.due_date,
			updated_at = CASE WHEN `+changedColumns+` THEN excluded.updated_at ELSE opportunities.updated_at END`,
		o.IdentityKey, o.Title, o.Description, o.URL, o.Agency, o.Category, o.Source, o.CommodityCode,
		o.Summary, o.Rationale, o.Score, o.RuleScore, o.ExternalScore, o.PostedDate, o.DueDate,
		now, now,
	)
	if err != nil {
		return false, fmt.Errorf("upserting %s: %w", o.IdentityKey, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return existing == 0, nil
}

func (q Query) where() sq.And {
	var conds sq.And
	if s := strings.TrimSpace(q.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		conds = append(conds, sq.Or{
			sq.Like{"lower(title)": pattern},
			sq.Like{"lower(description)": pattern},
			sq.Like{"lower(agency)": pattern},
			sq.Like{"lower(summary)": pattern},
		})
	}
	if q.OpenOnly {
		conds = append(conds, sq.Or{
			sq.Eq{"due_date": nil},
			sq.Eq{"due_date": ""},
			sq.GtOrEq{"due_date": q.Today},
		})
	}
	return conds
}

// ListOpportunities returns stored opportunities, best score first.
func (db *DB) ListOpportunities(ctx context.Context, q Query) ([]Opportunity, error) {
	b := sq.Select(opportunityColumns).
		From("opportunities").
		Where(q.where()).
		OrderBy("score DESC", "posted_date DESC", "id ASC")
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	} else if q.Offset > 0 {
		b = b.Limit(math.MaxInt64)
	}
	if q.Offset > 0 {
		b = b.Offset(uint64(q.Offset))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing opportunities: %w", err)
	}
	defer rows.Close()

	var out []Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountOpportunities counts rows matching q, ignoring Limit and Offset.
func (db *DB) CountOpportunities(ctx context.Context, q Query) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("opportunities").Where(q.where()).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting opportunities: %w", err)
	}
	return n, nil
}

// GetOpportunityByKey returns the row for key, or nil if there is none.
func (db *DB) GetOpportunityByKey(ctx context.Context, key string) (*Opportunity, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+opportunityColumns+" FROM opportunities WHERE identity_key = ?", key)
	o, err := scanOpportunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(s scanner) (Opportunity, error) {
	var o Opportunity
	err := s.Scan(&o.ID, &o.IdentityKey, &o.Title, &o.Description, &o.URL,
		&o.Agency, &o.Category, &o.Source, &o.CommodityCode,
		&o.Summary, &o.Rationale, &o.Score, &o.RuleScore,
		&o.ExternalScore, &o.PostedDate, &o.DueDate,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("scanning opportunity: %w", err)
	}
	return o, err
}
