package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"interactionlog/internal/rules"
)

// =============================================================================
// INTERACTION RECORDS
// =============================================================================

const interactionColumns = `id, staff_name, channel, other_channel, branch, category, other_category,
	purchased, out_of_stock, wanted_item, created_at`

// InteractionQuery selects a page of interactions. Where and Args come from
// a parsed admin filter and may be empty.
type InteractionQuery struct {
	Where  string
	Args   []any
	Limit  int
	Offset int
}

// InsertInteraction stores a validated record. The id and timestamp are
// assigned here when the record does not carry them yet.
func (s *Store) InsertInteraction(ctx context.Context, rec rules.InteractionRecord) (rules.InteractionRecord, error) {
	ctx, span := tracer.Start(ctx, "data.InsertInteraction")
	defer span.End()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	span.SetAttributes(attribute.String("interaction.id", rec.ID))

	const stmt = `INSERT INTO interactions (` + interactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, stmt,
		rec.ID, rec.StaffName, rec.Channel, nullableString(rec.OtherChannel), nullableString(rec.Branch),
		rec.Category, nullableString(rec.OtherCategory), nullableBool(rec.Purchased),
		nullableBool(rec.OutOfStock), rec.WantedItem, formatTime(rec.Timestamp),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		if isUniqueViolation(err) {
			return rules.InteractionRecord{}, fmt.Errorf("interaction %s: %w", rec.ID, ErrConflict)
		}
		return rules.InteractionRecord{}, fmt.Errorf("failed to insert interaction: %w", err)
	}
	return rec, nil
}

// GetInteraction loads one record by id.
func (s *Store) GetInteraction(ctx context.Context, id string) (rules.InteractionRecord, error) {
	rows, cancel, err := s.query(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	if err != nil {
		return rules.InteractionRecord{}, err
	}
	defer cancel()
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return rules.InteractionRecord{}, err
		}
		return rules.InteractionRecord{}, fmt.Errorf("interaction %s: %w", id, ErrNotFound)
	}
	return scanInteraction(rows)
}

// ListInteractions returns matching records, newest first.
func (s *Store) ListInteractions(ctx context.Context, q InteractionQuery) ([]rules.InteractionRecord, error) {
	ctx, span := tracer.Start(ctx, "data.ListInteractions")
	defer span.End()

	var b strings.Builder
	b.WriteString(`SELECT ` + interactionColumns + ` FROM interactions`)
	args := append([]any(nil), q.Args...)
	if q.Where != "" {
		b.WriteString(" WHERE " + q.Where)
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.Limit, q.Offset)
	}

	var out []rules.InteractionRecord
	err := s.eachRow(ctx, b.String(), args, func(rec rules.InteractionRecord) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	return out, nil
}

// EachInteraction streams every matching record, newest first, to fn.
// Iteration stops at the first error fn returns.
func (s *Store) EachInteraction(ctx context.Context, where string, args []any, fn func(rules.InteractionRecord) error) error {
	query := `SELECT ` + interactionColumns + ` FROM interactions`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC, id DESC"
	return s.eachRow(ctx, query, args, fn)
}

// CountInteractions counts matching records.
func (s *Store) CountInteractions(ctx context.Context, where string, args []any) (int, error) {
	query := `SELECT COUNT(*) FROM interactions`
	if where != "" {
		query += " WHERE " + where
	}
	rows, cancel, err := s.query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer rows.Close()

	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// DeleteInteractionsBefore removes at most limit records older than cutoff.
// It is only used by the retention job; the form pipeline never deletes.
func (s *Store) DeleteInteractionsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	const stmt = `
		DELETE FROM interactions
		WHERE id IN (
			SELECT id FROM interactions
			WHERE created_at < ?
			ORDER BY created_at
			LIMIT ?
		)`

	result, err := s.exec(ctx, stmt, cutoff, limit)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// =============================================================================
// SCANNING
// =============================================================================

func (s *Store) eachRow(ctx context.Context, query string, args []any, fn func(rules.InteractionRecord) error) error {
	rows, cancel, err := s.query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer cancel()
	defer rows.Close()

	for rows.Next() {
		rec, err := scanInteraction(rows)
		if err != nil {
			return fmt.Errorf("failed to scan interaction row: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanInteraction(rows *sql.Rows) (rules.InteractionRecord, error) {
	var rec rules.InteractionRecord
	var otherChannel, branch, otherCategory sql.NullString
	var purchased, outOfStock sql.NullBool
	var createdAt string

	err := rows.Scan(
		&rec.ID, &rec.StaffName, &rec.Channel, &otherChannel, &branch, &rec.Category,
		&otherCategory, &purchased, &outOfStock, &rec.WantedItem, &createdAt,
	)
	if err != nil {
		return rules.InteractionRecord{}, err
	}

	rec.OtherChannel = otherChannel.String
	rec.Branch = branch.String
	rec.OtherCategory = otherCategory.String
	if purchased.Valid {
		rec.Purchased = rules.BoolPtr(purchased.Bool)
	}
	if outOfStock.Valid {
		rec.OutOfStock = rules.BoolPtr(outOfStock.Bool)
	}

	ts, err := parseTime(createdAt)
	if err != nil {
		return rules.InteractionRecord{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	rec.Timestamp = ts.UTC()
	return rec, nil
}
