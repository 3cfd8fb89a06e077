package data

import (
	"context"
	"fmt"
	"strings"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/rules"
)

// =============================================================================
// FORM OPTIONS
// =============================================================================

// FormOption is one admin-managed dropdown entry.
type FormOption struct {
	ID           int64           `json:"id"`
	Set          rules.OptionSet `json:"set"`
	Name         string          `json:"name"`
	Active       bool            `json:"active"`
	DisplayOrder int             `json:"displayOrder"`
}

// ListOptions returns the entries of set ordered by display order then name.
func (s *Store) ListOptions(ctx context.Context, set rules.OptionSet, activeOnly bool) ([]FormOption, error) {
	query := `SELECT id, option_set, name, active, display_order FROM form_options WHERE option_set = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY display_order, name`

	rows, cancel, err := s.query(ctx, query, string(set))
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer rows.Close()

	var out []FormOption
	for rows.Next() {
		var opt FormOption
		var setName string
		if err := rows.Scan(&opt.ID, &setName, &opt.Name, &opt.Active, &opt.DisplayOrder); err != nil {
			return nil, fmt.Errorf("failed to scan form option: %w", err)
		}
		opt.Set = rules.OptionSet(setName)
		out = append(out, opt)
	}
	return out, rows.Err()
}

// OptionNames returns the active names of set in display order.
func (s *Store) OptionNames(ctx context.Context, set rules.OptionSet) ([]string, error) {
	ctx, span := tracer.Start(ctx, "data.OptionNames")
	defer span.End()

	opts, err := s.ListOptions(ctx, set, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	names := make([]string, len(opts))
	for i, o := range opts {
		names[i] = o.Name
	}
	return names, nil
}

// CreateOption adds an entry. Names are unique within a set.
func (s *Store) CreateOption(ctx context.Context, opt FormOption) (FormOption, error) {
	opt.Name = strings.TrimSpace(opt.Name)
	if opt.Name == "" {
		return FormOption{}, apperrors.Validation(map[string]string{"name": "Name is required"})
	}

	const stmt = `INSERT INTO form_options (option_set, name, active, display_order) VALUES (?, ?, ?, ?)`
	result, err := s.exec(ctx, stmt, string(opt.Set), opt.Name, opt.Active, opt.DisplayOrder)
	if err != nil {
		if isUniqueViolation(err) {
			return FormOption{}, fmt.Errorf("option %q in %s: %w", opt.Name, opt.Set, ErrConflict)
		}
		return FormOption{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return FormOption{}, err
	}
	opt.ID = id
	return opt, nil
}

// UpdateOption replaces name, active flag and display order of an entry.
func (s *Store) UpdateOption(ctx context.Context, opt FormOption) (FormOption, error) {
	opt.Name = strings.TrimSpace(opt.Name)
	if opt.Name == "" {
		return FormOption{}, apperrors.Validation(map[string]string{"name": "Name is required"})
	}

	const stmt = `UPDATE form_options SET name = ?, active = ?, display_order = ? WHERE id = ? AND option_set = ?`
	result, err := s.exec(ctx, stmt, opt.Name, opt.Active, opt.DisplayOrder, opt.ID, string(opt.Set))
	if err != nil {
		if isUniqueViolation(err) {
			return FormOption{}, fmt.Errorf("option %q in %s: %w", opt.Name, opt.Set, ErrConflict)
		}
		return FormOption{}, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return FormOption{}, err
	}
	if n == 0 {
		return FormOption{}, fmt.Errorf("option %d in %s: %w", opt.ID, opt.Set, ErrNotFound)
	}
	return opt, nil
}

// SeedOptions fills every set that has no entries yet with the given names.
// It returns the number of entries inserted.
func (s *Store) SeedOptions(ctx context.Context, sets rules.OptionSets) (int, error) {
	inserted := 0
	for _, set := range rules.AllOptionSets() {
		existing, err := s.ListOptions(ctx, set, false)
		if err != nil {
			return inserted, err
		}
		if len(existing) > 0 {
			continue
		}
		for i, name := range sets[set] {
			_, err := s.CreateOption(ctx, FormOption{Set: set, Name: name, Active: true, DisplayOrder: (i + 1) * 10})
			if err != nil {
				return inserted, fmt.Errorf("seed %s option %q: %w", set, name, err)
			}
			inserted++
		}
	}
	return inserted, nil
}
