package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/contextual-book-translator/internal/book"
)

// UnitWriter is the set of writes a worker performs for one unit. Both the
// store and a transaction implement it.
type UnitWriter interface {
	SetUnitStatus(ctx context.Context, unitID int64, status book.UnitStatus) error
	SetUnitDirty(ctx context.Context, unitID int64, dirty bool) error
	UpsertBlockTranslation(ctx context.Context, bt *book.BlockTranslation) error
	AdvanceCursor(ctx context.Context, groupID int64, position int) (int, error)
	SetGroupContext(ctx context.Context, groupID int64, summary string) error
	SetGroupStatus(ctx context.Context, groupID int64, status book.GroupStatus) error
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (q *queries) SetUnitStatus(ctx context.Context, unitID int64, status book.UnitStatus) error {
	res, err := q.db.ExecContext(ctx, `UPDATE translation_units SET status = ? WHERE id = ?`, string(status), unitID)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("unit %d", unitID))
}

func (q *queries) SetUnitDirty(ctx context.Context, unitID int64, dirty bool) error {
	res, err := q.db.ExecContext(ctx, `UPDATE translation_units SET dirty = ? WHERE id = ?`, boolToInt(dirty), unitID)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("unit %d", unitID))
}

// UpsertBlockTranslation writes the result for (run, unit); a second write
// for the same pair replaces the first.
func (q *queries) UpsertBlockTranslation(ctx context.Context, bt *book.BlockTranslation) error {
	if bt == nil {
		return fmt.Errorf("block translation is nil")
	}
	updatedAt := bt.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(
		ctx,
		`INSERT INTO block_translations (
			run_id, unit_id, translated_text, translated_markup, status, raw_response, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, unit_id) DO UPDATE SET
			translated_text=excluded.translated_text,
			translated_markup=excluded.translated_markup,
			status=excluded.status,
			raw_response=excluded.raw_response,
			updated_at=excluded.updated_at`,
		bt.RunID,
		bt.UnitID,
		bt.TranslatedText,
		bt.TranslatedMarkup,
		string(bt.Status),
		bt.RawResponse,
		updatedAt,
	)
	return err
}

// AdvanceCursor moves the group cursor past position and returns the
// stored value. The cursor never moves backwards or past unit_count.
func (q *queries) AdvanceCursor(ctx context.Context, groupID int64, position int) (int, error) {
	res, err := q.db.ExecContext(
		ctx,
		`UPDATE translation_groups
		 SET cursor = MIN(MAX(cursor, ? + 1), unit_count), updated_at = ?
		 WHERE id = ?`,
		position,
		time.Now().UTC(),
		groupID,
	)
	if err != nil {
		return 0, err
	}
	if err := expectRow(res, fmt.Sprintf("group %d", groupID)); err != nil {
		return 0, err
	}
	var cursor int
	if err := q.db.QueryRowContext(ctx, `SELECT cursor FROM translation_groups WHERE id = ?`, groupID).Scan(&cursor); err != nil {
		return 0, err
	}
	return cursor, nil
}

func (q *queries) SetGroupContext(ctx context.Context, groupID int64, summary string) error {
	res, err := q.db.ExecContext(
		ctx,
		`UPDATE translation_groups SET context_summary = ?, updated_at = ? WHERE id = ?`,
		summary,
		time.Now().UTC(),
		groupID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("group %d", groupID))
}

func (q *queries) SetGroupStatus(ctx context.Context, groupID int64, status book.GroupStatus) error {
	res, err := q.db.ExecContext(
		ctx,
		`UPDATE translation_groups SET status = ?, updated_at = ? WHERE id = ?`,
		string(status),
		time.Now().UTC(),
		groupID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("group %d", groupID))
}

const groupColumns = `id, project_id, group_key, position, cursor, unit_count, status, context_summary, updated_at`

func scanGroup(row scanner) (*book.Group, error) {
	var g book.Group
	var status string
	if err := row.Scan(
		&g.ID,
		&g.ProjectID,
		&g.GroupKey,
		&g.Position,
		&g.Cursor,
		&g.UnitCount,
		&status,
		&g.ContextSummary,
		&g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	g.Status = book.GroupStatus(status)
	return &g, nil
}

const unitColumns = `id, group_id, unit_key, position, raw_markup, protected_text, placeholder_map,
	tagged_text, semantic_index, content_hash, status, dirty`

func scanUnit(row scanner) (*book.Unit, error) {
	var u book.Unit
	var placeholderJSON, semanticJSON, status string
	var dirty int
	if err := row.Scan(
		&u.ID,
		&u.GroupID,
		&u.UnitKey,
		&u.Position,
		&u.RawMarkup,
		&u.ProtectedText,
		&placeholderJSON,
		&u.TaggedText,
		&semanticJSON,
		&u.ContentHash,
		&status,
		&dirty,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(placeholderJSON), &u.PlaceholderMap); err != nil {
		return nil, fmt.Errorf("decode placeholder map of unit %d: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(semanticJSON), &u.SemanticIndex); err != nil {
		return nil, fmt.Errorf("decode semantic index of unit %d: %w", u.ID, err)
	}
	u.Status = book.UnitStatus(status)
	u.Dirty = dirty == 1
	return &u, nil
}

func (q *queries) GetGroup(ctx context.Context, groupID int64) (*book.Group, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM translation_groups WHERE id = ?`, groupID)
	g, err := scanGroup(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("group %d", groupID))
	}
	return g, nil
}

func (q *queries) ListGroups(ctx context.Context, projectID string) ([]*book.Group, error) {
	rows, err := q.db.QueryContext(
		ctx,
		`SELECT `+groupColumns+` FROM translation_groups WHERE project_id = ? ORDER BY position ASC`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*book.Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, g)
	}
	return ret, rows.Err()
}

func (q *queries) queryUnits(ctx context.Context, query string, args ...any) ([]*book.Unit, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*book.Unit, 0)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, u)
	}
	return ret, rows.Err()
}

// FetchPendingUnits returns up to limit pending-like units at or after
// cursor, lowest position first.
func (q *queries) FetchPendingUnits(ctx context.Context, groupID int64, cursor, limit int) ([]*book.Unit, error) {
	if limit <= 0 {
		limit = 1
	}
	placeholders := make([]string, len(book.PendingLike))
	args := []any{groupID, cursor}
	for i, st := range book.PendingLike {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	args = append(args, limit)
	return q.queryUnits(
		ctx,
		`SELECT `+unitColumns+` FROM translation_units
		 WHERE group_id = ? AND position >= ? AND status IN (`+strings.Join(placeholders, ", ")+`)
		 ORDER BY position ASC
		 LIMIT ?`,
		args...,
	)
}

func (q *queries) ListDirtyUnits(ctx context.Context, groupID int64, limit int) ([]*book.Unit, error) {
	if limit <= 0 {
		limit = -1
	}
	return q.queryUnits(
		ctx,
		`SELECT `+unitColumns+` FROM translation_units
		 WHERE group_id = ? AND dirty = 1
		 ORDER BY position ASC
		 LIMIT ?`,
		groupID,
		limit,
	)
}

func (q *queries) ListUnits(ctx context.Context, groupID int64) ([]*book.Unit, error) {
	return q.queryUnits(
		ctx,
		`SELECT `+unitColumns+` FROM translation_units WHERE group_id = ? ORDER BY position ASC`,
		groupID,
	)
}

func (q *queries) GetUnit(ctx context.Context, unitID int64) (*book.Unit, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM translation_units WHERE id = ?`, unitID)
	u, err := scanUnit(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("unit %d", unitID))
	}
	return u, nil
}

// ListBlockTranslations returns the results of a run for one group keyed by
// unit id.
func (q *queries) ListBlockTranslations(ctx context.Context, runID string, groupID int64) (map[int64]*book.BlockTranslation, error) {
	rows, err := q.db.QueryContext(
		ctx,
		`SELECT bt.run_id, bt.unit_id, bt.translated_text, bt.translated_markup, bt.status, bt.raw_response, bt.updated_at
		 FROM block_translations bt
		 JOIN translation_units u ON u.id = bt.unit_id
		 WHERE bt.run_id = ? AND u.group_id = ?`,
		runID,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[int64]*book.BlockTranslation)
	for rows.Next() {
		var bt book.BlockTranslation
		var status string
		if err := rows.Scan(
			&bt.RunID,
			&bt.UnitID,
			&bt.TranslatedText,
			&bt.TranslatedMarkup,
			&status,
			&bt.RawResponse,
			&bt.UpdatedAt,
		); err != nil {
			return nil, err
		}
		bt.Status = book.BlockStatus(status)
		ret[bt.UnitID] = &bt
	}
	return ret, rows.Err()
}
