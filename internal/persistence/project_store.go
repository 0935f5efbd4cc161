package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MimeLyc/contextual-book-translator/internal/book"
)

func (s *SQLiteStore) CreateProject(ctx context.Context, p *book.Project) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = book.ProjectActive
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO projects (id, name, source_path, source_lang, target_lang, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Name,
		p.SourcePath,
		p.SourceLang,
		p.TargetLang,
		string(p.Status),
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

const projectColumns = `id, name, source_path, source_lang, target_lang, status, created_at, updated_at`

func scanProject(row scanner) (*book.Project, error) {
	var p book.Project
	var status string
	if err := row.Scan(&p.ID, &p.Name, &p.SourcePath, &p.SourceLang, &p.TargetLang, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = book.ProjectStatus(status)
	return &p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*book.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "project "+id)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*book.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*book.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) SetProjectStatus(ctx context.Context, id string, status book.ProjectStatus) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		string(status),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "project "+id)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, r *book.Run) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = book.RunPending
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, project_id, status, error, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.ProjectID,
		string(r.Status),
		r.Error,
		r.CreatedAt,
		r.UpdatedAt,
	)
	return err
}

const runColumns = `id, project_id, status, error, created_at, updated_at`

func scanRun(row scanner) (*book.Run, error) {
	var r book.Run
	var status string
	if err := row.Scan(&r.ID, &r.ProjectID, &status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = book.RunStatus(status)
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*book.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "run "+id)
	}
	return r, nil
}

// LatestRun returns the most recently created run of a project.
func (s *SQLiteStore) LatestRun(ctx context.Context, projectID string) (*book.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE project_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		projectID,
	))
	if err != nil {
		return nil, notFound(err, "run of project "+projectID)
	}
	return r, nil
}

func (s *SQLiteStore) SetRunStatus(ctx context.Context, id string, status book.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status),
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "run "+id)
}

// CreateGroup inserts a group and its units in one transaction and fills in
// the generated ids.
func (s *SQLiteStore) CreateGroup(ctx context.Context, g *book.Group, units []*book.Unit) (err error) {
	if g == nil {
		return fmt.Errorf("group is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	g.UnitCount = len(units)
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = book.GroupPending
	}
	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO translation_groups (project_id, group_key, position, cursor, unit_count, status, context_summary, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ProjectID,
		g.GroupKey,
		g.Position,
		g.Cursor,
		g.UnitCount,
		string(g.Status),
		g.ContextSummary,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.GroupKey, err)
	}
	if g.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for _, u := range units {
		u.GroupID = g.ID
		if u.Status == "" {
			u.Status = book.UnitPending
		}
		var placeholderJSON, semanticJSON []byte
		if placeholderJSON, err = json.Marshal(u.PlaceholderMap); err != nil {
			return err
		}
		if semanticJSON, err = json.Marshal(u.SemanticIndex); err != nil {
			return err
		}
		res, err = tx.ExecContext(
			ctx,
			`INSERT INTO translation_units (
				group_id, unit_key, position, raw_markup, protected_text, placeholder_map,
				tagged_text, semantic_index, content_hash, status, dirty
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.GroupID,
			u.UnitKey,
			u.Position,
			u.RawMarkup,
			u.ProtectedText,
			string(placeholderJSON),
			u.TaggedText,
			string(semanticJSON),
			u.ContentHash,
			string(u.Status),
			boolToInt(u.Dirty),
		)
		if err != nil {
			return fmt.Errorf("insert unit %s: %w", u.UnitKey, err)
		}
		if u.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ResetProject rewinds every group of a project for a fresh run: cursors go
// back to zero and all units are pending again.
func (s *SQLiteStore) ResetProject(ctx context.Context, projectID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(
		ctx,
		`UPDATE translation_groups SET cursor = 0, status = ?, context_summary = '', updated_at = ? WHERE project_id = ?`,
		string(book.GroupPending),
		time.Now().UTC(),
		projectID,
	); err != nil {
		return err
	}
	if _, err = tx.ExecContext(
		ctx,
		`UPDATE translation_units SET status = ?, dirty = 0
		 WHERE group_id IN (SELECT id FROM translation_groups WHERE project_id = ?)`,
		string(book.UnitPending),
		projectID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GroupProgress reports per-group counters for a run.
func (s *SQLiteStore) GroupProgress(ctx context.Context, runID, projectID string) ([]Progress, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT g.id, g.project_id, g.group_key, g.position, g.cursor, g.unit_count, g.status, g.context_summary, g.updated_at,
			(SELECT COUNT(*) FROM translation_units u WHERE u.group_id = g.id AND u.status = ?),
			(SELECT COUNT(*) FROM translation_units u WHERE u.group_id = g.id AND u.dirty = 1),
			(SELECT COUNT(*) FROM block_translations bt JOIN translation_units u ON u.id = bt.unit_id
			 WHERE u.group_id = g.id AND bt.run_id = ? AND bt.status = ?)
		 FROM translation_groups g
		 WHERE g.project_id = ?
		 ORDER BY g.position ASC`,
		string(book.UnitTranslated),
		runID,
		string(book.BlockHealingFailed),
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Progress, 0)
	for rows.Next() {
		var p Progress
		var status string
		if err := rows.Scan(
			&p.Group.ID,
			&p.Group.ProjectID,
			&p.Group.GroupKey,
			&p.Group.Position,
			&p.Group.Cursor,
			&p.Group.UnitCount,
			&status,
			&p.Group.ContextSummary,
			&p.Group.UpdatedAt,
			&p.Translated,
			&p.Dirty,
			&p.HealingFailed,
		); err != nil {
			return nil, err
		}
		p.Group.Status = book.GroupStatus(status)
		p.Percent = p.Group.Percent()
		ret = append(ret, p)
	}
	return ret, rows.Err()
}
