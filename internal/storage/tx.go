package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roadmapd/internal/roadmap"
)

// sqlTx implements roadmap.Tx on one SQLite transaction.
type sqlTx struct {
	tx *sql.Tx
}

const stageCols = `id, project_id, template_stage_id, name, order_index, status, started_at, completed_at`

func (t *sqlTx) Stage(ctx context.Context, id string) (roadmap.Stage, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+stageCols+` FROM stages WHERE id = ?`, id)
	return scanStage(row)
}

func scanStage(row *sql.Row) (roadmap.Stage, error) {
	var (
		st              roadmap.Stage
		templateStageID sql.NullString
		started, done   sql.NullString
	)
	err := row.Scan(&st.ID, &st.ProjectID, &templateStageID, &st.Name, &st.OrderIndex, &st.Status, &started, &done)
	if errors.Is(err, sql.ErrNoRows) {
		return roadmap.Stage{}, roadmap.ErrNotFound
	}
	if err != nil {
		return roadmap.Stage{}, err
	}
	st.TemplateStageID = templateStageID.String
	if st.StartedAt, err = parseTimePtr(started); err != nil {
		return roadmap.Stage{}, err
	}
	if st.CompletedAt, err = parseTimePtr(done); err != nil {
		return roadmap.Stage{}, err
	}
	return st, nil
}

func (t *sqlTx) InsertStage(ctx context.Context, s roadmap.Stage) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO stages(`+stageCols+`) VALUES(?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, nullStr(s.TemplateStageID), s.Name, s.OrderIndex,
		string(s.Status), timePtrStr(s.StartedAt), timePtrStr(s.CompletedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("stage %s exists: %w", s.ID, roadmap.ErrConstraint)
	}
	return err
}

func (t *sqlTx) UpdateStage(ctx context.Context, s roadmap.Stage) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE stages SET status = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		string(s.Status), timePtrStr(s.StartedAt), timePtrStr(s.CompletedAt), s.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, s.ID)
}

const level1Cols = `id, project_id, level1_id, order_index, status, started_at, completed_at`

func (t *sqlTx) Level1Stage(ctx context.Context, id string) (roadmap.Level1Stage, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+level1Cols+` FROM level1_stages WHERE id = ?`, id)
	st, err := scanLevel1(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return roadmap.Level1Stage{}, roadmap.ErrNotFound
	}
	return st, err
}

func scanLevel1(scan func(...any) error) (roadmap.Level1Stage, error) {
	var (
		st            roadmap.Level1Stage
		level1ID      sql.NullString
		started, done sql.NullString
	)
	err := scan(&st.ID, &st.ProjectID, &level1ID, &st.OrderIndex, &st.Status, &started, &done)
	if err != nil {
		return roadmap.Level1Stage{}, err
	}
	st.Level1ID = level1ID.String
	if st.StartedAt, err = parseTimePtr(started); err != nil {
		return roadmap.Level1Stage{}, err
	}
	if st.CompletedAt, err = parseTimePtr(done); err != nil {
		return roadmap.Level1Stage{}, err
	}
	return st, nil
}

func (t *sqlTx) InsertLevel1Stages(ctx context.Context, stages []roadmap.Level1Stage) error {
	for _, s := range stages {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO level1_stages(`+level1Cols+`) VALUES(?,?,?,?,?,?,?)`,
			s.ID, s.ProjectID, nullStr(s.Level1ID), s.OrderIndex,
			string(s.Status), timePtrStr(s.StartedAt), timePtrStr(s.CompletedAt),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("level1 %s exists: %w", s.ID, roadmap.ErrConstraint)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) UpdateLevel1Stage(ctx context.Context, s roadmap.Level1Stage) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE level1_stages SET status = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		string(s.Status), timePtrStr(s.StartedAt), timePtrStr(s.CompletedAt), s.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, s.ID)
}

func (t *sqlTx) LockedLevel1At(ctx context.Context, projectID string, orderIndex int) ([]roadmap.Level1Stage, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+level1Cols+` FROM level1_stages
		 WHERE project_id = ? AND order_index = ? AND status = 'locked'
		 ORDER BY id`,
		projectID, orderIndex,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []roadmap.Level1Stage
	for rows.Next() {
		st, err := scanLevel1(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ActivateLevel1IfLocked is the lost-update guard: the status predicate makes
// concurrent activations of the same gate first-writer-wins.
func (t *sqlTx) ActivateLevel1IfLocked(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE level1_stages SET status = 'active', started_at = ?
		 WHERE id = ? AND status = 'locked'`,
		timeStr(at), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *sqlTx) TemplateStages(ctx context.Context, templateID string) ([]roadmap.TemplateStage, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, template_id, name, order_index FROM template_stages
		 WHERE template_id = ? ORDER BY order_index`,
		templateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []roadmap.TemplateStage
	for rows.Next() {
		var st roadmap.TemplateStage
		if err := rows.Scan(&st.ID, &st.TemplateID, &st.Name, &st.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (t *sqlTx) TemplateTasks(ctx context.Context, templateStageID string) ([]roadmap.TemplateTask, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, stage_id, title, description, tags, required_role, duration_days, estimated_hours, order_index
		 FROM template_tasks WHERE stage_id = ? ORDER BY order_index`,
		templateStageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []roadmap.TemplateTask
	for rows.Next() {
		var (
			tt           roadmap.TemplateTask
			desc, tags   sql.NullString
			requiredRole sql.NullString
		)
		err := rows.Scan(&tt.ID, &tt.StageID, &tt.Title, &desc, &tags, &requiredRole,
			&tt.DurationDays, &tt.EstimatedHours, &tt.OrderIndex)
		if err != nil {
			return nil, err
		}
		tt.Description = desc.String
		tt.RequiredRole = roadmap.Role(requiredRole.String)
		if tt.Tags, err = parseTags(tags); err != nil {
			return nil, err
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

const taskCols = `id, project_id, stage_id, template_task_id, title, description, tags,
	estimated_hours, duration_days, status, priority, assignee_id, auto_assigned, deadline, created_at`

func (t *sqlTx) InsertTasks(ctx context.Context, tasks []roadmap.Task) error {
	for _, task := range tasks {
		tags, err := tagsJSON(task.Tags)
		if err != nil {
			return err
		}
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO tasks(`+taskCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			task.ID, task.ProjectID, task.StageID, nullStr(task.TemplateTaskID),
			task.Title, nullStr(task.Description), tags,
			task.EstimatedHours, task.DurationDays, string(task.Status), string(task.Priority),
			task.AssigneeID, task.AutoAssigned, timeStr(task.Deadline), timeStr(task.CreatedAt),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("task for template task %s already instantiated in stage %s: %w",
				task.TemplateTaskID, task.StageID, roadmap.ErrConstraint)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) Task(ctx context.Context, id string) (roadmap.Task, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return roadmap.Task{}, roadmap.ErrNotFound
	}
	return task, err
}

func scanTask(scan func(...any) error) (roadmap.Task, error) {
	var (
		task                 roadmap.Task
		templateTaskID       sql.NullString
		desc, tags, deadline sql.NullString
		created              sql.NullString
	)
	err := scan(&task.ID, &task.ProjectID, &task.StageID, &templateTaskID, &task.Title,
		&desc, &tags, &task.EstimatedHours, &task.DurationDays, &task.Status, &task.Priority,
		&task.AssigneeID, &task.AutoAssigned, &deadline, &created)
	if err != nil {
		return roadmap.Task{}, err
	}
	task.TemplateTaskID = templateTaskID.String
	task.Description = desc.String
	if task.Tags, err = parseTags(tags); err != nil {
		return roadmap.Task{}, err
	}
	if task.Deadline, err = parseTime(deadline); err != nil {
		return roadmap.Task{}, err
	}
	if task.CreatedAt, err = parseTime(created); err != nil {
		return roadmap.Task{}, err
	}
	return task, nil
}

func (t *sqlTx) StageTasks(ctx context.Context, stageID string) ([]roadmap.Task, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE stage_id = ? ORDER BY created_at, id`, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (t *sqlTx) UpdateTaskDeadline(ctx context.Context, id string, deadline time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE tasks SET deadline = ? WHERE id = ?`, timeStr(deadline), id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (t *sqlTx) UpdateTaskStatus(ctx context.Context, id string, status roadmap.TaskStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (t *sqlTx) OverdueTasks(ctx context.Context, now time.Time, limit int) ([]roadmap.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks
		 WHERE status IN ('open','in_progress') AND deadline IS NOT NULL AND deadline < ?
		 ORDER BY deadline, id LIMIT ?`,
		timeStr(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]roadmap.Task, error) {
	var out []roadmap.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (t *sqlTx) Members(ctx context.Context, projectID string) ([]roadmap.Member, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT project_id, user_id, job_title FROM members WHERE project_id = ? ORDER BY user_id`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []roadmap.Member
	for rows.Next() {
		var m roadmap.Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.JobTitle); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("row %s: %w", id, roadmap.ErrNotFound)
	}
	return nil
}
