package taskstore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ems-pm/project/internal/platform/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const taskColumns = `t.task_id, t.description, t.deadline, t.status, t.project_id, t.created_at, t.updated_at`

const insertTaskSQL = `
INSERT INTO tasks (description, deadline, status, project_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
RETURNING task_id`

const updateTaskSQL = `
UPDATE tasks
SET description = $2, deadline = $3, status = $4, project_id = $5, updated_at = now()
WHERE task_id = $1`

const updateTaskStatusSQL = `
UPDATE tasks
SET status = $2, updated_at = now()
WHERE task_id = $1`

const deleteTaskSQL = `DELETE FROM tasks WHERE task_id = $1`

const deleteAssignmentsSQL = `DELETE FROM task_assignments WHERE task_id = $1`

const insertAssignmentSQL = `
INSERT INTO task_assignments (task_id, employee_id, assigned_at)
VALUES ($1, $2, now())`

const getTaskSQL = `SELECT ` + taskColumns + ` FROM tasks t WHERE t.task_id = $1`

const listAssigneesSQL = `
SELECT ta.task_id, ta.employee_id, e.name
FROM task_assignments ta
JOIN employee e ON ta.employee_id = e.id`

const listTasksByEmployeeSQL = `
SELECT ` + taskColumns + `, p.title
FROM tasks t
JOIN task_assignments ta ON t.task_id = ta.task_id
LEFT JOIN projects p ON t.project_id = p.project_id
WHERE ta.employee_id = $1
ORDER BY t.deadline ASC, t.task_id ASC`

const listEmployeesSQL = `
SELECT e.id, e.name, c.name
FROM employee e
LEFT JOIN category c ON e.category_id = c.id
ORDER BY e.id ASC`

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgQueries struct {
	db     dbtx
	logger *zap.Logger
}

type PostgresStore struct {
	pgQueries
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		pgQueries: pgQueries{db: pool, logger: logger},
		Pool:      pool,
	}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(q Queries) error) (err error) {
	defer func() { metrics.RecordTx(err) }()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err = fn(pgQueries{db: tx, logger: s.logger}); err != nil {
		s.logger.Debug("rolling back transaction", zap.Error(err))
		return err
	}
	return tx.Commit(ctx)
}

func (q pgQueries) write(ctx context.Context, sql string, args ...any) (WriteResult, error) {
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Affected: tag.RowsAffected()}, nil
}

func (q pgQueries) InsertTask(ctx context.Context, fields TaskFields) (WriteResult, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertTaskSQL,
		fields.Description,
		fields.Deadline,
		fields.Status,
		fields.ProjectID,
	).Scan(&id)
	if err != nil {
		q.logger.Error("insert task failed", zap.Error(err), zap.Int64("project_id", fields.ProjectID))
		return WriteResult{}, err
	}
	return WriteResult{InsertedID: id, Affected: 1}, nil
}

func (q pgQueries) UpdateTask(ctx context.Context, taskID int64, fields TaskFields) (WriteResult, error) {
	return q.write(ctx, updateTaskSQL, taskID, fields.Description, fields.Deadline, fields.Status, fields.ProjectID)
}

func (q pgQueries) UpdateTaskStatus(ctx context.Context, taskID int64, status string) (WriteResult, error) {
	return q.write(ctx, updateTaskStatusSQL, taskID, status)
}

func (q pgQueries) DeleteTask(ctx context.Context, taskID int64) (WriteResult, error) {
	return q.write(ctx, deleteTaskSQL, taskID)
}

func (q pgQueries) DeleteAssignments(ctx context.Context, taskID int64) (WriteResult, error) {
	return q.write(ctx, deleteAssignmentsSQL, taskID)
}

func (q pgQueries) InsertAssignment(ctx context.Context, taskID, employeeID int64) (WriteResult, error) {
	res, err := q.write(ctx, insertAssignmentSQL, taskID, employeeID)
	if err != nil {
		q.logger.Warn("insert assignment failed",
			zap.Error(err),
			zap.Int64("task_id", taskID),
			zap.Int64("employee_id", employeeID),
		)
	}
	return res, err
}

func (q pgQueries) GetTask(ctx context.Context, taskID int64) (Task, error) {
	t, err := scanTask(q.db.QueryRow(ctx, getTaskSQL, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return t, nil
}

func (q pgQueries) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	sql, args := buildListTasksQuery(filter)
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (q pgQueries) ListAssignees(ctx context.Context, taskIDs []int64) ([]Assignee, error) {
	sql := listAssigneesSQL
	var args []any
	if taskIDs != nil {
		if len(taskIDs) == 0 {
			return []Assignee{}, nil
		}
		sql += ` WHERE ta.task_id = ANY($1)`
		args = append(args, taskIDs)
	}
	sql += ` ORDER BY ta.task_id ASC, ta.assigned_at ASC, ta.employee_id ASC`

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Assignee, 0)
	for rows.Next() {
		var a Assignee
		if err := rows.Scan(&a.TaskID, &a.EmployeeID, &a.EmployeeName); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (q pgQueries) ListTasksByEmployee(ctx context.Context, employeeID int64) ([]EmployeeTask, error) {
	rows, err := q.db.Query(ctx, listTasksByEmployeeSQL, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]EmployeeTask, 0)
	for rows.Next() {
		var et EmployeeTask
		if err := rows.Scan(
			&et.TaskID,
			&et.Description,
			&et.Deadline,
			&et.Status,
			&et.ProjectID,
			&et.CreatedAt,
			&et.UpdatedAt,
			&et.ProjectTitle,
		); err != nil {
			return nil, err
		}
		result = append(result, et)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (q pgQueries) ListEmployees(ctx context.Context) ([]Employee, error) {
	rows, err := q.db.Query(ctx, listEmployeesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Employee, 0)
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Role); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// buildListTasksQuery treats both "completed" and "Completed" as done, so the
// short and the project-style status vocabularies filter the same way.
func buildListTasksQuery(filter TaskFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT `)
	sb.WriteString(taskColumns)
	sb.WriteString(` FROM tasks t WHERE 1=1`)

	var args []any
	if filter.ProjectID != nil {
		args = append(args, *filter.ProjectID)
		sb.WriteString(` AND t.project_id = $`)
		sb.WriteString(strconv.Itoa(len(args)))
	}
	if filter.OngoingOnly {
		sb.WriteString(` AND lower(t.status) <> 'completed'`)
		sb.WriteString(` ORDER BY t.deadline ASC, t.task_id ASC`)
	} else {
		sb.WriteString(` ORDER BY t.task_id ASC`)
	}
	return sb.String(), args
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(
		&t.TaskID,
		&t.Description,
		&t.Deadline,
		&t.Status,
		&t.ProjectID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}
