package taskstore

import "context"

const createCategorySQL = `
CREATE TABLE IF NOT EXISTS category (
  id bigserial PRIMARY KEY,
  name text NOT NULL UNIQUE
)`

const createEmployeeSQL = `
CREATE TABLE IF NOT EXISTS employee (
  id bigserial PRIMARY KEY,
  name text NOT NULL,
  email text UNIQUE,
  category_id bigint REFERENCES category(id) ON DELETE SET NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createClientsSQL = `
CREATE TABLE IF NOT EXISTS clients (
  client_id bigserial PRIMARY KEY,
  name text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createProjectsSQL = `
CREATE TABLE IF NOT EXISTS projects (
  project_id bigserial PRIMARY KEY,
  title text NOT NULL,
  description text NOT NULL DEFAULT '',
  status text NOT NULL DEFAULT 'Not Started',
  priority text NOT NULL DEFAULT 'Medium',
  client_id bigint REFERENCES clients(client_id) ON DELETE SET NULL,
  start_date date,
  completion_date date,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createTasksSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  task_id bigserial PRIMARY KEY,
  description text NOT NULL,
  deadline timestamptz NOT NULL,
  status text NOT NULL,
  project_id bigint NOT NULL REFERENCES projects(project_id) ON DELETE CASCADE,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createTaskAssignmentsSQL = `
CREATE TABLE IF NOT EXISTS task_assignments (
  task_id bigint NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
  employee_id bigint NOT NULL REFERENCES employee(id) ON DELETE CASCADE,
  assigned_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (task_id, employee_id)
)`

const createAssignmentsByEmployeeIndexSQL = `
CREATE INDEX IF NOT EXISTS task_assignments_employee_idx
ON task_assignments (employee_id)`

const createTasksByProjectIndexSQL = `
CREATE INDEX IF NOT EXISTS tasks_project_idx
ON tasks (project_id)`

var schemaStatements = []string{
	createCategorySQL,
	createEmployeeSQL,
	createClientsSQL,
	createProjectsSQL,
	createTasksSQL,
	createTaskAssignmentsSQL,
	createAssignmentsByEmployeeIndexSQL,
	createTasksByProjectIndexSQL,
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
