package tasks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/ems-pm/project/internal/app/taskstore"
)

// fakeStore keeps rows in memory. WithTx snapshots state and restores it
// when fn fails, so rollback behaviour is observable.
type fakeStore struct {
	nextID    int64
	tasks     map[int64]taskstore.Task
	assigned  map[int64][]int64
	employees map[int64]string
	projects  map[int64]string

	txCount   int
	rollbacks int
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:    map[int64]taskstore.Task{},
		assigned: map[int64][]int64{},
		employees: map[int64]string{
			1: "Ada", 2: "Grace", 5: "Linus", 9: "Ken",
		},
		projects: map[int64]string{
			10: "Website", 20: "Mobile",
		},
	}
}

func (f *fakeStore) snapshot() (map[int64]taskstore.Task, map[int64][]int64, int64) {
	tasks := make(map[int64]taskstore.Task, len(f.tasks))
	for k, v := range f.tasks {
		tasks[k] = v
	}
	assigned := make(map[int64][]int64, len(f.assigned))
	for k, v := range f.assigned {
		assigned[k] = append([]int64(nil), v...)
	}
	return tasks, assigned, f.nextID
}

func (f *fakeStore) WithTx(_ context.Context, fn func(q taskstore.Queries) error) error {
	f.txCount++
	tasks, assigned, nextID := f.snapshot()
	if err := fn(f); err != nil {
		f.rollbacks++
		f.tasks, f.assigned, f.nextID = tasks, assigned, nextID
		return err
	}
	return nil
}

func (f *fakeStore) InsertTask(_ context.Context, fields taskstore.TaskFields) (taskstore.WriteResult, error) {
	if _, ok := f.projects[fields.ProjectID]; !ok {
		return taskstore.WriteResult{}, errors.New("insert violates foreign key constraint tasks_project_id_fkey")
	}
	f.nextID++
	now := time.Now().UTC()
	f.tasks[f.nextID] = taskstore.Task{
		TaskID:      f.nextID,
		Description: fields.Description,
		Deadline:    fields.Deadline,
		Status:      fields.Status,
		ProjectID:   fields.ProjectID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return taskstore.WriteResult{InsertedID: f.nextID, Affected: 1}, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, taskID int64, fields taskstore.TaskFields) (taskstore.WriteResult, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return taskstore.WriteResult{}, nil
	}
	t.Description, t.Deadline, t.Status, t.ProjectID = fields.Description, fields.Deadline, fields.Status, fields.ProjectID
	t.UpdatedAt = time.Now().UTC()
	f.tasks[taskID] = t
	return taskstore.WriteResult{Affected: 1}, nil
}

func (f *fakeStore) UpdateTaskStatus(_ context.Context, taskID int64, status string) (taskstore.WriteResult, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return taskstore.WriteResult{}, nil
	}
	t.Status = status
	f.tasks[taskID] = t
	return taskstore.WriteResult{Affected: 1}, nil
}

func (f *fakeStore) DeleteTask(_ context.Context, taskID int64) (taskstore.WriteResult, error) {
	if _, ok := f.tasks[taskID]; !ok {
		return taskstore.WriteResult{}, nil
	}
	delete(f.tasks, taskID)
	delete(f.assigned, taskID)
	return taskstore.WriteResult{Affected: 1}, nil
}

func (f *fakeStore) DeleteAssignments(_ context.Context, taskID int64) (taskstore.WriteResult, error) {
	n := int64(len(f.assigned[taskID]))
	delete(f.assigned, taskID)
	return taskstore.WriteResult{Affected: n}, nil
}

func (f *fakeStore) InsertAssignment(_ context.Context, taskID, employeeID int64) (taskstore.WriteResult, error) {
	if _, ok := f.tasks[taskID]; !ok {
		return taskstore.WriteResult{}, errors.New("violates foreign key constraint task_assignments_task_id_fkey")
	}
	if _, ok := f.employees[employeeID]; !ok {
		return taskstore.WriteResult{}, errors.New("violates foreign key constraint task_assignments_employee_id_fkey")
	}
	for _, id := range f.assigned[taskID] {
		if id == employeeID {
			return taskstore.WriteResult{}, errors.New("duplicate key value violates unique constraint")
		}
	}
	f.assigned[taskID] = append(f.assigned[taskID], employeeID)
	return taskstore.WriteResult{Affected: 1}, nil
}

func (f *fakeStore) GetTask(_ context.Context, taskID int64) (taskstore.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return taskstore.Task{}, taskstore.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) ListTasks(_ context.Context, filter taskstore.TaskFilter) ([]taskstore.Task, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]taskstore.Task, 0)
	for _, t := range f.tasks {
		if filter.ProjectID != nil && t.ProjectID != *filter.ProjectID {
			continue
		}
		if filter.OngoingOnly && strings.EqualFold(t.Status, "completed") {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.OngoingOnly && !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out, nil
}

func (f *fakeStore) ListAssignees(_ context.Context, taskIDs []int64) ([]taskstore.Assignee, error) {
	ids := taskIDs
	if ids == nil {
		for id := range f.assigned {
			ids = append(ids, id)
		}
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make([]taskstore.Assignee, 0)
	for _, taskID := range sorted {
		for _, employeeID := range f.assigned[taskID] {
			out = append(out, taskstore.Assignee{TaskID: taskID, EmployeeID: employeeID, EmployeeName: f.employees[employeeID]})
		}
	}
	return out, nil
}

func (f *fakeStore) ListTasksByEmployee(_ context.Context, employeeID int64) ([]taskstore.EmployeeTask, error) {
	out := make([]taskstore.EmployeeTask, 0)
	for taskID, members := range f.assigned {
		for _, id := range members {
			if id != employeeID {
				continue
			}
			et := taskstore.EmployeeTask{Task: f.tasks[taskID]}
			if title, ok := f.projects[et.ProjectID]; ok {
				et.ProjectTitle = &title
			}
			out = append(out, et)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

func (f *fakeStore) ListEmployees(_ context.Context) ([]taskstore.Employee, error) {
	out := make([]taskstore.Employee, 0, len(f.employees))
	for id, name := range f.employees {
		out = append(out, taskstore.Employee{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) members(taskID int64) []int64 {
	out := append([]int64{}, f.assigned[taskID]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
