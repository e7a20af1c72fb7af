package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ems-pm/project/internal/app/assignment"
	"github.com/ems-pm/project/internal/app/notify"
	"github.com/ems-pm/project/internal/app/taskstore"
	"github.com/ems-pm/project/internal/platform/logging"
	"go.uber.org/zap"
)

const (
	msgAssigned      = "Task #%d has been assigned to you"
	msgUpdated       = "Task #%d has been updated"
	msgReassigned    = "Task #%d has been reassigned"
	msgDeleted       = "Task #%d has been deleted"
	msgStatusChanged = "Task #%d status changed to %s"
)

// TaskNotifier is the push side of the service. *notify.Notifier satisfies it;
// tests substitute a recorder.
type TaskNotifier interface {
	NotifyAssigned(ctx context.Context, taskID int64, employeeIDs []int64, status, message string) notify.Outcome
	NotifyUpdated(ctx context.Context, taskID int64, employeeIDs []int64, status, message string) notify.Outcome
	NotifyReassigned(ctx context.Context, taskID int64, employeeIDs []int64, message string) notify.Outcome
	NotifyDeleted(ctx context.Context, taskID int64, employeeIDs []int64, message string) notify.Outcome
}

type Service struct {
	Store    taskstore.Store
	Notifier TaskNotifier
	Logger   *zap.Logger
}

func NewService(store taskstore.Store, notifier TaskNotifier, logger *zap.Logger) *Service {
	logger = logging.OrNop(logger)
	if notifier == nil {
		notifier = notify.NewNotifier(nil, logger)
	}
	return &Service{Store: store, Notifier: notifier, Logger: logger}
}

type TaskInput struct {
	Description string
	Deadline    time.Time
	Status      string
	ProjectID   int64
	EmployeeIDs []int64
}

func (in TaskInput) fields() taskstore.TaskFields {
	return taskstore.TaskFields{
		Description: strings.TrimSpace(in.Description),
		Deadline:    in.Deadline,
		Status:      strings.TrimSpace(in.Status),
		ProjectID:   in.ProjectID,
	}
}

func (in TaskInput) validate() error {
	f := in.fields()
	if f.Description == "" || f.Deadline.IsZero() || f.Status == "" || f.ProjectID <= 0 {
		return invalid(ErrTaskFieldsRequired)
	}
	return nil
}

// TaskView is a task with its assignees denormalized for display.
type TaskView struct {
	taskstore.Task
	EmployeeIDs   []int64  `json:"employee_ids"`
	EmployeeNames []string `json:"employee_names"`
}

type Assignees struct {
	TaskID        int64    `json:"task_id"`
	EmployeeIDs   []int64  `json:"employee_ids"`
	EmployeeNames []string `json:"employee_names"`
}

func (s *Service) Create(ctx context.Context, in TaskInput) (TaskView, error) {
	if err := in.validate(); err != nil {
		return TaskView{}, err
	}

	var view TaskView
	err := s.inTx(ctx, "create task", func(q taskstore.Queries) error {
		res, err := q.InsertTask(ctx, in.fields())
		if err != nil {
			return storeErr("insert task", err)
		}
		if _, err := assignment.Sync(ctx, q, res.InsertedID, in.EmployeeIDs); err != nil {
			return storeErr("assign employees", err)
		}
		view, err = loadView(ctx, q, res.InsertedID)
		return err
	})
	if err != nil {
		return TaskView{}, err
	}

	s.Logger.Info("task created", zap.Int64("task_id", view.TaskID), zap.Int("assignees", len(view.EmployeeIDs)))
	s.Notifier.NotifyAssigned(ctx, view.TaskID, view.EmployeeIDs, view.Status, fmt.Sprintf(msgAssigned, view.TaskID))
	return view, nil
}

// Update overwrites every mutable field and replaces the assignee set.
func (s *Service) Update(ctx context.Context, taskID int64, in TaskInput) (TaskView, error) {
	if taskID <= 0 {
		return TaskView{}, invalid(ErrInvalidTaskID)
	}
	if err := in.validate(); err != nil {
		return TaskView{}, err
	}

	var view TaskView
	err := s.inTx(ctx, "update task", func(q taskstore.Queries) error {
		if err := requireTask(ctx, q, taskID); err != nil {
			return err
		}
		if _, err := q.UpdateTask(ctx, taskID, in.fields()); err != nil {
			return storeErr("update task", err)
		}
		if _, err := assignment.Sync(ctx, q, taskID, in.EmployeeIDs); err != nil {
			return storeErr("assign employees", err)
		}
		var err error
		view, err = loadView(ctx, q, taskID)
		return err
	})
	if err != nil {
		return TaskView{}, err
	}

	s.Notifier.NotifyUpdated(ctx, taskID, view.EmployeeIDs, view.Status, fmt.Sprintf(msgUpdated, taskID))
	return view, nil
}

func (s *Service) Reassign(ctx context.Context, taskID int64, employeeIDs []int64) (Assignees, error) {
	if taskID <= 0 {
		return Assignees{}, invalid(ErrInvalidTaskID)
	}
	if len(employeeIDs) == 0 {
		return Assignees{}, invalid(ErrEmployeesRequired)
	}

	var out Assignees
	err := s.inTx(ctx, "reassign task", func(q taskstore.Queries) error {
		if err := requireTask(ctx, q, taskID); err != nil {
			return err
		}
		if _, err := assignment.Sync(ctx, q, taskID, employeeIDs); err != nil {
			return storeErr("assign employees", err)
		}
		rows, err := q.ListAssignees(ctx, []int64{taskID})
		if err != nil {
			return storeErr("list assignees", err)
		}
		out = Assignees{TaskID: taskID, EmployeeIDs: []int64{}, EmployeeNames: []string{}}
		for _, a := range rows {
			out.EmployeeIDs = append(out.EmployeeIDs, a.EmployeeID)
			out.EmployeeNames = append(out.EmployeeNames, a.EmployeeName)
		}
		return nil
	})
	if err != nil {
		return Assignees{}, err
	}

	s.Notifier.NotifyReassigned(ctx, taskID, out.EmployeeIDs, fmt.Sprintf(msgReassigned, taskID))
	return out, nil
}

// ChangeStatus stores status verbatim. No transition rules apply.
func (s *Service) ChangeStatus(ctx context.Context, taskID int64, status string) (TaskView, error) {
	if taskID <= 0 {
		return TaskView{}, invalid(ErrInvalidTaskID)
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return TaskView{}, invalid(ErrStatusRequired)
	}

	var view TaskView
	err := s.inTx(ctx, "change task status", func(q taskstore.Queries) error {
		res, err := q.UpdateTaskStatus(ctx, taskID, status)
		if err != nil {
			return storeErr("update task status", err)
		}
		if res.Affected == 0 {
			return &NotFoundError{TaskID: taskID}
		}
		view, err = loadView(ctx, q, taskID)
		return err
	})
	if err != nil {
		return TaskView{}, err
	}

	s.Notifier.NotifyUpdated(ctx, taskID, view.EmployeeIDs, status, fmt.Sprintf(msgStatusChanged, taskID, status))
	return view, nil
}

// Delete notifies the current assignees first, while they can still be
// resolved, then removes the assignment rows and the task.
func (s *Service) Delete(ctx context.Context, taskID int64) error {
	if taskID <= 0 {
		return invalid(ErrInvalidTaskID)
	}

	rows, err := s.Store.ListAssignees(ctx, []int64{taskID})
	if err != nil {
		return storeErr("list assignees", err)
	}
	if len(rows) > 0 {
		ids := make([]int64, 0, len(rows))
		for _, a := range rows {
			ids = append(ids, a.EmployeeID)
		}
		s.Notifier.NotifyDeleted(ctx, taskID, ids, fmt.Sprintf(msgDeleted, taskID))
	}

	err = s.inTx(ctx, "delete task", func(q taskstore.Queries) error {
		if _, err := q.DeleteAssignments(ctx, taskID); err != nil {
			return storeErr("delete assignments", err)
		}
		res, err := q.DeleteTask(ctx, taskID)
		if err != nil {
			return storeErr("delete task", err)
		}
		if res.Affected > 0 {
			return nil
		}
		return requireTask(ctx, q, taskID)
	})
	if err != nil {
		return err
	}
	s.Logger.Info("task deleted", zap.Int64("task_id", taskID))
	return nil
}

// ListByProject lists every task, or only those of projectID when set.
func (s *Service) ListByProject(ctx context.Context, projectID *int64) ([]TaskView, error) {
	return s.list(ctx, taskstore.TaskFilter{ProjectID: projectID})
}

func (s *Service) ListOngoing(ctx context.Context) ([]TaskView, error) {
	return s.list(ctx, taskstore.TaskFilter{OngoingOnly: true})
}

func (s *Service) ListByEmployee(ctx context.Context, employeeID int64) ([]taskstore.EmployeeTask, error) {
	if employeeID <= 0 {
		return nil, invalid(ErrInvalidEmployeeID)
	}
	rows, err := s.Store.ListTasksByEmployee(ctx, employeeID)
	if err != nil {
		return nil, storeErr("list tasks by employee", err)
	}
	return rows, nil
}

// ListEmployees returns the employees available for assignment.
func (s *Service) ListEmployees(ctx context.Context) ([]taskstore.Employee, error) {
	rows, err := s.Store.ListEmployees(ctx)
	if err != nil {
		return nil, storeErr("list employees", err)
	}
	return rows, nil
}

func (s *Service) list(ctx context.Context, filter taskstore.TaskFilter) ([]TaskView, error) {
	rows, err := s.Store.ListTasks(ctx, filter)
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	return enrich(ctx, s.Store, rows)
}

func (s *Service) inTx(ctx context.Context, op string, fn func(q taskstore.Queries) error) error {
	err := s.Store.WithTx(ctx, fn)
	if err == nil || isTyped(err) {
		return err
	}
	return storeErr(op, err)
}

func requireTask(ctx context.Context, q taskstore.Queries, taskID int64) error {
	if _, err := q.GetTask(ctx, taskID); err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return &NotFoundError{TaskID: taskID}
		}
		return storeErr("get task", err)
	}
	return nil
}

func loadView(ctx context.Context, q taskstore.Queries, taskID int64) (TaskView, error) {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return TaskView{}, &NotFoundError{TaskID: taskID}
		}
		return TaskView{}, storeErr("get task", err)
	}
	views, err := enrich(ctx, q, []taskstore.Task{task})
	if err != nil {
		return TaskView{}, err
	}
	return views[0], nil
}

// enrich attaches assignee ids and names with a single batch query.
func enrich(ctx context.Context, q taskstore.Queries, rows []taskstore.Task) ([]TaskView, error) {
	views := make([]TaskView, 0, len(rows))
	if len(rows) == 0 {
		return views, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, t := range rows {
		ids = append(ids, t.TaskID)
	}
	assignees, err := q.ListAssignees(ctx, ids)
	if err != nil {
		return nil, storeErr("list assignees", err)
	}

	byTask := make(map[int64][]taskstore.Assignee, len(rows))
	for _, a := range assignees {
		byTask[a.TaskID] = append(byTask[a.TaskID], a)
	}
	for _, t := range rows {
		view := TaskView{Task: t, EmployeeIDs: []int64{}, EmployeeNames: []string{}}
		for _, a := range byTask[t.TaskID] {
			view.EmployeeIDs = append(view.EmployeeIDs, a.EmployeeID)
			view.EmployeeNames = append(view.EmployeeNames, a.EmployeeName)
		}
		views = append(views, view)
	}
	return views, nil
}
