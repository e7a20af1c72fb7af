package tasks

import (
	"errors"
	"fmt"
)

var (
	ErrTaskFieldsRequired = errors.New("description, deadline, status and project_id are required")
	ErrStatusRequired     = errors.New("status is required")
	ErrEmployeesRequired  = errors.New("employee_ids must contain at least one employee")
	ErrInvalidTaskID      = errors.New("task id must be a positive integer")
	ErrInvalidEmployeeID  = errors.New("employee id must be a positive integer")
	ErrTaskNotFound       = errors.New("task not found")
)

// ValidationError is returned before any store call is made.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

type NotFoundError struct {
	TaskID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %d not found", e.TaskID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrTaskNotFound }

// StoreError wraps any persistence failure, constraint violations included.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

func invalid(err error) error { return &ValidationError{Err: err} }

func storeErr(op string, err error) error { return &StoreError{Op: op, Err: err} }

// isTyped reports whether err already carries one of the task error kinds.
func isTyped(err error) bool {
	var (
		ve *ValidationError
		nf *NotFoundError
		se *StoreError
	)
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &se)
}
