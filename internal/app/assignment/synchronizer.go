package assignment

import (
	"context"
	"fmt"

	"github.com/ems-pm/project/internal/app/taskstore"
)

// Writer is the subset of store statements the synchronizer issues.
type Writer interface {
	DeleteAssignments(ctx context.Context, taskID int64) (taskstore.WriteResult, error)
	InsertAssignment(ctx context.Context, taskID, employeeID int64) (taskstore.WriteResult, error)
}

type Result struct {
	Removed  int64
	Assigned []int64
}

// Sync makes the persisted assignment set of taskID equal to the distinct
// members of employeeIDs. It replaces rather than diffs: all existing rows
// are deleted, then one row per distinct id is inserted in first-seen order.
// An empty employeeIDs unassigns everyone. Callers wanting all-or-nothing
// behaviour run Sync inside Store.WithTx.
func Sync(ctx context.Context, w Writer, taskID int64, employeeIDs []int64) (Result, error) {
	removed, err := w.DeleteAssignments(ctx, taskID)
	if err != nil {
		return Result{}, fmt.Errorf("clear assignments for task %d: %w", taskID, err)
	}

	distinct := Distinct(employeeIDs)
	for _, employeeID := range distinct {
		if _, err := w.InsertAssignment(ctx, taskID, employeeID); err != nil {
			return Result{}, fmt.Errorf("assign employee %d to task %d: %w", employeeID, taskID, err)
		}
	}
	return Result{Removed: removed.Affected, Assigned: distinct}, nil
}

// Distinct drops repeated ids, keeping the first occurrence of each.
func Distinct(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
