package taskstore

import (
	"strings"
	"testing"
)

func TestBuildListTasksQuery_All(t *testing.T) {
	sql, args := buildListTasksQuery(TaskFilter{})
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
	if strings.Contains(sql, "project_id = $") || strings.Contains(sql, "lower(t.status)") {
		t.Fatalf("unexpected filter in %q", sql)
	}
	if !strings.HasSuffix(sql, "ORDER BY t.task_id ASC") {
		t.Fatalf("unexpected ordering in %q", sql)
	}
}

func TestBuildListTasksQuery_ProjectFilter(t *testing.T) {
	projectID := int64(7)
	sql, args := buildListTasksQuery(TaskFilter{ProjectID: &projectID})
	if len(args) != 1 || args[0] != int64(7) {
		t.Fatalf("unexpected args: %v", args)
	}
	if !strings.Contains(sql, "AND t.project_id = $1") {
		t.Fatalf("missing project filter in %q", sql)
	}
}

func TestBuildListTasksQuery_Ongoing(t *testing.T) {
	projectID := int64(3)
	sql, args := buildListTasksQuery(TaskFilter{ProjectID: &projectID, OngoingOnly: true})
	if len(args) != 1 {
		t.Fatalf("unexpected args: %v", args)
	}
	if !strings.Contains(sql, "lower(t.status) <> 'completed'") {
		t.Fatalf("missing ongoing filter in %q", sql)
	}
	if !strings.HasSuffix(sql, "ORDER BY t.deadline ASC, t.task_id ASC") {
		t.Fatalf("ongoing tasks must be ordered by deadline: %q", sql)
	}
}
