package tasks

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID decodes from a JSON number or a numeric string. Empty strings and null
// decode to zero.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*id = 0
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = strings.TrimSpace(s)
		if text == "" {
			*id = 0
			return nil
		}
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", text)
	}
	*id = ID(v)
	return nil
}

func toInt64s(ids []ID) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		out = append(out, int64(id))
	}
	return out
}

var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDeadline accepts the layouts date and datetime-local inputs submit.
// An empty value yields the zero time and is rejected by validation later.
func parseDeadline(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid deadline %q", raw)
}

type taskRequest struct {
	Description string `json:"description"`
	Deadline    string `json:"deadline"`
	Status      string `json:"status"`
	ProjectID   ID     `json:"project_id"`
	EmployeeIDs []ID   `json:"employee_ids"`
}

func (r taskRequest) input() (TaskInput, error) {
	deadline, err := parseDeadline(r.Deadline)
	if err != nil {
		return TaskInput{}, invalid(err)
	}
	return TaskInput{
		Description: r.Description,
		Deadline:    deadline,
		Status:      r.Status,
		ProjectID:   int64(r.ProjectID),
		EmployeeIDs: toInt64s(r.EmployeeIDs),
	}, nil
}

type reassignRequest struct {
	EmployeeIDs []ID `json:"employee_ids"`
}

type statusRequest struct {
	Status string `json:"status"`
}
