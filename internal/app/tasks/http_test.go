package tasks

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type apiResponse struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	Task          *TaskView         `json:"task"`
	Tasks         []json.RawMessage `json:"tasks"`
	Employees     []json.RawMessage `json:"employees"`
	EmployeeIDs   []int64           `json:"employee_ids"`
	EmployeeNames []string          `json:"employee_names"`
}

func newTestRouter() (http.Handler, *fakeStore, *recordingPublisher) {
	svc, store, pub := newTestService()
	return NewHandler(svc, nil).Router(), store, pub
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, resp
}

const createBody = `{"description":"Ship it","deadline":"2026-04-01T09:30","status":"pending","project_id":"10","employee_ids":["5",9]}`

func TestHTTP_CreateAcceptsStringIDsAndLocalDeadline(t *testing.T) {
	h, store, pub := newTestRouter()

	code, resp := do(t, h, http.MethodPost, "/", createBody)
	if code != http.StatusCreated || !resp.Success || resp.Task == nil {
		t.Fatalf("unexpected create response %d %+v", code, resp)
	}
	want := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	if !resp.Task.Deadline.Equal(want) {
		t.Fatalf("deadline %v, want %v", resp.Task.Deadline, want)
	}
	if len(resp.Task.EmployeeNames) != 2 || resp.Task.EmployeeNames[0] != "Linus" {
		t.Fatalf("unexpected names %v", resp.Task.EmployeeNames)
	}
	if len(store.tasks) != 1 || len(pub.sent) != 2 {
		t.Fatalf("expected one task and two events, tasks=%d events=%d", len(store.tasks), len(pub.sent))
	}
}

func TestHTTP_CreateValidation(t *testing.T) {
	h, _, _ := newTestRouter()

	cases := map[string]string{
		"missing fields": `{"description":"x"}`,
		"bad deadline":   `{"description":"x","deadline":"tomorrow","status":"pending","project_id":10}`,
		"bad id":         `{"description":"x","deadline":"2026-01-01","status":"pending","project_id":"ten"}`,
		"malformed":      `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			code, resp := do(t, h, http.MethodPost, "/", body)
			if code != http.StatusBadRequest || resp.Success || resp.Message == "" {
				t.Fatalf("expected 400 with message, got %d %+v", code, resp)
			}
		})
	}
}

func TestHTTP_ListFiltersByProject(t *testing.T) {
	h, _, _ := newTestRouter()
	do(t, h, http.MethodPost, "/", createBody)
	do(t, h, http.MethodPost, "/", `{"description":"Other","deadline":"2026-01-01","status":"pending","project_id":20}`)

	code, resp := do(t, h, http.MethodGet, "/?project_id=20", "")
	if code != http.StatusOK || len(resp.Tasks) != 1 {
		t.Fatalf("expected one task for project 20, got %d %+v", code, resp)
	}
	code, resp = do(t, h, http.MethodGet, "/", "")
	if code != http.StatusOK || len(resp.Tasks) != 2 {
		t.Fatalf("expected two tasks, got %d", len(resp.Tasks))
	}
	code, resp = do(t, h, http.MethodGet, "/?project_id=abc", "")
	if code != http.StatusOK || len(resp.Tasks) != 2 {
		t.Fatalf("expected non-numeric project_id to list all tasks, got %d %d", code, len(resp.Tasks))
	}
}

func TestHTTP_ReassignAndStatus(t *testing.T) {
	h, _, _ := newTestRouter()
	do(t, h, http.MethodPost, "/", createBody)

	code, resp := do(t, h, http.MethodPatch, "/1/reassign", `{"employee_ids":[1,2,1]}`)
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("unexpected reassign response %d %+v", code, resp)
	}
	if len(resp.EmployeeIDs) != 2 || resp.EmployeeNames[0] != "Ada" || resp.EmployeeNames[1] != "Grace" {
		t.Fatalf("unexpected assignees %v %v", resp.EmployeeIDs, resp.EmployeeNames)
	}

	if code, _ := do(t, h, http.MethodPatch, "/1/reassign", `{"employee_ids":[]}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty reassign, got %d", code)
	}

	code, resp = do(t, h, http.MethodPatch, "/1/status", `{"status":"completed"}`)
	if code != http.StatusOK || resp.Task == nil || resp.Task.Status != "completed" {
		t.Fatalf("unexpected status response %d %+v", code, resp)
	}
	code, resp = do(t, h, http.MethodGet, "/ongoing", "")
	if code != http.StatusOK || len(resp.Tasks) != 0 {
		t.Fatalf("expected no ongoing tasks, got %d", len(resp.Tasks))
	}
}

func TestHTTP_UpdateAndDeleteNotFound(t *testing.T) {
	h, _, _ := newTestRouter()

	code, resp := do(t, h, http.MethodPut, "/99", createBody)
	if code != http.StatusNotFound || resp.Success {
		t.Fatalf("expected 404 on update, got %d %+v", code, resp)
	}
	if code, _ := do(t, h, http.MethodDelete, "/99", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 on delete, got %d", code)
	}
	if code, _ := do(t, h, http.MethodPatch, "/99/status", `{"status":"pending"}`); code != http.StatusNotFound {
		t.Fatalf("expected 404 on status, got %d", code)
	}
	if code, _ := do(t, h, http.MethodDelete, "/abc", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", code)
	}
}

func TestHTTP_UpdateThenDelete(t *testing.T) {
	h, _, pub := newTestRouter()
	do(t, h, http.MethodPost, "/", createBody)

	code, resp := do(t, h, http.MethodPut, "/1", `{"description":"Ship it twice","deadline":"2026-04-02","status":"In Progress","project_id":10,"employee_ids":[9]}`)
	if code != http.StatusOK || resp.Task.Description != "Ship it twice" || resp.Task.Status != "In Progress" {
		t.Fatalf("unexpected update response %d %+v", code, resp)
	}

	pub.sent = nil
	code, resp = do(t, h, http.MethodDelete, "/1", "")
	if code != http.StatusOK || !resp.Success || resp.Message == "" {
		t.Fatalf("unexpected delete response %d %+v", code, resp)
	}
	if len(pub.sent) != 1 || pub.sent[0].topic != "user_9" {
		t.Fatalf("expected delete event for employee 9, got %+v", pub.sent)
	}
}

func TestHTTP_EmployeeRoutes(t *testing.T) {
	h, _, _ := newTestRouter()
	do(t, h, http.MethodPost, "/", createBody)

	code, resp := do(t, h, http.MethodGet, "/employee/9", "")
	if code != http.StatusOK || len(resp.Tasks) != 1 {
		t.Fatalf("expected one task for employee 9, got %d %+v", code, resp)
	}
	var row struct {
		ProjectTitle *string `json:"project_title"`
	}
	if err := json.Unmarshal(resp.Tasks[0], &row); err != nil || row.ProjectTitle == nil || *row.ProjectTitle != "Website" {
		t.Fatalf("expected project title, got %s", resp.Tasks[0])
	}

	code, resp = do(t, h, http.MethodGet, "/list", "")
	if code != http.StatusOK || len(resp.Employees) != 4 {
		t.Fatalf("expected four employees, got %d %+v", code, resp)
	}
	if code, _ := do(t, h, http.MethodGet, "/employee/x", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad employee id, got %d", code)
	}
}
