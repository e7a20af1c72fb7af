package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ems-pm/project/internal/platform/env"
	"github.com/ems-pm/project/internal/platform/logging"
	"github.com/ems-pm/project/internal/platform/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type config struct {
	APIBase                     string
	PushBase                    string
	ProjectID                   int64
	Employees                   int
	AssigneesPerTask            int
	StartupWait                 time.Duration
	Duration                    time.Duration
	RampUp                      time.Duration
	ActionsPerEmployeePerSecond float64
	RequestTimeout              time.Duration
	MetricsAddr                 string
	EnableSSE                   bool
}

type employee struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type employeesResponse struct {
	Employees []employee `json:"employees"`
}

type taskResponse struct {
	Task struct {
		TaskID int64 `json:"task_id"`
	} `json:"task"`
}

type simulatedEmployee struct {
	Index int
	ID    int64

	mu    sync.Mutex
	tasks []int64
}

type runner struct {
	cfg        config
	logger     *zap.Logger
	apiClient  *http.Client
	pushClient *http.Client
	pool       []int64

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	eventsReceived  atomic.Int64
	activeVUs       atomic.Int64
	activeSSE       atomic.Int64
}

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ems_loadgen_requests_total",
		Help: "Total HTTP requests sent by the load generator.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ems_loadgen_actions_total",
		Help: "Task actions executed by the load generator.",
	}, []string{"action", "outcome"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ems_loadgen_push_events_total",
		Help: "Push events received by simulated employees.",
	}, []string{"event"})

	virtualEmployeesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ems_loadgen_virtual_employees",
		Help: "Current number of simulated employees sending actions.",
	})

	pushConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ems_loadgen_push_connected",
		Help: "Current number of simulated employees with an open push stream.",
	})
)

func main() {
	cfg := loadConfig()
	logger, err := logging.New(env.String("LOG_LEVEL", "info"), env.String("LOG_FORMAT", "console"))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Employees <= 0 {
		logger.Fatal("LOADGEN_EMPLOYEES must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr, logger)

	transport := &http.Transport{
		MaxIdleConns:        cfg.Employees * 4,
		MaxIdleConnsPerHost: cfg.Employees * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	r := &runner{
		cfg:        cfg,
		logger:     logger,
		apiClient:  &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		pushClient: &http.Client{Transport: transport},
	}

	if err := r.waitForDependencies(ctx); err != nil {
		logger.Fatal("dependency readiness failed", zap.Error(err))
	}

	employees, err := r.loadEmployees(ctx)
	if err != nil || len(employees) == 0 {
		logger.Fatal("no employees available; seed the employee table first", zap.Error(err))
	}
	logger.Info("load generator initialized",
		zap.Int("employees", len(employees)),
		zap.Duration("duration", cfg.Duration),
		zap.Bool("push", cfg.EnableSSE),
		zap.Float64("rate_per_employee", cfg.ActionsPerEmployeePerSecond),
	)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for _, e := range employees {
		wg.Add(1)
		go func(e *simulatedEmployee) {
			defer wg.Done()
			r.runEmployee(ctx, e)
		}(e)
	}

	<-ctx.Done()
	wg.Wait()

	logger.Info("load test complete",
		zap.Int64("success_requests", r.requestsSuccess.Load()),
		zap.Int64("error_requests", r.requestsError.Load()),
		zap.Int64("events_received", r.eventsReceived.Load()),
	)
}

func loadConfig() config {
	apiBase := trimRightSlash(env.String("LOADGEN_API_BASE", "http://localhost:5000"))
	return config{
		APIBase:                     apiBase,
		PushBase:                    trimRightSlash(env.String("LOADGEN_PUSH_BASE", apiBase)),
		ProjectID:                   int64(env.Int("LOADGEN_PROJECT_ID", 1)),
		Employees:                   env.Int("LOADGEN_EMPLOYEES", 50),
		AssigneesPerTask:            env.Int("LOADGEN_ASSIGNEES_PER_TASK", 2),
		StartupWait:                 env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                    env.Duration("LOADGEN_DURATION", 5*time.Minute),
		RampUp:                      env.Duration("LOADGEN_RAMP_UP", 20*time.Second),
		ActionsPerEmployeePerSecond: env.Float("LOADGEN_ACTIONS_PER_EMPLOYEE_PER_SECOND", 0.3),
		RequestTimeout:              env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:                 env.String("LOADGEN_METRICS_ADDR", ":9099"),
		EnableSSE:                   env.Bool("LOADGEN_ENABLE_PUSH", true),
	}
}

func (r *runner) waitForDependencies(ctx context.Context) error {
	wait := r.cfg.StartupWait
	if wait <= 0 {
		wait = 2 * time.Minute
	}
	if err := r.waitForHTTPStatus(ctx, r.cfg.APIBase+"/readyz", http.StatusOK, wait); err != nil {
		return fmt.Errorf("task-api not ready: %w", err)
	}
	if r.cfg.EnableSSE && r.cfg.PushBase != r.cfg.APIBase {
		if err := r.waitForHTTPStatus(ctx, r.cfg.PushBase+"/readyz", http.StatusOK, wait); err != nil {
			return fmt.Errorf("push-gateway not ready: %w", err)
		}
	}
	return nil
}

func (r *runner) waitForHTTPStatus(ctx context.Context, requestURL string, expectedStatus int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.apiClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == expectedStatus {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) loadEmployees(ctx context.Context) ([]*simulatedEmployee, error) {
	var resp employeesResponse
	if _, err := r.requestJSON(ctx, "list_employees", http.MethodGet, r.cfg.APIBase+"/tasks/list", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}

	out := make([]*simulatedEmployee, 0, r.cfg.Employees)
	for idx, e := range resp.Employees {
		r.pool = append(r.pool, e.ID)
		if idx < r.cfg.Employees {
			out = append(out, &simulatedEmployee{Index: idx, ID: e.ID})
		}
	}
	return out, nil
}

func (r *runner) runEmployee(ctx context.Context, e *simulatedEmployee) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration((float64(r.cfg.RampUp) / float64(max(r.cfg.Employees, 1))) * float64(e.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if r.cfg.EnableSSE {
		go r.runPushLoop(ctx, e)
	}

	virtualEmployeesGauge.Inc()
	r.activeVUs.Add(1)
	defer virtualEmployeesGauge.Dec()
	defer r.activeVUs.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerEmployeePerSecond > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.ActionsPerEmployeePerSecond)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(e.Index*7)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rng.Int63n(int64(interval)))):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, e, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, e *simulatedEmployee, rng *rand.Rand) {
	taskID, hasTask := e.randomTask(rng)

	choice := rng.Float64()
	switch {
	case !hasTask || choice < 0.40:
		r.createTask(ctx, e, rng)
	case choice < 0.70:
		r.changeStatus(ctx, taskID, rng)
	case choice < 0.90:
		r.reassign(ctx, e, taskID, rng)
	default:
		r.deleteTask(ctx, e, taskID)
	}
}

// assignees always include e so its own stream sees the resulting events.
func (r *runner) assignees(e *simulatedEmployee, rng *rand.Rand) []int64 {
	ids := []int64{e.ID}
	for i := 1; i < r.cfg.AssigneesPerTask && len(r.pool) > 0; i++ {
		ids = append(ids, r.pool[rng.Intn(len(r.pool))])
	}
	return ids
}

func (r *runner) createTask(ctx context.Context, e *simulatedEmployee, rng *rand.Rand) {
	var resp taskResponse
	_, err := r.requestJSON(ctx, "create_task", http.MethodPost, r.cfg.APIBase+"/tasks", map[string]any{
		"description":  fmt.Sprintf("Load task %d", rng.Intn(1_000_000)),
		"deadline":     time.Now().Add(time.Duration(rng.Intn(72)) * time.Hour).UTC().Format(time.RFC3339),
		"status":       "pending",
		"project_id":   r.cfg.ProjectID,
		"employee_ids": r.assignees(e, rng),
	}, &resp, http.StatusCreated)
	if err != nil {
		actionsTotal.WithLabelValues("create", "error").Inc()
		return
	}
	e.addTask(resp.Task.TaskID)
	actionsTotal.WithLabelValues("create", "success").Inc()
}

var statuses = []string{"pending", "in_progress", "completed"}

func (r *runner) changeStatus(ctx context.Context, taskID int64, rng *rand.Rand) {
	_, err := r.requestJSON(ctx, "change_status", http.MethodPatch, r.taskURL(taskID)+"/status", map[string]string{
		"status": statuses[rng.Intn(len(statuses))],
	}, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("status", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("status", "success").Inc()
}

func (r *runner) reassign(ctx context.Context, e *simulatedEmployee, taskID int64, rng *rand.Rand) {
	_, err := r.requestJSON(ctx, "reassign", http.MethodPatch, r.taskURL(taskID)+"/reassign", map[string]any{
		"employee_ids": r.assignees(e, rng),
	}, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("reassign", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("reassign", "success").Inc()
}

func (r *runner) deleteTask(ctx context.Context, e *simulatedEmployee, taskID int64) {
	_, err := r.requestJSON(ctx, "delete_task", http.MethodDelete, r.taskURL(taskID), nil, nil, http.StatusOK, http.StatusNotFound)
	if err != nil {
		actionsTotal.WithLabelValues("delete", "error").Inc()
		return
	}
	e.removeTask(taskID)
	actionsTotal.WithLabelValues("delete", "success").Inc()
}

func (r *runner) taskURL(taskID int64) string {
	return r.cfg.APIBase + "/tasks/" + strconv.FormatInt(taskID, 10)
}

func (r *runner) runPushLoop(ctx context.Context, e *simulatedEmployee) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := r.connectAndReadPush(ctx, e)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("push reconnect", zap.Int64("employee_id", e.ID), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(1200 * time.Millisecond):
		}
	}
}

func (r *runner) connectAndReadPush(ctx context.Context, e *simulatedEmployee) error {
	streamURL := r.cfg.PushBase + "/socket/events?employee_id=" + strconv.FormatInt(e.ID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.pushClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("push_stream_open", http.MethodGet, "0", "error").Inc()
		r.requestsError.Add(1)
		return err
	}
	defer resp.Body.Close()

	statusText := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		requestsTotal.WithLabelValues("push_stream_open", http.MethodGet, statusText, "error").Inc()
		r.requestsError.Add(1)
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected push status: %d", resp.StatusCode)
	}
	requestsTotal.WithLabelValues("push_stream_open", http.MethodGet, statusText, "success").Inc()
	r.requestsSuccess.Add(1)

	pushConnectedGauge.Inc()
	r.activeSSE.Add(1)
	defer pushConnectedGauge.Dec()
	defer r.activeSSE.Add(-1)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			eventsTotal.WithLabelValues(name).Inc()
			r.eventsReceived.Add(1)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	return nil
}

func (r *runner) requestJSON(
	ctx context.Context,
	endpoint, method, requestURL string,
	payload any,
	out any,
	expectedStatuses ...int,
) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, "0", "error").Inc()
		r.requestsError.Add(1)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	statusText := strconv.Itoa(resp.StatusCode)
	if readErr != nil {
		requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
		r.requestsError.Add(1)
		return resp.StatusCode, readErr
	}

	for _, expected := range expectedStatuses {
		if resp.StatusCode != expected {
			continue
		}
		requestsTotal.WithLabelValues(endpoint, method, statusText, "success").Inc()
		r.requestsSuccess.Add(1)
		if out != nil && len(responseBody) > 0 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}

	requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
	r.requestsError.Add(1)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.Info("progress",
				zap.Int64("success_requests", r.requestsSuccess.Load()),
				zap.Int64("error_requests", r.requestsError.Load()),
				zap.Int64("events_received", r.eventsReceived.Load()),
				zap.Int64("active_vus", r.activeVUs.Load()),
				zap.Int64("active_push", r.activeSSE.Load()),
			)
		}
	}
}

func runMetricsServer(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("load generator metrics endpoint listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("load generator metrics server failed", zap.Error(err))
	}
}

func (e *simulatedEmployee) addTask(taskID int64) {
	if taskID <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, taskID)
}

func (e *simulatedEmployee) randomTask(rng *rand.Rand) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.tasks) == 0 {
		return 0, false
	}
	return e.tasks[rng.Intn(len(e.tasks))], true
}

func (e *simulatedEmployee) removeTask(taskID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for idx, existing := range e.tasks {
		if existing != taskID {
			continue
		}
		e.tasks[idx] = e.tasks[len(e.tasks)-1]
		e.tasks = e.tasks[:len(e.tasks)-1]
		return
	}
}

func trimRightSlash(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
