package notify

import (
	"context"
	"encoding/json"

	"github.com/ems-pm/project/internal/contracts"
	"github.com/ems-pm/project/internal/messaging"
	"github.com/ems-pm/project/internal/platform/metrics"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Failure records one topic that could not be published to.
type Failure struct {
	Topic string
	Err   error
}

// Outcome is the fire-and-forget result of a fan-out. Callers may log it;
// it never turns into a request error.
type Outcome struct {
	Event     string
	TaskID    int64
	Published []string
	Failed    []Failure
}

func (o Outcome) OK() bool { return len(o.Failed) == 0 }

type Notifier struct {
	Publisher Publisher
	Logger    *zap.Logger
}

func NewNotifier(publisher Publisher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{Publisher: publisher, Logger: logger}
}

func (n *Notifier) NotifyAssigned(ctx context.Context, taskID int64, employeeIDs []int64, status, message string) Outcome {
	return n.fanOut(ctx, contracts.EventTaskAssigned, employeeIDs, contracts.TaskEvent{TaskID: taskID, Status: status, Message: message})
}

func (n *Notifier) NotifyUpdated(ctx context.Context, taskID int64, employeeIDs []int64, status, message string) Outcome {
	return n.fanOut(ctx, contracts.EventTaskUpdated, employeeIDs, contracts.TaskEvent{TaskID: taskID, Status: status, Message: message})
}

func (n *Notifier) NotifyReassigned(ctx context.Context, taskID int64, employeeIDs []int64, message string) Outcome {
	return n.fanOut(ctx, contracts.EventTaskReassigned, employeeIDs, contracts.TaskEvent{TaskID: taskID, Message: message})
}

func (n *Notifier) NotifyDeleted(ctx context.Context, taskID int64, employeeIDs []int64, message string) Outcome {
	return n.fanOut(ctx, contracts.EventTaskDeleted, employeeIDs, contracts.TaskEvent{TaskID: taskID, Message: message})
}

// fanOut publishes one envelope per employee topic, sequentially, so events
// for a task leave in the order the caller issued them.
func (n *Notifier) fanOut(ctx context.Context, event string, employeeIDs []int64, payload contracts.TaskEvent) Outcome {
	out := Outcome{Event: event, TaskID: payload.TaskID}
	if n == nil || n.Publisher == nil {
		return out
	}

	for _, employeeID := range employeeIDs {
		topic := messaging.EmployeeTopic(employeeID)
		body, err := json.Marshal(contracts.Envelope{Event: event, Topic: topic, Payload: payload})
		if err == nil {
			err = n.Publisher.Publish(ctx, topic, body)
		}
		metrics.RecordNotification(event, err)
		if err != nil {
			out.Failed = append(out.Failed, Failure{Topic: topic, Err: err})
			continue
		}
		out.Published = append(out.Published, topic)
	}

	if !out.OK() {
		n.Logger.Warn("task notification partially failed",
			zap.String("event", event),
			zap.Int64("task_id", payload.TaskID),
			zap.Int("published", len(out.Published)),
			zap.Int("failed", len(out.Failed)),
			zap.Error(out.Failed[0].Err),
		)
	}
	return out
}
