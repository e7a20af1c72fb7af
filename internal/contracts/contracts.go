package contracts

const (
	EventTaskAssigned   = "taskAssigned"
	EventTaskUpdated    = "taskUpdated"
	EventTaskReassigned = "taskReassigned"
	EventTaskDeleted    = "taskDeleted"

	// EventConnected is sent once on a new push stream and carries the session id.
	EventConnected = "connected"
)

// TaskEvent is the payload delivered to subscribed clients.
type TaskEvent struct {
	TaskID  int64  `json:"taskId"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

// Envelope is what travels over the broker: the client-facing event name
// plus its payload, so any gateway process can render the SSE frame.
type Envelope struct {
	Event   string    `json:"event"`
	Topic   string    `json:"topic"`
	Payload TaskEvent `json:"payload"`
}

type ConnectedEvent struct {
	SessionID string `json:"session_id"`
}
