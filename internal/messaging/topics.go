package messaging

import (
	"strconv"
	"strings"
)

const (
	topicPrefix = "user_"

	// NATSSubjectPrefix namespaces push topics on the NATS bus.
	NATSSubjectPrefix = "app.notify."
	// RedisChannelPrefix namespaces push topics on redis pub/sub.
	RedisChannelPrefix = "notify:"
)

// EmployeeTopic returns the per-employee topic, e.g. "user_42".
func EmployeeTopic(employeeID int64) string {
	return topicPrefix + strconv.FormatInt(employeeID, 10)
}

// EmployeeFromTopic is the inverse of EmployeeTopic.
func EmployeeFromTopic(topic string) (int64, bool) {
	raw, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func NATSSubject(topic string) string {
	return NATSSubjectPrefix + topic
}

func RedisChannel(topic string) string {
	return RedisChannelPrefix + topic
}
