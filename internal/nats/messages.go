package nats

import "strings"

// EventSubjectPrefix prefixes the per-user realtime event subjects.
const EventSubjectPrefix = "events."

// EventSubject is the subject carrying userID's realtime events.
func EventSubject(userID string) string {
	return EventSubjectPrefix + userID
}

// StreamName maps a queue name such as "jobs.user-search.dlq" onto a valid
// JetStream stream name ("JOBS_USER_SEARCH_DLQ").
func StreamName(queue string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "*", "_", ">", "_", " ", "_")
	return strings.ToUpper(r.Replace(queue))
}

func consumerName(queue string) string {
	return StreamName(queue) + "_WORKER"
}
