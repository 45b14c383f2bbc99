package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Job statuses.
const (
	StatusWaiting   = "waiting"
	StatusDelayed   = "delayed"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStalled   = "stalled"
)

// Job is one unit of queued work. The queue owns it; only the worker pool
// and the queue's own maintenance loop mutate it.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue_name"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"` // 1 = highest, 3 = lowest
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	StalledCount int             `json:"stalled_count"`
	Status       string          `json:"status"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DeterministicID builds a job ID from the job's subject and a one-minute
// time bucket. Enqueueing the same subject twice inside a bucket collides
// on purpose: the collision is the de-duplication mechanism.
func DeterministicID(jobType, subject string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%d", jobType, subject, t.Unix()/60)
}

// Unmarshal decodes the job payload into dest.
func (j *Job) Unmarshal(dest interface{}) error {
	return json.Unmarshal(j.Payload, dest)
}

func (j *Job) toFields() map[string]string {
	return map[string]string{
		"id":            j.ID,
		"type":          j.Type,
		"payload":       string(j.Payload),
		"priority":      strconv.Itoa(j.Priority),
		"attempts_made": strconv.Itoa(j.AttemptsMade),
		"max_attempts":  strconv.Itoa(j.MaxAttempts),
		"stalled_count": strconv.Itoa(j.StalledCount),
		"status":        j.Status,
		"last_error":    j.LastError,
		"created_at":    j.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func jobFromFields(queueName string, fields map[string]string) *Job {
	j := &Job{
		ID:        fields["id"],
		Queue:     queueName,
		Type:      fields["type"],
		Payload:   json.RawMessage(fields["payload"]),
		Status:    fields["status"],
		LastError: fields["last_error"],
	}
	j.Priority, _ = strconv.Atoi(fields["priority"])
	j.AttemptsMade, _ = strconv.Atoi(fields["attempts_made"])
	j.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	j.StalledCount, _ = strconv.Atoi(fields["stalled_count"])
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	return j
}
