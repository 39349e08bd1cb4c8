package job

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jabraham1/dok-tok/internal/apperr"
)

// HandlerIndexer names jobs that failed inside the index consumer.
const HandlerIndexer = "indexer"

// Job is a failed task kept for inspection and manual retry. Payload is the
// original message body; Retries counts how often the same source failed
// again in the same handler.
type Job struct {
	ID        string          `json:"id"`
	SourceID  string          `json:"source_id"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}

// PayloadSource reads source_id back out of the stored index task. A payload
// without one cannot be requeued.
func (j *Job) PayloadSource() (string, error) {
	var task struct {
		SourceID string `json:"source_id"`
	}
	if err := json.Unmarshal(j.Payload, &task); err != nil {
		return "", apperr.Wrap(apperr.ErrInvalidParameters, "job payload is not an index task", err)
	}
	if strings.TrimSpace(task.SourceID) == "" {
		return "", apperr.New(apperr.ErrInvalidParameters, "job payload has no source_id")
	}
	return task.SourceID, nil
}
