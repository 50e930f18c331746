// Package webhook delivers answer events to requester callback URLs. The
// event replaces the legacy pattern of executing requester-supplied callback
// code inside the server; requesters react to the POST on their own side.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/uw-hai/crowdjs-server/internal/domain"
)

// AnswerEvent is the payload POSTed to a task's answer callback URL.
type AnswerEvent struct {
	Event      string        `json:"event"`
	TaskID     string        `json:"task_id"`
	QuestionID string        `json:"question_id"`
	WorkerID   string        `json:"worker_id"`
	Value      *domain.Label `json:"value,omitempty"`
	AnswerID   string        `json:"answer_id"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// AnswerCompleted posts an answer-completed event to the task's callback
// URL. A non-2xx response is an error; the caller decides whether delivery
// failures matter.
func (c *Client) AnswerCompleted(ctx context.Context, task *domain.Task, answer *domain.Answer) error {
	if task.AnswerCallbackURL == "" {
		return nil
	}

	event := AnswerEvent{
		Event:      "answer.completed",
		TaskID:     task.ID,
		QuestionID: answer.QuestionID,
		WorkerID:   answer.WorkerID,
		Value:      answer.Value,
		AnswerID:   answer.ID,
		OccurredAt: time.Now(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.AnswerCallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	return nil
}
