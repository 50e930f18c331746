package worker

import (
	"context"
	"log"
	"time"

	"github.com/uw-hai/crowdjs-server/internal/controller"
	"github.com/uw-hai/crowdjs-server/internal/storage"
)

// Scanner periodically reclaims reservations that outlived their task's
// assignment duration. Racing a late submission is fine; the controller's
// conditional status flip picks one winner.
type Scanner struct {
	answerRepo *storage.AnswerRepo
	ctrl       *controller.Controller
	interval   time.Duration
}

func NewScanner(answerRepo *storage.AnswerRepo, ctrl *controller.Controller, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scanner{answerRepo: answerRepo, ctrl: ctrl, interval: interval}
}

func (s *Scanner) Start(ctx context.Context) {
	log.Printf("Starting requeue scanner with interval=%s", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				log.Printf("Requeue scan failed: %v", err)
			}
		}
	}
}

func (s *Scanner) scan(ctx context.Context) error {
	stale, err := s.answerRepo.StaleAssigned(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, answer := range stale {
		if err := s.ctrl.RequeueAnswer(ctx, answer); err != nil {
			log.Printf("Error requeueing answer %s: %v", answer.ID, err)
			continue
		}
		log.Printf("Requeued expired assignment %s (task=%s question=%s worker=%s)",
			answer.ID, answer.TaskID, answer.QuestionID, answer.WorkerID)
	}

	return nil
}
