package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uw-hai/crowdjs-server/internal/controller"
	"github.com/uw-hai/crowdjs-server/internal/domain"
	"github.com/uw-hai/crowdjs-server/internal/storage"
)

type AssignmentHandler struct {
	ctrl       *controller.Controller
	workerRepo *storage.WorkerRepo
}

func NewAssignmentHandler(ctrl *controller.Controller, workerRepo *storage.WorkerRepo) *AssignmentHandler {
	return &AssignmentHandler{ctrl: ctrl, workerRepo: workerRepo}
}

type NextAssignmentRequest struct {
	PlatformName     string `json:"platform_name" binding:"required"`
	PlatformWorkerID string `json:"platform_worker_id" binding:"required"`
	Strategy         string `json:"strategy"`
	Preview          bool   `json:"preview"`
}

type AssignmentResponse struct {
	Assigned   bool   `json:"assigned"`
	Reason     string `json:"reason,omitempty"`
	QuestionID string `json:"question_id,omitempty"`
	AnswerID   string `json:"answer_id,omitempty"`
	WorkerID   string `json:"worker_id,omitempty"`
}

// Next hands the calling worker their next question. Budget exhaustion and
// an empty queue are normal outcomes, reported in the body rather than as
// errors.
func (h *AssignmentHandler) Next(c *gin.Context) {
	taskID := c.Param("id")

	var req NextAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	worker, err := h.workerRepo.Upsert(c.Request.Context(), req.PlatformName, req.PlatformWorkerID)
	if err != nil {
		respondError(c, err)
		return
	}

	answer, err := h.ctrl.Assign(c.Request.Context(), taskID, worker.ID, req.Strategy, req.Preview)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoAssignmentAvailable):
			c.JSON(http.StatusOK, AssignmentResponse{Assigned: false, Reason: "no_assignment_available", WorkerID: worker.ID})
		case errors.Is(err, domain.ErrCapacityExhausted):
			c.JSON(http.StatusOK, AssignmentResponse{Assigned: false, Reason: "capacity_exhausted", WorkerID: worker.ID})
		default:
			respondError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, AssignmentResponse{
		Assigned:   true,
		QuestionID: answer.QuestionID,
		AnswerID:   answer.ID,
		WorkerID:   worker.ID,
	})
}

type RequeueRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
	WorkerID   string `json:"worker_id" binding:"required"`
}

// Requeue reclaims a timed-out reservation. It no-ops when the worker
// already answered; the response does not distinguish the two outcomes.
func (h *AssignmentHandler) Requeue(c *gin.Context) {
	taskID := c.Param("id")

	var req RequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.ctrl.Requeue(c.Request.Context(), taskID, req.QuestionID, req.WorkerID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
