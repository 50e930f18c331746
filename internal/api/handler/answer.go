package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uw-hai/crowdjs-server/internal/controller"
	"github.com/uw-hai/crowdjs-server/internal/storage"
)

type AnswerHandler struct {
	ctrl       *controller.Controller
	workerRepo *storage.WorkerRepo
	answerRepo *storage.AnswerRepo
}

func NewAnswerHandler(ctrl *controller.Controller, workerRepo *storage.WorkerRepo, answerRepo *storage.AnswerRepo) *AnswerHandler {
	return &AnswerHandler{ctrl: ctrl, workerRepo: workerRepo, answerRepo: answerRepo}
}

type SubmitAnswerRequest struct {
	TaskID           string `json:"task_id" binding:"required"`
	QuestionID       string `json:"question_id" binding:"required"`
	PlatformName     string `json:"platform_name" binding:"required"`
	PlatformWorkerID string `json:"platform_worker_id" binding:"required"`
	Value            *int   `json:"value" binding:"required"`
}

// Submit records a worker's label. Labels for expired or never-made
// reservations are accepted as walk-ins, matching how crowd platforms
// deliver late answers.
func (h *AnswerHandler) Submit(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	worker, err := h.workerRepo.Upsert(c.Request.Context(), req.PlatformName, req.PlatformWorkerID)
	if err != nil {
		respondError(c, err)
		return
	}

	answer, err := h.ctrl.SubmitObservation(c.Request.Context(), req.TaskID, worker.ID, req.QuestionID, *req.Value)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, answer)
}

func (h *AnswerHandler) GetByID(c *gin.Context) {
	answer, err := h.answerRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}
