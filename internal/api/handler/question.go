package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uw-hai/crowdjs-server/internal/controller"
	"github.com/uw-hai/crowdjs-server/internal/storage"
)

type QuestionHandler struct {
	questionRepo *storage.QuestionRepo
	taskRepo     *storage.TaskRepo
	ctrl         *controller.Controller
}

func NewQuestionHandler(questionRepo *storage.QuestionRepo, taskRepo *storage.TaskRepo, ctrl *controller.Controller) *QuestionHandler {
	return &QuestionHandler{questionRepo: questionRepo, taskRepo: taskRepo, ctrl: ctrl}
}

type AddQuestionRequest struct {
	TaskID string `json:"task_id" binding:"required"`
	CreateQuestionRequest
}

func (h *QuestionHandler) Create(c *gin.Context) {
	var req AddQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if _, err := h.taskRepo.GetByID(c.Request.Context(), req.TaskID); err != nil {
		respondError(c, err)
		return
	}

	q := buildQuestion(req.TaskID, req.CreateQuestionRequest)
	if err := h.questionRepo.Create(c.Request.Context(), q); err != nil {
		respondError(c, err)
		return
	}
	if err := h.ctrl.RegisterQuestion(c.Request.Context(), q); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, q)
}

func (h *QuestionHandler) GetByID(c *gin.Context) {
	q, err := h.questionRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}
