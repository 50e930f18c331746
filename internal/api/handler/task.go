package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/uw-hai/crowdjs-server/internal/controller"
	"github.com/uw-hai/crowdjs-server/internal/domain"
	"github.com/uw-hai/crowdjs-server/internal/storage"
)

const MaxQuestionsPerRequest = 500

type TaskHandler struct {
	taskRepo     *storage.TaskRepo
	questionRepo *storage.QuestionRepo
	ctrl         *controller.Controller
}

func NewTaskHandler(taskRepo *storage.TaskRepo, questionRepo *storage.QuestionRepo, ctrl *controller.Controller) *TaskHandler {
	return &TaskHandler{taskRepo: taskRepo, questionRepo: questionRepo, ctrl: ctrl}
}

type CreateQuestionRequest struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	Data               string `json:"data"`
	AnswersPerQuestion int    `json:"answers_per_question"`
	UniqueWorkers      *bool  `json:"unique_workers"`
}

type CreateTaskRequest struct {
	RequesterID            string                  `json:"requester_id" binding:"required"`
	Name                   string                  `json:"name" binding:"required"`
	Description            string                  `json:"description"`
	Data                   string                  `json:"data"`
	AssignmentDurationSecs int64                   `json:"assignment_duration_secs"`
	TotalBudget            *int                    `json:"total_budget"`
	AnswerCallbackURL      string                  `json:"answer_callback_url"`
	Questions              []CreateQuestionRequest `json:"questions"`
}

type CreateTaskResponse struct {
	TaskID      string   `json:"task_id"`
	QuestionIDs []string `json:"question_ids"`
}

func (h *TaskHandler) Create(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if len(req.Questions) > MaxQuestionsPerRequest {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exceeds maximum batch size of 500"})
		return
	}

	totalBudget := domain.UnlimitedBudget
	if req.TotalBudget != nil {
		totalBudget = *req.TotalBudget
	}
	duration := time.Duration(req.AssignmentDurationSecs) * time.Second
	if duration <= 0 {
		duration = time.Hour
	}

	task := &domain.Task{
		RequesterID:        req.RequesterID,
		Name:               req.Name,
		Description:        req.Description,
		Data:               req.Data,
		AssignmentDuration: duration,
		TotalBudget:        totalBudget,
		AnswerCallbackURL:  req.AnswerCallbackURL,
	}
	if err := h.taskRepo.Create(c.Request.Context(), task); err != nil {
		respondError(c, err)
		return
	}

	questions := make([]*domain.Question, 0, len(req.Questions))
	for _, qr := range req.Questions {
		questions = append(questions, buildQuestion(task.ID, qr))
	}
	if len(questions) > 0 {
		if err := h.questionRepo.CreateBatch(c.Request.Context(), questions); err != nil {
			respondError(c, err)
			return
		}
	}

	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		if err := h.ctrl.RegisterQuestion(c.Request.Context(), q); err != nil {
			respondError(c, err)
			return
		}
		ids = append(ids, q.ID)
	}

	c.JSON(http.StatusCreated, CreateTaskResponse{TaskID: task.ID, QuestionIDs: ids})
}

func buildQuestion(taskID string, qr CreateQuestionRequest) *domain.Question {
	budget := qr.AnswersPerQuestion
	if budget <= 0 {
		budget = 1
	}
	unique := true
	if qr.UniqueWorkers != nil {
		unique = *qr.UniqueWorkers
	}
	return &domain.Question{
		TaskID:             taskID,
		Name:               qr.Name,
		Description:        qr.Description,
		Data:               qr.Data,
		AnswersPerQuestion: budget,
		UniqueWorkers:      unique,
	}
}

func (h *TaskHandler) GetByID(c *gin.Context) {
	task, err := h.taskRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) List(c *gin.Context) {
	requesterID := c.Query("requester_id")
	if requesterID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requester_id is required"})
		return
	}

	tasks, err := h.taskRepo.List(c.Request.Context(), requesterID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *TaskHandler) Status(c *gin.Context) {
	status, err := h.ctrl.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *TaskHandler) WorkerMetrics(c *gin.Context) {
	metrics, err := h.ctrl.WorkerMetrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": metrics})
}

func (h *TaskHandler) Questions(c *gin.Context) {
	questions, err := h.questionRepo.ListByTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}
