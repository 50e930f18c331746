package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uw-hai/crowdjs-server/internal/storage"
	"github.com/uw-hai/crowdjs-server/internal/worker"
)

type InferenceHandler struct {
	enqueuer *worker.Enqueuer
	jobRepo  *storage.InferenceJobRepo
}

func NewInferenceHandler(enqueuer *worker.Enqueuer, jobRepo *storage.InferenceJobRepo) *InferenceHandler {
	return &InferenceHandler{enqueuer: enqueuer, jobRepo: jobRepo}
}

type StartInferenceRequest struct {
	Strategy string `json:"strategy" binding:"required"`
}

func (h *InferenceHandler) Start(c *gin.Context) {
	taskID := c.Param("id")

	var req StartInferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.enqueuer.Enqueue(c.Request.Context(), taskID, req.Strategy)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

func (h *InferenceHandler) GetByID(c *gin.Context) {
	job, err := h.jobRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *InferenceHandler) ListByTask(c *gin.Context) {
	jobs, err := h.jobRepo.ListByTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
