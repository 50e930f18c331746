package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uw-hai/crowdjs-server/internal/storage"
)

type WorkerHandler struct {
	workerRepo *storage.WorkerRepo
}

func NewWorkerHandler(workerRepo *storage.WorkerRepo) *WorkerHandler {
	return &WorkerHandler{workerRepo: workerRepo}
}

func (h *WorkerHandler) GetByID(c *gin.Context) {
	worker, err := h.workerRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}
