package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/reftrack-api/internal/dto"
	"github.com/noah-isme/reftrack-api/internal/service"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
	"github.com/noah-isme/reftrack-api/pkg/response"
)

// DistributionHandler triggers fan-out runs and serves task polling.
type DistributionHandler struct {
	distributions *service.DistributionService
	tasks         *service.TaskService
}

// NewDistributionHandler constructs the handler.
func NewDistributionHandler(distributions *service.DistributionService, tasks *service.TaskService) *DistributionHandler {
	return &DistributionHandler{distributions: distributions, tasks: tasks}
}

// Distribute godoc
// @Summary Start an asynchronous distribution run
// @Tags Distribution
// @Accept json
// @Produce json
// @Param payload body dto.DistributeRequest true "Distribution payload"
// @Success 202 {object} response.Envelope
// @Router /distributions [post]
func (h *DistributionHandler) Distribute(c *gin.Context) {
	var req dto.DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid distribution payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	resp, err := h.distributions.StartDistribution(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

// TaskStatus godoc
// @Summary Poll a background task
// @Tags Distribution
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id} [get]
func (h *DistributionHandler) TaskStatus(c *gin.Context) {
	status, err := h.tasks.GetStatus(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
