package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/reftrack-api/internal/dto"
	"github.com/noah-isme/reftrack-api/internal/models"
	"github.com/noah-isme/reftrack-api/internal/service"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
	"github.com/noah-isme/reftrack-api/pkg/response"
)

// ReferenceHandler exposes the movement workflow endpoints.
type ReferenceHandler struct {
	refs      *service.ReferenceService
	reopens   *service.ReopenService
	movements *service.MovementService
}

// NewReferenceHandler constructs the handler.
func NewReferenceHandler(refs *service.ReferenceService, reopens *service.ReopenService, movements *service.MovementService) *ReferenceHandler {
	return &ReferenceHandler{refs: refs, reopens: reopens, movements: movements}
}

// Create godoc
// @Summary Create a reference or form
// @Tags References
// @Accept json
// @Produce json
// @Param payload body dto.CreateReferenceRequest true "Reference payload"
// @Success 201 {object} response.Envelope
// @Router /references [post]
func (h *ReferenceHandler) Create(c *gin.Context) {
	var req dto.CreateReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid reference payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	ref, err := h.refs.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ref)
}

// Get godoc
// @Summary Fetch one reference
// @Tags References
// @Produce json
// @Param id path string true "Reference ID"
// @Success 200 {object} response.Envelope
// @Router /references/{id} [get]
func (h *ReferenceHandler) Get(c *gin.Context) {
	ref, err := h.refs.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ref, nil)
}

// List godoc
// @Summary List references
// @Tags References
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param kind query string false "REFERENCE or FORM"
// @Param holder query string false "Holder user ID"
// @Success 200 {object} response.Envelope
// @Router /references [get]
func (h *ReferenceHandler) List(c *gin.Context) {
	filter := models.ReferenceFilter{
		Kind:          models.SubjectKind(strings.ToUpper(c.Query("kind"))),
		HolderID:      c.Query("holder"),
		CreatedBy:     c.Query("createdBy"),
		IncludeHidden: c.Query("includeHidden") == "true",
		Page:          atoiDefault(c.Query("page"), 1),
		PageSize:      atoiDefault(c.Query("pageSize"), 20),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part != "" {
				filter.Status = append(filter.Status, models.ReferenceStatus(part))
			}
		}
	}

	refs, total, err := h.refs.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, refs, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Move godoc
// @Summary Hand off a reference / apply a status transition
// @Tags References
// @Accept json
// @Produce json
// @Param id path string true "Reference ID"
// @Param payload body dto.MoveReferenceRequest true "Move payload"
// @Success 200 {object} response.Envelope
// @Router /references/{id}/move [post]
func (h *ReferenceHandler) Move(c *gin.Context) {
	var req dto.MoveReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid move payload"))
		return
	}
	ref, err := h.refs.ApplyMove(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ref, nil)
}

// Remind godoc
// @Summary Nudge the current holders
// @Tags References
// @Accept json
// @Produce json
// @Param id path string true "Reference ID"
// @Success 204
// @Router /references/{id}/remind [post]
func (h *ReferenceHandler) Remind(c *gin.Context) {
	var req dto.RemindRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid remind payload"))
		return
	}
	if err := h.refs.Remind(c.Request.Context(), c.Param("id"), claimsFromContext(c), req.Remarks); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetHidden godoc
// @Summary Toggle admin visibility suppression
// @Tags References
// @Accept json
// @Produce json
// @Param id path string true "Reference ID"
// @Success 204
// @Router /references/{id}/hidden [put]
func (h *ReferenceHandler) SetHidden(c *gin.Context) {
	var req dto.OversightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payload"))
		return
	}
	if err := h.refs.SetHidden(c.Request.Context(), c.Param("id"), req.Value, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetArchived godoc
// @Summary Toggle the archive flag
// @Tags References
// @Accept json
// @Produce json
// @Param id path string true "Reference ID"
// @Success 204
// @Router /references/{id}/archived [put]
func (h *ReferenceHandler) SetArchived(c *gin.Context) {
	var req dto.OversightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payload"))
		return
	}
	if err := h.refs.SetArchived(c.Request.Context(), c.Param("id"), req.Value, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// History godoc
// @Summary List the movement ledger for a reference
// @Tags References
// @Produce json
// @Param id path string true "Reference ID"
// @Success 200 {object} response.Envelope
// @Router /references/{id}/movements [get]
func (h *ReferenceHandler) History(c *gin.Context) {
	limit := atoiDefault(c.Query("limit"), 50)
	offset := atoiDefault(c.Query("offset"), 0)
	events, err := h.movements.History(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// RequestReopen godoc
// @Summary File a reopen request on a closed reference
// @Tags References
// @Accept json
// @Produce json
// @Param id path string true "Reference ID"
// @Param payload body dto.ReopenRequestPayload true "Reopen payload"
// @Success 204
// @Router /references/{id}/reopen [post]
func (h *ReferenceHandler) RequestReopen(c *gin.Context) {
	var req dto.ReopenRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid reopen payload"))
		return
	}
	if err := h.reopens.Request(c.Request.Context(), c.Param("id"), claimsFromContext(c), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ResolveReopen godoc
// @Summary Approve or reject an outstanding reopen request
// @Tags References
// @Accept json
// @Produce json
// @Param id path string true "Reference ID"
// @Param payload body dto.ResolveReopenRequest true "Resolution payload"
// @Success 200 {object} response.Envelope
// @Router /references/{id}/reopen/resolve [post]
func (h *ReferenceHandler) ResolveReopen(c *gin.Context) {
	var req dto.ResolveReopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid resolution payload"))
		return
	}
	ref, err := h.reopens.Resolve(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ref, nil)
}

func atoiDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
