package v1

import (
	"crypto/rsa"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gleeworld-hub/internal/api/middleware"
	"gleeworld-hub/internal/api/response"
	inputsanitize "gleeworld-hub/internal/api/sanitize"
	"gleeworld-hub/internal/model"
	"gleeworld-hub/internal/schedule"
	"gleeworld-hub/internal/service"
)

const (
	activeFeedRateLimit  = 120
	activeFeedRateWindow = time.Minute
)

type AnnouncementHandler struct {
	announcementService *service.AnnouncementService
	auditService        *service.AuditService
}

func NewAnnouncementHandler(announcementService *service.AnnouncementService, auditService *service.AuditService) *AnnouncementHandler {
	return &AnnouncementHandler{
		announcementService: announcementService,
		auditService:        auditService,
	}
}

func RegisterAnnouncementRoutes(
	group *gin.RouterGroup,
	announcementService *service.AnnouncementService,
	auditService *service.AuditService,
	publicKey *rsa.PublicKey,
) {
	if announcementService == nil {
		return
	}

	handler := NewAnnouncementHandler(announcementService, auditService)
	ann := group.Group("/announcements")

	ann.GET("/active", middleware.RateLimit("ip", activeFeedRateLimit, activeFeedRateWindow), handler.ListActive)

	ann.Use(middleware.JWTAuth(publicKey), middleware.RequireRole(service.PublisherRoles...))
	ann.GET("", handler.List)
	ann.POST("", handler.Create)
	ann.GET("/:id", handler.GetByID)
	ann.PUT("/:id", handler.Update)
	ann.DELETE("/:id", handler.Delete)
	ann.POST("/:id/publish", handler.Publish)
	ann.POST("/:id/unpublish", handler.Unpublish)
	ann.GET("/:id/occurrences", handler.Occurrences)
	ann.GET("/:id/audit", handler.AuditTrail)
}

// ListActive
// @Summary Public announcement feed
// @Description Announcements live right now, featured first. audience narrows the feed.
// @Tags announcement
// @Produce json
// @Param audience query string false "all, members, alumnae, fans or executive"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/announcements/active [get]
func (h *AnnouncementHandler) ListActive(c *gin.Context) {
	var audience *model.AnnouncementAudience
	if raw := strings.ToLower(strings.TrimSpace(c.Query("audience"))); raw != "" {
		value := model.AnnouncementAudience(raw)
		audience = &value
	}

	items, err := h.announcementService.ListActive(c.Request.Context(), audience, time.Now().UTC())
	if err != nil {
		handleAnnouncementServiceError(c, err)
		return
	}
	response.Success(c, items)
}

// List
// @Summary List announcements
// @Tags announcement
// @Produce json
// @Param status query string false "draft, scheduled, published or expired"
// @Param audience query string false "target audience"
// @Param featured query bool false "featured only"
// @Param page query int false "page"
// @Param page_size query int false "page size"
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Router /api/v1/announcements [get]
func (h *AnnouncementHandler) List(c *gin.Context) {
	filter := service.AnnouncementFilter{
		Page:     parseIntOrDefault(c.Query("page"), 1),
		PageSize: parseIntOrDefault(c.Query("page_size"), 20),
	}
	if raw := strings.ToLower(strings.TrimSpace(c.Query("status"))); raw != "" {
		status := schedule.Status(raw)
		filter.Status = &status
	}
	if raw := strings.ToLower(strings.TrimSpace(c.Query("audience"))); raw != "" {
		audience := model.AnnouncementAudience(raw)
		filter.Audience = &audience
	}
	if raw := strings.TrimSpace(c.Query("featured")); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrValidation, "featured: must be true or false")
			return
		}
		filter.Featured = &featured
	}
	if raw := strings.ToLower(strings.TrimSpace(c.Query("type"))); raw != "" {
		filter.Type = &raw
	}

	items, total, err := h.announcementService.List(c.Request.Context(), filter, time.Now().UTC())
	if err != nil {
		handleAnnouncementServiceError(c, err)
		return
	}
	page, pageSize := normalizePagination(filter.Page, filter.PageSize)
	response.Paginated(c, items, page, pageSize, total)
}

func (h *AnnouncementHandler) GetByID(c *gin.Context) {
	item, err := h.announcementService.Get(c.Request.Context(), c.Param("id"), time.Now().UTC())
	if err != nil {
		handleAnnouncementServiceError(c, err)
		return
	}
	response.Success(c, item)
}

// Create
// @Summary Create an announcement
// @Description Dates are YYYY-MM-DD and times HH:MM in the deployment offset. Without any timing the announcement is a draft.
// @Tags announcement
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /api/v1/announcements [post]
func (h *AnnouncementHandler) Create(c *gin.Context) {
	req, ok := bindAnnouncementRequest(c)
	if !ok {
		return
	}

	item, err := h.announcementService.Create(c.Request.Context(), operatorFromContext(c), req)
	if err != nil {
		handleAnnouncementServiceError(c, err)
		return
	}
	response.Created(c, item)
}

func (h *AnnouncementHandler) Update(c *gin.Context) {
	req, ok := bindAnnouncementRequest(c)
	if !ok {
		return
	}

	item, err := h.announcementService.Update(c.Request.Context(), operatorFromContext(c), c.Param("id"), req)
	if err != nil {
		handleAnnouncementServiceError(c, err)
		return
	}
	response.Success(c, item)
}

func (h *AnnouncementHandler) Delete(c *gin.Context) {
	if err := h.announcementService.Delete(c.Request.Context(), operatorFromContext(c), c.Param("id")); err != nil {
		handleAnnouncementServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

func (h *AnnouncementHandler) Publish(c *gin.Context) {
	item, err := h.announcementService.Publish(c.Request.Context(), operatorFromContext(c), c.Param("id"))
	if err != nil {
		handleAnnouncementServiceError(c, err)
		return
	}
	response.Success(c, item)
}

func (h *AnnouncementHandler) Unpublish(c *gin.Context) {
	item, err := h.announcementService.Unpublish(c.Request.Context(), operatorFromContext(c), c.Param("id"))
	if err != nil {
		handleAnnouncementServiceError(c, err)
		return
	}
	response.Success(c, item)
}

// Occurrences
// @Summary Preview upcoming firing instants
// @Tags announcement
// @Produce json
// @Param after query string false "RFC3339 instant, defaults to now"
// @Param limit query int false "at most 50"
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Router /api/v1/announcements/{id}/occurrences [get]
func (h *AnnouncementHandler) Occurrences(c *gin.Context) {
	after := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrValidation, "after: must be an RFC3339 timestamp")
			return
		}
		after = parsed.UTC()
	}

	items, err := h.announcementService.Occurrences(c.Request.Context(), c.Param("id"), after, parseIntOrDefault(c.Query("limit"), 0))
	if err != nil {
		handleAnnouncementServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"offset":      h.announcementService.Offset().String(),
		"occurrences": items,
	})
}

func (h *AnnouncementHandler) AuditTrail(c *gin.Context) {
	if h.auditService == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrUnavailable, "audit log unavailable")
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	resourceType := "announcement"
	page, pageSize := normalizePagination(parseIntOrDefault(c.Query("page"), 1), parseIntOrDefault(c.Query("page_size"), 20))
	items, err := h.auditService.List(c.Request.Context(), service.AuditFilter{
		ResourceType: &resourceType,
		ResourceID:   &id,
	}, page, pageSize)
	if err != nil {
		handleAuditServiceError(c, err)
		return
	}
	response.Success(c, items)
}

func bindAnnouncementRequest(c *gin.Context) (service.AnnouncementRequest, bool) {
	var req service.AnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrValidation, "invalid request body")
		return service.AnnouncementRequest{}, false
	}

	req.Title = inputsanitize.Text(req.Title)
	req.Content = inputsanitize.Markdown(req.Content)
	req.Type = inputsanitize.Text(req.Type)
	return req, true
}

func operatorFromContext(c *gin.Context) service.Operator {
	op := service.Operator{IPAddress: c.ClientIP()}
	if claims, ok := middleware.GetClaims(c); ok {
		op.UserID = claims.UserID
		op.Role = claims.Role
	}
	return op
}

func handleAnnouncementServiceError(c *gin.Context, err error) {
	var ve *schedule.ValidationError
	switch {
	case errors.Is(err, service.ErrAnnouncementNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAnnouncementNotFound, "announcement not found")
	case errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden, "forbidden")
	case errors.As(err, &ve):
		response.Fail(c, http.StatusBadRequest, response.ErrValidation, ve.Error())
	case errors.Is(err, service.ErrInvalidAnnouncementReq),
		errors.Is(err, service.ErrInvalidUserID):
		response.Fail(c, http.StatusBadRequest, response.ErrValidation, "invalid request")
	default:
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}
