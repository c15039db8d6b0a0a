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
	"gleeworld-hub/internal/service"
)

type AuditHandler struct {
	auditService *service.AuditService
}

func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func RegisterAuditRoutes(group *gin.RouterGroup, auditService *service.AuditService, publicKey *rsa.PublicKey) {
	if auditService == nil {
		return
	}

	handler := NewAuditHandler(auditService)
	audit := group.Group("/audit")
	audit.Use(middleware.JWTAuth(publicKey), middleware.RequireRole(service.RoleSuperAdmin, service.RoleAdmin))
	audit.GET("", handler.List)
}

// List
// @Summary Query the audit log
// @Tags audit
// @Produce json
// @Param user_id query string false "operator id"
// @Param resource_type query string false "resource type"
// @Param resource_id query string false "resource id"
// @Param from query string false "RFC3339 or YYYY-MM-DD"
// @Param to query string false "RFC3339 or YYYY-MM-DD"
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Router /api/v1/audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	page, pageSize := normalizePagination(parseIntOrDefault(c.Query("page"), 1), parseIntOrDefault(c.Query("page_size"), 20))

	filter := service.AuditFilter{}
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		filter.UserID = &raw
	}
	if raw := strings.TrimSpace(c.Query("resource_type")); raw != "" {
		filter.ResourceType = &raw
	}
	if raw := strings.TrimSpace(c.Query("resource_id")); raw != "" {
		filter.ResourceID = &raw
	}

	from, err := parseAuditTime(c.Query("from"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrValidation, "from: invalid time")
		return
	}
	if !from.IsZero() {
		filter.From = &from
	}
	to, err := parseAuditTime(c.Query("to"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrValidation, "to: invalid time")
		return
	}
	if !to.IsZero() {
		filter.To = &to
	}

	items, err := h.auditService.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		handleAuditServiceError(c, err)
		return
	}
	response.Success(c, items)
}

func parseAuditTime(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts.UTC(), nil
	}

	return time.Time{}, errors.New("invalid time")
}

func handleAuditServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAuditInput),
		errors.Is(err, service.ErrInvalidUserID):
		response.Fail(c, http.StatusBadRequest, response.ErrValidation, "invalid request")
	default:
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}

func parseIntOrDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func normalizePagination(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}
