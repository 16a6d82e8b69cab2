package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/application/service"
	"github.com/garyjia/bill-workflow/internal/application/workflow"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/bill-workflow/internal/domain/workflow"
	"github.com/garyjia/bill-workflow/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	config ServerConfig
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, config ServerConfig, logger Logger) *Handlers {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handlers{deps: deps, config: config, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ListBillsRequest represents query parameters for listing bills
type ListBillsRequest struct {
	State  string `form:"state"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// BatchTransition handles POST /api/workflow/batch-transition.
// Per-bill failures are in a 200 body; a store outage across the whole batch is a 500.
func (h *Handlers) BatchTransition(c *gin.Context) {
	var req workflow.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, domainwf.CodeInvalidInput, "invalid request body")
		return
	}

	if p, ok := principalFrom(c); ok {
		req.FromUser = workflow.UserInput{ID: p.UserID, Name: p.Name, Roles: p.Roles}
	}
	req.Remarks = utils.SanitizeRemarks(req.Remarks, h.config.MaxRemarksLength)

	if err := req.Validate(); err != nil {
		h.respondErr(c, err)
		return
	}

	roles, err := h.callerRoles(c, req.FromUser)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	if err := h.deps.Gate.Participates(roles); err != nil {
		h.logger.Info("Batch transition refused",
			"user_id", req.FromUser.ID,
			"roles", roles,
			"error", err.Error())
		h.respondErr(c, err)
		return
	}

	result, err := h.deps.Orchestrator.BatchTransition(c.Request.Context(), req)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// callerRoles returns the declared roles, or the directory roles when none were declared
func (h *Handlers) callerRoles(c *gin.Context, u workflow.UserInput) ([]string, error) {
	roles := domainwf.NormalizeRoles(u.Roles)
	if len(roles) > 0 || h.deps.Roles == nil || u.ID == "" {
		return roles, nil
	}
	resolved, err := h.deps.Roles.ResolveRoles(c.Request.Context(), u.ID)
	if err != nil && !errors.Is(err, domainwf.ErrNotFound) {
		return nil, err
	}
	return domainwf.NormalizeRoles(resolved), nil
}

// GetHistory handles GET /api/workflow/bill/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	history, err := h.deps.Orchestrator.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// GetStats handles GET /api/workflow/stats?stuckAfter=72h
func (h *Handlers) GetStats(c *gin.Context) {
	stuckAfter := h.config.DefaultStuckAfter
	if raw := c.Query("stuckAfter"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.respondError(c, http.StatusBadRequest, domainwf.CodeInvalidInput, "stuckAfter must be a positive duration such as 72h")
			return
		}
		stuckAfter = d
	}

	stats, err := h.deps.Stats.Stats(c.Request.Context(), stuckAfter, h.deps.Now())
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// CreateBill handles POST /api/bills
func (h *Handlers) CreateBill(c *gin.Context) {
	var in service.CreateBillInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondError(c, http.StatusBadRequest, domainwf.CodeInvalidInput, "invalid request body")
		return
	}
	if p, ok := principalFrom(c); ok {
		in.Creator = entity.UserRef{ID: p.UserID, Name: p.Name, Roles: p.Roles}
	}

	bill, err := h.deps.Bills.Create(c.Request.Context(), in)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: bill})
}

// GetBill handles GET /api/bills/:id
func (h *Handlers) GetBill(c *gin.Context) {
	bill, err := h.deps.Bills.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: bill})
}

// ListBills handles GET /api/bills
func (h *Handlers) ListBills(c *gin.Context) {
	var req ListBillsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, domainwf.CodeInvalidInput, "invalid query parameters")
		return
	}

	bills, err := h.deps.Bills.List(c.Request.Context(), port.BillFilter{
		State:  req.State,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		h.respondErr(c, err)
		return
	}
	if bills == nil {
		bills = []*entity.Bill{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: bills})
}

// PatchBill handles PATCH /api/bills/:id. Only business fields may be patched.
func (h *Handlers) PatchBill(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.respondError(c, http.StatusBadRequest, domainwf.CodeInvalidInput, "invalid request body")
		return
	}

	bill, err := h.deps.Bills.EditBusinessFields(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: bill})
}

func (h *Handlers) respondErr(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err.Error())
		h.respondError(c, status, domainwf.Classify(err), "internal error")
		return
	}
	h.respondError(c, status, domainwf.Classify(err), err.Error())
}

func (h *Handlers) respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, Response{Success: false, Error: msg, Code: code})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domainwf.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
