package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/farm-fulfillment/internal/auth"
	"github.com/rl1809/farm-fulfillment/internal/core/domain"
	"github.com/rl1809/farm-fulfillment/internal/core/service"
	"github.com/rl1809/farm-fulfillment/pkg/apierror"
)

type HTTPHandler struct {
	dashboard     *service.Dashboard
	jwtManager    *auth.JWTManager
	allowDevLogin bool
	logger        *zap.Logger
}

type TokenRequest struct {
	ActorID     string `json:"actor_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CreateListingRequest struct {
	Kind         string          `json:"kind" binding:"required,oneof=crop livestock"`
	Title        string          `json:"title" binding:"required"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Unit         string          `json:"unit"`
	Images       []string        `json:"images"`
	AvailableQty int             `json:"available_qty" binding:"min=0"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

type UpdateListingRequest struct {
	Kind         *string          `json:"kind"`
	Title        *string          `json:"title"`
	Description  *string          `json:"description"`
	Category     *string          `json:"category"`
	Unit         *string          `json:"unit"`
	Images       *[]string        `json:"images"`
	AvailableQty *int             `json:"available_qty"`
	PricePerUnit *decimal.Decimal `json:"price_per_unit"`
	Status       *string          `json:"status"`
}

type SampleRequest struct {
	Kind string `json:"kind" binding:"required"`
}

type OrderRequest struct {
	Quantity     int    `json:"quantity" binding:"required"`
	Instructions string `json:"instructions"`
}

func NewHTTPHandler(dashboard *service.Dashboard, jwtManager *auth.JWTManager, allowDevLogin bool, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		dashboard:     dashboard,
		jwtManager:    jwtManager,
		allowDevLogin: allowDevLogin,
		logger:        logger,
	}
}

// RegisterRoutes mounts the API under /api/v1. Everything except the token
// endpoint requires a bearer token.
func (h *HTTPHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.HealthCheck)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/token", h.IssueToken)

	api := v1.Group("")
	api.Use(auth.AuthMiddleware(h.jwtManager, h.logger))
	{
		api.GET("/dashboard", h.Dashboard)
		api.GET("/summary", h.Summary)

		listings := api.Group("/listings")
		listings.GET("", h.ListListings)
		listings.POST("", h.CreateListing)
		listings.POST("/samples", h.QuickAddSample)
		listings.PATCH("/:id", h.UpdateListing)
		listings.DELETE("/:id", h.DeleteListing)
		listings.POST("/:id/orders", h.RequestOrder)

		orders := api.Group("/orders")
		orders.POST("/:id/confirm", h.ConfirmOrder)
		orders.POST("/:id/reject", h.RejectOrder)
		orders.POST("/:id/complete", h.CompleteOrder)
	}
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IssueToken signs a token for any actor id. It exists for local runs and
// the stress tool; production deployments turn it off.
func (h *HTTPHandler) IssueToken(c *gin.Context) {
	if !h.allowDevLogin {
		c.JSON(http.StatusNotFound, apierror.New(domain.CodeNotFound, "Not found.", "dev login disabled"))
		return
	}

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewValidation("Invalid request body.", err.Error()))
		return
	}

	token, expiresAt, err := h.jwtManager.GenerateToken(domain.Actor{ID: req.ActorID, DisplayName: req.DisplayName})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *HTTPHandler) Dashboard(c *gin.Context) {
	q, ok := h.viewQuery(c)
	if !ok {
		return
	}
	view, err := h.dashboard.Refresh(c.Request.Context(), q)
	h.respondView(c, http.StatusOK, view, err)
}

func (h *HTTPHandler) Summary(c *gin.Context) {
	summary, err := h.dashboard.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *HTTPHandler) ListListings(c *gin.Context) {
	q, ok := h.viewQuery(c)
	if !ok {
		return
	}
	listings, err := h.dashboard.FilteredListings(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (h *HTTPHandler) CreateListing(c *gin.Context) {
	q, ok := h.viewQuery(c)
	if !ok {
		return
	}
	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewValidation("Invalid request body.", err.Error()))
		return
	}

	view, err := h.dashboard.CreateListing(c.Request.Context(), service.NewListing{
		Kind:         domain.ListingKind(req.Kind),
		Title:        strings.TrimSpace(req.Title),
		Description:  req.Description,
		Category:     req.Category,
		Unit:         req.Unit,
		Images:       req.Images,
		AvailableQty: req.AvailableQty,
		PricePerUnit: req.PricePerUnit,
	}, q)
	h.respondView(c, http.StatusCreated, view, err)
}

func (h *HTTPHandler) UpdateListing(c *gin.Context) {
	q, ok := h.viewQuery(c)
	if !ok {
		return
	}
	var req UpdateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewValidation("Invalid request body.", err.Error()))
		return
	}

	patch := service.ListingPatch{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		Unit:         req.Unit,
		Images:       req.Images,
		AvailableQty: req.AvailableQty,
		PricePerUnit: req.PricePerUnit,
	}
	if req.Kind != nil {
		kind := domain.ListingKind(*req.Kind)
		patch.Kind = &kind
	}
	if req.Status != nil {
		status := domain.ListingStatus(*req.Status)
		patch.Status = &status
	}

	view, err := h.dashboard.UpdateListing(c.Request.Context(), c.Param("id"), patch, q)
	h.respondView(c, http.StatusOK, view, err)
}

func (h *HTTPHandler) DeleteListing(c *gin.Context) {
	q, ok := h.viewQuery(c)
	if !ok {
		return
	}
	view, err := h.dashboard.DeleteListing(c.Request.Context(), c.Param("id"), q)
	h.respondView(c, http.StatusOK, view, err)
}

func (h *HTTPHandler) QuickAddSample(c *gin.Context) {
	q, ok := h.viewQuery(c)
	if !ok {
		return
	}
	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewValidation("Invalid request body.", err.Error()))
		return
	}
	view, err := h.dashboard.QuickAddSample(c.Request.Context(), domain.ListingKind(req.Kind), q)
	h.respondView(c, http.StatusCreated, view, err)
}

func (h *HTTPHandler) RequestOrder(c *gin.Context) {
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewValidation("Invalid request body.", err.Error()))
		return
	}
	txn, err := h.dashboard.RequestOrder(c.Request.Context(), c.Param("id"), req.Quantity, req.Instructions)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (h *HTTPHandler) ConfirmOrder(c *gin.Context) {
	h.orderIntent(c, h.dashboard.ConfirmOrder)
}

func (h *HTTPHandler) RejectOrder(c *gin.Context) {
	h.orderIntent(c, h.dashboard.RejectOrder)
}

func (h *HTTPHandler) CompleteOrder(c *gin.Context) {
	h.orderIntent(c, h.dashboard.CompleteOrder)
}

type orderIntentFunc func(ctx context.Context, txnID string, q service.ViewQuery) (*service.View, error)

func (h *HTTPHandler) orderIntent(c *gin.Context, intent orderIntentFunc) {
	q, ok := h.viewQuery(c)
	if !ok {
		return
	}
	view, err := intent(c.Request.Context(), c.Param("id"), q)
	h.respondView(c, http.StatusOK, view, err)
}

func (h *HTTPHandler) viewQuery(c *gin.Context) (service.ViewQuery, bool) {
	filter, err := service.ParseFilter(c.Query("filter"))
	if err != nil {
		h.fail(c, err)
		return service.ViewQuery{}, false
	}
	return service.ViewQuery{Filter: filter, Search: c.Query("search")}, true
}

func (h *HTTPHandler) respondView(c *gin.Context, status int, view *service.View, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, view)
}

// fail writes the error body. The caller's view state is left as it was, so
// nothing but the error goes back.
func (h *HTTPHandler) fail(c *gin.Context, err error) {
	body := apierror.FromDomain(err, service.UserMessage(err))
	status := body.HTTPStatus()
	_ = c.Error(err)

	if status >= http.StatusInternalServerError && !body.Retryable {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", GetRequestID(c)),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}
