package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/core/domain"
)

const idempotencyHeader = "Idempotency-Key"

// OrderService is the slice of the order service the transports need.
type OrderService interface {
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.Confirmation, error)
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
}

type HTTPHandler struct {
	orderService OrderService
	logger       *zap.Logger
}

type PlaceOrderHTTPResponse struct {
	OrderID     int64  `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Message     string `json:"message"`
}

type OrderLineHTTPResponse struct {
	ID       int64           `json:"id"`
	SKUCode  string          `json:"skuCode"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type OrderHTTPResponse struct {
	ID          int64                   `json:"id"`
	OrderNumber string                  `json:"orderNumber"`
	Lines       []OrderLineHTTPResponse `json:"orderLineItems"`
}

type ErrorHTTPResponse struct {
	Error       string   `json:"error"`
	Message     string   `json:"message"`
	Unavailable []string `json:"unavailable,omitempty"`
	Unconfirmed []string `json:"unconfirmed,omitempty"`
}

func NewHTTPHandler(orderService OrderService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orderService: orderService, logger: logger}
}

// Routes mounts the order API. Extra middleware, such as metrics, runs
// before the handlers.
func (h *HTTPHandler) Routes(mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(mw...)

	r.Get("/health", h.HealthCheck)
	r.Route("/api/order", func(r chi.Router) {
		r.Post("/", h.PlaceOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Delete("/{id}", h.DeleteOrder)
	})
	return r
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Error:   "validation",
			Message: "invalid request body",
		})
		return
	}
	req.IdempotencyKey = r.Header.Get(idempotencyHeader)

	conf, err := h.orderService.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, PlaceOrderHTTPResponse{
		OrderID:     conf.OrderID,
		OrderNumber: conf.OrderNumber,
		Message:     conf.Message,
	})
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListOrders(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]OrderHTTPResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.orderService.DeleteOrder(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, ErrorHTTPResponse) {
	kind := domain.Kind(err)
	body := ErrorHTTPResponse{Error: kind, Message: err.Error()}

	switch kind {
	case "validation":
		return http.StatusBadRequest, body
	case "out_of_stock":
		var oos *domain.OutOfStockError
		if errors.As(err, &oos) {
			body.Unavailable = oos.Unavailable
			body.Unconfirmed = oos.Unconfirmed
		}
		body.Message = "product is not in stock, please try again later"
		return http.StatusConflict, body
	case "duplicate_request":
		return http.StatusConflict, body
	case "not_found":
		return http.StatusNotFound, body
	case "inventory_unavailable":
		body.Message = "inventory service unavailable, please try again later"
		return http.StatusServiceUnavailable, body
	default:
		body.Message = "internal error"
		return http.StatusInternalServerError, body
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Error:   "validation",
			Message: "invalid order id",
		})
		return 0, false
	}
	return id, true
}

func toOrderResponse(o domain.Order) OrderHTTPResponse {
	resp := OrderHTTPResponse{
		ID:          o.ID,
		OrderNumber: o.Number,
		Lines:       make([]OrderLineHTTPResponse, 0, len(o.Lines)),
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, OrderLineHTTPResponse{
			ID:       l.ID,
			SKUCode:  l.SKUCode,
			Price:    l.Price,
			Quantity: l.Quantity,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
