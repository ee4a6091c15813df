package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stockledger/internal/domain"
	"github.com/punchamoorthee/stockledger/internal/models"
	"github.com/punchamoorthee/stockledger/internal/service"
	"github.com/punchamoorthee/stockledger/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const (
	defaultPerPage     = 20
	defaultTopLimit    = 10
	codeInternalError  = "INTERNAL_ERROR"
	internalErrMessage = "Internal Server Error"
)

type Handler struct {
	stock    *service.StockService
	products *service.ProductService
	queries  *service.QueryService
	validate *validator.Validate
	log      logrus.FieldLogger
}

func NewHandler(stock *service.StockService, products *service.ProductService, queries *service.QueryService, log logrus.FieldLogger) *Handler {
	return &Handler{
		stock:    stock,
		products: products,
		queries:  queries,
		validate: newValidator(),
		log:      log,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *mux.Router) {
	r.Use(instrument)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/products", h.CreateProductHandler).Methods(http.MethodPost)
	v1.HandleFunc("/products/{id}", h.GetProductHandler).Methods(http.MethodGet)
	v1.HandleFunc("/products/{id}", h.UpdateProductHandler).Methods(http.MethodPatch)
	v1.HandleFunc("/products/{id}", h.DeleteProductHandler).Methods(http.MethodDelete)
	v1.HandleFunc("/products/{id}/transactions", h.CreateTransactionHandler).Methods(http.MethodPost)
	v1.HandleFunc("/products/{id}/transactions/batch", h.CreateTransactionBatchHandler).Methods(http.MethodPost)
	v1.HandleFunc("/products/{id}/transactions", h.ListTransactionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/products/{id}/stock", h.GetStockHandler).Methods(http.MethodGet)
	v1.HandleFunc("/stock", h.ListStockHandler).Methods(http.MethodGet)
	v1.HandleFunc("/dashboard/stock/top", h.TopStockHandler).Methods(http.MethodGet)
	v1.HandleFunc("/dashboard/stock/by-category", h.StockByCategoryHandler).Methods(http.MethodGet)
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProductRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	p, err := h.products.Create(r.Context(), service.NewProduct{
		Code:         req.Code,
		Name:         req.Name,
		Spec:         req.Spec,
		Unit:         req.Unit,
		UnitPrice:    *req.UnitPrice,
		UnitWeight:   req.UnitWeight,
		ReorderPoint: *req.ReorderPoint,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/products/"+p.ID.String())
	respondWithJSON(w, http.StatusCreated, models.ProductEnvelope{Data: p})
}

func (h *Handler) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ProductEnvelope{Data: p})
}

func (h *Handler) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req models.UpdateProductRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	p, err := h.products.Update(r.Context(), id, service.ProductPatch{
		Code:            req.Code,
		Name:            req.Name,
		Spec:            req.Spec.Value,
		ClearSpec:       req.Spec.Set && req.Spec.Value == nil,
		Unit:            req.Unit,
		UnitPrice:       req.UnitPrice,
		UnitWeight:      req.UnitWeight.Value,
		ClearUnitWeight: req.UnitWeight.Set && req.UnitWeight.Value == nil,
		ReorderPoint:    req.ReorderPoint,
		Version:         *req.Version,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ProductEnvelope{Data: p})
}

func (h *Handler) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	p, err := h.products.Deactivate(r.Context(), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.DeletedProductEnvelope{
		Data: models.DeletedProduct{ID: p.ID, Active: p.Active},
	})
}

func (h *Handler) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req models.TransactionRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	res, err := h.stock.Commit(r.Context(), id, []domain.Intent{toIntent(req)})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.TxEnvelope{
		Data:  toTxResponse(res.Entries[0]),
		Stock: toStockSummary(res.Stock),
	})
}

func (h *Handler) CreateTransactionBatchHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req models.BatchTransactionRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	intents := make([]domain.Intent, len(req.Transactions))
	for i, tx := range req.Transactions {
		intents[i] = toIntent(tx)
	}
	res, err := h.stock.Commit(r.Context(), id, intents)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	data := make([]models.TxResponse, len(res.Entries))
	for i, e := range res.Entries {
		data[i] = toTxResponse(e)
	}
	respondWithJSON(w, http.StatusCreated, models.TxBatchEnvelope{Data: data, Stock: toStockSummary(res.Stock)})
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	q := r.URL.Query()
	page, perPage, err := pagination(q)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	filter := store.EntryFilter{
		Type:   domain.EntryType(q.Get("type")),
		Bucket: domain.Bucket(q.Get("bucket")),
	}

	entries, total, err := h.queries.ListEntries(r.Context(), id, filter, page, perPage)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	data := make([]models.TxResponse, len(entries))
	for i, e := range entries {
		data[i] = toTxResponse(e)
	}
	respondWithJSON(w, http.StatusOK, models.TxListEnvelope{
		Data:       data,
		Pagination: models.PaginationMeta{Page: page, PerPage: perPage, Total: total},
	})
}

func (h *Handler) GetStockHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	level, err := h.stock.Project(r.Context(), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.StockEnvelope{Data: toStockSummary(level)})
}

func (h *Handler) ListStockHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage, err := pagination(q)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	includeInactive, err := boolParam(q.Get("include_inactive"), "include_inactive")
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	items, total, err := h.queries.StockList(r.Context(), service.StockListQuery{
		Search:          q.Get("q"),
		Sort:            q.Get("sort"),
		Page:            page,
		PerPage:         perPage,
		IncludeInactive: includeInactive,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	data := make([]models.StockListItem, len(items))
	for i, it := range items {
		data[i] = toStockListItem(it)
	}
	respondWithJSON(w, http.StatusOK, models.StockListEnvelope{
		Data:       data,
		Pagination: models.PaginationMeta{Page: page, PerPage: perPage, Total: total},
	})
}

func (h *Handler) TopStockHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit", defaultTopLimit)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	includeInactive, err := boolParam(q.Get("include_inactive"), "include_inactive")
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	metric := q.Get("metric")
	if metric == "" {
		metric = service.MetricQty
	}

	top, err := h.queries.TopStock(r.Context(), metric, limit, includeInactive)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	data := make([]models.DashboardStockItem, len(top.Items))
	for i, it := range top.Items {
		data[i] = toDashboardItem(it)
	}
	respondWithJSON(w, http.StatusOK, models.DashboardTopEnvelope{
		Data:        data,
		OthersTotal: toTotals(top.Others),
	})
}

func (h *Handler) StockByCategoryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit", defaultTopLimit)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	metric := q.Get("metric")
	if metric == "" {
		metric = service.MetricValue
	}

	res, err := h.queries.ByCategory(r.Context(), metric, limit)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	breakdown := make([]models.CategoryItem, len(res.Breakdown))
	for i, c := range res.Breakdown {
		breakdown[i] = models.CategoryItem{Key: c.Key, Label: c.Label, MetricValue: json.Number(c.Value.String())}
	}
	respondWithJSON(w, http.StatusOK, models.CategoryEnvelope{
		Metric:    res.Metric,
		Total:     json.Number(res.Total.String()),
		Breakdown: breakdown,
	})
}

// statusFor maps an error kind onto the HTTP status the API reports.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindProductInactive:
		return http.StatusBadRequest
	case domain.KindProductNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientOnHand, domain.KindInsufficientReserved, domain.KindInsufficientAvailable,
		domain.KindConflict, domain.KindDuplicateRequestID:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		respondWithJSON(w, statusFor(de.Kind), models.ErrorEnvelope{
			Error: models.ErrorDetail{Code: string(de.Kind), Message: de.Message},
		})
		return
	}

	h.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).WithError(err).Error("request failed")
	respondWithJSON(w, http.StatusInternalServerError, models.ErrorEnvelope{
		Error: models.ErrorDetail{Code: codeInternalError, Message: internalErrMessage},
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// instrument records request counts and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func productID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.Validation("invalid product id %q", raw)
	}
	return id, nil
}
