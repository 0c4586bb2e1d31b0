package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"assistec/backend/internal/cart"
	"assistec/backend/internal/domain"
	"assistec/backend/internal/metrics"
	"assistec/backend/internal/service"
	"assistec/backend/internal/store"
)

// QuoteSweeper runs an on-demand purge of expired quotes.
type QuoteSweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	carts         *cart.Sessions
	sweeper       QuoteSweeper
	metrics       *metrics.SaleMetrics
	metricsRoute  http.Handler
	allowedOrigin string
	loginLimiter  *attemptLimiter
	logger        *log.Entry
}

type Option func(*API)

func WithSweeper(sweeper QuoteSweeper) Option {
	return func(a *API) {
		a.sweeper = sweeper
	}
}

// WithSessions shares a cart registry with background housekeeping.
func WithSessions(sessions *cart.Sessions) Option {
	return func(a *API) {
		if sessions != nil {
			a.carts = sessions
		}
	}
}

func WithMetrics(m *metrics.SaleMetrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithMetricsHandler replaces the default /metrics handler, e.g. to expose a
// private registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) {
		if h != nil {
			a.metricsRoute = h
		}
	}
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	a := &API{
		service:       svc,
		auth:          auth,
		carts:         cart.NewSessions(svc.Products()),
		metricsRoute:  promhttp.Handler(),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        log.WithField("component", "httpapi"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	staff := []string{domain.RoleSeller, domain.RoleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", a.metricsRoute)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleProducts, staff...))
	mux.HandleFunc("GET /api/v1/service-orders/chargeable", a.requireAuth(a.handleChargeableServiceOrders, staff...))

	mux.HandleFunc("POST /api/v1/carts", a.requireAuth(a.handleCreateCart, staff...))
	mux.HandleFunc("GET /api/v1/carts/{id}", a.requireAuth(a.handleGetCart, staff...))
	mux.HandleFunc("DELETE /api/v1/carts/{id}", a.requireAuth(a.handleDeleteCart, staff...))
	mux.HandleFunc("POST /api/v1/carts/{id}/products", a.requireAuth(a.handleAddProduct, staff...))
	mux.HandleFunc("POST /api/v1/carts/{id}/service-orders", a.requireAuth(a.handleAddServiceOrder, staff...))
	mux.HandleFunc("PATCH /api/v1/carts/{id}/lines/{lineID}", a.requireAuth(a.handleUpdateLine, staff...))
	mux.HandleFunc("DELETE /api/v1/carts/{id}/lines/{lineID}", a.requireAuth(a.handleRemoveLine, staff...))
	mux.HandleFunc("PUT /api/v1/carts/{id}/discount", a.requireAuth(a.handleSetDiscount, staff...))
	mux.HandleFunc("PUT /api/v1/carts/{id}/pricing-mode", a.requireAuth(a.handleSetPricingMode, staff...))
	mux.HandleFunc("PUT /api/v1/carts/{id}/client", a.requireAuth(a.handleSelectClient, staff...))
	mux.HandleFunc("POST /api/v1/carts/{id}/checkout", a.requireAuth(a.handleCheckout, staff...))

	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, staff...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, staff...))
	mux.HandleFunc("POST /api/v1/sales/{id}/refund", a.requireAuth(a.handleRefund, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/quotes/sweep", a.requireAuth(a.handleQuoteSweep, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/quotes/{id}/resume", a.requireAuth(a.handleResumeQuote, staff...))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleChargeableServiceOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.ChargeableServiceOrders(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service_orders": orders})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	status := domain.SaleStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	sales, err := a.service.ListSales(r.Context(), status)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.Refund(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleResumeQuote(w http.ResponseWriter, r *http.Request) {
	c, err := a.service.ResumeQuote(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.carts.Put(c)
	a.reportOpenCarts()
	writeJSON(w, http.StatusCreated, map[string]any{"cart": c.Snapshot()})
}

func (a *API) handleQuoteSweep(w http.ResponseWriter, r *http.Request) {
	if a.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("quote sweeper is not configured"))
		return
	}
	purged, err := a.sweeper.DeleteExpired(r.Context())
	payload := map[string]any{"purged": purged}
	if err != nil {
		a.logger.WithError(err).WithField("purged", purged).Warn("manual quote sweep had failures")
		payload["failed"] = true
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) reportOpenCarts() {
	if a.metrics != nil {
		a.metrics.SetOpenCarts(a.carts.Len())
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(startedAt),
		}).Debug("request served")
	})
}

// statusFor maps service and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, domain.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrDuplicateLine),
		errors.Is(err, domain.ErrNotPayable),
		errors.Is(err, domain.ErrAlreadyRefunded),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrNoChargeableAmount),
		errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	var persistErr *domain.PersistenceError
	if errors.As(err, &persistErr) && persistErr.Indeterminate() {
		// The sale exists; the client must re-read it before retrying.
		a.logger.WithError(err).WithField("sale_id", persistErr.SaleID).Error("sale left in indeterminate state")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":         "internal server error",
			"sale_id":       persistErr.SaleID,
			"indeterminate": true,
		})
		return
	}
	writeError(w, statusFor(err), err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= 500 {
		log.WithError(err).WithField("status", status).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
