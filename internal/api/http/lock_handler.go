// internal/api/http/lock_handler.go
package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"academy-lock/internal/domain"
	"academy-lock/internal/metrics"
	"academy-lock/internal/usecase"
	"academy-lock/internal/withlock"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errUnknownLease = errors.New("unknown or expired lease")

type issuedLease struct {
	lease     *domain.Lease
	expiresAt time.Time
}

// LockHandler exposes the lock manager over HTTP. Leases acquired through the
// API are remembered by token until released or expired.
type LockHandler struct {
	manager  *usecase.LockManager
	summary  func() string
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer

	mu     sync.Mutex
	issued map[string]issuedLease
	now    func() time.Time
}

// NewLockHandler creates a new LockHandler. summary renders the health line;
// nil falls back to the manager's active count.
func NewLockHandler(manager *usecase.LockManager, summary func() string, logger *slog.Logger) *LockHandler {
	validate := validator.New()

	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})

	if summary == nil {
		summary = func() string {
			return "Lock Health: " + strconv.FormatInt(manager.ActiveLockCount(), 10) + " active locks"
		}
	}

	return &LockHandler{
		manager:  manager,
		summary:  summary,
		logger:   logger.With("component", "lock-handler"),
		validate: validate,
		tracer:   otel.Tracer("academy-lock-api"),
		issued:   make(map[string]issuedLease),
		now:      time.Now,
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

var actions = map[string]bool{"owner": true, "acquire": true, "release": true, "extend": true}

// splitPath turns "/locks/batch:create:A/acquire" into ("batch:create:A", "acquire").
func splitPath(p string) (key, action string) {
	rest := strings.TrimPrefix(p, "/locks/")
	if i := strings.LastIndex(rest, "/"); i >= 0 && actions[rest[i+1:]] {
		return rest[:i], rest[i+1:]
	}
	return rest, ""
}

// RegisterRoutes registers lock-related routes to the http.ServeMux.
func (h *LockHandler) RegisterRoutes(mux *http.ServeMux) {
	baseHandler := http.HandlerFunc(h.handleLocks)

	instrumentedHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := "/locks/{key}"
		if key, action := splitPath(r.URL.Path); key == "health" && action == "" {
			path = "/locks/health"
		} else if action != "" {
			path += "/" + action
		}

		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		baseHandler.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})

	mux.Handle("/locks/", instrumentedHandler)
}

// handleLocks is a general dispatcher for /locks/ path
func (h *LockHandler) handleLocks(w http.ResponseWriter, r *http.Request) {
	key, action := splitPath(r.URL.Path)
	if key == "" {
		WriteError(w, domain.ErrEmptyKey)
		return
	}

	switch r.Method {
	case http.MethodGet:
		switch {
		case key == "health" && action == "":
			h.handleHealth(w, r)
		case action == "":
			h.handleStatistics(w, r, key)
		case action == "owner":
			h.handleOwner(w, r, key)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case http.MethodPost:
		switch action {
		case "acquire":
			h.handleAcquire(w, r, key)
		case "release":
			h.handleRelease(w, r, key)
		case "extend":
			h.handleExtend(w, r, key)
		default:
			http.NotFound(w, r)
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *LockHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Health")
	defer span.End()

	resp := HealthResponse{
		Summary:     h.summary(),
		ActiveLocks: h.manager.ActiveLockCount(),
		Store:       "up",
	}
	status := http.StatusOK
	if err := h.manager.Ping(ctx); err != nil {
		span.RecordError(err)
		resp.Store = "down"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *LockHandler) handleStatistics(w http.ResponseWriter, r *http.Request, key string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.LockStatistics")
	defer span.End()
	span.SetAttributes(attribute.String("lock.key", key))

	writeJSON(w, http.StatusOK, h.manager.LockStatistics(ctx, key))
}

func (h *LockHandler) handleOwner(w http.ResponseWriter, r *http.Request, key string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Owner")
	defer span.End()
	span.SetAttributes(attribute.String("lock.key", key))

	owner := h.manager.Owner(ctx, key)
	writeJSON(w, http.StatusOK, OwnerResponse{Key: key, Owner: owner, Locked: owner != ""})
}

// decode reads and validates a JSON body. An empty body decodes to the zero value.
func (h *LockHandler) decode(w http.ResponseWriter, r *http.Request, span trace.Span, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var validationErrors []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, err := range verrs {
				validationErrors = append(validationErrors,
					"Field '"+err.Field()+"' failed on the '"+err.Tag()+"' tag.",
				)
			}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: validationErrors})
		return false
	}
	return true
}

func (h *LockHandler) handleAcquire(w http.ResponseWriter, r *http.Request, key string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Acquire")
	defer span.End()
	span.SetAttributes(attribute.String("lock.key", key))

	var req AcquireRequest
	if !h.decode(w, r, span, &req) {
		return
	}

	opts := h.manager.Options()
	maxRetries := opts.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	lease, ok := h.manager.AcquireWithRetry(ctx, key, parseDuration(req.Lease), maxRetries, parseDuration(req.MaxWait))
	if !ok {
		WriteError(w, &domain.LockAcquisitionError{
			Key:     key,
			Message: withlock.DefaultErrorMessage,
		})
		return
	}

	h.remember(lease, lease.AcquiredAt.Add(lease.LeaseDuration))
	writeJSON(w, http.StatusCreated, NewLeaseResponse(lease))
}

func (h *LockHandler) handleRelease(w http.ResponseWriter, r *http.Request, key string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Release")
	defer span.End()
	span.SetAttributes(attribute.String("lock.key", key))

	var req ReleaseRequest
	if !h.decode(w, r, span, &req) {
		return
	}

	lease, err := h.lookup(key, req.Token)
	if err != nil {
		WriteError(w, err)
		return
	}

	ok := h.manager.Release(ctx, lease)
	if lease.Released() {
		h.forget(req.Token)
	}
	writeJSON(w, http.StatusOK, ResultResponse{Key: key, OK: ok})
}

func (h *LockHandler) handleExtend(w http.ResponseWriter, r *http.Request, key string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Extend")
	defer span.End()
	span.SetAttributes(attribute.String("lock.key", key))

	var req ExtendRequest
	if !h.decode(w, r, span, &req) {
		return
	}

	lease, err := h.lookup(key, req.Token)
	if err != nil {
		WriteError(w, err)
		return
	}

	additional := parseDuration(req.Additional)
	ok := h.manager.ExtendLock(ctx, lease, additional)
	if ok {
		h.remember(lease, lease.LastExtendedAt().Add(lease.LeaseDuration+additional))
	}
	writeJSON(w, http.StatusOK, ResultResponse{Key: key, OK: ok})
}

// remember records an API-issued lease and drops expired ones.
func (h *LockHandler) remember(lease *domain.Lease, expiresAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for token, il := range h.issued {
		if now.After(il.expiresAt) {
			delete(h.issued, token)
		}
	}
	h.issued[lease.OwnerToken] = issuedLease{lease: lease, expiresAt: expiresAt}
}

func (h *LockHandler) lookup(key, token string) (*domain.Lease, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	il, ok := h.issued[token]
	if !ok || il.lease.Key != key {
		return nil, errUnknownLease
	}
	return il.lease, nil
}

func (h *LockHandler) forget(token string) {
	h.mu.Lock()
	delete(h.issued, token)
	h.mu.Unlock()
}
