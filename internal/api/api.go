// Package api serves the recommendation operations over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/recommend"
)

// Service is the operation set the handlers call.
type Service interface {
	GetRecommendations(ctx context.Context, studentID, companyID string) (*model.Result, error)
	GetSkillGap(ctx context.Context, studentID, companyID string) ([]string, error)
	CheckProfileStatus(ctx context.Context, studentID string) (model.ProfileStatus, error)
	InvalidateCache(ctx context.Context, studentID string) (int, error)
}

// Response is the envelope of every JSON body.
type Response struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler holds the routes' dependencies.
type Handler struct {
	svc     Service
	log     zerolog.Logger
	timeout time.Duration

	rateLimit  int
	rateWindow time.Duration
}

// NewHandler creates a Handler. Each request is bounded by timeout.
func NewHandler(svc Service, log zerolog.Logger, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{svc: svc, log: log.With().Str("component", "api").Logger(), timeout: timeout}
}

// WithRateLimit limits each client IP to requests per window on the
// student routes. Zero requests disables limiting.
func (h *Handler) WithRateLimit(requests int, window time.Duration) *Handler {
	h.rateLimit, h.rateWindow = requests, window
	return h
}

// Router builds the chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/students/{studentID}", func(r chi.Router) {
		if h.rateLimit > 0 {
			r.Use(httprate.Limit(h.rateLimit, h.rateWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					h.respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				}),
			))
		}
		r.Use(chimiddleware.Timeout(h.timeout))
		r.Get("/recommendations", h.Recommendations)
		r.Get("/skill-gap", h.SkillGap)
		r.Get("/profile-status", h.ProfileStatus)
		r.Post("/invalidate", h.Invalidate)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Info().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Recommendations handles GET /students/{studentID}/recommendations?company=C.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetRecommendations(r.Context(), chi.URLParam(r, "studentID"), r.URL.Query().Get("company"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

// SkillGap handles GET /students/{studentID}/skill-gap?company=C.
func (h *Handler) SkillGap(w http.ResponseWriter, r *http.Request) {
	gap, err := h.svc.GetSkillGap(r.Context(), chi.URLParam(r, "studentID"), r.URL.Query().Get("company"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"skill_gap": gap})
}

// ProfileStatus handles GET /students/{studentID}/profile-status.
func (h *Handler) ProfileStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.CheckProfileStatus(r.Context(), chi.URLParam(r, "studentID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, st)
}

// Invalidate handles POST /students/{studentID}/invalidate.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.InvalidateCache(r.Context(), chi.URLParam(r, "studentID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, recommend.ErrEmptyStudentID) {
		h.respondError(w, http.StatusBadRequest, "INVALID_STUDENT_ID", err.Error())
		return
	}
	// The client is gone or the Timeout middleware answers with 504.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.log.Debug().Err(err).Msg("request abandoned")
		return
	}
	h.log.Error().Err(err).Msg("request failed")
	h.respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any) {
	h.write(w, status, &Response{Status: "success", Data: data})
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.write(w, status, &Response{Status: "error", Error: &APIError{Code: code, Message: message}})
}

func (h *Handler) write(w http.ResponseWriter, status int, resp *Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		h.log.Error().Err(err).Msg("encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.log.Debug().Err(err).Msg("write response")
	}
}
