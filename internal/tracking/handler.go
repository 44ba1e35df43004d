package tracking

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/open-tracker/internal/pkg/httputil"
	"github.com/ignite/open-tracker/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// maxRecentHours keeps the window representable as a time.Duration.
const maxRecentHours = float64(math.MaxInt64 / int64(time.Hour))

// observerHeaders are copied from the pixel request into the OpenRecord.
var observerHeaders = []string{"Accept", "Accept-Language", "DNT", "Via", "X-Forwarded-For"}

// HandlerOptions configures the HTTP surface.
type HandlerOptions struct {
	Environment    string
	Production     bool
	AdminToken     string
	AllowedOrigins []string
	CORSMaxAge     int
	RecentWindow   time.Duration
}

type Handler struct {
	store   *Store
	opts    HandlerOptions
	started time.Time
}

func NewHandler(store *Store, opts HandlerOptions) *Handler {
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 24 * time.Hour
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Handler{store: store, opts: opts, started: time.Now()}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         h.opts.CORSMaxAge,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.HandleHealth)
	r.Get("/stats", h.HandleStats)
	r.Get("/report", h.HandleReport)

	r.Route("/track", func(r chi.Router) {
		r.Post("/sent", h.HandleSent)
		r.Get("/open/{trackingId}", h.HandleOpen)
		r.Get("/status/{trackingId}", h.HandleStatus)
		r.Get("/recent", h.HandleRecent)
		r.Get("/all", h.HandleAll)
		r.Delete("/clear", h.HandleClear)
	})
	return r
}

type sentResponse struct {
	Success bool      `json:"success"`
	ID      string    `json:"id"`
	Created bool      `json:"created"`
	SentAt  time.Time `json:"sentAt"`
}

func (h *Handler) HandleSent(w http.ResponseWriter, r *http.Request) {
	var in SentInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	rec, created, err := h.store.RecordSent(r.Context(), in, realIP(r))
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	resp := sentResponse{Success: true, ID: rec.ID, Created: created, SentAt: rec.SentAt}
	if created {
		httputil.Created(w, resp)
		return
	}
	httputil.OK(w, resp)
}

// HandleOpen always answers with the pixel; recording problems stay in the logs.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	trackingID := strings.TrimSuffix(chi.URLParam(r, "trackingId"), ".gif")

	obs := ObserverContext{
		IPAddress: realIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
		Headers:   selectHeaders(r.Header),
	}
	result, err := h.store.RecordOpen(r.Context(), trackingID, obs)
	if err != nil {
		logger.Warn("tracking: open not fully recorded", "tracking_id", trackingID, "result", result, "error", err)
	}

	h.servePixel(w)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.store.GetTrackingStatus(chi.URLParam(r, "trackingId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.NotFound(w, "tracking id not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, status)
}

type recentResponse struct {
	Hours float64      `json:"hours"`
	Count int          `json:"count"`
	Opens []OpenRecord `json:"opens"`
}

func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	window := h.opts.RecentWindow
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(hours) || hours <= 0 || hours > maxRecentHours {
			httputil.BadRequest(w, fmt.Sprintf("hours must be a positive number no greater than %.0f", maxRecentHours))
			return
		}
		window = time.Duration(hours * float64(time.Hour))
	}

	opens := h.store.GetRecentOpens(window)
	httputil.OK(w, recentResponse{Hours: window.Hours(), Count: len(opens), Opens: opens})
}

type allResponse struct {
	Count    int              `json:"count"`
	Messages []TrackedMessage `json:"messages"`
}

func (h *Handler) HandleAll(w http.ResponseWriter, r *http.Request) {
	messages := h.store.GetAllTracked()
	httputil.OK(w, allResponse{Count: len(messages), Messages: messages})
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.store.Stats())
}

func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.store.Report())
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.authorizeAdmin(r); err != nil {
		logger.Warn("tracking: clear rejected", "ip", realIP(r))
		httputil.Unauthorized(w)
		return
	}
	if err := h.store.ClearAll(r.Context()); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"success": true, "message": "all tracking data cleared"})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{
		"status":      "ok",
		"environment": h.opts.Environment,
		"uptime":      time.Since(h.started).Round(time.Second).String(),
	})
}

// authorizeAdmin gates bulk clear in production only. Accepts the raw token
// or "Bearer <token>".
func (h *Handler) authorizeAdmin(r *http.Request) error {
	if !h.opts.Production {
		return nil
	}
	if h.opts.AdminToken == "" {
		return ErrUnauthorized
	}
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	got = strings.TrimSpace(strings.TrimPrefix(got, "Bearer "))
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.AdminToken)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(pixelGIF)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func selectHeaders(hdr http.Header) map[string]string {
	out := make(map[string]string)
	for _, name := range observerHeaders {
		if v := hdr.Get(name); v != "" {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// realIP prefers the first X-Forwarded-For hop, then X-Real-Ip, then the
// socket address without its port (the port would defeat dedup).
func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
