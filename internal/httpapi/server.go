package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/config"
	"github.com/ent0n29/xiaobei/internal/dispatch"
	"github.com/ent0n29/xiaobei/internal/observability"
	"github.com/ent0n29/xiaobei/internal/protocol"
)

const maxBodyBytes = 1 << 20

type Server struct {
	cfg        config.Config
	dispatcher *dispatch.Dispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, dispatcher *dispatch.Dispatcher, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only open the realtime channel from the same origin
				// unless APP_ALLOW_ANY_ORIGIN is set.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Agents and other non-browser clients usually omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.AllowAnyOrigin {
		r.Use(allowAnyOrigin)
	}

	r.Get("/", s.handleInfo)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/.well-known/agent.json", s.handleDiscovery)

	r.Route("/agent", func(r chi.Router) {
		r.Post("/handshake", s.handleHandshake)
		r.Post("/message", s.handleMessage)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}/messages", s.handleSessionMessages)
		r.Get("/ws", s.handleRealtime)
	})

	return r
}

// requestLogger puts request data on the context for the slog handler and
// writes one access line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := observability.WithRequestData(r.Context(), &observability.RequestData{
			RequestID:  middleware.GetReqID(r.Context()),
			Method:     r.Method,
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
		})
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		level := slog.LevelInfo
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "request",
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+protocol.PaymentHeader)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps an error class onto the HTTP status the protocol uses.
func statusFor(e *agenterr.Error) int {
	switch e.Class {
	case agenterr.ClassValidation, agenterr.ClassSignature:
		return http.StatusBadRequest
	case agenterr.ClassAuthentication:
		return http.StatusUnauthorized
	case agenterr.ClassPayment:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// respondAgentError writes err as a protocol error body. Unclassified
// errors are logged and hidden behind a generic internal error.
func (s *Server) respondAgentError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := agenterr.As(err)
	if !ok {
		s.logger.ErrorContext(r.Context(), "unclassified error", "error", err)
		e = agenterr.Internal(agenterr.KindInternal, "internal error")
	} else if e.Class == agenterr.ClassInternal {
		s.logger.ErrorContext(r.Context(), "internal error", "kind", e.Kind, "error", e.Message)
	}
	respondJSON(w, statusFor(e), protocol.ErrorBodyFrom(e))
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, protocol.ErrorBody{Error: message, Code: code})
}
