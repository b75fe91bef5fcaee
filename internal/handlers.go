package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	maxJSONBody   = 1 << 20
	maxImageBytes = 20 << 20
)

type APIError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, status int) APIError {
	return APIError{Message: message, Status: status}
}

// toAPIError maps pipeline errors onto HTTP statuses.
func toAPIError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var gqlErr *GraphQLError
	var netErr *NetworkError
	switch {
	case errors.Is(err, ErrInvalidSlugFormat),
		errors.Is(err, ErrNoEntries),
		errors.Is(err, ErrMissingCharacter),
		errors.Is(err, ErrInvalidImage):
		return NewAPIError(err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNoStandings), errors.Is(err, ErrEventNotFound):
		return NewAPIError(err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrAPIKeyMissing):
		return NewAPIError(err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &gqlErr), errors.As(err, &netErr):
		return NewAPIError(err.Error(), http.StatusBadGateway)
	default:
		return NewAPIError("Internal server error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error, logger *Logger, r *http.Request) {
	apiErr := toAPIError(err)
	requestID := GetRequestID(r.Context())

	logger.Error("api_error").
		Component("http").
		Operation("write_error").
		HTTP(r.Method, r.URL.Path, apiErr.Status).
		Request(r.UserAgent(), r.RemoteAddr, requestID).
		Err(err).
		ErrorCode(strconv.Itoa(apiErr.Status)).
		Log()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     apiErr.Message,
		"status":    apiErr.Status,
		"timestamp": time.Now().Unix(),
		"requestId": requestID,
	})
}

func writeJSON(w http.ResponseWriter, data interface{}, logger *Logger, r *http.Request) {
	requestID := GetRequestID(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("json_encode_failed").
			Component("http").
			Operation("write_json").
			Request("", "", requestID).
			Err(err).
			Log()
	}
}

func writePNG(w http.ResponseWriter, data []byte, filename string) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewAPIError("Invalid JSON body: "+err.Error(), http.StatusBadRequest)
	}
	return nil
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func withRateLimit(rateLimiter RateLimiterInterface, prefix string, logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rateLimiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			requestID := GetRequestID(r.Context())
			key := prefix + ":" + clientIP(r)

			allowed, err := rateLimiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error("rate_limiter_error").
					Component("rate_limiter").
					Operation("check_limit").
					Request("", "", requestID).
					Err(err).
					Meta("key", key).
					Log()
				writeError(w, NewAPIError("Rate limiter error", http.StatusInternalServerError), logger, r)
				return
			}

			if !allowed {
				logger.Warn("rate_limit_exceeded").
					Component("rate_limiter").
					Operation("check_limit").
					Request("", "", requestID).
					Meta("key", key).
					Log()
				writeError(w, NewAPIError("Rate limit exceeded", http.StatusTooManyRequests), logger, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func NewMetricsHandler(metrics *MetricsCollector, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, metrics.GetMetrics(), logger, r)
	}
}

func NewCharactersHandler(logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"characters": MeleeCharacters}, logger, r)
	}
}

type top8Request struct {
	URL string `json:"url"`
}

func NewTop8Handler(service *Top8Service, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req top8Request
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err, logger, r)
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			writeError(w, ErrInvalidSlugFormat, logger, r)
			return
		}

		session, err := service.FetchEvent(r.Context(), req.URL)
		if err != nil {
			writeError(w, err, logger, r)
			return
		}

		writeJSON(w, session, logger, r)
	}
}

func NewGraphicHandler(service *Top8Service, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GraphicRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err, logger, r)
			return
		}

		result, err := service.GenerateGraphic(r.Context(), req)
		if err != nil {
			writeError(w, err, logger, r)
			return
		}

		if r.URL.Query().Get("format") == "json" {
			writeJSON(w, result, logger, r)
			return
		}

		if result.URL != "" {
			w.Header().Set("X-Graphic-URL", result.URL)
		}
		writePNG(w, result.PNG, "top8.png")
	}
}

func NewReadCacheHandler(service *Top8Service, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		picks, err := service.ReadCache(r.Context())
		if err != nil {
			writeError(w, err, logger, r)
			return
		}
		writeJSON(w, picks, logger, r)
	}
}

func NewWriteCacheHandler(service *Top8Service, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var picks map[string]string
		if err := decodeJSON(w, r, &picks); err != nil {
			writeError(w, err, logger, r)
			return
		}

		if err := service.WriteCache(r.Context(), picks); err != nil {
			writeError(w, err, logger, r)
			return
		}
		writeJSON(w, map[string]interface{}{"ok": true}, logger, r)
	}
}

func NewFilterHandler(filter *ImageFilterService, logger *Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
		if err := r.ParseMultipartForm(maxImageBytes); err != nil {
			writeError(w, NewAPIError("Invalid multipart form: "+err.Error(), http.StatusBadRequest), logger, r)
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			writeError(w, NewAPIError("Please select an image first", http.StatusBadRequest), logger, r)
			return
		}
		defer file.Close()

		if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
			writeError(w, fmt.Errorf("%w: unsupported content type %s", ErrInvalidImage, ct), logger, r)
			return
		}

		opts, err := filterOptionsFromForm(r, filter.Defaults())
		if err != nil {
			writeError(w, err, logger, r)
			return
		}

		data, err := filter.Filter(file, opts)
		if err != nil {
			writeError(w, err, logger, r)
			return
		}

		writePNG(w, data, fmt.Sprintf("filtered-%d.png", time.Now().Unix()))
	}
}

func filterOptionsFromForm(r *http.Request, defaults FilterOptions) (FilterOptions, error) {
	opts := defaults

	floats := []struct {
		field string
		dst   *float64
	}{
		{"hue", &opts.Hue},
		{"saturation", &opts.Saturation},
		{"lightness", &opts.Lightness},
		{"tolerance", &opts.Tolerance},
	}
	for _, f := range floats {
		v := strings.TrimSpace(r.FormValue(f.field))
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, NewAPIError(fmt.Sprintf("Invalid %s: %s", f.field, v), http.StatusBadRequest)
		}
		*f.dst = n
	}

	if v := strings.TrimSpace(r.FormValue("remove_background")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, NewAPIError("Invalid remove_background: "+v, http.StatusBadRequest)
		}
		opts.RemoveBackground = b
	}

	return opts, nil
}

type RouterDeps struct {
	Service     *Top8Service
	Filter      *ImageFilterService
	RateLimiter RateLimiterInterface
	Metrics     *MetricsCollector
	Logger      *Logger
	// TrustProxy rewrites RemoteAddr from forwarded headers before rate
	// limiting. Leave it off unless a proxy sets those headers.
	TrustProxy bool
}

func NewRouter(deps RouterDeps) http.Handler {
	logging := NewLoggingMiddleware(deps.Logger, deps.Metrics)

	r := chi.NewRouter()
	if deps.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(logging.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Graphic-URL", "Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthzHandler)
	r.Get("/metrics", NewMetricsHandler(deps.Metrics, deps.Logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/characters", NewCharactersHandler(deps.Logger))
		r.With(withRateLimit(deps.RateLimiter, "top8", deps.Logger)).
			Post("/top8", NewTop8Handler(deps.Service, deps.Logger))
		r.Post("/graphic", NewGraphicHandler(deps.Service, deps.Logger))
		r.Get("/cache", NewReadCacheHandler(deps.Service, deps.Logger))
		r.Put("/cache", NewWriteCacheHandler(deps.Service, deps.Logger))
		r.Post("/filter", NewFilterHandler(deps.Filter, deps.Logger))
	})

	return r
}
