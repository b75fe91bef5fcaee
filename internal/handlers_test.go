package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
)

func createTestLogger() *Logger {
	return &Logger{
		level:       LogLevelError,
		service:     "test",
		environment: "test",
		logger:      log.New(bytes.NewBuffer(nil), "", 0),
	}
}

type mockRateLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (m *mockRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	m.keys = append(m.keys, key)
	return m.allowed, m.err
}

type routerFixture struct {
	router  http.Handler
	api     *mockStartGGAPI
	store   CharacterStore
	limiter *mockRateLimiter
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	api := &mockStartGGAPI{
		standings: top8Standings(),
		stats:     &EventStats{NonDQAttendees: 4, NonDQSets: 3, PagesFetched: 1},
	}
	store := NewMemoryCharacterStore()
	limiter := &mockRateLimiter{allowed: true}
	logger := createTestLogger()
	metrics := NewMetricsCollector(logger)

	router := NewRouter(RouterDeps{
		Service:     newTestService(t, api, store),
		Filter:      NewImageFilterService(StdImageDecoder{}, FilterOptions{Hue: 24, Saturation: 26}, logger),
		RateLimiter: limiter,
		Metrics:     metrics,
		Logger:      logger,
	})
	return &routerFixture{router: router, api: api, store: store, limiter: limiter}
}

func (f *routerFixture) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid slug", ErrInvalidSlugFormat, http.StatusBadRequest},
		{"no entries", ErrNoEntries, http.StatusBadRequest},
		{"missing character", fmt.Errorf("%w (row 2)", ErrMissingCharacter), http.StatusBadRequest},
		{"invalid image", ErrInvalidImage, http.StatusBadRequest},
		{"no standings", ErrNoStandings, http.StatusNotFound},
		{"event not found", ErrEventNotFound, http.StatusNotFound},
		{"api key", ErrAPIKeyMissing, http.StatusServiceUnavailable},
		{"graphql", &GraphQLError{Operation: "x", Messages: []string{"boom"}}, http.StatusBadGateway},
		{"network", &NetworkError{Operation: "x", StatusCode: 500}, http.StatusBadGateway},
		{"api error passthrough", NewAPIError("slow down", http.StatusTooManyRequests), http.StatusTooManyRequests},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toAPIError(tt.err); got.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, got.Status)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.do(http.MethodGet, "/healthz", nil, "")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("expected body ok, got %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestCharactersHandler(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.do(http.MethodGet, "/api/characters", nil, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body struct {
		Characters []string `json:"characters"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Characters) != len(MeleeCharacters) || body.Characters[0] != "Fox" {
		t.Errorf("unexpected characters: %v", body.Characters)
	}
}

func TestTop8Handler(t *testing.T) {
	f := newRouterFixture(t)
	body, _ := json.Marshal(map[string]string{"url": testEventURL})
	rr := f.do(http.MethodPost, "/api/top8", body, "application/json")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var session Session
	if err := json.NewDecoder(rr.Body).Decode(&session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(session.Rows) != 3 || session.Rows[0].Name != "Leffen" {
		t.Errorf("unexpected rows: %+v", session.Rows)
	}
	if session.Stats == nil || session.Stats.NonDQAttendees != 4 {
		t.Errorf("unexpected stats: %+v", session.Stats)
	}
	if len(f.limiter.keys) != 1 || !strings.HasPrefix(f.limiter.keys[0], "top8:") {
		t.Errorf("expected one rate limit check, got %v", f.limiter.keys)
	}
}

func TestTop8Handler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"empty url", `{"url":""}`, http.StatusBadRequest},
		{"invalid url", `{"url":"https://start.gg/tournament/x/overview"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			rr := f.do(http.MethodPost, "/api/top8", []byte(tt.body), "application/json")
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}

			var errBody map[string]interface{}
			if err := json.NewDecoder(rr.Body).Decode(&errBody); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if errBody["error"] == "" || errBody["requestId"] == "" {
				t.Errorf("unexpected error body: %v", errBody)
			}
		})
	}
}

func TestTop8Handler_NoStandings(t *testing.T) {
	f := newRouterFixture(t)
	f.api.standings = nil

	body, _ := json.Marshal(map[string]string{"url": testEventURL})
	rr := f.do(http.MethodPost, "/api/top8", body, "application/json")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestTop8Handler_RateLimited(t *testing.T) {
	f := newRouterFixture(t)
	f.limiter.allowed = false

	body, _ := json.Marshal(map[string]string{"url": testEventURL})
	rr := f.do(http.MethodPost, "/api/top8", body, "application/json")
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rr.Code)
	}
	if f.api.standingCalls != 0 {
		t.Error("rate limited request must not reach start.gg")
	}
}

func TestTop8Handler_RateLimiterError(t *testing.T) {
	f := newRouterFixture(t)
	f.limiter.err = errors.New("redis down")

	body, _ := json.Marshal(map[string]string{"url": testEventURL})
	rr := f.do(http.MethodPost, "/api/top8", body, "application/json")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}
}

func TestTop8Handler_RateLimitIgnoresForwardedFor(t *testing.T) {
	f := newRouterFixture(t)

	for _, forwarded := range []string{"1.1.1.1", "2.2.2.2"} {
		body, _ := json.Marshal(map[string]string{"url": testEventURL})
		req := httptest.NewRequest(http.MethodPost, "/api/top8", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwarded)
		req.RemoteAddr = "10.0.0.7:51234"
		f.router.ServeHTTP(httptest.NewRecorder(), req)
	}

	if len(f.limiter.keys) != 2 {
		t.Fatalf("expected 2 limiter checks, got %v", f.limiter.keys)
	}
	for _, key := range f.limiter.keys {
		if key != "top8:10.0.0.7" {
			t.Errorf("expected key from RemoteAddr, got %q", key)
		}
	}
}

func TestTop8Handler_RateLimitTrustedProxy(t *testing.T) {
	api := &mockStartGGAPI{
		standings: top8Standings(),
		stats:     &EventStats{NonDQAttendees: 4, NonDQSets: 3, PagesFetched: 1},
	}
	limiter := &mockRateLimiter{allowed: true}
	logger := createTestLogger()
	router := NewRouter(RouterDeps{
		Service:     newTestService(t, api, NewMemoryCharacterStore()),
		RateLimiter: limiter,
		Metrics:     NewMetricsCollector(logger),
		Logger:      logger,
		TrustProxy:  true,
	})

	body, _ := json.Marshal(map[string]string{"url": testEventURL})
	req := httptest.NewRequest(http.MethodPost, "/api/top8", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.RemoteAddr = "10.0.0.7:51234"
	router.ServeHTTP(httptest.NewRecorder(), req)

	if len(limiter.keys) != 1 || limiter.keys[0] != "top8:203.0.113.9" {
		t.Errorf("expected key from forwarded header, got %v", limiter.keys)
	}
}

func TestGraphicHandler_PNG(t *testing.T) {
	f := newRouterFixture(t)
	body, _ := json.Marshal(GraphicRequest{Entries: graphicEntries()})
	rr := f.do(http.MethodPost, "/api/graphic", body, "application/json")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	if _, err := png.Decode(rr.Body); err != nil {
		t.Errorf("body is not a PNG: %v", err)
	}

	picks, _ := f.store.Read(context.Background())
	if picks["Leffen"] != "Fox" {
		t.Errorf("expected picks persisted, got %v", picks)
	}
}

func TestGraphicHandler_JSON(t *testing.T) {
	f := newRouterFixture(t)
	body, _ := json.Marshal(GraphicRequest{Entries: graphicEntries()})
	rr := f.do(http.MethodPost, "/api/graphic?format=json", body, "application/json")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := result["png"]; ok {
		t.Error("raw PNG bytes must not be serialized")
	}
	if s, _ := result["data_url"].(string); !strings.HasPrefix(s, "data:image/png;base64,") {
		t.Errorf("unexpected data_url %.30q", s)
	}
}

func TestGraphicHandler_MissingCharacter(t *testing.T) {
	f := newRouterFixture(t)
	body, _ := json.Marshal(GraphicRequest{Entries: []GraphicEntry{{Place: 1, Name: "Leffen"}}})
	rr := f.do(http.MethodPost, "/api/graphic", body, "application/json")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestCacheHandlers(t *testing.T) {
	f := newRouterFixture(t)

	rr := f.do(http.MethodPut, "/api/cache", []byte(`{"Mango":"Falco"}`), "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = f.do(http.MethodPut, "/api/cache", []byte(`{"Lucky":"Fox"}`), "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	rr = f.do(http.MethodGet, "/api/cache", nil, "")
	var picks map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&picks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if picks["Mango"] != "Falco" || picks["Lucky"] != "Fox" {
		t.Errorf("expected merged picks, got %v", picks)
	}
}

func multipartImage(t *testing.T, fields map[string]string, img image.Image) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if img != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="image"; filename="icon.png"`)
		header.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if err := png.Encode(part, img); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

func TestFilterHandler(t *testing.T) {
	f := newRouterFixture(t)
	body, ct := multipartImage(t, map[string]string{"hue": "180", "remove_background": "true"}, solidIcon(color.NRGBA{R: 200, A: 255}))

	rr := f.do(http.MethodPost, "/api/filter", body, ct)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	out, err := png.Decode(rr.Body)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Bounds().Dx() != 16 {
		t.Errorf("expected width 16, got %d", out.Bounds().Dx())
	}
	_, _, _, a := out.At(8, 8).RGBA()
	if a != 0 {
		t.Errorf("expected uniform image to be removed as background, alpha %d", a)
	}
}

func TestFilterHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		img    image.Image
	}{
		{"no image", nil, nil},
		{"bad hue", map[string]string{"hue": "red"}, solidIcon(color.Black)},
		{"bad remove_background", map[string]string{"remove_background": "maybe"}, solidIcon(color.Black)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			body, ct := multipartImage(t, tt.fields, tt.img)
			rr := f.do(http.MethodPost, "/api/filter", body, ct)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestFilterHandler_NotAnImage(t *testing.T) {
	f := newRouterFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="notes.png"`)
	header.Set("Content-Type", "image/png")
	part, _ := mw.CreatePart(header)
	part.Write([]byte("definitely not pixels"))
	mw.Close()

	rr := f.do(http.MethodPost, "/api/filter", buf.Bytes(), mw.FormDataContentType())
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestFilterHandler_OversizedDimensions(t *testing.T) {
	f := newRouterFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="huge.png"`)
	header.Set("Content-Type", "image/png")
	part, _ := mw.CreatePart(header)
	part.Write(pngHeader(40000, 40000))
	mw.Close()

	rr := f.do(http.MethodPost, "/api/filter", buf.Bytes(), mw.FormDataContentType())
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestFilterHandler_RejectsNonImageContentType(t *testing.T) {
	f := newRouterFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("image", "notes.txt")
	part.Write([]byte("hello"))
	mw.Close()

	rr := f.do(http.MethodPost, "/api/filter", buf.Bytes(), mw.FormDataContentType())
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	f.do(http.MethodGet, "/healthz", nil, "")

	rr := f.do(http.MethodGet, "/metrics", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var metrics map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&metrics); err != nil {
		t.Fatalf("decode: %v", err)
	}
	requests, _ := metrics["requests"].(map[string]interface{})
	if requests["/healthz"] != float64(1) {
		t.Errorf("expected one /healthz request recorded, got %v", requests)
	}
}

func TestWithRateLimit_NilLimiterPassesThrough(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	handler := withRateLimit(nil, "top8", createTestLogger())(next)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/top8", nil))

	if !called {
		t.Error("expected next handler to run")
	}
}
