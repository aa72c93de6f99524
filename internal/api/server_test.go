package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/IT-Hock/source-rcon-library/internal/command"
	"github.com/IT-Hock/source-rcon-library/internal/config"
	"github.com/IT-Hock/source-rcon-library/internal/events"
	intnet "github.com/IT-Hock/source-rcon-library/internal/network"
)

const testToken = "test-token"

type fakeBackend struct {
	reg      *command.Registry
	fallback command.HandlerFunc
	cfg      config.ServerConfig
	conns    []intnet.ConnectionInfo
	kicked   []string
}

func (f *fakeBackend) Connections() []intnet.ConnectionInfo { return f.conns }
func (f *fakeBackend) Registry() *command.Registry          { return f.reg }
func (f *fakeBackend) Fallback() command.HandlerFunc        { return f.fallback }
func (f *fakeBackend) Config() config.ServerConfig          { return f.cfg }

func (f *fakeBackend) Kick(id string) bool {
	for _, c := range f.conns {
		if c.ID == id {
			f.kicked = append(f.kicked, id)
			return true
		}
	}
	return false
}

func newTestServer(t *testing.T, mutate func(*config.APIConfig)) (*Server, *fakeBackend) {
	t.Helper()

	reg := command.NewRegistry()
	reg.Add("hello", "", "says hi", func(string, []string) string { return "world" })

	cfg := config.DefaultServerConfig()
	cfg.Password = "s3cret-value"

	backend := &fakeBackend{
		reg: reg,
		cfg: cfg,
		conns: []intnet.ConnectionInfo{
			{ID: "abc", RemoteAddr: "10.0.0.5:50000", Authenticated: true},
			{ID: "def", RemoteAddr: "10.0.0.6:50001"},
		},
	}

	apiCfg := config.DefaultConfig().API
	apiCfg.Token = testToken
	apiCfg.RateLimitRPS = 0
	if mutate != nil {
		mutate(&apiCfg)
	}
	return NewServer(apiCfg, backend, events.NewEventBus(), ""), backend
}

func do(s *Server, method, path, body, token, remote string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad JSON %q: %v", w.Body.String(), err)
	}
	return out
}

func TestPingIsPublic(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(s, http.MethodGet, "/api/public/ping", "", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != "ok" {
		t.Fatalf("status field %v", got)
	}
	if w.Header().Get("Server") != "rcon" || w.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("security headers missing: %v", w.Header())
	}
}

func TestTokenAuth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodGet, "/api/monitor/connections", "", tt.token, "")
			if w.Code != tt.want {
				t.Fatalf("status %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNoTokenAllowsOnlyLoopback(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.APIConfig) { cfg.Token = "" })

	if w := do(s, http.MethodGet, "/api/monitor/commands", "", "", "192.0.2.10:4000"); w.Code != http.StatusForbidden {
		t.Fatalf("remote request: status %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/monitor/commands", "", "", "127.0.0.1:4000"); w.Code != http.StatusOK {
		t.Fatalf("loopback request: status %d", w.Code)
	}
}

func TestConnections(t *testing.T) {
	s, _ := newTestServer(t, nil)

	out := decode(t, do(s, http.MethodGet, "/api/monitor/connections", "", testToken, ""))
	if out["total"] != float64(2) || out["authenticated"] != float64(1) {
		t.Fatalf("got %v", out)
	}
}

func TestExec(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(s, http.MethodPost, "/api/control/exec", `{"command":"hello"}`, testToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	out := decode(t, w)
	if out["result"] != "world" || out["known"] != true {
		t.Fatalf("got %v", out)
	}

	out = decode(t, do(s, http.MethodPost, "/api/control/exec", `{"command":"nope 1"}`, testToken, ""))
	if out["known"] != false || !strings.Contains(out["result"].(string), `Invalid command "nope 1"`) {
		t.Fatalf("got %v", out)
	}

	for _, body := range []string{`{}`, `{"command":"   "}`, `not json`} {
		if w := do(s, http.MethodPost, "/api/control/exec", body, testToken, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status %d", body, w.Code)
		}
	}
}

func TestExecUsesFallback(t *testing.T) {
	s, backend := newTestServer(t, nil)
	backend.fallback = func(name string, args []string) string {
		return "custom " + name + " " + strings.Join(args, ",")
	}

	out := decode(t, do(s, http.MethodPost, "/api/control/exec", `{"command":"map de_dust2"}`, testToken, ""))
	if out["result"] != "custom map de_dust2" || out["known"] != false {
		t.Fatalf("got %v", out)
	}

	out = decode(t, do(s, http.MethodPost, "/api/control/exec", `{"command":"hello"}`, testToken, ""))
	if out["result"] != "world" || out["known"] != true {
		t.Fatalf("got %v", out)
	}
}

func TestKick(t *testing.T) {
	s, backend := newTestServer(t, nil)

	if w := do(s, http.MethodDelete, "/api/control/connections/abc", "", testToken, ""); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if w := do(s, http.MethodDelete, "/api/control/connections/zzz", "", testToken, ""); w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
	if len(backend.kicked) != 1 || backend.kicked[0] != "abc" {
		t.Fatalf("kicked %v", backend.kicked)
	}
}

func TestServerConfigHidesPassword(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(s, http.MethodGet, "/api/configure/server", "", testToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "s3cret-value") {
		t.Fatalf("password leaked: %s", w.Body.String())
	}
	if decode(t, w)["valid"] != true {
		t.Fatalf("default config reported invalid: %s", w.Body.String())
	}
}

func TestIPWhitelist(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.APIConfig) {
		cfg.AllowedIPs = []string{"10.0.*.*"}
	})

	if w := do(s, http.MethodGet, "/api/public/ping", "", "", "192.0.2.10:4000"); w.Code != http.StatusForbidden {
		t.Fatalf("status %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/public/ping", "", "", "10.0.3.4:4000"); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.APIConfig) { cfg.RateLimitRPS = 1 })

	// burst is twice the rate
	for i := 0; i < 2; i++ {
		if w := do(s, http.MethodGet, "/api/public/ping", "", "", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
	if w := do(s, http.MethodGet, "/api/public/ping", "", "", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d", w.Code)
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	s, _ := newTestServer(t, nil)
	if w := do(s, http.MethodGet, "/api/nothing", "", testToken, ""); w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"Bearerabc":  "",
	}
	for header, want := range tests {
		if got := extractBearerToken(header); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
