package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"riskguard/internal/gateway"
	"riskguard/internal/models"
	"riskguard/internal/repository"
	"riskguard/internal/risk"
	"riskguard/internal/service"
	"riskguard/internal/websocket"
	"riskguard/pkg/crypto"
)

const testToken = "operator-token"

// ============ fakes ============

type staticMarket struct{}

func (staticMarket) GetBalances(context.Context, string) ([]gateway.WalletBalance, error) {
	return []gateway.WalletBalance{{Token: "ETH", Amount: 0.25}, {Token: "USDC", Amount: 500}}, nil
}

func (staticMarket) GetPrices(_ context.Context, tokens []string) (map[string]float64, error) {
	prices := map[string]float64{"ETH": 2000, "USDC": 1}
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		if p, ok := prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func (staticMarket) GetPositions(context.Context, string) ([]gateway.LiquidityPosition, error) {
	return nil, nil
}

type noopExec struct{}

func (noopExec) ExecuteSwap(context.Context, gateway.SwapRequest) (*gateway.SwapResult, error) {
	return &gateway.SwapResult{Success: true}, nil
}

func (noopExec) RemoveLiquidity(context.Context, gateway.RemoveLiquidityRequest) (*gateway.RemoveLiquidityResult, error) {
	return &gateway.RemoveLiquidityResult{Success: true}, nil
}

type memorySettingsRepo struct {
	mu sync.Mutex
	st *models.RiskSettings
}

func (r *memorySettingsRepo) Get() (*models.RiskSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.st == nil {
		return nil, repository.ErrSettingsNotFound
	}
	cp := *r.st
	return &cp, nil
}

func (r *memorySettingsRepo) Save(s *models.RiskSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.st = &cp
	return nil
}

// ============ setup ============

type testServer struct {
	*httptest.Server
	engine *risk.Engine
	hub    *websocket.Hub
	repo   *memorySettingsRepo
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()

	engine, err := risk.NewEngine(risk.DefaultConfig(), staticMarket{}, noopExec{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)

	hub := websocket.NewHub(nil)
	hub.SetWelcome(func() interface{} {
		return websocket.NewEmergencyStatusMessage(engine.GetEmergencyStatus())
	})
	go hub.Run()
	t.Cleanup(hub.Stop)

	hash, err := crypto.HashTokenWithCost(testToken, 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	repo := &memorySettingsRepo{}
	settings := service.NewSettingsService(repo, engine, nil)
	if _, err := settings.Load(); err != nil {
		t.Fatalf("settings load: %v", err)
	}

	router := SetupRoutes(&Dependencies{
		Engine:          engine,
		SettingsService: settings,
		Hub:             hub,
		Verifier:        crypto.NewTokenVerifier(hash),
		CORSOrigins:     []string{"http://localhost:3000"},
		HealthChecks:    checks,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, engine: engine, hub: hub, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path, body string, auth bool) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, s.URL+path, nil)
	} else {
		req, err = http.NewRequest(method, s.URL+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ tests ============

func TestRoutes_AuthRequired(t *testing.T) {
	srv := newTestServer(t, nil)

	if resp := srv.do(t, http.MethodGet, "/api/v1/emergency", "", false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("без токена status = %d, ожидалось 401", resp.StatusCode)
	}
	if resp := srv.do(t, http.MethodGet, "/api/v1/emergency", "", true); resp.StatusCode != http.StatusOK {
		t.Errorf("с токеном status = %d, ожидалось 200", resp.StatusCode)
	}
	// служебные маршруты без auth
	if resp := srv.do(t, http.MethodGet, "/health", "", false); resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", resp.StatusCode)
	}
	if resp := srv.do(t, http.MethodGet, "/metrics", "", false); resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}
}

func TestRoutes_Preflight(t *testing.T) {
	srv := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/risk/limits", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, ожидалось 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestRoutes_Health(t *testing.T) {
	srv := newTestServer(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	resp := srv.do(t, http.MethodGet, "/health", "", false)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, ожидалось 503", resp.StatusCode)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "degraded" || health.Checks["postgres"] != "ok" || health.Checks["redis"] == "ok" {
		t.Errorf("health = %+v", health)
	}
}

func TestRoutes_SettingsPersisted(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := srv.do(t, http.MethodPatch, "/api/v1/risk/limits", `{"max_position_size":4000}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := srv.engine.Limiter().Limits().MaxPositionSize; got != 4000 {
		t.Errorf("лимит в движке = %v", got)
	}
	stored, _ := srv.repo.Get()
	if stored.Limits.MaxPositionSize != 4000 {
		t.Errorf("сохранённый лимит = %v", stored.Limits.MaxPositionSize)
	}

	resp = srv.do(t, http.MethodPut, "/api/v1/risk/mode", `{"mode":"aggressive"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mode status = %d", resp.StatusCode)
	}
	if srv.engine.Settings().TradingMode != models.ModeAggressive {
		t.Errorf("mode = %s", srv.engine.Settings().TradingMode)
	}
}

func TestRoutes_EmergencyBroadcastOverWebSocket(t *testing.T) {
	srv := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stream?token=" + testToken
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readType := func() (string, map[string]interface{}) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		first := strings.SplitN(string(data), "\n", 2)[0]
		var msg map[string]interface{}
		if err := json.Unmarshal([]byte(first), &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		typ, _ := msg["type"].(string)
		payload, _ := msg["data"].(map[string]interface{})
		return typ, payload
	}

	if typ, data := readType(); typ != "emergencyStatus" || data["enabled"] != false {
		t.Fatalf("welcome = %s %v", typ, data)
	}

	resp := srv.do(t, http.MethodPost, "/api/v1/emergency/activate", `{"reason":"drill"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate status = %d", resp.StatusCode)
	}
	if !srv.engine.IsEmergencyStopEnabled() {
		t.Fatal("остановка должна быть активна")
	}

	typ, data := readType()
	if typ != "emergencyStatus" || data["enabled"] != true {
		t.Errorf("после активации получено %s %v", typ, data)
	}

	if resp := srv.do(t, http.MethodPost, "/api/v1/risk/can-open", `{"token":"ETH","amount_usd":10}`, true); resp.StatusCode != http.StatusOK {
		t.Errorf("can-open status = %d", resp.StatusCode)
	} else {
		var check models.LimitCheck
		json.NewDecoder(resp.Body).Decode(&check)
		if check.Allowed {
			t.Error("при активной остановке сделки запрещены")
		}
	}
}

func TestRoutes_WebSocketRequiresToken(t *testing.T) {
	srv := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stream"
	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("подключение без токена должно отклоняться")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v", resp)
	}
}
