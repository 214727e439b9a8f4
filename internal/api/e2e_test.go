package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"exchange/internal/api"
	"exchange/internal/engine"
	"exchange/internal/store"

	"github.com/gorilla/websocket"
)

type testEnv struct {
	server *httptest.Server
	store  *store.Store
	engine *engine.Engine
	api    *api.Server
}

func setupTestEnv(t *testing.T, kind engine.Kind) *testEnv {
	t.Helper()

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	eng := engine.New(kind)
	srv := api.NewServer(eng, st)
	ts := httptest.NewServer(srv.Router())

	return &testEnv{
		server: ts,
		store:  st,
		engine: eng,
		api:    srv,
	}
}

func (e *testEnv) cleanup() {
	e.server.Close()
	e.api.Shutdown()
	e.store.Close()
}

func (e *testEnv) post(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	jsonBody, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", e.server.URL+path, bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("GET", e.server.URL+path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func register(t *testing.T, e *testEnv, username, password string) string {
	t.Helper()
	resp := e.post(t, "/api/auth/register", map[string]string{
		"username": username,
		"password": password,
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	var auth struct {
		Token string `json:"token"`
	}
	decode(t, resp, &auth)
	if auth.Token == "" {
		t.Fatal("expected session token")
	}
	return auth.Token
}

func TestRegisterLoginAndTradeFlow(t *testing.T) {
	env := setupTestEnv(t, engine.Options)
	defer env.cleanup()

	aliceToken := register(t, env, "alice", "password123")
	bobToken := register(t, env, "bob", "password123")

	// Login works independently of the register session.
	resp := env.post(t, "/api/auth/login", map[string]string{
		"username": "alice", "password": "password123",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Register the pair and fund both parties.
	resp = env.post(t, "/api/pairs", map[string]interface{}{
		"base": "EUR", "quote": "USD", "price": 100,
	}, aliceToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add pair: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	for _, token := range []string{aliceToken, bobToken} {
		resp = env.post(t, "/api/balances/deposit", map[string]interface{}{
			"coin": "USD", "amount": 1000000,
		}, token)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("deposit: status %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Alice writes a call, strike 110 premium 5.
	resp = env.post(t, "/api/orders", map[string]interface{}{
		"base": "EUR", "quote": "USD", "side": "call",
		"strike": 110, "price": 5, "expiry": 1735689600,
	}, aliceToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit order: status %d", resp.StatusCode)
	}
	var submitted struct {
		Order struct {
			ID     string `json:"id"`
			Writer string `json:"writer"`
		} `json:"order"`
	}
	decode(t, resp, &submitted)
	if submitted.Order.Writer != "alice" {
		t.Errorf("expected writer alice, got %q", submitted.Order.Writer)
	}

	// Bob fulfills 1000 units: 5000 USD moves from bob to alice.
	resp = env.post(t, "/api/orders/"+submitted.Order.ID+"/fulfill", map[string]interface{}{
		"quantity": 1000,
	}, bobToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fulfill order: status %d", resp.StatusCode)
	}
	var fulfilled struct {
		Order struct {
			CounterParty string `json:"counterparty"`
			Filled       uint64 `json:"filled"`
		} `json:"order"`
	}
	decode(t, resp, &fulfilled)
	if fulfilled.Order.CounterParty != "bob" || fulfilled.Order.Filled != 1000 {
		t.Errorf("unexpected order state: %+v", fulfilled.Order)
	}

	var balances struct {
		Balances map[string]uint64 `json:"balances"`
	}
	resp = env.get(t, "/api/balances", aliceToken)
	decode(t, resp, &balances)
	if got := balances.Balances["USD"]; got != 1005000 {
		t.Errorf("expected alice USD 1005000, got %d", got)
	}
	resp = env.get(t, "/api/balances", bobToken)
	decode(t, resp, &balances)
	if got := balances.Balances["USD"]; got != 995000 {
		t.Errorf("expected bob USD 995000, got %d", got)
	}

	// The fill made it into the audit trail.
	var fills struct {
		Fills []store.Fill `json:"fills"`
	}
	resp = env.get(t, "/api/fills", "")
	decode(t, resp, &fills)
	if len(fills.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills.Fills))
	}
	if fills.Fills[0].Payment != 5000 || fills.Fills[0].Taker != "bob" {
		t.Errorf("unexpected fill record: %+v", fills.Fills[0])
	}
}

func TestSubmitOrderErrors(t *testing.T) {
	env := setupTestEnv(t, engine.Options)
	defer env.cleanup()

	token := register(t, env, "alice", "password123")

	env.post(t, "/api/pairs", map[string]interface{}{
		"base": "BTC", "quote": "USD", "price": 50000,
	}, token).Body.Close()

	// Futures-shaped request against an options engine.
	resp := env.post(t, "/api/orders", map[string]interface{}{
		"base": "BTC", "quote": "USD", "side": "ask", "price": 52000,
	}, token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for futures order on options market, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown pair.
	resp = env.post(t, "/api/orders", map[string]interface{}{
		"base": "DOGE", "quote": "USD", "side": "put", "price": 1,
	}, token)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown pair, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Rejected requests created nothing.
	var orders struct {
		Orders []json.RawMessage `json:"orders"`
	}
	r := env.get(t, "/api/orders?base=BTC&quote=USD", "")
	decode(t, r, &orders)
	if len(orders.Orders) != 0 {
		t.Errorf("expected no orders, got %d", len(orders.Orders))
	}
}

func TestFulfillWithoutFunds(t *testing.T) {
	env := setupTestEnv(t, engine.Futures)
	defer env.cleanup()

	aliceToken := register(t, env, "alice", "password123")
	bobToken := register(t, env, "bob", "password123")

	env.post(t, "/api/pairs", map[string]interface{}{
		"base": "BTC", "quote": "USD", "price": 50000,
	}, aliceToken).Body.Close()

	resp := env.post(t, "/api/orders", map[string]interface{}{
		"base": "BTC", "quote": "USD", "side": "ask", "price": 52000,
	}, aliceToken)
	var submitted struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	decode(t, resp, &submitted)

	// Bob has no ledger entry at all.
	resp = env.post(t, "/api/orders/"+submitted.Order.ID+"/fulfill", map[string]interface{}{
		"quantity": 1,
	}, bobToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unfunded taker, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Funded but not enough.
	env.post(t, "/api/balances/deposit", map[string]interface{}{
		"coin": "USD", "amount": 100,
	}, bobToken).Body.Close()
	resp = env.post(t, "/api/orders/"+submitted.Order.ID+"/fulfill", map[string]interface{}{
		"quantity": 1,
	}, bobToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for insufficient balance, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWithdrawErrors(t *testing.T) {
	env := setupTestEnv(t, engine.Options)
	defer env.cleanup()

	token := register(t, env, "alice", "password123")

	resp := env.post(t, "/api/balances/withdraw", map[string]interface{}{
		"coin": "USD", "amount": 100,
	}, token)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	env.post(t, "/api/balances/deposit", map[string]interface{}{
		"coin": "USD", "amount": 50,
	}, token).Body.Close()

	resp = env.post(t, "/api/balances/withdraw", map[string]interface{}{
		"coin": "USD", "amount": 100,
	}, token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for insufficient balance, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWebSocketReceivesOrderEvents(t *testing.T) {
	env := setupTestEnv(t, engine.Options)
	defer env.cleanup()

	token := register(t, env, "alice", "password123")
	env.post(t, "/api/pairs", map[string]interface{}{
		"base": "ETH", "quote": "USD", "price": 3000,
	}, token).Body.Close()

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	// First frame is the pairs snapshot.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if snapshot.Type != "pairs" {
		t.Fatalf("expected pairs snapshot, got %q", snapshot.Type)
	}

	env.post(t, "/api/orders", map[string]interface{}{
		"base": "ETH", "quote": "USD", "side": "put",
		"strike": 2800, "price": 50, "expiry": 1735689600,
	}, token).Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event struct {
		Type  string `json:"type"`
		Order struct {
			Side   string `json:"side"`
			Writer string `json:"writer"`
		} `json:"order"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("failed to read order event: %v", err)
	}
	if event.Type != "order" || event.Order.Side != "put" || event.Order.Writer != "alice" {
		t.Errorf("unexpected event: %+v", event)
	}
}
