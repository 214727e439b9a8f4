package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"exchange/internal/engine"
	"exchange/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server exposes the trading engine over HTTP and WebSocket. The engine
// owns all market and ledger state; the server translates requests,
// mirrors successful mutations into the store, and broadcasts events.
type Server struct {
	engine      *engine.Engine
	hub         *Hub
	store       *store.Store
	sessions    *SessionStore
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	corsOrigins []string // empty = allow all
}

func NewServer(eng *engine.Engine, st *store.Store) *Server {
	s := &Server{
		engine:      eng,
		hub:         NewHub(),
		store:       st,
		sessions:    NewSessionStore(st),
		rateLimiter: NewRateLimiter(300, 1*time.Minute),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// SetCORSOrigins sets the allowed CORS origins. An empty slice allows
// all origins (the default, for development).
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimiter.Middleware)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Token"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		r.Get("/pairs", s.getPairs)
		r.Post("/pairs", s.addPair)

		r.Get("/orders", s.getOrders)
		r.Post("/orders", s.submitOrder)
		r.Post("/orders/{id}/fulfill", s.fulfillOrder)

		r.Get("/balances", s.getBalances)
		r.Post("/balances/deposit", s.deposit)
		r.Post("/balances/withdraw", s.withdraw)

		r.Get("/fills", s.getFills)
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

// identity resolves the ledger identity for a request: the session's
// username when authenticated, otherwise a caller-supplied fallback
// (anonymous paper trading, like unauthenticated order submission).
func (s *Server) identity(r *http.Request, fallback string) string {
	if session := s.getSession(r); session != nil {
		return session.Username
	}
	return fallback
}

type pairRequest struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Price uint64 `json:"price"`
}

func (s *Server) addPair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Base == "" || req.Quote == "" {
		http.Error(w, "base and quote required", http.StatusBadRequest)
		return
	}

	key := engine.PairKey{Base: req.Base, Quote: req.Quote}
	if err := s.engine.AddPair(key, req.Price); err != nil {
		writeEngineError(w, err)
		return
	}
	if s.store != nil {
		if err := s.store.SavePair(req.Base, req.Quote, req.Price); err != nil {
			log.Printf("[API] failed to persist pair %s: %v", key, err)
		}
	}

	s.hub.Broadcast(map[string]interface{}{
		"type": "pair",
		"pair": key,
	})
	writeJSON(w, map[string]interface{}{"pair": key, "price": req.Price})
}

func (s *Server) getPairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"kind":  s.engine.Kind().String(),
		"pairs": s.engine.Pairs(),
	})
}

type orderRequest struct {
	User   string `json:"user,omitempty"` // ignored when authenticated
	Kind   string `json:"kind,omitempty"` // defaults to the engine's kind
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Side   string `json:"side"`
	Strike uint64 `json:"strike,omitempty"`
	Price  uint64 `json:"price"`
	Expiry int64  `json:"expiry"`
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user := s.identity(r, req.User)
	if user == "" {
		http.Error(w, "user required (or use auth token)", http.StatusBadRequest)
		return
	}

	side, err := engine.ParseSide(req.Side)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	kind := s.engine.Kind()
	if req.Kind != "" {
		if kind, err = engine.ParseKind(req.Kind); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	order, err := s.engine.CreateOrder(engine.OrderRequest{
		Kind:   kind,
		User:   user,
		Pair:   engine.PairKey{Base: req.Base, Quote: req.Quote},
		Side:   side,
		Strike: req.Strike,
		Price:  req.Price,
		Expiry: req.Expiry,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.store != nil {
		if err := s.store.SaveOrder(orderToRecord(order)); err != nil {
			log.Printf("[API] failed to journal order %s: %v", order.ID, err)
		}
	}

	s.hub.Broadcast(map[string]interface{}{
		"type":  "order",
		"order": orderView(order),
	})
	writeJSON(w, map[string]interface{}{"order": orderView(order)})
}

func (s *Server) getOrders(w http.ResponseWriter, r *http.Request) {
	key := engine.PairKey{
		Base:  r.URL.Query().Get("base"),
		Quote: r.URL.Query().Get("quote"),
	}
	orders, err := s.engine.Orders(key)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	views := make([]map[string]interface{}, len(orders))
	for i, o := range orders {
		views[i] = orderView(o)
	}
	writeJSON(w, map[string]interface{}{"pair": key, "orders": views})
}

type fulfillRequest struct {
	User     string `json:"user,omitempty"` // ignored when authenticated
	Quantity uint64 `json:"quantity"`
}

func (s *Server) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req fulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	user := s.identity(r, req.User)
	if user == "" {
		http.Error(w, "user required (or use auth token)", http.StatusBadRequest)
		return
	}
	if req.Quantity == 0 {
		http.Error(w, "quantity must be positive", http.StatusBadRequest)
		return
	}

	order, err := s.engine.FulfillOrderID(orderID, user, req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	coin := order.Pair.Quote
	payment := req.Quantity * order.Price
	log.Printf("[FILL] order=%s taker=%s writer=%s qty=%d payment=%d %s",
		order.ID, user, order.Writer, req.Quantity, payment, coin)

	if s.store != nil {
		if err := s.store.UpdateOrderFill(order.ID, order.CounterParty, order.Filled); err != nil {
			log.Printf("[API] failed to journal fill for order %s: %v", order.ID, err)
		}
		if err := s.store.RecordFill(store.Fill{
			ID:       uuid.New().String(),
			OrderID:  order.ID,
			Taker:    user,
			Quantity: req.Quantity,
			Payment:  payment,
			Coin:     coin,
		}); err != nil {
			log.Printf("[API] failed to record fill for order %s: %v", order.ID, err)
		}
		s.snapshotBalance(user, coin)
		s.snapshotBalance(order.Writer, coin)
	}

	s.hub.Broadcast(map[string]interface{}{
		"type":     "fill",
		"order_id": order.ID,
		"taker":    user,
		"writer":   order.Writer,
		"quantity": req.Quantity,
		"payment":  payment,
		"coin":     coin,
	})
	writeJSON(w, map[string]interface{}{"order": orderView(order)})
}

type balanceRequest struct {
	User   string `json:"user,omitempty"` // ignored when authenticated
	Coin   string `json:"coin"`
	Amount uint64 `json:"amount"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.mutateBalance(w, r, s.engine.AddBalance)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.mutateBalance(w, r, s.engine.SubtractBalance)
}

func (s *Server) mutateBalance(w http.ResponseWriter, r *http.Request, op func(string, string, uint64) error) {
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	user := s.identity(r, req.User)
	if user == "" {
		http.Error(w, "user required (or use auth token)", http.StatusBadRequest)
		return
	}
	if req.Coin == "" {
		http.Error(w, "coin required", http.StatusBadRequest)
		return
	}

	if err := op(user, req.Coin, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	if s.store != nil {
		s.snapshotBalance(user, req.Coin)
	}

	writeJSON(w, map[string]interface{}{
		"user":    user,
		"coin":    req.Coin,
		"balance": s.engine.Balance(user, req.Coin),
	})
}

func (s *Server) getBalances(w http.ResponseWriter, r *http.Request) {
	user := s.identity(r, r.URL.Query().Get("user"))
	if user == "" {
		http.Error(w, "user required (or use auth token)", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{
		"user":     user,
		"balances": s.engine.Balances(user),
	})
}

func (s *Server) getFills(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, map[string]interface{}{"fills": []store.Fill{}})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	fills, err := s.store.RecentFills(limit)
	if err != nil {
		http.Error(w, "failed to load fills", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"fills": fills})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.hub.Register(client)

	// Initial snapshot so a client can render without a REST round trip.
	data, _ := json.Marshal(map[string]interface{}{
		"type":  "pairs",
		"kind":  s.engine.Kind().String(),
		"pairs": s.engine.Pairs(),
	})
	client.send <- data

	go client.WritePump()
	go client.ReadPump()
}

// snapshotBalance mirrors one ledger entry into the store.
func (s *Server) snapshotBalance(user, coin string) {
	if err := s.store.UpsertBalance(user, coin, s.engine.Balance(user, coin)); err != nil {
		log.Printf("[API] failed to snapshot balance %s/%s: %v", user, coin, err)
	}
}

// Shutdown stops internal goroutines (session cleanup, rate limiter, hub).
func (s *Server) Shutdown() {
	s.sessions.Stop()
	s.rateLimiter.Stop()
	s.hub.Stop()
}

func orderToRecord(o *engine.Order) store.OrderRecord {
	return store.OrderRecord{
		ID:           o.ID,
		Kind:         o.Kind.String(),
		Base:         o.Pair.Base,
		Quote:        o.Pair.Quote,
		Side:         o.Side.String(),
		Strike:       o.Strike,
		Price:        o.Price,
		Writer:       o.Writer,
		CounterParty: o.CounterParty,
		Expiry:       o.Expiry,
		Filled:       o.Filled,
	}
}

// orderView is the wire shape of an order, with kind and side as strings.
func orderView(o *engine.Order) map[string]interface{} {
	return map[string]interface{}{
		"id":           o.ID,
		"kind":         o.Kind.String(),
		"pair":         o.Pair,
		"side":         o.Side.String(),
		"strike":       o.Strike,
		"price":        o.Price,
		"writer":       o.Writer,
		"counterparty": o.CounterParty,
		"expiry":       o.Expiry,
		"filled":       o.Filled,
		"created_at":   o.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeEngineError maps engine sentinels to HTTP statuses: the
// not-found family to 404, caller mistakes to 400.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrPairNotFound),
		errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, engine.ErrUserNotFound),
		errors.Is(err, engine.ErrCoinNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrOverflow):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
