package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"exchange/internal/store"
)

// Session represents an authenticated session. The username doubles as
// the ledger identity the engine settles against.
type Session struct {
	Token     string
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// SessionStore manages active sessions with database persistence and an
// in-memory cache in front of it.
type SessionStore struct {
	store  *store.Store
	mu     sync.RWMutex
	cache  map[string]*Session
	stopCh chan struct{}
}

func NewSessionStore(s *store.Store) *SessionStore {
	ss := &SessionStore{
		store:  s,
		cache:  make(map[string]*Session),
		stopCh: make(chan struct{}),
	}
	go ss.cleanupLoop()
	return ss
}

func (ss *SessionStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCh:
			return
		}
	}
}

func (ss *SessionStore) cleanup() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now()
	for token, session := range ss.cache {
		if now.After(session.ExpiresAt) {
			delete(ss.cache, token)
		}
	}
	if ss.store != nil {
		ss.store.CleanupExpiredSessions()
	}
}

// Stop halts the cleanup goroutine.
func (ss *SessionStore) Stop() {
	close(ss.stopCh)
}

func (ss *SessionStore) Create(userID, username string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	token := generateToken()
	expiresAt := time.Now().Add(24 * time.Hour)
	session := &Session{
		Token:     token,
		UserID:    userID,
		Username:  username,
		ExpiresAt: expiresAt,
	}

	if ss.store != nil {
		ss.store.CreateSession(token, userID, username, expiresAt)
	}

	ss.cache[token] = session
	return session
}

func (ss *SessionStore) Get(token string) *Session {
	ss.mu.RLock()
	if session, ok := ss.cache[token]; ok {
		if time.Now().Before(session.ExpiresAt) {
			ss.mu.RUnlock()
			return session
		}
	}
	ss.mu.RUnlock()

	// Not cached or expired locally; fall back to the database.
	if ss.store != nil {
		dbSession, err := ss.store.GetSession(token)
		if err == nil && dbSession != nil {
			session := &Session{
				Token:     dbSession.Token,
				UserID:    dbSession.UserID,
				Username:  dbSession.Username,
				ExpiresAt: dbSession.ExpiresAt,
			}
			ss.mu.Lock()
			ss.cache[token] = session
			ss.mu.Unlock()
			return session
		}
	}
	return nil
}

func (ss *SessionStore) Delete(token string) {
	ss.mu.Lock()
	delete(ss.cache, token)
	ss.mu.Unlock()
	if ss.store != nil {
		ss.store.DeleteSession(token)
	}
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// getSession extracts the session from a request's Authorization Bearer
// header or X-Session-Token header. Returns nil if unauthenticated.
func (s *Server) getSession(r *http.Request) *Session {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token == "" {
		return nil
	}
	return s.sessions.Get(token)
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		http.Error(w, "username and a password of at least 8 characters required", http.StatusBadRequest)
		return
	}

	user, err := s.store.CreateUser(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			http.Error(w, "username already exists", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	session := s.sessions.Create(user.ID, user.Username)
	writeJSON(w, authResponse{Token: session.Token, UserID: user.ID, Username: user.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.store.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	session := s.sessions.Create(user.ID, user.Username)
	writeJSON(w, authResponse{Token: session.Token, UserID: user.ID, Username: user.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session != nil {
		s.sessions.Delete(session.Token)
	}
	w.WriteHeader(http.StatusNoContent)
}
