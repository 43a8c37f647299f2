package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/mortal-core/internal/audit"
	"github.com/nerrad567/mortal-core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse flattens the token pair next to the profile fields the
// console shows right after login.
type loginResponse struct {
	auth.TokenPair
	Username string   `json:"username"`
	NickName string   `json:"nickName"`
	Avatar   string   `json:"avatar"`
	Roles    []string `json:"roles"`
}

// refreshRequest accepts the refresh token under any of the key spellings
// used by console clients.
type refreshRequest struct {
	Refresh      string `json:"refresh"`
	RefreshToken string `json:"refreshToken"`
	RefreshSnake string `json:"refresh_token"`
}

func (r refreshRequest) token() string {
	for _, v := range []string{r.RefreshToken, r.RefreshSnake, r.Refresh} {
		if v != "" {
			return v
		}
	}
	return ""
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	NickName string `json:"nickName"`
	Avatar   string `json:"avatar"`
	Gender   string `json:"gender"`
}

// ─── Session endpoints ─────────────────────────────────────────────

// handleLogin exchanges credentials for an access/refresh token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	session, err := s.auth.Login(r.Context(), req.Username, req.Password, r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.auditLog(audit.ActionLogin, audit.EntitySession, session.User.ID, session.User.ID, nil)

	writeSuccess(w, http.StatusOK, loginResponse{
		TokenPair: session.Tokens,
		Username:  session.User.Username,
		NickName:  session.User.NickName,
		Avatar:    session.User.Avatar,
		Roles:     session.User.RoleCodes(),
	})
}

// handleRefresh issues a new access token for a refresh token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.token())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, pair)
}

// handleLogout revokes a refresh token. Repeating it is harmless.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	userID, err := s.auth.Logout(r.Context(), req.token())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.auditLog(audit.ActionLogout, audit.EntitySession, userID, userID, nil)
	writeSuccess(w, http.StatusOK, true)
}

// handleRegister creates an enabled account with no roles.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	user, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		NickName: req.NickName,
		Avatar:   req.Avatar,
		Gender:   req.Gender,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.auditLog(audit.ActionRegister, audit.EntityUser, user.ID, user.ID, nil)
	writeSuccess(w, http.StatusCreated, user)
}

// ─── WebSocket tickets ─────────────────────────────────────────────

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	expiresAt time.Time
	userID    int64
	username  string
	super     bool
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a fresh ticket for the principal and returns it. super
// records whether the principal held the super role when it asked.
func (ts *ticketStore) issue(p *auth.Principal, super bool, now time.Time) string {
	ticket := generateTicket()
	entry := ticketEntry{expiresAt: now.Add(ticketTTL), super: super}
	if p != nil {
		entry.userID = p.UserID
		entry.username = p.Username
	}

	ts.mu.Lock()
	ts.tickets[ticket] = entry
	ts.mu.Unlock()
	return ticket
}

// validate checks if a ticket is valid and consumes it (single-use).
func (ts *ticketStore) validate(ticket string, now time.Time) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(ts.tickets, ticket)

	return entry, now.Before(entry.expiresAt)
}

// cleanExpired removes expired tickets from the store.
func (ts *ticketStore) cleanExpired(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for ticket, entry := range ts.tickets {
		if !now.Before(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

func (ts *ticketStore) len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tickets)
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client passes it as ?ticket= on /ws so the access token never
// appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	ticket := s.tickets.issue(p, p.HasRole(s.secCfg.SuperRole), time.Now())

	writeSuccess(w, http.StatusOK, map[string]any{
		"ticket":    ticket,
		"expiresIn": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop removes expired tickets periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.cleanExpired(now)
		}
	}
}
