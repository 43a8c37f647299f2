package api

import (
	"net/http"
	"slices"
	"testing"
	"time"
)

func TestLogin_Success(t *testing.T) {
	_, router := testServer(t)

	data := login(t, router, "admin")

	if data.AccessToken == "" || data.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if data.AccessToken == data.RefreshToken {
		t.Error("access and refresh tokens must differ")
	}
	if data.Username != "admin" {
		t.Errorf("username = %q, want admin", data.Username)
	}
	if !slices.Contains(data.Roles, "SUPER_ADMIN") {
		t.Errorf("roles = %v, want SUPER_ADMIN", data.Roles)
	}
	if data.Expires == "" {
		t.Error("expected expires")
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	_, router := testServer(t)

	wUnknown, envUnknown := do(t, router, http.MethodPost, "/login",
		map[string]string{"username": "ghost", "password": testPassword}, "")
	wWrong, envWrong := do(t, router, http.MethodPost, "/login",
		map[string]string{"username": "admin", "password": "wrong-password"}, "")

	expectFailure(t, wUnknown, envUnknown, http.StatusUnauthorized, CodeOperationFailed)
	expectFailure(t, wWrong, envWrong, http.StatusUnauthorized, CodeOperationFailed)
	if envUnknown.Message != envWrong.Message {
		t.Errorf("messages differ: %q vs %q", envUnknown.Message, envWrong.Message)
	}
}

func TestLogin_InvalidJSON(t *testing.T) {
	_, router := testServer(t)

	w, env := do(t, router, http.MethodPost, "/login", "{not json", "")
	expectFailure(t, w, env, http.StatusBadRequest, CodeDataValidationFailed)
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	_, router := testServer(t)
	session := login(t, router, "admin")

	w, env := do(t, router, http.MethodPost, "/refresh",
		map[string]string{"refresh_token": session.RefreshToken}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d; body: %s", w.Code, w.Body.String())
	}

	var pair loginData
	decodeData(t, env, &pair)
	if pair.AccessToken == "" {
		t.Error("expected a new access token")
	}
	if pair.RefreshToken == "" || pair.RefreshToken == session.RefreshToken {
		t.Error("expected a rotated refresh token")
	}

	w, env = do(t, router, http.MethodPost, "/refresh",
		map[string]string{"refresh_token": session.RefreshToken}, "")
	expectFailure(t, w, env, http.StatusUnauthorized, CodeOperationFailed)
	if len(env.Data) > 0 && string(env.Data) != "null" {
		t.Errorf("data = %s, want null", env.Data)
	}
}

func TestRefresh_AcceptsKeySpellings(t *testing.T) {
	_, router := testServer(t)

	for _, key := range []string{"refresh", "refreshToken", "refresh_token"} {
		t.Run(key, func(t *testing.T) {
			session := login(t, router, "admin")
			w, _ := do(t, router, http.MethodPost, "/refresh",
				map[string]string{key: session.RefreshToken}, "")
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
		})
	}
}

func TestRefresh_MissingToken(t *testing.T) {
	_, router := testServer(t)

	w, env := do(t, router, http.MethodPost, "/refresh", `{}`, "")
	expectFailure(t, w, env, http.StatusUnauthorized, CodeOperationFailed)
}

func TestLogout_Idempotent(t *testing.T) {
	_, router := testServer(t)
	session := login(t, router, "admin")

	for i := range 2 {
		w, env := do(t, router, http.MethodPost, "/logout",
			map[string]string{"refresh": session.RefreshToken}, "")
		if w.Code != http.StatusOK || string(env.Data) != "true" {
			t.Errorf("logout #%d = %d %s, want 200 true", i+1, w.Code, env.Data)
		}
	}

	w, env := do(t, router, http.MethodPost, "/refresh",
		map[string]string{"refresh": session.RefreshToken}, "")
	expectFailure(t, w, env, http.StatusUnauthorized, CodeOperationFailed)

	w, env = do(t, router, http.MethodPost, "/logout",
		map[string]string{"refresh": "unknown-token"}, "")
	expectFailure(t, w, env, http.StatusUnauthorized, CodeOperationFailed)
}

func TestRegister(t *testing.T) {
	_, router := testServer(t)

	w, env := do(t, router, http.MethodPost, "/register", map[string]string{
		"username": "newcomer",
		"password": "secret-pass",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var user map[string]any
	decodeData(t, env, &user)
	if user["username"] != "newcomer" {
		t.Errorf("username = %v", user["username"])
	}
	for _, secret := range []string{"password", "passwordHash", "password_hash"} {
		if _, ok := user[secret]; ok {
			t.Errorf("response exposes %q", secret)
		}
	}

	w, env = do(t, router, http.MethodPost, "/register", map[string]string{
		"username": "newcomer",
		"password": "secret-pass",
	}, "")
	expectFailure(t, w, env, http.StatusBadRequest, CodeDataValidationFailed)
	if _, ok := env.Errors["username"]; !ok {
		t.Errorf("errors = %v, want username", env.Errors)
	}
}

func TestRegister_Validation(t *testing.T) {
	_, router := testServer(t)

	w, env := do(t, router, http.MethodPost, "/register", map[string]string{
		"username": "bad name!",
		"password": "123",
	}, "")
	expectFailure(t, w, env, http.StatusBadRequest, CodeDataValidationFailed)
	for _, field := range []string{"username", "password"} {
		if _, ok := env.Errors[field]; !ok {
			t.Errorf("errors = %v, want %s", env.Errors, field)
		}
	}
}

// ─── WebSocket tickets ─────────────────────────────────────────────

func TestWSTicket_SingleUse(t *testing.T) {
	srv, router := testServer(t)
	session := login(t, router, "admin")

	w, env := do(t, router, http.MethodPost, "/auth/ws-ticket", nil, session.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var data struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expiresIn"`
	}
	decodeData(t, env, &data)
	if data.Ticket == "" {
		t.Fatal("expected a ticket")
	}
	if data.ExpiresIn != int(ticketTTL.Seconds()) {
		t.Errorf("expiresIn = %d", data.ExpiresIn)
	}

	entry, ok := srv.tickets.validate(data.Ticket, time.Now())
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if entry.username != "admin" {
		t.Errorf("ticket username = %q, want admin", entry.username)
	}
	if _, ok := srv.tickets.validate(data.Ticket, time.Now()); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_RequiresAuth(t *testing.T) {
	_, router := testServer(t)

	w, env := do(t, router, http.MethodPost, "/auth/ws-ticket", nil, "")
	expectFailure(t, w, env, http.StatusUnauthorized, CodeOperationFailed)
}

func TestTicketStore_Expiry(t *testing.T) {
	store := newTicketStore()
	now := time.Now()

	expired := store.issue(nil, false, now.Add(-2*ticketTTL))
	fresh := store.issue(nil, false, now)

	if _, ok := store.validate(expired, now); ok {
		t.Error("expired ticket should not be valid")
	}

	store.issue(nil, false, now.Add(-2*ticketTTL))
	store.cleanExpired(now)
	if got := store.len(); got != 1 {
		t.Errorf("tickets after cleanup = %d, want 1", got)
	}
	if _, ok := store.validate(fresh, now); !ok {
		t.Error("fresh ticket should survive cleanup")
	}
}
