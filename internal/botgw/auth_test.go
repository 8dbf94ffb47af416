package botgw_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/convai/dialog-router/internal/botgw"
	"github.com/convai/dialog-router/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	s := openTestStore(t)
	if err := s.RegisterBot(context.Background(), store.Bot{Token: "tok-1", Name: "echo"}); err != nil {
		t.Fatalf("register bot: %v", err)
	}
	am := botgw.NewAuthMiddleware(s)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bot, ok := botgw.BotFromContext(r.Context())
		if !ok || bot.Token != "tok-1" {
			t.Fatalf("expected authenticated bot in context, got %+v ok=%v", bot, ok)
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := am.Wrap(inner)

	req := httptest.NewRequest(http.MethodGet, "/bottok-1/getUpdates", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_UnknownToken(t *testing.T) {
	s := openTestStore(t)
	am := botgw.NewAuthMiddleware(s)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for an unregistered token")
	})
	handler := am.Wrap(inner)

	req := httptest.NewRequest(http.MethodGet, "/botghost/getUpdates", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_BannedBot(t *testing.T) {
	s := openTestStore(t)
	if err := s.RegisterBot(context.Background(), store.Bot{Token: "tok-2", Banned: true}); err != nil {
		t.Fatalf("register bot: %v", err)
	}
	am := botgw.NewAuthMiddleware(s)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for a banned bot")
	})
	handler := am.Wrap(inner)

	req := httptest.NewRequest(http.MethodGet, "/bottok-2/getUpdates", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_HealthzSkipsAuth(t *testing.T) {
	s := openTestStore(t)
	am := botgw.NewAuthMiddleware(s)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := am.Wrap(inner)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /healthz to bypass auth, got %d", rec.Code)
	}
}
