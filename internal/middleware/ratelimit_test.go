package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
)

func limitedRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-in", nil)
	req.RemoteAddr = ip + ":54321"
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// TestRateLimiter_AllowsBurstThenRejects はバースト分は通し、超過分を429にすることを検証する。
func TestRateLimiter_AllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(time.Minute)
	defer rl.Stop()

	handler := rl.Limit(PerMinute("sign_in", 3))(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, limitedRequest("203.0.113.1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest("203.0.113.1"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "20" {
		t.Errorf("Retry-After = %q, want %q", got, "20")
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}

// TestRateLimiter_IsolatesClients はクライアントIPごとに独立して制限されることを検証する。
func TestRateLimiter_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(time.Minute)
	defer rl.Stop()

	handler := rl.Limit(PerMinute("sign_in", 1))(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), limitedRequest("203.0.113.1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest("203.0.113.2"))
	if w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest("203.0.113.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("same client status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

// TestRateLimiter_IsolatesPolicies はポリシーごとに独立した枠を持つことを検証する。
func TestRateLimiter_IsolatesPolicies(t *testing.T) {
	rl := NewRateLimiter(time.Minute)
	defer rl.Stop()

	signIn := rl.Limit(PerMinute("sign_in", 1))(okHandler())
	contact := rl.Limit(PerMinute("contact", 1))(okHandler())

	signIn.ServeHTTP(httptest.NewRecorder(), limitedRequest("203.0.113.1"))

	w := httptest.NewRecorder()
	contact.ServeHTTP(w, limitedRequest("203.0.113.1"))
	if w.Code != http.StatusOK {
		t.Errorf("contact status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := rl.LimiterCount(); got != 2 {
		t.Errorf("LimiterCount = %d, want 2", got)
	}
}

// TestRateLimiter_CleanupRemovesIdleEntries は一定時間アクセスのないエントリが削除されることを検証する。
func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	defer rl.Stop()

	handler := rl.Limit(PerMinute("sign_in", 5))(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), limitedRequest("203.0.113.1"))

	rl.cleanup(time.Now().Add(time.Hour))
	if got := rl.LimiterCount(); got != 1 {
		t.Fatalf("LimiterCount after short idle = %d, want 1", got)
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if got := rl.LimiterCount(); got != 0 {
		t.Errorf("LimiterCount after long idle = %d, want 0", got)
	}
}

// TestPerMinute はポリシーのレートとバーストを検証する。
func TestPerMinute(t *testing.T) {
	p := PerMinute("contact", 5)
	if p.Burst != 5 {
		t.Errorf("Burst = %d, want 5", p.Burst)
	}
	if got := float64(p.Rate) * 60; got < 4.999 || got > 5.001 {
		t.Errorf("Rate*60 = %v, want 5", got)
	}
	if z := PerMinute("zero", 0); z.Burst != 1 {
		t.Errorf("Burst for n=0 = %d, want 1", z.Burst)
	}
}
