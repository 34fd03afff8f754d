package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func csrfHandler() http.Handler {
	return NewCSRFMiddleware(CSRFConfig{})(okHandler())
}

func TestCSRFMiddleware_SafeMethods_PassWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			w := httptest.NewRecorder()
			csrfHandler().ServeHTTP(w, httptest.NewRequest(method, "/api/admin/posts", nil))
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
		})
	}
}

func TestCSRFMiddleware_GET_IssuesCookieOnce(t *testing.T) {
	w := httptest.NewRecorder()
	csrfHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/me", nil))

	var issued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			issued = c
		}
	}
	if issued == nil {
		t.Fatal("csrf cookie not issued")
	}
	if len(issued.Value) != 64 {
		t.Errorf("token length = %d, want 64", len(issued.Value))
	}
	if issued.HttpOnly {
		t.Error("csrf cookie must be readable from script")
	}
	if issued.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite = %v, want Strict", issued.SameSite)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/me", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: issued.Value})
	w = httptest.NewRecorder()
	csrfHandler().ServeHTTP(w, req)
	if len(w.Result().Cookies()) != 0 {
		t.Error("existing csrf cookie should not be replaced")
	}
}

func TestCSRFMiddleware_StateChangingMethods(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
	}{
		{"トークンなし", "", "", http.StatusForbidden},
		{"ヘッダーなし", "abc123", "", http.StatusForbidden},
		{"Cookieなし", "", "abc123", http.StatusForbidden},
		{"不一致", "abc123", "abc124", http.StatusForbidden},
		{"一致", "abc123", "abc123", http.StatusOK},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				req := httptest.NewRequest(method, "/api/admin/posts/1", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := httptest.NewRecorder()

				csrfHandler().ServeHTTP(w, req)

				if w.Code != tt.wantStatus {
					t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if tt.wantStatus == http.StatusForbidden {
					var body ErrorResponseBody
					if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
						t.Fatalf("failed to decode: %v", err)
					}
					if body.Code == "" {
						t.Error("403 body should carry an error code")
					}
				}
			})
		}
	}
}

func TestCSRFTokenHandler_ReturnsExistingOrNewToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{CookieSecure: true})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != resp["token"] {
		t.Fatalf("cookie and body token mismatch: %v / %q", cookies, resp["token"])
	}
	if !cookies[0].Secure {
		t.Error("cookie should be Secure")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp["token"] != "existing" {
		t.Errorf("token = %q, want %q", resp["token"], "existing")
	}
}
