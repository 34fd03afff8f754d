package identity

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

const (
	testEmail    = "editor@example.com"
	testPassword = "correct-horse-battery"
	sessionTTL   = 14 * 24 * time.Hour
)

func TestSignInWithPassword_Success_ReturnsVerifiableIDToken(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, testEmail, testPassword, map[string]any{"role": "editor"})

	tok := env.signIn(t, "Editor@Example.com", testPassword)

	claims, err := env.provider.VerifyIDToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("VerifyIDToken: %v", err)
	}
	if claims.UID != acct.UID {
		t.Errorf("UID = %q, want %q", claims.UID, acct.UID)
	}
	if claims.Email != testEmail {
		t.Errorf("Email = %q, want %q", claims.Email, testEmail)
	}
	if claims.Custom["role"] != "editor" {
		t.Errorf("role claim = %v, want editor", claims.Custom["role"])
	}
	if !claims.AuthTime.Equal(env.clock.Now().Truncate(time.Second)) {
		t.Errorf("AuthTime = %v, want %v", claims.AuthTime, env.clock.Now())
	}
}

func TestSignInWithPassword_Failures_AreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, testEmail, testPassword, nil)
	disabled := env.createAccount(t, "disabled@example.com", testPassword, nil)
	env.accounts.setDisabled(disabled.UID, true)

	cases := []struct {
		name, email, password string
	}{
		{"wrong password", testEmail, "wrong-password"},
		{"unknown email", "nobody@example.com", testPassword},
		{"disabled account", "disabled@example.com", testPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.provider.SignInWithPassword(context.Background(), tc.email, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestSignInWithPassword_StoreDown_ReturnsStoreError(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.findErr = errStoreDown

	_, err := env.provider.SignInWithPassword(context.Background(), testEmail, testPassword)
	if !errors.Is(err, errStoreDown) {
		t.Errorf("err = %v, want store error", err)
	}
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, testEmail, testPassword, nil)

	_, err := env.provider.CreateAccount(context.Background(), AccountInput{Email: "EDITOR@example.com", Password: testPassword})
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("err = %v, want ErrEmailExists", err)
	}
}

func TestCreateAccount_WeakPassword(t *testing.T) {
	env := newTestEnv(t)
	for _, pw := range []string{"short", strings.Repeat("x", 73)} {
		_, err := env.provider.CreateAccount(context.Background(), AccountInput{Email: testEmail, Password: pw})
		if !errors.Is(err, ErrWeakPassword) {
			t.Errorf("password len %d: err = %v, want ErrWeakPassword", len(pw), err)
		}
	}
}

func TestSessionRoundTrip_ClaimsMatchIDToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, testEmail, testPassword, map[string]any{"role": "admin"})
	tok := env.signIn(t, testEmail, testPassword)

	idClaims, err := env.provider.VerifyIDToken(ctx, tok)
	if err != nil {
		t.Fatalf("VerifyIDToken: %v", err)
	}

	cookie, err := env.provider.CreateSessionCookie(ctx, tok, sessionTTL)
	if err != nil {
		t.Fatalf("CreateSessionCookie: %v", err)
	}
	sess, err := env.provider.VerifySessionCookie(ctx, cookie, true)
	if err != nil {
		t.Fatalf("VerifySessionCookie: %v", err)
	}

	if sess.UID != idClaims.UID || sess.Email != idClaims.Email || !sess.AuthTime.Equal(idClaims.AuthTime) {
		t.Errorf("session identity %+v differs from id token %+v", sess, idClaims)
	}
	if !reflect.DeepEqual(sess.Custom, idClaims.Custom) {
		t.Errorf("session custom claims %v, want %v", sess.Custom, idClaims.Custom)
	}
	if want := env.clock.Now().Add(sessionTTL); !sess.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", sess.ExpiresAt, want)
	}
}

func TestSessionExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, testEmail, testPassword, map[string]any{"role": "admin"})
	tok := env.signIn(t, testEmail, testPassword)

	createdAt := env.clock.Now()
	cookie, err := env.provider.CreateSessionCookie(ctx, tok, sessionTTL)
	if err != nil {
		t.Fatalf("CreateSessionCookie: %v", err)
	}

	env.clock.Set(createdAt.Add(sessionTTL - time.Second))
	if _, err := env.provider.VerifySessionCookie(ctx, cookie, false); err != nil {
		t.Errorf("at createdAt+14d-1s: unexpected error %v", err)
	}

	env.clock.Set(createdAt.Add(sessionTTL + time.Second))
	if _, err := env.provider.VerifySessionCookie(ctx, cookie, false); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("at createdAt+14d+1s: err = %v, want ErrSessionInvalid", err)
	}
}

func TestCreateSessionCookie_TokenConsumedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, testEmail, testPassword, nil)
	tok := env.signIn(t, testEmail, testPassword)

	if _, err := env.provider.CreateSessionCookie(ctx, tok, sessionTTL); err != nil {
		t.Fatalf("first CreateSessionCookie: %v", err)
	}
	if _, err := env.provider.CreateSessionCookie(ctx, tok, sessionTTL); !errors.Is(err, ErrTokenConsumed) {
		t.Errorf("second CreateSessionCookie err = %v, want ErrTokenConsumed", err)
	}
}

func TestCreateSessionCookie_StaleSignIn(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, testEmail, testPassword, nil)
	tok := env.signIn(t, testEmail, testPassword)

	env.clock.Advance(6 * time.Minute)
	if _, err := env.provider.CreateSessionCookie(context.Background(), tok, sessionTTL); !errors.Is(err, ErrStaleSignIn) {
		t.Errorf("err = %v, want ErrStaleSignIn", err)
	}
}

func TestCreateSessionCookie_ExpiredOrMalformedToken(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, testEmail, testPassword, nil)
	tok := env.signIn(t, testEmail, testPassword)

	if _, err := env.provider.CreateSessionCookie(context.Background(), "not-a-jwt", sessionTTL); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("malformed: err = %v, want ErrInvalidToken", err)
	}

	// 署名部分を改ざん
	tampered := tok[:len(tok)-4] + "AAAA"
	if _, err := env.provider.CreateSessionCookie(context.Background(), tampered, sessionTTL); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered: err = %v, want ErrInvalidToken", err)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.provider.CreateSessionCookie(context.Background(), tok, sessionTTL); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: err = %v, want ErrInvalidToken", err)
	}
}

func TestCreateSessionCookie_ExpiryOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, testEmail, testPassword, nil)
	tok := env.signIn(t, testEmail, testPassword)

	for _, d := range []time.Duration{time.Minute, 15 * 24 * time.Hour} {
		if _, err := env.provider.CreateSessionCookie(context.Background(), tok, d); !errors.Is(err, ErrInvalidExpiry) {
			t.Errorf("expiresIn %v: err = %v, want ErrInvalidExpiry", d, err)
		}
	}
}

func TestIDTokenAndSessionCookie_AreNotInterchangeable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, testEmail, testPassword, nil)
	tok := env.signIn(t, testEmail, testPassword)

	if _, err := env.provider.VerifySessionCookie(ctx, tok, false); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("id token as session: err = %v, want ErrSessionInvalid", err)
	}

	cookie, err := env.provider.CreateSessionCookie(ctx, tok, sessionTTL)
	if err != nil {
		t.Fatalf("CreateSessionCookie: %v", err)
	}
	if _, err := env.provider.CreateSessionCookie(ctx, cookie, sessionTTL); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("session as id token: err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifySessionCookie_RevokedAfterPasswordChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, testEmail, testPassword, nil)
	tok := env.signIn(t, testEmail, testPassword)
	cookie, err := env.provider.CreateSessionCookie(ctx, tok, sessionTTL)
	if err != nil {
		t.Fatalf("CreateSessionCookie: %v", err)
	}

	env.clock.Advance(time.Minute)
	if err := env.provider.UpdatePassword(ctx, acct.UID, "another-long-password"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}

	if _, err := env.provider.VerifySessionCookie(ctx, cookie, true); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("checkRevoked=true: err = %v, want ErrSessionRevoked", err)
	}
	if _, err := env.provider.VerifySessionCookie(ctx, cookie, false); err != nil {
		t.Errorf("checkRevoked=false: unexpected error %v", err)
	}

	// 新しいパスワードでのサインインは有効
	tok2 := env.signIn(t, testEmail, "another-long-password")
	cookie2, err := env.provider.CreateSessionCookie(ctx, tok2, sessionTTL)
	if err != nil {
		t.Fatalf("CreateSessionCookie after change: %v", err)
	}
	if _, err := env.provider.VerifySessionCookie(ctx, cookie2, true); err != nil {
		t.Errorf("fresh session should verify: %v", err)
	}
}

func TestVerifySessionCookie_DeletedOrDisabledAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, testEmail, testPassword, nil)
	cookie, err := env.provider.CreateSessionCookie(ctx, env.signIn(t, testEmail, testPassword), sessionTTL)
	if err != nil {
		t.Fatalf("CreateSessionCookie: %v", err)
	}

	env.accounts.setDisabled(acct.UID, true)
	if _, err := env.provider.VerifySessionCookie(ctx, cookie, true); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("disabled: err = %v, want ErrSessionRevoked", err)
	}

	env.accounts.setDisabled(acct.UID, false)
	if err := env.provider.DeleteAccount(ctx, acct.UID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if _, err := env.provider.VerifySessionCookie(ctx, cookie, true); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("deleted: err = %v, want ErrSessionRevoked", err)
	}
}

func TestVerifySessionCookie_StoreDown_IsNotSessionInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, testEmail, testPassword, nil)
	cookie, err := env.provider.CreateSessionCookie(ctx, env.signIn(t, testEmail, testPassword), sessionTTL)
	if err != nil {
		t.Fatalf("CreateSessionCookie: %v", err)
	}

	env.accounts.findErr = errStoreDown
	_, err = env.provider.VerifySessionCookie(ctx, cookie, true)
	if !errors.Is(err, errStoreDown) {
		t.Errorf("err = %v, want store error", err)
	}
	if errors.Is(err, ErrSessionInvalid) || errors.Is(err, ErrSessionRevoked) {
		t.Error("store failure must not be reported as an invalid session")
	}
}

func TestSetCustomUserClaims_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, testEmail, testPassword, map[string]any{"role": "viewer"})

	claims := map[string]any{"admin": true}
	if err := env.provider.SetCustomUserClaims(ctx, acct.UID, claims); err != nil {
		t.Fatalf("first SetCustomUserClaims: %v", err)
	}
	once, _ := env.provider.GetAccount(ctx, acct.UID)

	if err := env.provider.SetCustomUserClaims(ctx, acct.UID, claims); err != nil {
		t.Fatalf("second SetCustomUserClaims: %v", err)
	}
	twice, _ := env.provider.GetAccount(ctx, acct.UID)

	if !reflect.DeepEqual(once.CustomClaims, twice.CustomClaims) {
		t.Errorf("claims after two calls %v differ from one call %v", twice.CustomClaims, once.CustomClaims)
	}
	if !reflect.DeepEqual(twice.CustomClaims, map[string]any{"admin": true}) {
		t.Errorf("claims = %v, want full overwrite to {admin:true}", twice.CustomClaims)
	}
}

func TestSetCustomUserClaims_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, testEmail, testPassword, nil)

	if err := env.provider.SetCustomUserClaims(ctx, acct.UID, map[string]any{"sub": "x"}); !errors.Is(err, ErrInvalidClaims) {
		t.Errorf("reserved: err = %v, want ErrInvalidClaims", err)
	}
	big := map[string]any{"blob": strings.Repeat("a", 1000)}
	if err := env.provider.SetCustomUserClaims(ctx, acct.UID, big); !errors.Is(err, ErrInvalidClaims) {
		t.Errorf("oversized: err = %v, want ErrInvalidClaims", err)
	}
	if err := env.provider.SetCustomUserClaims(ctx, "missing-uid", map[string]any{"admin": true}); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("unknown uid: err = %v, want ErrAccountNotFound", err)
	}
}

func TestDeleteAccount_Twice_ReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.createAccount(t, testEmail, testPassword, nil)

	if err := env.provider.DeleteAccount(ctx, acct.UID); err != nil {
		t.Fatalf("first DeleteAccount: %v", err)
	}
	if err := env.provider.DeleteAccount(ctx, acct.UID); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("second DeleteAccount err = %v, want ErrAccountNotFound", err)
	}
}

func TestPasswordReset_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, testEmail, testPassword, nil)

	token, err := env.provider.GeneratePasswordResetToken(ctx, testEmail)
	if err != nil {
		t.Fatalf("GeneratePasswordResetToken: %v", err)
	}

	env.clock.Advance(time.Second)
	if err := env.provider.ConfirmPasswordReset(ctx, token, "brand-new-password"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if err := env.provider.ConfirmPasswordReset(ctx, token, "yet-another-password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Errorf("reuse: err = %v, want ErrResetTokenInvalid", err)
	}

	env.signIn(t, testEmail, "brand-new-password")
}

func TestPasswordReset_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, testEmail, testPassword, nil)

	token, err := env.provider.GeneratePasswordResetToken(ctx, testEmail)
	if err != nil {
		t.Fatalf("GeneratePasswordResetToken: %v", err)
	}
	env.clock.Advance(time.Hour + time.Second)
	if err := env.provider.ConfirmPasswordReset(ctx, token, "brand-new-password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Errorf("err = %v, want ErrResetTokenInvalid", err)
	}
}

func TestPasswordReset_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.provider.GeneratePasswordResetToken(context.Background(), "nobody@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}
