// Package auth はIDプロバイダーアダプター、セッションCookie、ロール解決、
// 初回管理者の作成を提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hitoshi/portfolio/internal/identity"
	"github.com/hitoshi/portfolio/internal/metrics"
	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
)

const (
	// DefaultUpstreamTimeout は1回の上流呼び出しに許す最大時間。
	DefaultUpstreamTimeout = 5 * time.Second
	defaultRetryBackoff    = 100 * time.Millisecond
)

// domainErrors は上流障害ではなく呼び出し結果として扱うエラー。
var domainErrors = []error{
	identity.ErrInvalidCredentials,
	identity.ErrEmailExists,
	identity.ErrAccountNotFound,
	identity.ErrInvalidToken,
	identity.ErrTokenConsumed,
	identity.ErrStaleSignIn,
	identity.ErrSessionInvalid,
	identity.ErrSessionRevoked,
	identity.ErrInvalidClaims,
	identity.ErrWeakPassword,
	identity.ErrInvalidExpiry,
	identity.ErrResetTokenInvalid,
	repository.ErrNotFound,
	repository.ErrDuplicate,
}

// Caller はIDプロバイダー・ストアへの呼び出しにタイムアウトを課し、
// 失敗をAPIErrorに分類する。
type Caller struct {
	timeout time.Duration
	backoff time.Duration
	metrics metrics.MetricsCollector
}

// NewCaller はCallerを生成する。mcがnilの場合はメトリクスを記録しない。
func NewCaller(timeout time.Duration, mc metrics.MetricsCollector) *Caller {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Caller{timeout: timeout, backoff: defaultRetryBackoff, metrics: mc}
}

// Metrics はこのCallerが記録に使うコレクターを返す。
func (c *Caller) Metrics() metrics.MetricsCollector {
	return c.metrics
}

// Write は書き込みを1回だけ実行する。非冪等な操作は再試行しない。
func (c *Caller) Write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return c.classify(op, c.attempt(ctx, fn))
}

// Read は冪等な読み取りを実行し、上流障害の場合に限り1回だけ再試行する。
func (c *Caller) Read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewExponential(c.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.attempt(ctx, fn)
		if err != nil && !isDomainError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return c.classify(op, err)
}

func (c *Caller) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return fn(ctx)
}

// classify はidentityのエラーをAPIErrorへ変換する。
// repositoryのErrNotFound・ErrDuplicateは呼び出し側が文脈に応じて変換するためそのまま返す。
// それ以外はすべて上流障害として扱う。
func (c *Caller) classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, identity.ErrInvalidCredentials):
		return model.NewInvalidCredentialsError()
	case errors.Is(err, identity.ErrEmailExists):
		return model.NewEmailAlreadyExistsError()
	case errors.Is(err, identity.ErrAccountNotFound):
		return model.NewUserNotFoundError()
	case errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrTokenConsumed),
		errors.Is(err, identity.ErrStaleSignIn),
		errors.Is(err, identity.ErrInvalidExpiry),
		errors.Is(err, identity.ErrResetTokenInvalid):
		return model.NewInvalidTokenError()
	case errors.Is(err, identity.ErrSessionInvalid), errors.Is(err, identity.ErrSessionRevoked):
		return model.NewSessionInvalidError()
	case errors.Is(err, identity.ErrInvalidClaims):
		return model.NewInvalidClaimsError(err.Error())
	case errors.Is(err, identity.ErrWeakPassword):
		return model.NewWeakPasswordError()
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrDuplicate):
		return err
	}

	slog.Error("upstream call failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	c.metrics.RecordUpstreamFailure(op)
	return model.NewUpstreamUnavailableError(op)
}

func isDomainError(err error) bool {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return true
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
