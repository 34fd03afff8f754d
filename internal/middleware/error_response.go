package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/portfolio/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 管理画面はcodeで分岐する。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードとHTTPステータスの対応。
var statusByCode = map[string]int{
	model.ErrCodeInvalidCredentials:  http.StatusUnauthorized,
	model.ErrCodeSessionInvalid:      http.StatusUnauthorized,
	model.ErrCodeInvalidToken:        http.StatusUnauthorized,
	model.ErrCodeUnauthorized:        http.StatusForbidden,
	model.ErrCodeUpstreamUnavailable: http.StatusServiceUnavailable,
	model.ErrCodePartialFailure:      http.StatusInternalServerError,
	model.ErrCodeEmailAlreadyExists:  http.StatusConflict,
	model.ErrCodeSlugConflict:        http.StatusConflict,
	model.ErrCodeUserNotFound:        http.StatusNotFound,
	model.ErrCodePostNotFound:        http.StatusNotFound,
	model.ErrCodePageNotFound:        http.StatusNotFound,
	model.ErrCodeMessageNotFound:     http.StatusNotFound,
	model.ErrCodeInvalidRequest:      http.StatusBadRequest,
	model.ErrCodeInvalidClaims:       http.StatusBadRequest,
	model.ErrCodeAmbiguousRole:       http.StatusBadRequest,
	model.ErrCodeWeakPassword:        http.StatusBadRequest,
	model.ErrCodeRateLimited:         http.StatusTooManyRequests,
	model.ErrCodeInternal:            http.StatusInternalServerError,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。未知のコードは500。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はerrをステータスに変換して書き込む。APIError以外は内部エラーとして扱い、詳細はログのみに残す。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
		return
	}
	slog.Error("unhandled error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
