// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chronique/internal/middleware"
	"github.com/hitoshi/chronique/internal/model"
	"github.com/hitoshi/chronique/internal/pipeline"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	var cfgErr *model.ConfigError
	switch {
	case errors.As(err, &apiErr):
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
	case errors.As(err, &cfgErr):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewProviderConfigError(cfgErr))
	case errors.Is(err, model.ErrArticleNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewArticleNotFoundError(""))
	case errors.Is(err, model.ErrInvalidStatusTransition):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewInvalidTransitionError())
	case errors.Is(err, pipeline.ErrRunInProgress):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewPipelineRunningError())
	default:
		// 詳細はログのみに記録する
		logger.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeArticleNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest, model.ErrCodeProviderConfig:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodePipelineRunning, model.ErrCodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
