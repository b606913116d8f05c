package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// PipelineRunner はパイプラインをバックグラウンドで開始する。
type PipelineRunner interface {
	RunInBackground(ctx context.Context) error
}

// PipelineHandler はパイプライン操作のHTTPハンドラー。
type PipelineHandler struct {
	runner  PipelineRunner
	baseCtx context.Context
	logger  *slog.Logger
}

// NewPipelineHandler はPipelineHandlerを生成する。
// baseCtxはバックグラウンド実行のコンテキストとなり、プロセス終了時にキャンセルされる想定。
func NewPipelineHandler(baseCtx context.Context, runner PipelineRunner, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{runner: runner, baseCtx: baseCtx, logger: logger}
}

type messageResponse struct {
	Message string `json:"message"`
}

// RunPipeline はパイプラインをバックグラウンドで開始し、完了を待たずに202を返す。
// POST /api/pipeline/run
func (h *PipelineHandler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.RunInBackground(h.baseCtx); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("パイプラインを手動で開始しました")
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Pipeline lancé en arrière-plan."})
}
