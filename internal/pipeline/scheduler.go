package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/chronique/internal/model"
)

// Runner はパイプラインを1回実行する。
type Runner interface {
	Run(ctx context.Context) (*model.RunSummary, error)
}

// Scheduler はcron式に従ってパイプラインを定期実行する。
type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	spec     string
	logger   *slog.Logger
}

// NewScheduler はSchedulerを生成する。cron式は標準の5フィールド形式。
func NewScheduler(runner Runner, spec string, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("cron式の解析に失敗しました: %w", err)
	}
	return &Scheduler{runner: runner, schedule: schedule, spec: spec, logger: logger}, nil
}

// Start は起動直後に1回実行し、その後はスケジュールに従って実行する。
// コンテキストがキャンセルされるまでブロックし、実行中のジョブの終了を待ってから戻る。
func (s *Scheduler) Start(ctx context.Context) {
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() { s.RunOnce(ctx) }))

	s.logger.Info("パイプラインスケジューラを開始しました",
		slog.String("schedule", s.spec),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	s.logger.Info("パイプラインスケジューラを停止しました")
}

// RunOnce はパイプラインを1回実行し、結果をログに記録する。
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	summary, err := s.runner.Run(ctx)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("前回の実行が完了していないためスキップしました")
			return
		}
		s.logger.Error("パイプラインの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("定期実行が完了しました",
		slog.Int("candidates", summary.Candidates),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
	)
}
