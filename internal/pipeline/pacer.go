package pipeline

import (
	"context"
	"time"
)

// Pacer は記事と記事の間の待機を行う。
type Pacer interface {
	Wait(ctx context.Context) error
}

// DelayPacer は一定時間待機するPacer。
type DelayPacer struct {
	delay time.Duration
}

var _ Pacer = (*DelayPacer)(nil)

// NewDelayPacer はDelayPacerを生成する。delayが0以下の場合は待機しない。
func NewDelayPacer(delay time.Duration) *DelayPacer {
	return &DelayPacer{delay: delay}
}

// Wait は待機時間が経過するか、コンテキストがキャンセルされるまでブロックする。
func (p *DelayPacer) Wait(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
