package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// maxConsecutiveFailures はこの回数連続でステージが失敗したら致命的とみなす
const maxConsecutiveFailures = 3

// basePipeline はエンジン共通のチャネル管理とライフサイクルを提供する
type basePipeline struct {
	ctx    context.Context
	cancel context.CancelFunc

	frames chan Frame
	events chan Event
	done   chan struct{}

	produced    atomic.Uint64
	skipped     atomic.Uint64
	consecutive atomic.Int32

	closeOnce sync.Once
}

func newBasePipeline(parent context.Context) *basePipeline {
	ctx, cancel := context.WithCancel(parent)
	return &basePipeline{
		ctx:    ctx,
		cancel: cancel,
		frames: make(chan Frame, 1),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

// Frames はエンコード済みフレームのチャネルを返す
func (p *basePipeline) Frames() <-chan Frame {
	return p.frames
}

// Events はイベントキューを返す
func (p *basePipeline) Events() <-chan Event {
	return p.events
}

// Stats は統計情報を返す
func (p *basePipeline) Stats() Stats {
	return Stats{
		Frames:  p.produced.Load(),
		Skipped: p.skipped.Load(),
	}
}

// Close は生成処理を止め、終了を待ってから戻る
func (p *basePipeline) Close() error {
	p.closeOnce.Do(p.cancel)
	<-p.done
	return nil
}

// run は生成処理をgoroutineで実行する
// produce が nil を返せばEOS、エラーを返せば致命的エラーとして通知する
func (p *basePipeline) run(produce func(ctx context.Context) error, onExit func()) {
	go func() {
		defer close(p.done)
		defer close(p.events)
		defer close(p.frames)
		if onExit != nil {
			defer onExit()
		}

		p.emit(EventStateChanged{From: StateNull, To: StatePlaying})

		err := produce(p.ctx)
		switch {
		case p.ctx.Err() != nil:
			// Close による終了
		case err == nil:
			p.emitTerminal(EventEOS{})
		default:
			p.emitTerminal(EventError{Err: err, Fatal: true})
		}

		p.emit(EventStateChanged{From: StatePlaying, To: StateNull})
	}()
}

// emit は通知を試み、キューが一杯なら捨てる
func (p *basePipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// emitTerminal は終端イベントを受信されるまで送り続ける
func (p *basePipeline) emitTerminal(ev Event) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

// sendFrame はフレームを送る。Close された場合は false
func (p *basePipeline) sendFrame(f Frame) bool {
	select {
	case p.frames <- f:
		p.produced.Add(1)
		p.consecutive.Store(0)
		return true
	case <-p.ctx.Done():
		return false
	}
}

// glitch はフレーム単位の失敗を記録する
// 連続失敗が上限に達したら致命的エラーを返す
func (p *basePipeline) glitch(err error) error {
	p.skipped.Add(1)
	n := p.consecutive.Add(1)
	if n >= maxConsecutiveFailures {
		kind, ok := KindOf(err)
		if !ok {
			kind = KindDecode
		}
		return &Error{Kind: kind, Op: "pipeline", Err: fmt.Errorf("%d回連続で失敗しました: %w", n, err)}
	}
	p.emit(EventError{Err: err, Fatal: false})
	return nil
}
