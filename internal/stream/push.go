package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kanshi/internal/logging"
	"kanshi/internal/metrics"
	"kanshi/internal/pipeline"
)

// Transport は連続配信の送信先
type Transport interface {
	// Kind はトランスポートの種類を返す（mjpeg, websocket, webrtc など）
	Kind() string

	// Send はフレームを1枚送信する
	Send(f pipeline.Frame) error

	// Done は接続が終了状態になると閉じる
	Done() <-chan struct{}

	// Close は接続を閉じる（冪等）
	Close() error
}

// SessionDescription はオファー/アンサー交換で使う記述
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Negotiator はオファーを受けてアンサーと送信先を作る
type Negotiator interface {
	Negotiate(ctx context.Context, cameraID string, offer SessionDescription) (SessionDescription, Transport, error)
}

// subscription はパイプラインから直接フレームを受け取る1枚だけのメールボックス
type subscription struct {
	frames chan pipeline.Frame
	done   chan struct{} // セッション終了で閉じる
}

func newSubscription() *subscription {
	return &subscription{
		frames: make(chan pipeline.Frame, 1),
		done:   make(chan struct{}),
	}
}

// offer は古いフレームを捨ててでも最新フレームを置く
// 書き込むのはセッションのゴルーチンだけなのでブロックしない
func (s *subscription) offer(f pipeline.Frame) {
	select {
	case s.frames <- f:
		return
	default:
	}
	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- f:
	default:
	}
}

// PushAdapter は1つの Transport にセッションのフレームを送り続ける
type PushAdapter struct {
	id        string
	cameraID  string
	kind      string
	session   *Session
	sub       *subscription
	transport Transport
	opts      PushOptions
	log       zerolog.Logger

	width  int
	height int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	sent         atomic.Uint64
	placeholders atomic.Uint64
}

func newPushAdapter(session *Session, t Transport, opts PushOptions) (*PushAdapter, error) {
	sub, err := session.subscribe()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	res := session.spec.Resolution
	a := &PushAdapter{
		id:        id,
		cameraID:  session.cameraID,
		kind:      t.Kind(),
		session:   session,
		sub:       sub,
		transport: t,
		opts:      opts,
		log: logging.With().
			Str("camera_id", session.cameraID).
			Str("adapter_id", id).
			Str("transport", t.Kind()).
			Logger(),
		width:  res.Width,
		height: res.Height,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	metrics.PushAdapters.WithLabelValues(a.kind).Inc()
	a.log.Info().Msg("連続配信を開始しました")
	go a.run()

	return a, nil
}

// ID はアダプタのIDを返す
func (a *PushAdapter) ID() string {
	return a.id
}

// CameraID は配信元のカメラIDを返す
func (a *PushAdapter) CameraID() string {
	return a.cameraID
}

// Done はアダプタが終了すると閉じる
func (a *PushAdapter) Done() <-chan struct{} {
	return a.done
}

// Sent は送信したフレーム数（代替フレームを含まない）
func (a *PushAdapter) Sent() uint64 {
	return a.sent.Load()
}

// Placeholders は送信した代替フレーム数
func (a *PushAdapter) Placeholders() uint64 {
	return a.placeholders.Load()
}

// Close は配信を止め、送信先を閉じてから戻る
// 他のアダプタやセッションには影響しない
func (a *PushAdapter) Close() error {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
	return nil
}

// run は購読したフレームを送信先へ転送する
// 読み取りタイムアウトが PlaceholderAfter 回続くと代替フレームで接続を維持する
func (a *PushAdapter) run() {
	defer close(a.done)
	defer metrics.PushAdapters.WithLabelValues(a.kind).Dec()
	defer func() {
		if err := a.transport.Close(); err != nil {
			a.log.Debug().Err(err).Msg("送信先のクローズに失敗しました")
		}
	}()
	defer a.session.unsubscribe(a.sub)

	var lastSeq uint64
	misses := 0

	timer := time.NewTimer(a.opts.ReadTimeout)
	defer timer.Stop()

	for {
		select {
		case f := <-a.sub.frames:
			misses = 0
			lastSeq = f.Seq
			if err := a.transport.Send(f); err != nil {
				a.log.Info().Err(err).Msg("送信に失敗したため連続配信を終了します")
				return
			}
			a.sent.Add(1)

		case <-timer.C:
			misses++
			if misses >= a.opts.PlaceholderAfter {
				if err := a.sendPlaceholder(lastSeq); err != nil {
					a.log.Info().Err(err).Msg("代替フレームの送信に失敗したため連続配信を終了します")
					return
				}
			}

		case <-a.transport.Done():
			a.log.Info().Msg("送信先が切断されました")
			return

		case <-a.sub.done:
			a.log.Info().Msg("セッションが終了したため連続配信を終了します")
			return

		case <-a.stop:
			a.log.Info().Msg("連続配信を停止しました")
			return
		}

		timer.Reset(a.opts.ReadTimeout)
	}
}

// sendPlaceholder は黒画像を送る
// 連番は直前のフレームと同じにして受信側の順序を崩さない
func (a *PushAdapter) sendPlaceholder(seq uint64) error {
	f := pipeline.Frame{
		Data:      pipeline.Placeholder(a.width, a.height),
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     a.width,
		Height:    a.height,
	}
	if err := a.transport.Send(f); err != nil {
		return err
	}
	a.placeholders.Add(1)
	metrics.PlaceholderFramesTotal.WithLabelValues(a.cameraID).Inc()
	return nil
}
