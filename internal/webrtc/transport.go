package webrtc

import (
	"sync"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"kanshi/internal/logging"
	"kanshi/internal/pipeline"
	"kanshi/internal/stream"
)

// maxBufferedAmount を超えて送信待ちが溜まっている間はフレームを捨てる
const maxBufferedAmount = 4 * 1024 * 1024

// Transport はデータチャネルにフレームを送る stream.Transport
type Transport struct {
	pc        *pion.PeerConnection
	dc        *pion.DataChannel
	chunkSize int
	log       zerolog.Logger

	mu      sync.Mutex
	open    bool
	dropped uint64

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

var _ stream.Transport = (*Transport)(nil)

func newTransport(pc *pion.PeerConnection, dc *pion.DataChannel, cameraID string, chunkSize int) *Transport {
	t := &Transport{
		pc:        pc,
		dc:        dc,
		chunkSize: chunkSize,
		log:       logging.With().Str("camera_id", cameraID).Str("transport", "webrtc").Logger(),
		done:      make(chan struct{}),
	}

	dc.OnOpen(func() {
		t.mu.Lock()
		t.open = true
		t.mu.Unlock()
		t.log.Info().Msg("データチャネルが開きました")
	})
	dc.OnClose(func() {
		t.log.Info().Msg("データチャネルが閉じました")
		t.finish()
	})

	// failed と closed は回復しない
	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		t.log.Debug().Str("state", s.String()).Msg("ピア接続の状態が変わりました")
		switch s {
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
			t.finish()
		}
	})

	return t
}

// Kind はトランスポート種別を返す
func (t *Transport) Kind() string {
	return "webrtc"
}

// Send はフレームをチャンクに分割して送る
// データチャネルが開く前と、送信待ちが溜まっているときはフレームを捨てる
func (t *Transport) Send(f pipeline.Frame) error {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	if !open {
		return nil
	}

	if t.dc.BufferedAmount() > maxBufferedAmount {
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		return nil
	}

	chunks, err := encodeChunks(f.Seq, f.Data, t.chunkSize)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := t.dc.Send(c); err != nil {
			return err
		}
	}
	return nil
}

// Dropped は送信待ちの超過で捨てたフレーム数
func (t *Transport) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Done はピア接続が終了状態になると閉じる
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Close はピア接続を閉じる
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.pc.Close()
		t.finish()
	})
	return t.closeErr
}

func (t *Transport) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}
