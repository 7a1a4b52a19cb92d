package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"kanshi/internal/pipeline"
)

const mjpegBoundary = "frame"

var (
	errNoFlusher       = errors.New("レスポンスがフラッシュに対応していません")
	errTransportClosed = errors.New("送信先は閉じられています")
)

// mjpegTransport はmultipart/x-mixed-replaceでフレームを書き出す
// 接続の終了はリクエストのコンテキストで検知する
type mjpegTransport struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	closed  bool
}

func newMJPEGTransport(ctx context.Context, w http.ResponseWriter) (*mjpegTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}
	return &mjpegTransport{w: w, flusher: flusher, ctx: ctx}, nil
}

// writeHeader はストリームのヘッダーを送る
func (t *mjpegTransport) writeHeader() {
	h := t.w.Header()
	h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	t.w.WriteHeader(http.StatusOK)
	t.flusher.Flush()
}

func (t *mjpegTransport) Kind() string { return "mjpeg" }

// Send は1枚分のパートを書き込んでフラッシュする
func (t *mjpegTransport) Send(f pipeline.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errTransportClosed
	}

	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %s\r\nX-Frame-Seq: %d\r\n\r\n",
		mjpegBoundary, strconv.Itoa(len(f.Data)), f.Seq)
	if _, err := t.w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := t.w.Write(f.Data); err != nil {
		return err
	}
	if _, err := t.w.Write([]byte("\r\n")); err != nil {
		return err
	}

	t.flusher.Flush()
	return nil
}

func (t *mjpegTransport) Done() <-chan struct{} { return t.ctx.Done() }

// Close 以降の書き込みは失敗する
// ハンドラーが戻る前に呼ばれるのでレスポンスライターを再利用されない
func (t *mjpegTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
