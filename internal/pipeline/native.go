package pipeline

import (
	"bytes"
	"context"
	"image/jpeg"
	"time"

	"golang.org/x/time/rate"

	"kanshi/internal/logging"
)

// defaultFPS はRateステージが無いときのフレームレート
const defaultFPS = 15

// NativeEngine はテストパターンをプロセス内で生成するエンジン
type NativeEngine struct{}

// NewNativeEngine は新しいNativeEngineを作成する
func NewNativeEngine() *NativeEngine {
	return &NativeEngine{}
}

// Name はエンジン名を返す
func (e *NativeEngine) Name() string {
	return "native"
}

// Supports はテストパターンのステージ列のみを受け付ける
func (e *NativeEngine) Supports(d Description) bool {
	_, ok := d.Source().(TestPatternSource)
	return ok
}

// Init は何もしない
func (e *NativeEngine) Init(_ context.Context) error {
	return nil
}

// Shutdown は何もしない（各パイプラインはセッションが閉じる）
func (e *NativeEngine) Shutdown(_ context.Context) error {
	return nil
}

// Start はテストパターンの生成を開始する
func (e *NativeEngine) Start(ctx context.Context, d Description) (Pipeline, error) {
	src, ok := d.Source().(TestPatternSource)
	if !ok {
		return nil, ConfigError(e.Name(), errUnsupported(d))
	}

	fps := defaultFPS
	if r, ok := Find[Rate](d); ok && r.FPS > 0 {
		fps = r.FPS
	}
	quality := DefaultQuality
	if enc, ok := Find[JPEGEncode](d); ok {
		quality = enc.Quality
	}
	width, height := d.Output()
	if width == 0 || height == 0 {
		width, height = src.Width, src.Height
	}

	p := newBasePipeline(ctx)
	pattern := newTestPattern(src.Width, src.Height)
	limiter := rate.NewLimiter(rate.Limit(fps), 1)

	logging.Debug().
		Str("camera_id", d.CameraID).
		Str("stages", d.String()).
		Int("fps", fps).
		Msg("テストパターンを開始します")

	p.run(func(ctx context.Context) error {
		for n := 0; src.Limit == 0 || n < src.Limit; n++ {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}

			now := time.Now()
			img := scaleImage(pattern.next(now), width, height)

			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
				if ferr := p.glitch(DecodeError("jpegenc", err)); ferr != nil {
					return ferr
				}
				continue
			}

			if !p.sendFrame(Frame{
				Data:      buf.Bytes(),
				Timestamp: now,
				Width:     width,
				Height:    height,
			}) {
				return nil
			}
		}
		return nil
	}, nil)

	return p, nil
}
