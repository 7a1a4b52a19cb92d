package pipeline

import (
	"fmt"
	"net/url"
	"time"

	"kanshi/internal/camera"
)

// 画質プリセットごとのJPEG品質
var qualityPresets = map[string]int{
	"high":   85,
	"medium": 70,
	"low":    50,
}

// DefaultQuality はプリセット不明時のJPEG品質
const DefaultQuality = 70

// DefaultConnectTimeout はソース接続のデフォルトタイムアウト
const DefaultConnectTimeout = 10 * time.Second

// testPatternBase はテストパターンの描画解像度
var testPatternBase = camera.Resolution{Width: 320, Height: 240}

// QualityPreset は画質プリセット名をJPEG品質に変換する
func QualityPreset(name string) int {
	if q, ok := qualityPresets[name]; ok {
		return q
	}
	return DefaultQuality
}

// DescribeOption はステージ列の組み立てを調整する
type DescribeOption func(*describeOptions)

type describeOptions struct {
	connectTimeout time.Duration
	limit          int
}

// WithConnectTimeout はネットワークソースの接続タイムアウトを設定する
func WithConnectTimeout(d time.Duration) DescribeOption {
	return func(o *describeOptions) {
		o.connectTimeout = d
	}
}

// WithFrameLimit はテストパターンの生成フレーム数を制限する
func WithFrameLimit(n int) DescribeOption {
	return func(o *describeOptions) {
		o.limit = n
	}
}

// Describe は接続情報をステージ列に変換する
// 取得 -> デコード -> スケール -> レート -> エンコード の順に並べる
func Describe(spec camera.ConnectionSpec, quality int, opts ...DescribeOption) (Description, error) {
	o := describeOptions{connectTimeout: DefaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	if err := spec.Validate(); err != nil {
		return Description{}, ConfigError("describe", err)
	}
	if quality < 1 || quality > 100 {
		return Description{}, ConfigError("describe", fmt.Errorf("JPEG品質は1から100の範囲で指定してください: %d", quality))
	}

	u, err := url.Parse(spec.SourceURI)
	if err != nil {
		return Description{}, ConfigError("describe", err)
	}

	res := spec.Resolution
	d := Description{CameraID: spec.ID}

	switch u.Scheme {
	case camera.SchemeTestSrc:
		d.Stages = append(d.Stages, TestPatternSource{
			Width:  testPatternBase.Width,
			Height: testPatternBase.Height,
			Limit:  o.limit,
		})
	case camera.SchemeRTSP, camera.SchemeRTSPS, camera.SchemeHTTP, camera.SchemeHTTPS:
		src := NetworkSource{URI: spec.SourceURI, ConnectTimeout: o.connectTimeout}
		if spec.Credentials != nil {
			src.Username = spec.Credentials.Username
			src.Password = spec.Credentials.Password
		}
		d.Stages = append(d.Stages, src, Decode{Codec: spec.Codec})
	case camera.SchemeV4L2:
		d.Stages = append(d.Stages, DeviceSource{
			Format: "v4l2",
			Device: u.Path,
			Width:  res.Width,
			Height: res.Height,
			FPS:    spec.FPS,
		}, Decode{Codec: spec.Codec})
	case camera.SchemeX11:
		display := u.Opaque
		if display == "" {
			display = u.Host
		}
		d.Stages = append(d.Stages, DeviceSource{
			Format: "x11grab",
			Device: display,
			Width:  res.Width,
			Height: res.Height,
			FPS:    spec.FPS,
		})
	default:
		return Description{}, ConfigError("describe", fmt.Errorf("未対応のスキームです: %q", u.Scheme))
	}

	d.Stages = append(d.Stages,
		Scale{Width: res.Width, Height: res.Height},
		Rate{FPS: spec.FPS},
		JPEGEncode{Quality: quality},
	)

	if err := d.validate(); err != nil {
		return Description{}, ConfigError("describe", err)
	}

	return d, nil
}
