package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Stage はパイプラインを構成するステージの記述子
type Stage interface {
	// Name はログやエラーに表示するステージ名を返す
	Name() string
}

// TestPatternSource は合成映像（動くボールと時計）を生成するソース
type TestPatternSource struct {
	Width  int
	Height int
	Limit  int // 生成するフレーム数（0は無制限）
}

// NetworkSource はネットワーク越しのカメラソース
type NetworkSource struct {
	URI            string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// DeviceSource はローカルデバイスのソース
type DeviceSource struct {
	Format string // v4l2 / x11grab
	Device string // /dev/video0, :0.0
	Width  int
	Height int
	FPS    int
}

// Decode は圧縮映像のデコード
type Decode struct {
	Codec string // H.264 / H.265 / MJPEG
}

// Scale は解像度の変換
type Scale struct {
	Width  int
	Height int
}

// Rate はフレームレートの調整
type Rate struct {
	FPS int
}

// JPEGEncode はJPEGへのエンコード
type JPEGEncode struct {
	Quality int // 1..100
}

func (TestPatternSource) Name() string { return "testpattern" }
func (NetworkSource) Name() string     { return "network" }
func (s DeviceSource) Name() string    { return s.Format }
func (Decode) Name() string            { return "decode" }
func (Scale) Name() string             { return "scale" }
func (Rate) Name() string              { return "rate" }
func (JPEGEncode) Name() string        { return "jpegenc" }

// Description はカメラ1台分のステージ列
type Description struct {
	CameraID string
	Stages   []Stage
}

// Source は先頭のソースステージを返す
func (d Description) Source() Stage {
	if len(d.Stages) == 0 {
		return nil
	}
	return d.Stages[0]
}

// String はステージ列を "testpattern ! scale ! rate ! jpegenc" 形式で返す
func (d Description) String() string {
	names := make([]string, len(d.Stages))
	for i, s := range d.Stages {
		names[i] = s.Name()
	}
	return strings.Join(names, " ! ")
}

// Output は最終出力の解像度を返す
func (d Description) Output() (width, height int) {
	if s, ok := Find[Scale](d); ok {
		return s.Width, s.Height
	}
	switch src := d.Source().(type) {
	case TestPatternSource:
		return src.Width, src.Height
	case DeviceSource:
		return src.Width, src.Height
	}
	return 0, 0
}

// Find は指定した型の最初のステージを返す
func Find[T Stage](d Description) (T, bool) {
	for _, s := range d.Stages {
		if v, ok := s.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// validate はステージ列の並びを検証する
func (d Description) validate() error {
	if len(d.Stages) == 0 {
		return fmt.Errorf("ステージがありません")
	}
	switch d.Source().(type) {
	case TestPatternSource, NetworkSource, DeviceSource:
	default:
		return fmt.Errorf("先頭はソースステージである必要があります: %s", d.Source().Name())
	}
	if _, ok := d.Stages[len(d.Stages)-1].(JPEGEncode); !ok {
		return fmt.Errorf("末尾はJPEGエンコードである必要があります")
	}
	for _, s := range d.Stages[1:] {
		switch s.(type) {
		case TestPatternSource, NetworkSource, DeviceSource:
			return fmt.Errorf("ソースステージは先頭にのみ置けます: %s", s.Name())
		}
	}
	return nil
}
