package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind はパイプラインエラーの分類
type ErrorKind int

const (
	// KindConnect はソースに到達できない、または途絶した（再試行で回復しうる）
	KindConnect ErrorKind = iota
	// KindDecode はストリームのデコードに失敗した
	KindDecode
	// KindConfig は接続情報や認証が不正（再試行しても回復しない）
	KindConfig
)

// String はメトリクスのラベルに使う名前を返す
func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDecode:
		return "decode"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ErrRuntimeClosed はシャットダウン後のランタイムを使おうとした
var ErrRuntimeClosed = errors.New("パイプラインランタイムは停止済みです")

// Error はパイプラインのエラー
type Error struct {
	Kind ErrorKind
	Op   string // 失敗した処理（ステージ名など）
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%sエラー: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%sエラー (%s): %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConnectError は接続エラーを作成する
func ConnectError(op string, err error) error {
	return &Error{Kind: KindConnect, Op: op, Err: err}
}

// DecodeError はデコードエラーを作成する
func DecodeError(op string, err error) error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

// ConfigError は設定エラーを作成する
func ConfigError(op string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// KindOf はエラーの分類を返す
// パイプラインのエラーでなければ ok=false
func KindOf(err error) (ErrorKind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return 0, false
}

// IsConfig は設定エラーかどうかを返す
func IsConfig(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindConfig
}
