package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound は指定したカメラのセッションが存在しない
	ErrNotFound = errors.New("セッションが存在しません")

	// ErrUnavailable はフレームを提供できる状態ではない
	ErrUnavailable = errors.New("フレームを取得できません")

	// ErrResourceExhausted はセッション数が上限に達している
	ErrResourceExhausted = errors.New("セッション数が上限に達しています")

	// ErrClosed はシャットダウン済みのレジストリを使おうとした
	ErrClosed = errors.New("セッションレジストリは停止済みです")
)

// NegotiationError は連続配信のネゴシエーションに失敗した
// セッション自体や他の配信には影響しない
type NegotiationError struct {
	CameraID string
	Err      error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("カメラ %s のネゴシエーションに失敗: %v", e.CameraID, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
