package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kanshi/internal/camera"
	"kanshi/internal/generated"
	"kanshi/internal/pipeline"
	"kanshi/internal/stream"
)

// エラーレスポンスの識別子
const (
	codeCameraNotFound    = "camera_not_found"
	codeStreamNotFound    = "stream_not_found"
	codeCameraExists      = "camera_exists"
	codeInvalidRequest    = "invalid_request"
	codeInvalidConfig     = "invalid_config"
	codeResourceExhausted = "resource_exhausted"
	codeNegotiation       = "negotiation_failed"
	codeUnavailable       = "frame_unavailable"
	codeShuttingDown      = "shutting_down"
	codeInternal          = "internal_error"
)

// writeError はエラーを種類に応じたステータスコードで返す
// ErrNotFound は ErrUnavailable と同時に一致することがあるので先に判定する
func writeError(c *gin.Context, err error) {
	var negErr *stream.NegotiationError

	switch {
	case errors.Is(err, stream.ErrNotFound):
		abortWithError(c, http.StatusNotFound, codeStreamNotFound, "セッションが見つかりません", err)
	case errors.Is(err, camera.ErrCameraNotFound):
		abortWithError(c, http.StatusNotFound, codeCameraNotFound, "指定されたカメラが見つかりません", err)
	case errors.Is(err, camera.ErrCameraExists):
		abortWithError(c, http.StatusConflict, codeCameraExists, "カメラは既に登録されています", err)
	case pipeline.IsConfig(err):
		abortWithError(c, http.StatusBadRequest, codeInvalidConfig, "カメラの接続設定が不正です", err)
	case errors.Is(err, stream.ErrResourceExhausted):
		abortWithError(c, http.StatusTooManyRequests, codeResourceExhausted, "同時セッション数の上限に達しています", err)
	case errors.As(err, &negErr):
		abortWithError(c, http.StatusBadGateway, codeNegotiation, "連続配信のネゴシエーションに失敗しました", err)
	case errors.Is(err, stream.ErrUnavailable):
		abortWithError(c, http.StatusServiceUnavailable, codeUnavailable, "フレームがまだありません", err)
	case errors.Is(err, stream.ErrClosed):
		abortWithError(c, http.StatusServiceUnavailable, codeShuttingDown, "サーバーを停止しています", err)
	default:
		abortWithError(c, http.StatusInternalServerError, codeInternal, "内部エラーが発生しました", err)
	}
}

// abortWithError はErrorResponseを返して後続の処理を止める
func abortWithError(c *gin.Context, status int, code, message string, err error) {
	response := generated.ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err != nil {
		response.Details = stringPtr(err.Error())
	}
	c.AbortWithStatusJSON(status, response)
}

// bindError はパスパラメータの変換失敗を返す
func bindError(c *gin.Context, err error, status int) {
	abortWithError(c, status, codeInvalidRequest, "リクエストが不正です", err)
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}
