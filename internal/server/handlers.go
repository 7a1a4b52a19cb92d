package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"kanshi/internal/camera"
	"kanshi/internal/config"
	"kanshi/internal/generated"
	"kanshi/internal/logging"
	"kanshi/internal/stream"
)

var _ generated.ServerInterface = (*KanshiHandler)(nil)

// negotiateTimeout はオファー処理（ICE候補の収集を含む）の上限時間
const negotiateTimeout = 10 * time.Second

// KanshiHandler は生成されたServerInterfaceを実装する
type KanshiHandler struct {
	config   *config.Config
	registry *stream.Registry
	cameras  camera.Manager
}

// NewHandler は新しいKanshiHandlerを作成する
func NewHandler(cfg *config.Config, registry *stream.Registry, cameras camera.Manager) *KanshiHandler {
	return &KanshiHandler{
		config:   cfg,
		registry: registry,
		cameras:  cameras,
	}
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *KanshiHandler) HealthCheck(c *gin.Context) {
	response := generated.HealthResponse{
		Status:    generated.Healthy,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *KanshiHandler) GetStatus(c *gin.Context) {
	summary := generated.SessionSummary{Max: h.registry.MaxSessions()}
	for _, st := range h.registry.List() {
		summary.Total++
		switch st.State {
		case stream.StateStreaming:
			summary.Streaming++
		case stream.StateError:
			summary.Error++
		}
	}

	response := generated.StatusResponse{
		Status: generated.Running,
		Server: generated.ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Cameras:   len(h.cameras.GetCameras()),
		Sessions:  summary,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetCameras はカメラ一覧取得エンドポイントの実装
func (h *KanshiHandler) GetCameras(c *gin.Context) {
	managedCameras := h.cameras.GetCameras()
	cameras := make([]generated.CameraInfo, 0, len(managedCameras))

	for _, cam := range managedCameras {
		info := convertCamera(cam)
		if st, ok := h.registry.Get(cam.ID); ok {
			state := generated.StreamState(st.State.String())
			info.Stream = &state
		}
		cameras = append(cameras, info)
	}

	c.JSON(http.StatusOK, generated.CamerasResponse{Cameras: cameras})
}

// AddCamera はカメラ追加エンドポイントの実装
func (h *KanshiHandler) AddCamera(c *gin.Context) {
	var req generated.AddCameraJSONRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "リクエストが不正です", err)
		return
	}

	spec := camera.ConnectionSpec{
		ID:        req.Id,
		SourceURI: req.Source,
		FPS:       derefInt(req.Fps),
		Resolution: camera.Resolution{
			Width:  derefInt(req.Width),
			Height: derefInt(req.Height),
		},
	}
	if req.Codec != nil {
		spec.Codec = *req.Codec
	}
	if req.Username != nil {
		spec.Credentials = &camera.Credentials{Username: *req.Username}
		if req.Password != nil {
			spec.Credentials.Password = *req.Password
		}
	}

	cam, err := h.cameras.AddCamera(c.Request.Context(), req.Name, spec)
	if err != nil {
		if errors.Is(err, camera.ErrCameraExists) {
			writeError(c, err)
			return
		}
		abortWithError(c, http.StatusBadRequest, codeInvalidConfig, "カメラの接続設定が不正です", err)
		return
	}

	logging.Info().Str("camera_id", cam.ID).Str("source", cam.Spec.RedactedURI()).Msg("カメラを追加しました")
	c.JSON(http.StatusCreated, convertCamera(*cam))
}

// RemoveCamera はカメラ削除エンドポイントの実装
// 動作中のセッションは先に停止する
func (h *KanshiHandler) RemoveCamera(c *gin.Context, cameraID generated.CameraId) {
	if _, found := h.cameras.GetCamera(cameraID); !found {
		writeError(c, camera.ErrCameraNotFound)
		return
	}

	h.registry.Stop(cameraID)
	if err := h.cameras.RemoveCamera(c.Request.Context(), cameraID); err != nil {
		writeError(c, err)
		return
	}

	logging.Info().Str("camera_id", cameraID).Msg("カメラを削除しました")
	c.Status(http.StatusNoContent)
}

// ListStreams はセッション一覧エンドポイントの実装
func (h *KanshiHandler) ListStreams(c *gin.Context) {
	statuses := h.registry.List()
	streams := make([]generated.StreamStatus, 0, len(statuses))
	for _, st := range statuses {
		streams = append(streams, convertStatus(st))
	}

	c.JSON(http.StatusOK, generated.StreamsResponse{Streams: streams})
}

// GetStream はセッション状態取得エンドポイントの実装
func (h *KanshiHandler) GetStream(c *gin.Context, cameraID generated.CameraId) {
	st, ok := h.registry.Get(cameraID)
	if !ok {
		writeError(c, stream.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, convertStatus(st))
}

// StartStream はセッション開始エンドポイントの実装
// 接続情報はカメラカタログから取得する
func (h *KanshiHandler) StartStream(c *gin.Context, cameraID generated.CameraId) {
	cam, found := h.cameras.GetCamera(cameraID)
	if !found {
		writeError(c, camera.ErrCameraNotFound)
		return
	}

	s, err := h.registry.Start(cameraID, cam.Spec)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, convertStatus(s.Status()))
}

// StopStream はセッション停止エンドポイントの実装
// セッションが無くても成功とする
func (h *KanshiHandler) StopStream(c *gin.Context, cameraID generated.CameraId) {
	st, _ := h.registry.Stop(cameraID)
	c.JSON(http.StatusOK, convertStatus(st))
}

// GetLatestFrame は最新フレーム取得エンドポイントの実装
func (h *KanshiHandler) GetLatestFrame(c *gin.Context, cameraID generated.CameraId) {
	f, err := h.registry.LatestFrame(cameraID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	c.Header("X-Frame-Timestamp", f.Timestamp.Format(time.RFC3339Nano))
	c.Data(http.StatusOK, "image/jpeg", f.Data)
}

// GetMJPEGStream はMJPEGストリーミングエンドポイントの実装
func (h *KanshiHandler) GetMJPEGStream(c *gin.Context, cameraID generated.CameraId) {
	if _, ok := h.registry.Get(cameraID); !ok {
		writeError(c, stream.ErrNotFound)
		return
	}

	t, err := newMJPEGTransport(c.Request.Context(), c.Writer)
	if err != nil {
		writeError(c, err)
		return
	}
	t.writeHeader()

	a, err := h.registry.Attach(cameraID, t)
	if err != nil {
		// ヘッダー送信済みなのでステータスは変えられない
		logging.Warn().Err(err).Str("camera_id", cameraID).Msg("MJPEG配信を開始できません")
		return
	}

	// アダプタが止まるまでレスポンスライターを保持する
	<-a.Done()
}

// GetWebSocketStream はWebSocketストリーミングエンドポイントの実装
func (h *KanshiHandler) GetWebSocketStream(c *gin.Context, cameraID generated.CameraId) {
	st, ok := h.registry.Get(cameraID)
	if !ok {
		writeError(c, stream.ErrNotFound)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		logging.Debug().Err(err).Str("camera_id", cameraID).Msg("WebSocketへの切り替えに失敗しました")
		return
	}

	log := logging.With().Str("camera_id", cameraID).Str("transport", "websocket").Logger()
	t := newWSTransport(conn, log)

	cam, _ := h.cameras.GetCamera(cameraID)
	width, height := 0, 0
	if cam != nil {
		width, height = cam.Spec.Resolution.Width, cam.Spec.Resolution.Height
	}
	if err := t.hello(st, width, height); err != nil {
		_ = t.Close()
		return
	}

	a, err := h.registry.Attach(cameraID, t)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket配信を開始できません")
		_ = t.Close()
		return
	}

	// 乗っ取った接続はサーバーのシャットダウンで閉じられないので自分で閉じる
	select {
	case <-a.Done():
	case <-c.Request.Context().Done():
		_ = a.Close()
		<-a.Done()
	}
}

// PostOffer はWebRTCオファー処理エンドポイントの実装
func (h *KanshiHandler) PostOffer(c *gin.Context, cameraID generated.CameraId) {
	var offer generated.PostOfferJSONRequestBody
	if err := c.ShouldBindJSON(&offer); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "リクエストが不正です", err)
		return
	}
	if offer.Type != generated.Offer || offer.Sdp == "" {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "オファーのSDPが必要です", nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), negotiateTimeout)
	defer cancel()

	answer, err := h.registry.Negotiate(ctx, cameraID, stream.SessionDescription{
		Type: string(offer.Type),
		SDP:  offer.Sdp,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, generated.SessionDescription{
		Type: generated.SessionDescriptionType(answer.Type),
		Sdp:  answer.SDP,
	})
}

// ヘルパー関数

// convertCamera はカタログのカメラをレスポンスに変換する
func convertCamera(cam camera.Camera) generated.CameraInfo {
	return generated.CameraInfo{
		Id:     cam.ID,
		Name:   cam.Name,
		Source: cam.Spec.RedactedURI(),
		Origin: generated.CameraInfoOrigin(cam.Origin),
		Settings: generated.CameraSettings{
			Fps:    cam.Spec.FPS,
			Width:  cam.Spec.Resolution.Width,
			Height: cam.Spec.Resolution.Height,
			Codec:  cam.Spec.Codec,
		},
	}
}

// convertStatus はセッション状態をレスポンスに変換する
func convertStatus(st stream.Status) generated.StreamStatus {
	out := generated.StreamStatus{
		CameraId:    st.CameraID,
		State:       generated.StreamState(st.State.String()),
		FrameCount:  int64(st.FrameCount),
		Retryable:   st.Retryable,
		Attempts:    st.Attempts,
		Subscribers: st.Subscribers,
	}
	if st.InstanceID != "" {
		out.InstanceId = stringPtr(st.InstanceID)
	}
	if st.Source != "" {
		out.Source = stringPtr(st.Source)
	}
	if st.LastError != "" {
		out.LastError = stringPtr(st.LastError)
	}
	if !st.CreatedAt.IsZero() {
		out.CreatedAt = &st.CreatedAt
	}
	if !st.LastActivity.IsZero() {
		out.LastActivity = &st.LastActivity
	}
	return out
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
