package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"kanshi/internal/pipeline"
	"kanshi/internal/stream"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 // クライアントからは制御メッセージしか来ない
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	// ブラウザのビューアを別オリジンから開けるようにする
	CheckOrigin: func(*http.Request) bool { return true },
}

// helloMessage は接続直後にテキストで送るセッション情報
// 以降のフレームはバイナリメッセージ1つにJPEG1枚
type helloMessage struct {
	Type       string `json:"type"`
	CameraID   string `json:"camera_id"`
	InstanceID string `json:"instance_id"`
	State      string `json:"state"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// wsTransport はWebSocketのバイナリメッセージでフレームを送る
type wsTransport struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	once sync.Once
	done chan struct{}
}

func newWSTransport(conn *websocket.Conn, log zerolog.Logger) *wsTransport {
	t := &wsTransport{
		conn: conn,
		log:  log,
		done: make(chan struct{}),
	}
	go t.readPump()
	go t.pingLoop()
	return t
}

// hello はセッション情報をJSONで送る
func (t *wsTransport) hello(st stream.Status, width, height int) error {
	data, err := json.Marshal(helloMessage{
		Type:       "hello",
		CameraID:   st.CameraID,
		InstanceID: st.InstanceID,
		State:      st.State.String(),
		Width:      width,
		Height:     height,
	})
	if err != nil {
		return err
	}
	return t.write(websocket.TextMessage, data)
}

// readPump は切断を検知するために読み続ける
func (t *wsTransport) readPump() {
	defer t.finish()

	t.conn.SetReadLimit(maxMessageSize)
	if err := t.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := t.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Debug().Err(err).Msg("WebSocketが予期せず切断されました")
			}
			return
		}
	}
}

func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				t.finish()
				return
			}
		}
	}
}

func (t *wsTransport) write(messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(messageType, data)
}

func (t *wsTransport) Kind() string { return "websocket" }

func (t *wsTransport) Send(f pipeline.Frame) error {
	return t.write(websocket.BinaryMessage, f.Data)
}

func (t *wsTransport) Done() <-chan struct{} { return t.done }

// Close はクローズフレームを送ってから接続を閉じる（冪等）
func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	t.finish()
	return nil
}

func (t *wsTransport) finish() {
	t.once.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}
