package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kanshi/internal/camera"
	"kanshi/internal/config"
	"kanshi/internal/generated"
	"kanshi/internal/logging"
	"kanshi/internal/stream"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	httpServer *http.Server
	engine     *gin.Engine

	mu   sync.Mutex
	addr net.Addr
}

// New は新しいServerインスタンスを作成する
// 埋め込みのOpenAPIドキュメントが不正ならエラーを返す
func New(cfg *config.Config, registry *stream.Registry, cameras camera.Manager) (*Server, error) {
	swagger, err := generated.GetSwagger()
	if err != nil {
		return nil, err
	}
	swaggerJSON, err := swagger.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("OpenAPIドキュメントの変換に失敗: %w", err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), accessLog())

	handler := NewHandler(cfg, registry, cameras)
	generated.RegisterHandlersWithOptions(engine, handler, generated.GinServerOptions{
		ErrorHandler: bindError,
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/api/openapi.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", swaggerJSON)
	})

	// シャットダウン開始時に全リクエストのコンテキストを終了させ、連続配信を止める
	baseCtx, cancelBase := context.WithCancel(context.Background())
	// ReadTimeout は連続配信中の接続を切ってしまうのでヘッダーだけに掛ける
	httpServer := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelBase)

	return &Server{
		config:     cfg,
		engine:     engine,
		httpServer: httpServer,
	}, nil
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr はリッスン中のアドレスを返す（起動前は nil）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve はコンテキストが終了するまでサーバーを動かす
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", ln.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("コンテキストがキャンセルされました")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	logging.Info().Msg("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
		}
	}

	logging.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}

// String はスーパーバイザーのログに表示する名前を返す
func (s *Server) String() string {
	return "http-server"
}
