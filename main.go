package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"kanshi/internal/app"
	"kanshi/internal/config"
	"kanshi/internal/logging"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})

	// SIGINT/SIGTERM で停止する
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("アプリケーションの初期化に失敗しました")
	}

	if err := a.Run(ctx); err != nil {
		logging.Fatal().Err(err).Msg("サーバーが異常終了しました")
	}
}
