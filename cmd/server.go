// Package main はkanshiサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kanshi/internal/app"
	"kanshi/internal/config"
	"kanshi/internal/logging"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configPath = flag.String("config", "", "設定ファイルのパス (デフォルト: config.yaml を探索)")
		logLevel   = flag.String("log-level", "", "ログレベル (trace/debug/info/warn/error)")
		autostart  = flag.Bool("autostart", false, "起動時に全カメラのセッションを開始する")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("kanshi - ライブカメラのストリームセッション管理")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *autostart {
		cfg.Settings.Autostart = true
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("設定が不正です")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("アプリケーションの初期化に失敗しました")
	}

	logging.Info().Str("addr", cfg.ServerAddress()).Msg("kanshi サーバーを起動します")
	if err := a.Run(ctx); err != nil {
		logging.Fatal().Err(err).Msg("サーバーが異常終了しました")
	}
}
