// Package logging はzerologベースの構造化ログを提供する
//
// # 責務
// - プロセス全体で共有するロガーの初期化と設定
// - JSON（本番）/コンソール（開発）出力の切り替え
// - slogを要求するライブラリ（sutureslog）からzerologへの橋渡し
//
// # 使い方
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("camera_id", id).Msg("セッションを開始しました")
//	logging.Error().Err(err).Msg("パイプラインの構築に失敗")
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config はログ出力の設定
type Config struct {
	Level  string    // trace, debug, info, warn, error, disabled
	Format string    // json / console
	Caller bool      // 呼び出し元のファイルと行番号を出力する
	Output io.Writer // 省略時は os.Stderr
}

// DefaultConfig はデフォルトのログ設定を返す
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

func init() {
	initLogger(DefaultConfig())
}

// Init はグローバルロガーを設定する
// 複数回呼び出した場合は後の設定で上書きされる
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

// initLogger はロガーを構築する（ロック済み前提）
func initLogger(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: "15:04:05",
		}
	}

	l := zerolog.New(output).With().Timestamp().Logger()
	if cfg.Caller {
		l = l.With().Caller().Logger()
	}

	log = l
}

// parseLevel は文字列をzerolog.Levelに変換する
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger はグローバルロガーを返す
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger はグローバルロガーを差し替える（テスト用）
//
//nolint:gocritic // zerolog.Logger は値渡しが前提
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// With はフィールド付きの子ロガーを作成するためのコンテキストを返す
//
//	l := logging.With().Str("component", "registry").Logger()
func With() zerolog.Context {
	mu.RLock()
	defer mu.RUnlock()
	return log.With()
}

// Debug はdebugレベルのイベントを開始する
func Debug() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Debug()
}

// Info はinfoレベルのイベントを開始する
func Info() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Info()
}

// Warn はwarnレベルのイベントを開始する
func Warn() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Warn()
}

// Error はerrorレベルのイベントを開始する
func Error() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Error()
}

// Fatal はfatalレベルのイベントを開始する（出力後に os.Exit(1)）
func Fatal() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Fatal()
}

// Err はエラー付きのerrorレベルイベントを開始する
func Err(err error) *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Err(err)
}

// NewTestLogger は指定したWriterに出力するロガーを作成する
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
