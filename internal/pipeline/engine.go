package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kanshi/internal/logging"
)

// Pipeline は実行中のステージ列
// 一度終了したパイプラインは再起動しない
type Pipeline interface {
	// Frames はエンコード済みフレームのチャネルを返す（終了時にclose）
	Frames() <-chan Frame

	// Events はイベントキューを返す（終了時にclose）
	Events() <-chan Event

	// Stats は統計情報を返す
	Stats() Stats

	// Close は全リソースを解放してから戻る（冪等）
	Close() error
}

// Stats はパイプラインの統計情報
type Stats struct {
	Frames  uint64 // 生成したフレーム数
	Skipped uint64 // 一時的な失敗で読み飛ばしたフレーム数
}

// Engine はステージ列を実行するバックエンド
type Engine interface {
	// Name はエンジン名を返す
	Name() string

	// Supports はステージ列を実行できるかを返す
	Supports(d Description) bool

	// Init はエンジンを初期化する
	Init(ctx context.Context) error

	// Start はパイプラインを開始する
	Start(ctx context.Context, d Description) (Pipeline, error)

	// Shutdown はエンジンを停止する
	Shutdown(ctx context.Context) error
}

// Runtime はエンジンの集合と初期化状態を保持する
type Runtime struct {
	mu          sync.Mutex
	engines     []Engine
	attempted   map[string]bool // 初期化の結果が確定したエンジン
	initErrs    map[string]error
	initialized bool
	closed      bool
}

// NewRuntime は新しいRuntimeを作成する
// 先に登録したエンジンが優先される
func NewRuntime(engines ...Engine) *Runtime {
	r := &Runtime{
		attempted: make(map[string]bool),
		initErrs:  make(map[string]error),
	}
	for _, e := range engines {
		r.Register(e)
	}
	return r
}

// Register はエンジンを登録する
func (r *Runtime) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines = append(r.engines, e)
}

// Init は全エンジンを一度だけ初期化する
// 初期化に失敗したエンジンは、そのエンジンが必要になったときに設定エラーとして報告する
// コンテキストの終了で中断された初期化は記録せず、次の呼び出しでやり直す
func (r *Runtime) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRuntimeClosed
	}
	if r.initialized {
		return nil
	}

	for _, e := range r.engines {
		name := e.Name()
		if r.attempted[name] {
			continue
		}

		err := e.Init(ctx)
		if err != nil && ctx.Err() != nil {
			logging.Debug().Err(err).Str("engine", name).Msg("エンジンの初期化が中断されました")
			return ctx.Err()
		}
		r.attempted[name] = true

		if err != nil {
			r.initErrs[name] = err
			logging.Warn().Err(err).Str("engine", name).Msg("エンジンを初期化できません")
			continue
		}
		logging.Debug().Str("engine", name).Msg("エンジンを初期化しました")
	}
	r.initialized = true

	return nil
}

// Start はステージ列に対応するエンジンでパイプラインを開始する
func (r *Runtime) Start(ctx context.Context, d Description) (Pipeline, error) {
	if err := r.Init(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	engine, initErr := r.selectEngine(d)
	r.mu.Unlock()

	if engine == nil {
		return nil, ConfigError("start", fmt.Errorf("ステージ列 %q を実行できるエンジンがありません", d))
	}
	if initErr != nil {
		return nil, ConfigError(engine.Name(), initErr)
	}

	return engine.Start(ctx, d)
}

// selectEngine はステージ列に対応するエンジンを選ぶ（ロック済み前提）
func (r *Runtime) selectEngine(d Description) (Engine, error) {
	for _, e := range r.engines {
		if e.Supports(d) {
			return e, r.initErrs[e.Name()]
		}
	}
	return nil, nil
}

// Shutdown は全エンジンを停止する（冪等）
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, e := range r.engines {
		if err := e.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("エンジン %s の停止に失敗: %w", e.Name(), err))
		}
	}

	return errors.Join(errs...)
}
