package stream

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kanshi/internal/pipeline"
)

// decision は失敗に対するスーパーバイザーの判断
type decision struct {
	err   error         // 記録するエラー（再分類されることがある）
	retry bool          // false なら外部から停止されるまで Error に留まる
	delay time.Duration // 再接続までの待ち時間
}

// supervisor は1セッションの失敗を数え、再接続の可否と待ち時間を決める
// セッションのゴルーチンからのみ使う
type supervisor struct {
	policy         SupervisorPolicy
	backoff        *backoff.ExponentialBackOff
	attempts       int // 最後にフレームを受信してからの連続失敗回数
	decodeFailures int
}

func newSupervisor(policy SupervisorPolicy) *supervisor {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = policy.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	return &supervisor{policy: policy, backoff: b}
}

// reset はフレームを受信したときに呼ばれ、失敗の履歴を消す
func (s *supervisor) reset() {
	s.attempts = 0
	s.decodeFailures = 0
	s.backoff.Reset()
}

// failure はパイプラインの失敗を分類して次の動作を決める
//
// 設定エラーは再試行しない。デコードエラーがフレームを挟まずに
// DecodeFailureLimit 回続いた場合は互換性のないストリームとみなして
// 設定エラーに格上げする。MaxAttempts を超えた場合も同様に打ち切る。
func (s *supervisor) failure(err error) decision {
	s.attempts++

	kind, ok := pipeline.KindOf(err)
	if !ok {
		kind = pipeline.KindConnect
	}

	switch kind {
	case pipeline.KindConfig:
		return decision{err: err}
	case pipeline.KindDecode:
		s.decodeFailures++
		if limit := s.policy.DecodeFailureLimit; limit > 0 && s.decodeFailures >= limit {
			return decision{err: pipeline.ConfigError("supervisor",
				fmt.Errorf("デコードが%d回続けて失敗したため互換性のないストリームと判断しました: %w", s.decodeFailures, err))}
		}
	}

	if limit := s.policy.MaxAttempts; limit > 0 && s.attempts >= limit {
		return decision{err: pipeline.ConfigError("supervisor",
			fmt.Errorf("再試行回数が上限(%d回)に達しました: %w", limit, err))}
	}

	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop || delay > s.policy.MaxDelay {
		delay = s.policy.MaxDelay
	}

	return decision{err: err, retry: true, delay: delay}
}
