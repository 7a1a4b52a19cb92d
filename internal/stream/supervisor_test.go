package stream

import (
	"errors"
	"testing"
	"time"

	"kanshi/internal/pipeline"
)

func TestSupervisorBackoff(t *testing.T) {
	sup := newSupervisor(SupervisorPolicy{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	})

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		d := sup.failure(pipeline.ConnectError("rtsp", errRefused))
		if !d.retry {
			t.Fatalf("%d回目: 接続エラーで再試行が打ち切られました", i+1)
		}
		if d.delay != w*time.Second {
			t.Errorf("%d回目: delay = %v, want %v", i+1, d.delay, w*time.Second)
		}
	}

	sup.reset()
	if d := sup.failure(pipeline.ConnectError("rtsp", errRefused)); d.delay != time.Second {
		t.Errorf("reset 後の delay = %v, want 1s", d.delay)
	}
}

func TestSupervisorJitter(t *testing.T) {
	policy := SupervisorPolicy{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
		Jitter:    0.5,
	}

	for i := 0; i < 50; i++ {
		sup := newSupervisor(policy)
		d := sup.failure(errRefused)
		if d.delay < 500*time.Millisecond || d.delay > 1500*time.Millisecond {
			t.Fatalf("1回目の delay が範囲外です: %v", d.delay)
		}
		for j := 0; j < 10; j++ {
			d = sup.failure(errRefused)
		}
		if d.delay > policy.MaxDelay {
			t.Fatalf("delay が上限を超えました: %v", d.delay)
		}
	}
}

func TestSupervisorEscalation(t *testing.T) {
	decodeErr := pipeline.DecodeError("mjpeg", errors.New("invalid data"))
	connectErr := pipeline.ConnectError("rtsp", errRefused)
	configErr := pipeline.ConfigError("rtsp", errors.New("401 Unauthorized"))

	testCases := []struct {
		name       string
		policy     SupervisorPolicy
		failures   []error
		wantRetry  bool
		wantConfig bool
	}{
		{
			name:       "設定エラーは即座に打ち切り",
			failures:   []error{configErr},
			wantRetry:  false,
			wantConfig: true,
		},
		{
			name:      "接続エラーは無制限に再試行",
			failures:  []error{connectErr, connectErr, connectErr, connectErr, connectErr, connectErr},
			wantRetry: true,
		},
		{
			name:      "デコードエラーは上限未満なら再試行",
			policy:    SupervisorPolicy{DecodeFailureLimit: 3},
			failures:  []error{decodeErr, decodeErr},
			wantRetry: true,
		},
		{
			name:       "デコードエラーが上限に達すると設定エラー",
			policy:     SupervisorPolicy{DecodeFailureLimit: 3},
			failures:   []error{decodeErr, connectErr, decodeErr, decodeErr},
			wantRetry:  false,
			wantConfig: true,
		},
		{
			name:       "試行回数の上限",
			policy:     SupervisorPolicy{MaxAttempts: 3},
			failures:   []error{connectErr, connectErr, connectErr},
			wantRetry:  false,
			wantConfig: true,
		},
		{
			name:      "分類できないエラーは接続エラー扱い",
			failures:  []error{errRefused},
			wantRetry: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.policy.BaseDelay = time.Millisecond
			tc.policy.MaxDelay = 10 * time.Millisecond
			sup := newSupervisor(tc.policy)

			var d decision
			for _, err := range tc.failures {
				d = sup.failure(err)
			}

			if d.retry != tc.wantRetry {
				t.Errorf("retry = %v, want %v (%v)", d.retry, tc.wantRetry, d.err)
			}
			if pipeline.IsConfig(d.err) != tc.wantConfig {
				t.Errorf("IsConfig = %v, want %v (%v)", pipeline.IsConfig(d.err), tc.wantConfig, d.err)
			}
			if sup.attempts != len(tc.failures) {
				t.Errorf("attempts = %d, want %d", sup.attempts, len(tc.failures))
			}
		})
	}
}

func TestSupervisorResetClearsDecodeFailures(t *testing.T) {
	sup := newSupervisor(SupervisorPolicy{
		BaseDelay:          time.Millisecond,
		MaxDelay:           time.Millisecond,
		DecodeFailureLimit: 2,
	})
	decodeErr := pipeline.DecodeError("mjpeg", errors.New("invalid data"))

	sup.failure(decodeErr)
	sup.reset()
	if d := sup.failure(decodeErr); !d.retry {
		t.Error("フレーム受信後のデコードエラーで打ち切られました")
	}
}
