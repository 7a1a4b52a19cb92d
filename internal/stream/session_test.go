package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"kanshi/internal/pipeline"
)

func TestStateTransitions(t *testing.T) {
	testCases := []struct {
		from State
		to   State
		want bool
	}{
		{StateIdle, StateConnecting, true},
		{StateConnecting, StateStreaming, true},
		{StateConnecting, StateError, true},
		{StateStreaming, StateError, true},
		{StateError, StateConnecting, true},
		{StateStreaming, StateStopping, true},
		{StateError, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateIdle, StateStreaming, false},
		{StateError, StateStreaming, false},
		{StateStreaming, StateConnecting, false},
		{StateStopping, StateConnecting, false},
		{StateStopped, StateConnecting, false},
		{StateStopped, StateStopping, false},
	}

	for _, tc := range testCases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			if got := tc.from.canTransition(tc.to); got != tc.want {
				t.Errorf("canTransition = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSessionRejectsInvalidTransition(t *testing.T) {
	spec := rtspSpec("cam1")
	d, err := pipeline.Describe(spec, 70)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	s := newSession(spec, d, pipeline.NewRuntime(newFakeEngine(script{frames: -1})), testOptions())

	if s.setState(StateStreaming, nil) {
		t.Error("Idle から Streaming への遷移が許可されました")
	}
	if s.State() != StateIdle {
		t.Errorf("状態 = %s, want idle", s.State())
	}

	// 未開始のセッションも停止できる
	if !s.stop() {
		t.Fatal("Idle のセッションを停止できません")
	}
	if s.stop() {
		t.Error("停止処理中の stop が再度受け付けられました")
	}
	s.start()
	<-s.Done()
	if s.State() != StateStopped {
		t.Errorf("状態 = %s, want stopped", s.State())
	}
}

func TestSessionSnapshotUnavailable(t *testing.T) {
	spec := rtspSpec("cam1")
	d, _ := pipeline.Describe(spec, 70)
	s := newSession(spec, d, pipeline.NewRuntime(newFakeEngine(script{frames: -1})), testOptions())
	defer func() {
		s.stop()
		s.start()
		<-s.Done()
	}()

	if _, err := s.Snapshot(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Idle の Snapshot = %v, want ErrUnavailable", err)
	}

	// Streaming でもキャッシュが空なら取得できない
	s.state = StateStreaming
	if _, err := s.Snapshot(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("空キャッシュの Snapshot = %v, want ErrUnavailable", err)
	}

	s.cache.Put(pipeline.Frame{Data: []byte{0xFF, 0xD8}, Seq: 1})
	if f, err := s.Snapshot(); err != nil || f.Seq != 1 {
		t.Errorf("Snapshot = %+v, %v", f, err)
	}
	s.state = StateIdle
}

func TestStatusJSON(t *testing.T) {
	st := Status{CameraID: "cam1", State: StateStreaming, FrameCount: 3}
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["state"] != "streaming" {
		t.Errorf("state = %v, want streaming", decoded["state"])
	}
	if _, ok := decoded["last_error"]; ok {
		t.Error("空の last_error が出力されています")
	}
}
