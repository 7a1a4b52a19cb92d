package stream

// State はセッションの状態
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateError
	StateStopping
	StateStopped
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateStreaming:  "streaming",
	StateError:      "error",
	StateStopping:   "stopping",
	StateStopped:    "stopped",
}

// 許可された状態遷移
var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateStopping},
	StateConnecting: {StateStreaming, StateError, StateStopping},
	StateStreaming:  {StateError, StateStopping},
	StateError:      {StateConnecting, StateStopping},
	StateStopping:   {StateStopped},
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText は状態名をJSONに出力する
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal は停止処理中または停止済みかを返す
func (s State) Terminal() bool {
	return s == StateStopping || s == StateStopped
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
