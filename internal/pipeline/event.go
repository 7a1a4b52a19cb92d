package pipeline

// State はパイプラインの実行状態
type State string

const (
	StateNull    State = "null"    // 未開始または解放済み
	StatePlaying State = "playing" // フレームを生成中
)

// Event はパイプラインから通知されるイベント
type Event interface {
	isEvent()
}

// EventEOS はソースが終端に達した
type EventEOS struct{}

// EventError はステージでエラーが発生した
// Fatal のときパイプラインはそれ以上フレームを生成しない
type EventError struct {
	Err   error
	Fatal bool
}

// EventStateChanged はパイプラインの状態が変わった
type EventStateChanged struct {
	From State
	To   State
}

func (EventEOS) isEvent()          {}
func (EventError) isEvent()        {}
func (EventStateChanged) isEvent() {}
