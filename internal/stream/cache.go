package stream

import (
	"sync/atomic"

	"kanshi/internal/pipeline"
)

// FrameCache は最新フレームを1枚だけ保持するスロット
// 書き込みは直前のフレームを置き換え、読み書きは互いにブロックしない
type FrameCache struct {
	slot atomic.Pointer[pipeline.Frame]
}

// Put はフレームを保存する
func (c *FrameCache) Put(f pipeline.Frame) {
	c.slot.Store(&f)
}

// Get は保存されているフレームを返す
// まだフレームが無ければ ok=false
func (c *FrameCache) Get() (pipeline.Frame, bool) {
	f := c.slot.Load()
	if f == nil {
		return pipeline.Frame{}, false
	}
	return *f, true
}

// Clear は保存されているフレームを破棄する
func (c *FrameCache) Clear() {
	c.slot.Store(nil)
}
