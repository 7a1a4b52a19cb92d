package pipeline

import "time"

// Frame はエンコード済みの1フレーム
// 生成後は変更しない
type Frame struct {
	Data      []byte    // JPEGデータ
	Seq       uint64    // セッション内の連番
	Timestamp time.Time // 取得時刻
	Width     int
	Height    int
}

// IsJPEG はデータがJPEGのSOIマーカーで始まるかを返す
func (f Frame) IsJPEG() bool {
	return len(f.Data) >= 2 && f.Data[0] == 0xFF && f.Data[1] == 0xD8
}
