package webrtc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// chunkHeaderSize は各メッセージ先頭のヘッダ長
// seq(uint64) + index(uint16) + count(uint16)
const chunkHeaderSize = 12

// DefaultChunkSize はデータチャネルの1メッセージに載せるペイロードの上限
const DefaultChunkSize = 16 * 1024

// maxChunks は1フレームを分割できる最大数
const maxChunks = 1<<16 - 1

var errFrameTooLarge = errors.New("フレームが大きすぎて分割できません")

// encodeChunks はフレームをデータチャネル用のメッセージに分割する
func encodeChunks(seq uint64, data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	count := (len(data) + size - 1) / size
	if count == 0 {
		count = 1
	}
	if count > maxChunks {
		return nil, fmt.Errorf("%w: %d bytes", errFrameTooLarge, len(data))
	}

	chunks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * size
		end := min(start+size, len(data))

		msg := make([]byte, chunkHeaderSize, chunkHeaderSize+end-start)
		binary.BigEndian.PutUint64(msg[0:8], seq)
		binary.BigEndian.PutUint16(msg[8:10], uint16(i))
		binary.BigEndian.PutUint16(msg[10:12], uint16(count))
		msg = append(msg, data[start:end]...)
		chunks = append(chunks, msg)
	}

	return chunks, nil
}

// Reassembler はデータチャネルのメッセージからフレームを組み立てる
// 受信側（Goのクライアントやテスト）で使う
type Reassembler struct {
	seq    uint64
	count  int
	next   int
	buf    []byte
	active bool
}

// Add はメッセージを1つ追加し、フレームが揃ったら返す
// 途中で別のフレームが始まった場合は組み立て中のフレームを捨てる
func (r *Reassembler) Add(msg []byte) (seq uint64, frame []byte, ok bool, err error) {
	if len(msg) < chunkHeaderSize {
		return 0, nil, false, fmt.Errorf("メッセージが短すぎます: %d bytes", len(msg))
	}
	seq = binary.BigEndian.Uint64(msg[0:8])
	index := int(binary.BigEndian.Uint16(msg[8:10]))
	count := int(binary.BigEndian.Uint16(msg[10:12]))
	if count == 0 || index >= count {
		return 0, nil, false, fmt.Errorf("不正なチャンク番号です: %d/%d", index, count)
	}

	if index == 0 {
		r.seq, r.count, r.next, r.active = seq, count, 0, true
		r.buf = r.buf[:0]
	}
	if !r.active || seq != r.seq || index != r.next {
		r.active = false
		return 0, nil, false, nil
	}

	r.buf = append(r.buf, msg[chunkHeaderSize:]...)
	r.next++
	if r.next < r.count {
		return 0, nil, false, nil
	}

	r.active = false
	frame = make([]byte, len(r.buf))
	copy(frame, r.buf)
	return seq, frame, true, nil
}
