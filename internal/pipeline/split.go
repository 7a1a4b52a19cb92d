package pipeline

import "bytes"

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// splitJPEG は連結されたJPEGストリームを1枚ずつに分割する bufio.SplitFunc
// SOI より前のデータと末尾の不完全なフレームは捨てる
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// JPEGの開始マーカー（FF D8）を探す
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// 末尾の 0xFF は次の読み込みでマーカーになり得るので残す
		if n := len(data) - 1; n > 0 {
			return n, nil, nil
		}
		return 0, nil, nil
	}

	// JPEGの終了マーカー（FF D9）を探す
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// 完全なフレームがまだない
		return start, nil, nil
	}

	end += start + len(jpegSOI) + len(jpegEOI)
	return end, data[start:end], nil
}
