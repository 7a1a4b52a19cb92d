package pipeline

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
)

var placeholders sync.Map // [2]int -> []byte

// Placeholder は指定解像度の黒いJPEG画像を返す
// 返したスライスは共有されるため変更しない
func Placeholder(width, height int) []byte {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	key := [2]int{width, height}
	if v, ok := placeholders.Load(key); ok {
		return v.([]byte)
	}

	// image.NewGray はゼロ値（黒）で初期化される
	img := image.NewGray(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 50}); err != nil {
		return nil
	}

	v, _ := placeholders.LoadOrStore(key, buf.Bytes())
	return v.([]byte)
}
