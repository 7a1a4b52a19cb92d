package pipeline

import (
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	patternBackground = image.NewUniform(color.RGBA{R: 16, G: 16, B: 48, A: 255})
	patternBall       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// testPattern は跳ね返るボールと時計を描画する
type testPattern struct {
	canvas *image.RGBA
	radius int
	x, y   int
	dx, dy int
}

func newTestPattern(width, height int) *testPattern {
	radius := min(width, height) / 10
	if radius < 2 {
		radius = 2
	}
	return &testPattern{
		canvas: image.NewRGBA(image.Rect(0, 0, width, height)),
		radius: radius,
		x:      width / 2,
		y:      height / 2,
		dx:     max(width/40, 1),
		dy:     max(height/40, 1),
	}
}

// next は次のフレームを描画して返す
// 返した画像は次の呼び出しで上書きされる
func (p *testPattern) next(now time.Time) *image.RGBA {
	b := p.canvas.Bounds()
	draw.Draw(p.canvas, b, patternBackground, image.Point{}, draw.Src)

	r2 := p.radius * p.radius
	for yy := -p.radius; yy <= p.radius; yy++ {
		for xx := -p.radius; xx <= p.radius; xx++ {
			if xx*xx+yy*yy <= r2 {
				p.canvas.SetRGBA(p.x+xx, p.y+yy, patternBall)
			}
		}
	}

	d := &font.Drawer{
		Dst:  p.canvas,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(6, 16),
	}
	d.DrawString(now.Format("15:04:05"))

	p.advance(b)
	return p.canvas
}

// advance はボールを移動させ、端で跳ね返す
func (p *testPattern) advance(b image.Rectangle) {
	p.x += p.dx
	p.y += p.dy
	if p.x-p.radius < b.Min.X || p.x+p.radius >= b.Max.X {
		p.dx = -p.dx
		p.x += 2 * p.dx
	}
	if p.y-p.radius < b.Min.Y || p.y+p.radius >= b.Max.Y {
		p.dy = -p.dy
		p.y += 2 * p.dy
	}
}

// scaleImage は画像を指定解像度に拡大縮小する
func scaleImage(src image.Image, width, height int) image.Image {
	if src.Bounds().Dx() == width && src.Bounds().Dy() == height {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
