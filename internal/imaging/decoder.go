// Package imaging decodes sign assets into display-sized frames.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"time"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrDecode        = errors.New("decode asset")
)

// Animation is a decoded asset. Delay is zero when the asset declares none.
type Animation struct {
	Frames []image.Image
	Delay  time.Duration
}

// Decoder reads assets from disk and resizes every frame to a fixed size.
type Decoder struct {
	width  int
	height int
	scaler draw.Scaler
}

func NewDecoder(width, height int) *Decoder {
	return &Decoder{width: width, height: height, scaler: draw.CatmullRom}
}

func (d *Decoder) Decode(path string) (Animation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Animation{}, fmt.Errorf("%w: %s", ErrAssetNotFound, path)
		}
		return Animation{}, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}

	if bytes.HasPrefix(data, []byte("GIF8")) {
		return d.decodeGIF(path, data)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Animation{}, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return Animation{Frames: []image.Image{d.scale(img)}}, nil
}

func (d *Decoder) decodeGIF(path string, data []byte) (Animation, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return Animation{}, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	if len(g.Image) == 0 {
		return Animation{}, fmt.Errorf("%w: %s: no frames", ErrDecode, path)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	frames := make([]image.Image, 0, len(g.Image))
	for i, frame := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		var previous *image.RGBA
		if disposal == gif.DisposalPrevious {
			previous = cloneRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		frames = append(frames, d.scale(canvas))

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}

	var delay time.Duration
	if len(g.Delay) > 0 && g.Delay[0] > 0 {
		delay = time.Duration(g.Delay[0]) * 10 * time.Millisecond
	}
	return Animation{Frames: frames, Delay: delay}, nil
}

func (d *Decoder) scale(src image.Image) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	d.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
