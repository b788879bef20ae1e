package chat

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	// MaxImageEdge bounds the longer side of an image sent to the server.
	MaxImageEdge = 1024
	jpegQuality  = 80
)

// EncodeImage scales data so its longer edge is at most MaxImageEdge pixels,
// re-encodes it as JPEG and returns the base64 text. The output is a pure
// function of the input bytes.
func EncodeImage(data []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	img := resize(src, MaxImageEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeImage turns stored base64 back into image bytes.
func DecodeImage(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

func resize(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if longest <= maxEdge {
		return src
	}
	scale := float64(maxEdge) / float64(longest)
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
