package vision

import (
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"

	"plenario/internal/fsutil"

	"golang.org/x/image/draw"
)

// LoadImage decodes a JPEG or PNG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Crop copies r out of src into a new image with its origin at (0, 0).
func Crop(src image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(src.Bounds())
	var dst draw.Image
	switch src.(type) {
	case *image.Gray:
		dst = image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	default:
		dst = image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	}
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// Scale resizes src by percent (100 keeps the size) with Catmull-Rom
// resampling.
func Scale(src image.Image, percent int) image.Image {
	if percent <= 0 || percent == 100 {
		return src
	}
	b := src.Bounds()
	w := max(1, b.Dx()*percent/100)
	h := max(1, b.Dy()*percent/100)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// EncodeJPEG writes img as JPEG.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// SaveJPEG atomically writes img to path.
func SaveJPEG(path string, img image.Image, quality int) error {
	return fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return EncodeJPEG(w, img, quality)
	})
}
