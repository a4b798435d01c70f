package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Decode parses raw image bytes into an image. Supported formats are
// JPEG, PNG, GIF, and BMP.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Crop extracts the box region from an image. The box is clamped to the
// image bounds first, so out-of-range boxes never fail; a box fully
// outside the image yields an error because there are no pixels to crop.
func Crop(img image.Image, box Box) (image.Image, error) {
	bounds := img.Bounds()
	clipped := box.Clip(bounds.Dx(), bounds.Dy())
	if clipped.Empty() {
		return nil, fmt.Errorf("box %+v is outside image bounds %dx%d", box, bounds.Dx(), bounds.Dy())
	}

	rect := clipped.Rect().Add(bounds.Min)
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}

// Resize scales an image to exactly width x height using bilinear
// interpolation. The result does not preserve aspect ratio.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// Letterbox scales an image to fit a size x size square while keeping
// aspect ratio, padding the remainder with black. Returns the scaled
// image and the scale factor needed to map coordinates back to the
// original image.
func Letterbox(img image.Image, size int) (*image.RGBA, float64) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	scale := float64(size) / float64(max(width, height))
	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	target := image.Rect(0, 0, newWidth, newHeight)
	draw.BiLinear.Scale(dst, target, img, bounds, draw.Over, nil)

	return dst, scale
}

// ToTensor converts an RGBA image into a CHW float32 tensor scaled to
// [0, 1]. The layout matches ONNX vision model input expectations.
func ToTensor(img *image.RGBA) []float32 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	tensor := make([]float32, 3*width*height)
	plane := width * height
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(x, y)
			pos := y*width + x
			tensor[pos] = float32(img.Pix[i]) / 255.0
			tensor[plane+pos] = float32(img.Pix[i+1]) / 255.0
			tensor[2*plane+pos] = float32(img.Pix[i+2]) / 255.0
		}
	}
	return tensor
}

// EncodeJPEG encodes an image as JPEG bytes at archive quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
