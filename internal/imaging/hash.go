package imaging

import "image"

// DHash computes a 64-bit difference hash for an image. Used to detect
// near-duplicate reference crops during enrollment.
func DHash(img image.Image) uint64 {
	// 1. Resize to 9x8 (we need 9 columns for 8 differences)
	resized := Resize(img, 9, 8)

	// 2. Convert to grayscale
	gray := toGrayscale(resized)

	// 3. Compare adjacent pixels horizontally
	//    Each row: compare pixel[x] vs pixel[x+1]
	//    8 rows * 8 comparisons = 64 bits
	var hash uint64
	bit := 63
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if gray[x][y] > gray[x+1][y] {
				hash |= 1 << bit
			}
			bit--
		}
	}

	return hash
}

// HammingDistance computes the Hamming distance between two 64-bit hashes.
func HammingDistance(hash1, hash2 uint64) int {
	xor := hash1 ^ hash2
	distance := 0
	for xor != 0 {
		distance++
		xor &= xor - 1 // Clear lowest set bit
	}
	return distance
}

// Similar returns true if two hashes are within the given threshold.
// A threshold of 8-10 is typically used for near-duplicate detection.
func Similar(hash1, hash2 uint64, threshold int) bool {
	return HammingDistance(hash1, hash2) <= threshold
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255).
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := 0; x < width; x++ {
		gray[x] = make([]float64, height)
		for y := 0; y < height; y++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray[x][y] = luma
		}
	}

	return gray
}
