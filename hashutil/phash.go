// Package hashutil computes the perceptual and text fingerprints the echo
// cave uses for near-duplicate detection, plus the Hamming distance and
// similarity-percentage helpers shared by every moderator.
package hashutil

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const phashSize = 32 // resize target; top-left 8x8 of the DCT is kept

// Phash decodes img (PNG, JPEG, GIF or WebP), resizes it to 32x32 with bilinear
// interpolation, runs a separable 2D DCT-II, and returns the 64-bit
// perceptual hash as 16 lowercase hex characters.
//
// Returns an error if the buffer cannot be decoded as an image — callers
// treat that as corrupt-media (spec: logged at warn, media skipped for
// hashing, submission not aborted unless it was the only content).
func Phash(img []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return "", fmt.Errorf("phash: decode image: %w", err)
	}

	gray := image.NewGray(image.Rect(0, 0, phashSize, phashSize))
	draw.BiLinear.Scale(gray, gray.Bounds(), src, src.Bounds(), draw.Over, nil)

	matrix := make([][]float64, phashSize)
	for y := 0; y < phashSize; y++ {
		matrix[y] = make([]float64, phashSize)
		for x := 0; x < phashSize; x++ {
			matrix[y][x] = float64(gray.GrayAt(x, y).Y)
		}
	}

	dctMatrix := dct2D(matrix)

	// Top-left 8x8 block, row-major.
	const keep = 8
	coeffs := make([]float64, keep*keep)
	idx := 0
	for y := 0; y < keep; y++ {
		for x := 0; x < keep; x++ {
			coeffs[idx] = dctMatrix[y][x]
			idx++
		}
	}

	// Mean of the 63 AC coefficients; DC (index 0) is excluded.
	var sum float64
	for i := 1; i < len(coeffs); i++ {
		sum += coeffs[i]
	}
	mean := sum / float64(len(coeffs)-1)

	var bits uint64
	for _, c := range coeffs {
		bits <<= 1
		if c > mean { // strict '>' is load-bearing: equality yields 0
			bits |= 1
		}
	}

	return fmt.Sprintf("%016x", bits), nil
}

// dct2D applies a separable 2D DCT-II: 1D DCT-II on each row, transpose,
// 1D DCT-II on each row of the transpose, transpose back.
func dct2D(m [][]float64) [][]float64 {
	n := len(m)
	rows := make([][]float64, n)
	for i, row := range m {
		rows[i] = dct1D(row)
	}
	t := transpose(rows)
	for i, row := range t {
		t[i] = dct1D(row)
	}
	return transpose(t)
}

// dct1D computes the 1D DCT-II of x:
//
//	Y[k] = sqrt(2/N) * c(k) * sum_n x[n] * cos(pi*(2n+1)*k / (2N))
//	c(0) = 1/sqrt(2), c(k>0) = 1
func dct1D(x []float64) []float64 {
	n := len(x)
	y := make([]float64, n)
	factor := math.Sqrt(2.0 / float64(n))
	for k := 0; k < n; k++ {
		var sum float64
		for i, xn := range x {
			sum += xn * math.Cos(math.Pi*float64(2*i+1)*float64(k)/(2*float64(n)))
		}
		c := 1.0
		if k == 0 {
			c = 1.0 / math.Sqrt(2)
		}
		y[k] = factor * c * sum
	}
	return y
}

func transpose(m [][]float64) [][]float64 {
	n := len(m)
	if n == 0 {
		return m
	}
	cols := len(m[0])
	out := make([][]float64, cols)
	for x := 0; x < cols; x++ {
		out[x] = make([]float64, n)
		for y := 0; y < n; y++ {
			out[x][y] = m[y][x]
		}
	}
	return out
}
