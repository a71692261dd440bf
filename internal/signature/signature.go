package signature

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"strings"
	"time"

	// Register the stdlib decoders used for perceptual hashing.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	pkgerrors "github.com/photark/photark-backend/pkg/errors"
)

// Signature is the immutable fingerprint of one candidate file. It is
// computed once per candidate and never mutated.
type Signature struct {
	ContentHash    string
	PerceptualHash *uint64
	ByteSize       int64
	Width          int
	Height         int
	Duration       *time.Duration
	CaptureTime    *time.Time
}

// FileMeta carries the probe metadata supplied by the transcoding
// collaborator. Dimensions and duration are trusted when present; for still
// images the decoder output overrides zero dimensions.
type FileMeta struct {
	MimeType    string
	Width       int
	Height      int
	Duration    *time.Duration
	CaptureTime *time.Time

	// KeyFrame carries a decoded representative frame for video candidates,
	// letting them participate in perceptual matching.
	KeyFrame image.Image
}

// Compute builds the signature for raw file bytes. It is deterministic for
// identical inputs, which idempotent re-imports rely on.
func Compute(raw []byte, meta FileMeta) (Signature, error) {
	if len(raw) == 0 {
		return Signature{}, pkgerrors.New(pkgerrors.CategoryValidation, "empty media payload")
	}

	sum := sha256.Sum256(raw)
	sig := Signature{
		ContentHash: hex.EncodeToString(sum[:]),
		ByteSize:    int64(len(raw)),
		Width:       meta.Width,
		Height:      meta.Height,
		Duration:    meta.Duration,
		CaptureTime: meta.CaptureTime,
	}

	if frame := perceptualSource(raw, meta); frame != nil {
		hash := DifferenceHash(frame)
		sig.PerceptualHash = &hash
		if sig.Width == 0 && sig.Height == 0 && meta.KeyFrame == nil {
			bounds := frame.Bounds()
			sig.Width = bounds.Dx()
			sig.Height = bounds.Dy()
		}
	}

	return sig, nil
}

func perceptualSource(raw []byte, meta FileMeta) image.Image {
	if meta.KeyFrame != nil {
		return meta.KeyFrame
	}
	if !strings.HasPrefix(strings.ToLower(meta.MimeType), "image/") {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		// Undecodable images simply carry no perceptual hash; the dedup
		// engine falls through to the byte-identity rule.
		return nil
	}
	return img
}

const (
	dhashCols = 9
	dhashRows = 8
)

// DifferenceHash computes a 64-bit dHash: the image is reduced to a 9x8
// luminance grid and each bit records whether brightness increases between
// horizontal neighbours. Similar images survive re-encoding with the same
// hash.
func DifferenceHash(img image.Image) uint64 {
	grid := luminanceGrid(img, dhashCols, dhashRows)
	var hash uint64
	bit := 0
	for row := 0; row < dhashRows; row++ {
		for col := 0; col < dhashCols-1; col++ {
			if grid[row][col] < grid[row][col+1] {
				hash |= 1 << uint(bit)
			}
			bit++
		}
	}
	return hash
}

// luminanceGrid averages the image into cols x rows cells of Rec.601 luma.
func luminanceGrid(img image.Image, cols, rows int) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	grid := make([][]float64, rows)

	for row := 0; row < rows; row++ {
		grid[row] = make([]float64, cols)
		for col := 0; col < cols; col++ {
			x0 := bounds.Min.X + col*width/cols
			x1 := bounds.Min.X + (col+1)*width/cols
			y0 := bounds.Min.Y + row*height/rows
			y1 := bounds.Min.Y + (row+1)*height/rows
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if y1 <= y0 {
				y1 = y0 + 1
			}

			var sum float64
			var count int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
					count++
				}
			}
			grid[row][col] = sum / float64(count)
		}
	}
	return grid
}
