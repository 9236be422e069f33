package geometry

import (
	"strings"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
)

// Bitmap is a decoded binary mask in row-major order. Pixels are 0 or 1.
type Bitmap struct {
	Width  int
	Height int
	Pixels []uint8
}

func (b Bitmap) At(x, y int) uint8 {
	return b.Pixels[y*b.Width+x]
}

// Count returns the number of foreground pixels.
func (b Bitmap) Count() int {
	n := 0
	for _, p := range b.Pixels {
		n += int(p)
	}
	return n
}

// Bounds returns [minX, minY, maxX, maxY] of the foreground pixels.
func (b Bitmap) Bounds() ([4]float64, bool) {
	minX, minY, maxX, maxY := b.Width, b.Height, -1, -1
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			if b.At(x, y) == 0 {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < 0 {
		return [4]float64{}, false
	}
	return [4]float64{float64(minX), float64(minY), float64(maxX), float64(maxY)}, true
}

// DecodeRLE expands uncompressed COCO RLE. Counts are column-major and start
// with a background run; they must cover exactly height*width pixels.
func DecodeRLE(rle model.CocoRLE) (Bitmap, error) {
	height, width := rle.Size[0], rle.Size[1]
	if height <= 0 || width <= 0 {
		return Bitmap{}, common.InvalidGeometry("RLE size must be positive, got %v", rle.Size)
	}
	total := height * width

	sum := 0
	for _, c := range rle.Counts {
		if c < 0 {
			return Bitmap{}, common.InvalidGeometry("RLE contains negative run %d", c)
		}
		sum += c
	}
	if sum != total {
		return Bitmap{}, common.InvalidGeometry("RLE counts sum %d does not match %dx%d = %d", sum, width, height, total)
	}

	bm := Bitmap{Width: width, Height: height, Pixels: make([]uint8, total)}
	pos := 0
	for i, c := range rle.Counts {
		if i%2 == 1 {
			for k := pos; k < pos+c; k++ {
				// column-major index k -> (x, y)
				x, y := k/height, k%height
				bm.Pixels[y*width+x] = 1
			}
		}
		pos += c
	}
	return bm, nil
}

// DecodeCompressedRLE expands pycocotools' string-encoded RLE.
func DecodeCompressedRLE(rle model.CocoCompressedRLE) (Bitmap, error) {
	counts, err := decodeCounts(rle.Counts)
	if err != nil {
		return Bitmap{}, err
	}
	return DecodeRLE(model.CocoRLE{Counts: counts, Size: rle.Size})
}

// decodeCounts reverses the pycocotools string encoding: 5-bit groups offset
// by 48, a continuation bit at 0x20, sign at 0x10, and counts after the
// second stored as deltas against the count two positions back.
func decodeCounts(s string) ([]int, error) {
	var counts []int
	for p := 0; p < len(s); {
		var x int64
		k := 0
		more := true
		for more {
			if p >= len(s) {
				return nil, common.InvalidGeometry("truncated compressed RLE counts")
			}
			c := int64(s[p]) - 48
			if c < 0 || c > 63 {
				return nil, common.InvalidGeometry("invalid compressed RLE character %q", s[p])
			}
			x |= (c & 0x1f) << (5 * k)
			more = c&0x20 != 0
			p++
			k++
			if !more && c&0x10 != 0 {
				x |= -1 << (5 * k)
			}
		}
		if m := len(counts); m > 2 {
			x += int64(counts[m-2])
		}
		counts = append(counts, int(x))
	}
	return counts, nil
}

// EncodeCounts produces the pycocotools string form of RLE counts.
func EncodeCounts(counts []int) string {
	var sb strings.Builder
	for i, cnt := range counts {
		x := int64(cnt)
		if i > 2 {
			x -= int64(counts[i-2])
		}
		more := true
		for more {
			c := x & 0x1f
			x >>= 5
			if c&0x10 != 0 {
				more = x != -1
			} else {
				more = x != 0
			}
			if more {
				c |= 0x20
			}
			sb.WriteByte(byte(c + 48))
		}
	}
	return sb.String()
}

// SegmentationBitmap decodes an RLE segmentation. Polygon segmentations
// return false.
func SegmentationBitmap(seg model.CocoSegmentation) (Bitmap, bool, error) {
	switch {
	case seg.RLE != nil:
		bm, err := DecodeRLE(*seg.RLE)
		return bm, true, err
	case seg.CompressedRLE != nil:
		bm, err := DecodeCompressedRLE(*seg.CompressedRLE)
		return bm, true, err
	}
	return Bitmap{}, false, nil
}
