package processing

import (
	"image"

	"github.com/disintegration/imaging"
)

// morphRadius gives a 5x5 structuring element
const morphRadius = 2

// IsolateForeground keeps the pixels brighter than the Otsu threshold of the
// luminance and blacks out the rest. The mask is cleaned with a 5x5 closing
// followed by a 5x5 opening. It assumes a piece photographed on a dark,
// fairly uniform background.
func IsolateForeground(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return src
	}

	gray := luminance(src)
	t := OtsuThreshold(gray)
	mask := make([]bool, len(gray))
	for i, v := range gray {
		mask[i] = v > t
	}

	// close = dilate then erode; open = erode then dilate
	mask = erode(dilate(mask, w, h), w, h)
	mask = dilate(erode(mask, w, h), w, h)

	for y := 0; y < h; y++ {
		row := y * src.Stride
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				i := row + x*4
				src.Pix[i], src.Pix[i+1], src.Pix[i+2] = 0, 0, 0
			}
		}
	}
	return src
}

// OtsuThreshold returns the threshold that maximises the between-class
// variance of an 8-bit luminance histogram
func OtsuThreshold(gray []uint8) uint8 {
	var hist [256]int
	for _, v := range gray {
		hist[v]++
	}
	total := len(gray)
	if total == 0 {
		return 0
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}

	var sumB, best float64
	var wB int
	var threshold uint8
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

func luminance(img *image.NRGBA) []uint8 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		i := y * img.Stride
		for x := 0; x < w; x++ {
			r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
			out[y*w+x] = uint8(0.299*r + 0.587*g + 0.114*b + 0.5)
			i += 4
		}
	}
	return out
}

func dilate(mask []bool, w, h int) []bool {
	return morph(mask, w, h, true)
}

func erode(mask []bool, w, h int) []bool {
	return morph(mask, w, h, false)
}

// morph applies a square max (dilate) or min (erode) filter. Pixels outside
// the image are ignored.
func morph(mask []bool, w, h int, grow bool) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := !grow
		window:
			for dy := -morphRadius; dy <= morphRadius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -morphRadius; dx <= morphRadius; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					if mask[yy*w+xx] == grow {
						v = grow
						break window
					}
				}
			}
			out[y*w+x] = v
		}
	}
	return out
}
