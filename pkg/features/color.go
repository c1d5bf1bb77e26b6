package features

import (
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorHistogram returns the L1-normalised joint HSV histogram of img with
// hueBins x satBins x valBins cells, hue-major.
func ColorHistogram(img *image.NRGBA, hueBins, satBins, valBins int) []float64 {
	hist := make([]float64, hueBins*satBins*valBins)
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return hist
	}

	for y := 0; y < h; y++ {
		i := y * img.Stride
		for x := 0; x < w; x++ {
			c := colorful.Color{
				R: float64(img.Pix[i+0]) / 255.0,
				G: float64(img.Pix[i+1]) / 255.0,
				B: float64(img.Pix[i+2]) / 255.0,
			}
			hue, sat, val := c.Hsv()
			hb := bin(hue/360.0, hueBins)
			sb := bin(sat, satBins)
			vb := bin(val, valBins)
			hist[(hb*satBins+sb)*valBins+vb]++
			i += 4
		}
	}

	total := float64(w * h)
	for k := range hist {
		hist[k] /= total
	}
	return hist
}

// bin maps v in [0,1] onto [0, n-1]
func bin(v float64, n int) int {
	k := int(v * float64(n))
	if k < 0 {
		return 0
	}
	if k >= n {
		return n - 1
	}
	return k
}
