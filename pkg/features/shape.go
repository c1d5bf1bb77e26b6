package features

import (
	"image"
	"math"
)

// NumMoments is the number of Hu moments appended to the shape signature
const NumMoments = 7

// Grayscale converts img to luma on the 0-255 scale, row-major
func Grayscale(img *image.NRGBA) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		i := y * img.Stride
		for x := 0; x < w; x++ {
			r := float64(img.Pix[i+0])
			g := float64(img.Pix[i+1])
			bl := float64(img.Pix[i+2])
			gray[y*w+x] = 0.299*r + 0.587*g + 0.114*bl
			i += 4
		}
	}
	return gray
}

// EdgeHistogram computes 3x3 Sobel gradients over the interior of a w x h
// grayscale buffer and histograms the direction of every pixel whose
// gradient magnitude reaches threshold. The histogram is L1-normalised; the
// second return value is the number of edge pixels found.
func EdgeHistogram(gray []float64, w, h, bins int, threshold float64) ([]float64, int) {
	hist := make([]float64, bins)
	edges := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			p := func(dx, dy int) float64 { return gray[(y+dy)*w+x+dx] }
			gx := (p(1, -1) + 2*p(1, 0) + p(1, 1)) - (p(-1, -1) + 2*p(-1, 0) + p(-1, 1))
			gy := (p(-1, 1) + 2*p(0, 1) + p(1, 1)) - (p(-1, -1) + 2*p(0, -1) + p(1, -1))
			if math.Hypot(gx, gy) < threshold {
				continue
			}
			theta := math.Atan2(gy, gx)
			hist[bin((theta+math.Pi)/(2*math.Pi), bins)]++
			edges++
		}
	}
	if edges > 0 {
		for k := range hist {
			hist[k] /= float64(edges)
		}
	}
	return hist, edges
}

// HuMoments returns the seven Hu invariants of the intensity distribution
// of a w x h grayscale buffer.
func HuMoments(gray []float64, w, h int) [NumMoments]float64 {
	var m00, m10, m01 float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := gray[y*w+x]
			m00 += v
			m10 += float64(x) * v
			m01 += float64(y) * v
		}
	}
	var hu [NumMoments]float64
	if m00 == 0 {
		return hu
	}
	cx, cy := m10/m00, m01/m00

	var mu20, mu02, mu11, mu30, mu03, mu21, mu12 float64
	for y := 0; y < h; y++ {
		dy := float64(y) - cy
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			v := gray[y*w+x]
			mu20 += dx * dx * v
			mu02 += dy * dy * v
			mu11 += dx * dy * v
			mu30 += dx * dx * dx * v
			mu03 += dy * dy * dy * v
			mu21 += dx * dx * dy * v
			mu12 += dx * dy * dy * v
		}
	}

	norm2 := math.Pow(m00, 2)
	norm3 := math.Pow(m00, 2.5)
	n20, n02, n11 := mu20/norm2, mu02/norm2, mu11/norm2
	n30, n03, n21, n12 := mu30/norm3, mu03/norm3, mu21/norm3, mu12/norm3

	a := n30 + n12
	b := n21 + n03
	hu[0] = n20 + n02
	hu[1] = (n20-n02)*(n20-n02) + 4*n11*n11
	hu[2] = (n30-3*n12)*(n30-3*n12) + (3*n21-n03)*(3*n21-n03)
	hu[3] = a*a + b*b
	hu[4] = (n30-3*n12)*a*(a*a-3*b*b) + (3*n21-n03)*b*(3*a*a-b*b)
	hu[5] = (n20-n02)*(a*a-b*b) + 4*n11*a*b
	hu[6] = (3*n21-n03)*a*(a*a-3*b*b) - (n30-3*n12)*b*(3*a*a-b*b)
	return hu
}

// LogMoments compresses Hu moments to a comparable range:
// -sign(h) * log10(|h| + 1e-10), multiplied by scale.
func LogMoments(hu [NumMoments]float64, scale float64) []float64 {
	out := make([]float64, NumMoments)
	for i, v := range hu {
		sign := 1.0
		if v < 0 {
			sign = -1.0
		}
		out[i] = -sign * math.Log10(math.Abs(v)+1e-10) * scale
	}
	return out
}

// ShapeSignature concatenates the edge orientation histogram and the scaled
// log Hu moments of img. It also returns the edge pixel count.
func ShapeSignature(img *image.NRGBA, bins int, threshold, momentScale float64) ([]float64, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := Grayscale(img)
	hist, edges := EdgeHistogram(gray, w, h, bins, threshold)
	sig := make([]float64, 0, bins+NumMoments)
	sig = append(sig, hist...)
	sig = append(sig, LogMoments(HuMoments(gray, w, h), momentScale)...)
	return sig, edges
}
