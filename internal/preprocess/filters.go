package preprocess

import (
	"image"
	"math"

	"github.com/MeKo-Tech/dpmscan/internal/mempool"
)

// Fixed kernels used when sigma is not given and the aperture is small.
var smallGaussianKernels = map[int][]float64{
	1: {1},
	3: {0.25, 0.5, 0.25},
	5: {0.0625, 0.25, 0.375, 0.25, 0.0625},
	7: {0.03125, 0.109375, 0.21875, 0.28125, 0.21875, 0.109375, 0.03125},
}

// gaussianKernel returns k normalized weights. A non-positive sigma is
// derived from the aperture.
func gaussianKernel(k int, sigma float64) []float64 {
	if sigma <= 0 {
		if fixed, ok := smallGaussianKernels[k]; ok {
			out := make([]float64, k)
			copy(out, fixed)
			return out
		}
		sigma = 0.3*(float64(k-1)*0.5-1) + 0.8
	}

	out := make([]float64, k)
	scale := -0.5 / (sigma * sigma)
	var sum float64
	for i := range k {
		x := float64(i) - float64(k-1)*0.5
		out[i] = math.Exp(scale * x * x)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// reflect101 mirrors an out-of-range index without repeating the edge pixel
// (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

func saturate(v float64) uint8 {
	v = math.RoundToEven(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// gaussianBlur applies a separable Gaussian filter to the colour channels of src.
// The result is opaque and anchored at the origin.
func gaussianBlur(src *image.NRGBA, ksize Size, sigma float64) *image.NRGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	kx := gaussianKernel(ksize.Width, sigma)
	ky := gaussianKernel(ksize.Height, sigma)
	ax, ay := len(kx)/2, len(ky)/2

	// horizontal pass into a planar RGB buffer
	tmp := mempool.Float64.Get(w * h * 3)
	defer mempool.Float64.Put(tmp)
	for y := range h {
		row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := range w {
			var r, g, bl float64
			for i, wt := range kx {
				p := row[reflect101(x+i-ax, w)*4:]
				r += wt * float64(p[0])
				g += wt * float64(p[1])
				bl += wt * float64(p[2])
			}
			o := (y*w + x) * 3
			tmp[o], tmp[o+1], tmp[o+2] = r, g, bl
		}
	}

	// vertical pass
	for y := range h {
		out := dst.Pix[y*dst.Stride:]
		for x := range w {
			var r, g, bl float64
			for i, wt := range ky {
				o := (reflect101(y+i-ay, h)*w + x) * 3
				r += wt * tmp[o]
				g += wt * tmp[o+1]
				bl += wt * tmp[o+2]
			}
			p := out[x*4:]
			p[0], p[1], p[2], p[3] = saturate(r), saturate(g), saturate(bl), 0xff
		}
	}
	return dst
}

// Fixed-point BT.601 luma weights scaled by 2^14.
const (
	lumaR     = 4899
	lumaG     = 9617
	lumaB     = 1868
	lumaShift = 14
)

// grayscale converts src to a single channel using rounded BT.601 weights.
func grayscale(src *image.NRGBA) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		in := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		out := dst.Pix[y*dst.Stride:]
		for x := range w {
			p := in[x*4:]
			v := uint32(p[0])*lumaR + uint32(p[1])*lumaG + uint32(p[2])*lumaB + 1<<(lumaShift-1)
			out[x] = uint8(v >> lumaShift)
		}
	}
	return dst
}

// otsuThreshold returns the level maximizing between-class variance over the
// 256-bin histogram of g. Ties resolve to the lowest level; a single-valued
// image yields 0.
func otsuThreshold(g *image.Gray) int {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var hist [256]int
	for y := range h {
		row := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := range w {
			hist[row[x]]++
		}
	}

	const eps = 1.1920929e-07 // float32 epsilon
	scale := 1.0 / float64(w*h)
	var mu float64
	for i, n := range hist {
		mu += float64(i) * float64(n)
	}
	mu *= scale

	var q1, mu1, maxSigma float64
	best := 0
	for i, n := range hist {
		pi := float64(n) * scale
		mu1 *= q1
		q1 += pi
		q2 := 1 - q1
		if math.Min(q1, q2) < eps || math.Max(q1, q2) > 1-eps {
			continue
		}
		mu1 = (mu1 + float64(i)*pi) / q1
		mu2 := (mu - q1*mu1) / q2
		sigma := q1 * q2 * (mu1 - mu2) * (mu1 - mu2)
		if sigma > maxSigma {
			maxSigma = sigma
			best = i
		}
	}
	return best
}

// binarize maps pixels above t to maxVal and everything else to 0.
func binarize(g *image.Gray, t int, maxVal uint8) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		in := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		out := dst.Pix[y*dst.Stride:]
		for x := range w {
			if int(in[x]) > t {
				out[x] = maxVal
			}
		}
	}
	return dst
}

// closing is a dilation followed by an erosion with a k-sized rectangle.
func closing(g *image.Gray, k Size) *image.Gray {
	return erode(dilate(g, k), k)
}

func dilate(g *image.Gray, k Size) *image.Gray {
	return rectFilter(g, k, func(a, b uint8) uint8 { return max(a, b) }, 0)
}

func erode(g *image.Gray, k Size) *image.Gray {
	return rectFilter(g, k, func(a, b uint8) uint8 { return min(a, b) }, 0xff)
}

// rectFilter applies a separable rectangular min/max filter anchored at the
// kernel centre. Neighbours outside the image do not participate.
func rectFilter(g *image.Gray, k Size, pick func(a, b uint8) uint8, init uint8) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	ax, ay := k.Width/2, k.Height/2

	tmp := mempool.Bytes.Get(w * h)
	defer mempool.Bytes.Put(tmp)
	for y := range h {
		in := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := range w {
			v := init
			for i := range k.Width {
				sx := x + i - ax
				if sx >= 0 && sx < w {
					v = pick(v, in[sx])
				}
			}
			tmp[y*w+x] = v
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		out := dst.Pix[y*dst.Stride:]
		for x := range w {
			v := init
			for i := range k.Height {
				sy := y + i - ay
				if sy >= 0 && sy < h {
					v = pick(v, tmp[sy*w+x])
				}
			}
			out[x] = v
		}
	}
	return dst
}

func cloneGray(g *image.Gray) *image.Gray {
	out := image.NewGray(g.Bounds())
	copy(out.Pix, g.Pix)
	return out
}
