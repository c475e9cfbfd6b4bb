package compare

import (
	"math"
	"math/bits"
	"math/cmplx"

	"github.com/hupe1980/pixcache/pixel"
)

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// fft transforms a in place. len(a) must be a power of two. The inverse
// transform is scaled by 1/len(a).
func fft(a []complex128, inverse bool) {
	n := len(a)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
	sign := -1.0
	if inverse {
		sign = 1.0
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Rect(1, sign*2*math.Pi/float64(size))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			half := size / 2
			for k := 0; k < half; k++ {
				u, v := a[start+k], a[start+k+half]*w
				a[start+k] = u + v
				a[start+k+half] = u - v
				w *= step
			}
		}
	}
	if inverse {
		scale := complex(1/float64(n), 0)
		for i := range a {
			a[i] *= scale
		}
	}
}

// fft2 transforms the w x h row-major grid a in place; both sides must be
// powers of two.
func fft2(a []complex128, w, h int, inverse bool) {
	for y := 0; y < h; y++ {
		fft(a[y*w:(y+1)*w], inverse)
	}
	col := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = a[y*w+x]
		}
		fft(col, inverse)
		for y := 0; y < h; y++ {
			a[y*w+x] = col[y]
		}
	}
}

// crossPower replaces fa with the normalized cross-power spectrum of fa and
// fb and returns its inverse transform. A bin where the product vanishes is
// 1 when both spectra vanish there and 0 when only one does.
func crossPower(fa, fb []complex128, w, h int) []complex128 {
	vanish := math.Sqrt(pixel.MagickEpsilon)
	for i := range fa {
		c := fa[i] * cmplx.Conj(fb[i])
		switch m := cmplx.Abs(c); {
		case m >= pixel.MagickEpsilon:
			fa[i] = c / complex(m, 0)
		case cmplx.Abs(fa[i]) < vanish && cmplx.Abs(fb[i]) < vanish:
			fa[i] = 1
		default:
			fa[i] = 0
		}
	}
	fft2(fa, w, h, true)
	return fa
}

// energy returns the sum of squares of v.
func energy(v []float64) float64 {
	var e float64
	for _, x := range v {
		e += x * x
	}
	return e
}
