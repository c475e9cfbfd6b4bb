package compare

import (
	"context"
	"math"
	"slices"
	"strconv"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// SSIM window defaults.
const (
	DefaultSSIMRadius = 5
	DefaultSSIMSigma  = 1.5
	DefaultSSIMK1     = 0.01
	DefaultSSIMK2     = 0.03
)

type ssimParams struct {
	radius int
	sigma  float64
	k1     float64
	k2     float64
}

// ssimParamsOf reads the compare:ssim-* artifacts of img. The radius may
// not exceed the larger image dimension.
func ssimParamsOf(img *pixcache.Image) (ssimParams, error) {
	prm := ssimParams{
		radius: DefaultSSIMRadius,
		sigma:  DefaultSSIMSigma,
		k1:     DefaultSSIMK1,
		k2:     DefaultSSIMK2,
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"compare:ssim-sigma", &prm.sigma},
		{"compare:ssim-k1", &prm.k1},
		{"compare:ssim-k2", &prm.k2},
	}
	for _, f := range floats {
		v, ok := img.Artifact(f.key)
		if !ok {
			continue
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil || x <= 0 {
			return prm, exception.New(exception.ErrOption, "InvalidArgument", f.key+"="+v)
		}
		*f.dst = x
	}
	if v, ok := img.Artifact("compare:ssim-radius"); ok {
		r, err := strconv.Atoi(v)
		if err != nil || r < 0 || r > max(img.Columns(), img.Rows()) {
			return prm, exception.New(exception.ErrOption, "InvalidArgument", "compare:ssim-radius="+v)
		}
		prm.radius = r
	}
	return prm, nil
}

// gaussianKernel returns 2r+1 normalized weights.
func gaussianKernel(r int, sigma float64) []float64 {
	k := make([]float64, 2*r+1)
	var sum float64
	for i := range k {
		x := float64(i - r)
		k[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// convolve applies kernel along both axes of the w x h plane src and returns
// the interior (w-2r) x (h-2r) result.
func convolve(src []float64, w, h int, kernel []float64) []float64 {
	r := len(kernel) / 2
	cols, rows := w-2*r, h-2*r
	tmp := make([]float64, cols*h)
	for y := 0; y < h; y++ {
		line := src[y*w : (y+1)*w]
		for x := 0; x < cols; x++ {
			var s float64
			for t, k := range kernel {
				s += k * line[x+t]
			}
			tmp[y*cols+x] = s
		}
	}
	out := make([]float64, cols*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			var s float64
			for t, k := range kernel {
				s += k * tmp[(y+t)*cols+x]
			}
			out[y*cols+x] = s
		}
	}
	return out
}

// ssim averages the local structural similarity over the compared region.
// Every pixel's statistics come from a Gaussian window; windows that cross
// the border read virtual pixels.
func (e *Engine) ssim(ctx context.Context, p *pair, metric Metric) (*pixel.ChannelDistortion, error) {
	prm, err := ssimParamsOf(p.a)
	if err != nil {
		return nil, err
	}
	r := prm.radius
	kernel := gaussianKernel(r, prm.sigma)
	c1, c2 := prm.k1*prm.k1, prm.k2*prm.k2

	bands := e.bands(p, r)
	parts := make([]pixel.ChannelDistortion, len(bands))
	na, nb := p.a.Channels(), p.b.Channels()
	nch := len(p.channels)
	w := p.columns + 2*r

	err = e.forBands(ctx, p, bands, r, func(i int, pa, pb []pixel.Quantum) error {
		n := len(pa) / na
		h := n / w
		xs, ys := make([][]float64, nch), make([][]float64, nch)
		for k := range xs {
			xs[k], ys[k] = make([]float64, n), make([]float64, n)
		}
		va, vb := make([]float64, nch), make([]float64, nch)
		for j := 0; j < n; j++ {
			p.values(pa[j*na:(j+1)*na], pb[j*nb:(j+1)*nb], va, vb)
			for k := range xs {
				xs[k][j] = pixel.QuantumScale * va[k]
				ys[k][j] = pixel.QuantumScale * vb[k]
			}
		}

		for k, ch := range p.channels {
			x, y := xs[k], ys[k]
			xx, yy, xy := make([]float64, n), make([]float64, n), make([]float64, n)
			for j := range x {
				xx[j] = x[j] * x[j]
				yy[j] = y[j] * y[j]
				xy[j] = x[j] * y[j]
			}
			mx, my := convolve(x, w, h, kernel), convolve(y, w, h, kernel)
			sxx, syy, sxy := convolve(xx, w, h, kernel), convolve(yy, w, h, kernel), convolve(xy, w, h, kernel)

			var sum float64
			for j := range mx {
				ux, uy := mx[j], my[j]
				vx := sxx[j] - ux*ux
				vy := syy[j] - uy*uy
				cxy := sxy[j] - ux*uy
				num := (2*ux*uy + c1) * (2*cxy + c2)
				den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
				sum += num / den
			}
			parts[i][ch] = sum
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var total pixel.ChannelDistortion
	for i := range parts {
		for _, ch := range p.channels {
			total[ch] += parts[i][ch]
		}
	}
	area := p.area()
	d := new(pixel.ChannelDistortion)
	for _, ch := range p.channels {
		d[ch] = total[ch] / area
		d[pixel.Composite] += d[ch]
	}
	d[pixel.Composite] /= float64(max(nch, 1))
	if metric == DSSIM {
		for _, ch := range append(slices.Clone(p.channels), pixel.Composite) {
			d[ch] = (1 - d[ch]) / 2
		}
	}
	return d, nil
}
