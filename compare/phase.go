package compare

import (
	"context"
	"math"

	"github.com/hupe1980/pixcache/pixel"
)

// planes loads the compared channels of the pair into per-channel grids of
// stride x height normalized samples. Cells beyond the compared region stay
// zero.
func (e *Engine) planes(ctx context.Context, p *pair, stride, height int) (pa, pb [][]float64, err error) {
	nch := len(p.channels)
	pa, pb = make([][]float64, nch), make([][]float64, nch)
	for k := range pa {
		pa[k], pb[k] = make([]float64, stride*height), make([]float64, stride*height)
	}
	bands := e.bands(p, 0)
	na, nb := p.a.Channels(), p.b.Channels()
	err = e.forBands(ctx, p, bands, 0, func(i int, qa, qb []pixel.Quantum) error {
		va, vb := make([]float64, nch), make([]float64, nch)
		y0 := bands[i].y
		for j := 0; j*na < len(qa); j++ {
			p.values(qa[j*na:(j+1)*na], qb[j*nb:(j+1)*nb], va, vb)
			at := (y0+j/p.columns)*stride + j%p.columns
			for k := range va {
				pa[k][at] = pixel.QuantumScale * va[k]
				pb[k][at] = pixel.QuantumScale * vb[k]
			}
		}
		return nil
	})
	return pa, pb, err
}

func toComplex(v []float64) []complex128 {
	out := make([]complex128, len(v))
	for i, x := range v {
		out[i] = complex(x, 0)
	}
	return out
}

// phase is the peak of the phase correlation surface of each channel,
// zero padded to powers of two. A channel without energy in either image
// has no phase; it scores 1 only when both are empty.
func (e *Engine) phase(ctx context.Context, p *pair) (*pixel.ChannelDistortion, error) {
	w, h := nextPow2(p.columns), nextPow2(p.rows)
	pa, pb, err := e.planes(ctx, p, w, h)
	if err != nil {
		return nil, err
	}

	d := new(pixel.ChannelDistortion)
	for k, ch := range p.channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ea, eb := energy(pa[k]), energy(pb[k])
		if ea < pixel.MagickEpsilon || eb < pixel.MagickEpsilon {
			if ea < pixel.MagickEpsilon && eb < pixel.MagickEpsilon {
				d[ch] = 1
				d[pixel.Composite]++
			}
			continue
		}
		fa, fb := toComplex(pa[k]), toComplex(pb[k])
		fft2(fa, w, h, false)
		fft2(fb, w, h, false)
		peak := math.Inf(-1)
		for _, c := range crossPower(fa, fb, w, h) {
			peak = max(peak, real(c))
		}
		d[ch] = peak
		d[pixel.Composite] += peak
	}
	d[pixel.Composite] /= float64(max(len(p.channels), 1))
	return d, nil
}
