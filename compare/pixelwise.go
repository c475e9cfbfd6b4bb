package compare

import (
	"context"
	"math"
	"slices"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/pixel"
)

// partial holds the sums of one band.
type partial struct {
	sum     pixel.ChannelDistortion
	peak    pixel.ChannelDistortion
	sumSq   float64
	samples float64

	// correlation terms
	sa, sb     pixel.ChannelDistortion
	ab, aa, bb pixel.ChannelDistortion
}

func (s *partial) merge(o *partial) {
	for i := range s.sum {
		s.sum[i] += o.sum[i]
		s.peak[i] = max(s.peak[i], o.peak[i])
		s.sa[i] += o.sa[i]
		s.sb[i] += o.sb[i]
		s.ab[i] += o.ab[i]
		s.aa[i] += o.aa[i]
		s.bb[i] += o.bb[i]
	}
	s.sumSq += o.sumSq
	s.samples += o.samples
}

// reduce runs fn over every band and sums the partials in band order.
func (e *Engine) reduce(ctx context.Context, p *pair, fn func(s *partial, va, vb []float64)) (partial, error) {
	bands := e.bands(p, 0)
	parts := make([]partial, len(bands))
	na, nb := p.a.Channels(), p.b.Channels()
	err := e.forBands(ctx, p, bands, 0, func(i int, pa, pb []pixel.Quantum) error {
		va := make([]float64, len(p.channels))
		vb := make([]float64, len(p.channels))
		for x, y := 0, 0; x < len(pa); x, y = x+na, y+nb {
			p.values(pa[x:x+na], pb[y:y+nb], va, vb)
			fn(&parts[i], va, vb)
		}
		return nil
	})
	var total partial
	if err != nil {
		return total, err
	}
	for i := range parts {
		total.merge(&parts[i])
	}
	return total, nil
}

// pixelwise measures the metrics that only look at corresponding pixels.
func (e *Engine) pixelwise(ctx context.Context, p *pair, metric Metric) (*pixel.ChannelDistortion, error) {
	fuzz2 := p.fuzz2()
	chans := p.channels
	total, err := e.reduce(ctx, p, func(s *partial, va, vb []float64) {
		switch metric {
		case AE:
			differs := false
			for k, ch := range chans {
				d := va[k] - vb[k]
				if d*d > fuzz2 {
					s.sum[ch]++
					differs = true
				}
			}
			if differs {
				s.sum[pixel.Composite]++
			}
		case MAE:
			for k, ch := range chans {
				d := pixel.QuantumScale * math.Abs(va[k]-vb[k])
				s.sum[ch] += d
				s.sum[pixel.Composite] += d
			}
		case MEPP:
			for k, ch := range chans {
				d := math.Abs(va[k] - vb[k])
				s.sum[ch] += d
				s.sum[pixel.Composite] += d
				n := pixel.QuantumScale * d
				s.sumSq += n * n
				s.peak[pixel.Composite] = max(s.peak[pixel.Composite], n)
				s.samples++
			}
		case PAE:
			for k, ch := range chans {
				d := pixel.QuantumScale * math.Abs(va[k]-vb[k])
				s.peak[ch] = max(s.peak[ch], d)
				s.peak[pixel.Composite] = max(s.peak[pixel.Composite], d)
			}
		case DPC:
			for k, ch := range chans {
				x, y := pixel.QuantumScale*va[k], pixel.QuantumScale*vb[k]
				s.ab[ch] += x * y
				s.aa[ch] += x * x
				s.bb[ch] += y * y
			}
		default: // Fuzz, MSE, RMSE, PSNR
			for k, ch := range chans {
				d := pixel.QuantumScale * (va[k] - vb[k])
				s.sum[ch] += d * d
				s.sum[pixel.Composite] += d * d
			}
		}
	})
	if err != nil {
		return nil, err
	}

	area := p.area()
	nch := float64(max(len(chans), 1))
	d := new(pixel.ChannelDistortion)
	switch metric {
	case AE:
		for _, ch := range chans {
			d[ch] = total.sum[ch] / area
		}
		d[pixel.Composite] = total.sum[pixel.Composite] / area
	case Fuzz:
		for _, ch := range chans {
			d[ch] = math.Sqrt(total.sum[ch] / area)
		}
		d[pixel.Composite] = math.Sqrt(total.sum[pixel.Composite] / area / nch)
	case MEPP:
		for _, ch := range chans {
			d[ch] = total.sum[ch] / area
		}
		d[pixel.Composite] = total.sum[pixel.Composite] / area
		if p.record {
			var stats pixcache.ErrorStatistics
			if total.samples > 0 {
				stats.MeanErrorPerPixel = total.sum[pixel.Composite] / total.samples
				stats.NormalizedMeanError = total.sumSq / total.samples
				stats.NormalizedMaximumError = total.peak[pixel.Composite]
			}
			p.a.SetErrorStatistics(stats)
		}
	case PAE:
		for _, ch := range chans {
			d[ch] = total.peak[ch]
		}
		d[pixel.Composite] = total.peak[pixel.Composite]
	case DPC:
		for _, ch := range chans {
			d[ch] = dotProduct(total.ab[ch], total.aa[ch], total.bb[ch])
			d[pixel.Composite] += d[ch]
		}
		d[pixel.Composite] /= nch
	default:
		for _, ch := range chans {
			d[ch] = total.sum[ch] / area
		}
		d[pixel.Composite] = total.sum[pixel.Composite] / (area * nch)
		for _, ch := range append(slices.Clone(chans), pixel.Composite) {
			switch metric {
			case RMSE:
				d[ch] = math.Sqrt(d[ch])
			case PSNR:
				d[ch] = psnr(d[ch])
			}
		}
	}
	return d, nil
}

// ncc computes the normalized cross correlation in two passes: channel
// means first, then the centered sums.
func (e *Engine) ncc(ctx context.Context, p *pair) (*pixel.ChannelDistortion, error) {
	chans := p.channels
	means, err := e.reduce(ctx, p, func(s *partial, va, vb []float64) {
		for k, ch := range chans {
			s.sa[ch] += pixel.QuantumScale * va[k]
			s.sb[ch] += pixel.QuantumScale * vb[k]
		}
	})
	if err != nil {
		return nil, err
	}
	area := p.area()
	var mu, mv pixel.ChannelDistortion
	for _, ch := range chans {
		mu[ch] = means.sa[ch] / area
		mv[ch] = means.sb[ch] / area
	}

	total, err := e.reduce(ctx, p, func(s *partial, va, vb []float64) {
		for k, ch := range chans {
			x := pixel.QuantumScale*va[k] - mu[ch]
			y := pixel.QuantumScale*vb[k] - mv[ch]
			s.ab[ch] += x * y
			s.aa[ch] += x * x
			s.bb[ch] += y * y
		}
	})
	if err != nil {
		return nil, err
	}

	d := new(pixel.ChannelDistortion)
	for _, ch := range chans {
		den := math.Sqrt(total.aa[ch] * total.bb[ch])
		switch {
		case den >= pixel.MagickEpsilon:
			d[ch] = total.ab[ch] / den
		case math.Abs(mu[ch]-mv[ch]) < pixel.MagickEpsilon:
			d[ch] = 1
		}
		d[pixel.Composite] += d[ch]
	}
	d[pixel.Composite] /= float64(max(len(chans), 1))
	return d, nil
}

func dotProduct(ab, aa, bb float64) float64 {
	if aa == 0 && bb == 0 {
		return 1
	}
	return ab * pixel.PerceptibleReciprocal(math.Sqrt(aa*bb))
}

func psnr(mse float64) float64 {
	return 10 * math.Log10(pixel.PerceptibleReciprocal(mse)) / SafePSNRReciprocal
}
