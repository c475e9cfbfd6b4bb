package compare

import (
	"context"
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/disintegration/gift"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/hupe1980/pixcache/pixel"
)

// moments are the eight Hu-style invariants of one plane.
type moments [8]float64

// huMoments computes the invariants of a w x h plane of normalized
// samples. Moments are central about the centroid and scale normalized by
// M00.
func huMoments(plane []float64, w, h int) moments {
	var m00, m10, m01 float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := plane[y*w+x]
			m00 += v
			m10 += float64(x) * v
			m01 += float64(y) * v
		}
	}
	cx, cy := float64(w)/2, float64(h)/2
	if m00 >= pixel.MagickEpsilon {
		cx, cy = m10/(m00+pixel.MagickEpsilon), m01/(m00+pixel.MagickEpsilon)
	}
	m00 += pixel.MagickEpsilon

	var m11, m20, m02, m21, m12, m30, m03 float64
	for y := 0; y < h; y++ {
		dy := float64(y) - cy
		for x := 0; x < w; x++ {
			v := plane[y*w+x]
			dx := float64(x) - cx
			m11 += dx * dy * v
			m20 += dx * dx * v
			m02 += dy * dy * v
			m21 += dx * dx * dy * v
			m12 += dx * dy * dy * v
			m30 += dx * dx * dx * v
			m03 += dy * dy * dy * v
		}
	}
	norm := func(m, order float64) float64 { return m / math.Pow(m00, 1+order/2) }
	m11, m20, m02 = norm(m11, 2), norm(m20, 2), norm(m02, 2)
	m21, m12, m30, m03 = norm(m21, 3), norm(m12, 3), norm(m30, 3), norm(m03, 3)

	a, b := m30+m12, m21+m03
	var inv moments
	inv[0] = m20 + m02
	inv[1] = (m20-m02)*(m20-m02) + 4*m11*m11
	inv[2] = (m30-3*m12)*(m30-3*m12) + (3*m21-m03)*(3*m21-m03)
	inv[3] = a*a + b*b
	inv[4] = (m30-3*m12)*a*(a*a-3*b*b) + (3*m21-m03)*b*(3*a*a-b*b)
	inv[5] = (m20-m02)*(a*a-b*b) + 4*m11*a*b
	inv[6] = (3*m21-m03)*a*(a*a-3*b*b) - (m30-3*m12)*b*(3*a*a-b*b)
	inv[7] = m11*(a*a-b*b) - (m20-m02)*a*b
	return inv
}

// hashDistance sums the squared log differences of two invariant sets. I3
// depends on the others and is skipped, as are invariants too small to
// take the log of.
func hashDistance(a, b moments) float64 {
	var sum float64
	for i := range a {
		if i == 2 {
			continue
		}
		if math.Abs(a[i]) < pixel.MagickEpsilon || math.Abs(b[i]) < pixel.MagickEpsilon {
			continue
		}
		d := math.Log10(math.Abs(b[i])) - math.Log10(math.Abs(a[i]))
		sum += d * d
	}
	return sum
}

// blurPlanes blurs every plane with a sigma 1 Gaussian.
func blurPlanes(planes [][]float64, w, h int) [][]float64 {
	g := gift.New(gift.GaussianBlur(1))
	out := make([][]float64, len(planes))
	for k, plane := range planes {
		src := image.NewGray16(image.Rect(0, 0, w, h))
		for i, v := range plane {
			src.SetGray16(i%w, i/w, color.Gray16{Y: uint16(pixel.ScaleToQuantum(v))})
		}
		dst := image.NewGray16(g.Bounds(src.Bounds()))
		g.Draw(dst, src)
		out[k] = make([]float64, w*h)
		for i := range out[k] {
			out[k][i] = pixel.Normalize(pixel.Quantum(dst.Gray16At(i%w, i/w).Y))
		}
	}
	return out
}

// hclPlanes converts blurred color planes to hue, chroma and luminance. A
// single gray plane yields luminance only.
func hclPlanes(planes [][]float64, chans []pixel.Channel) map[pixel.Channel][]float64 {
	idx := func(c pixel.Channel) int { return slices.Index(chans, c) }
	r, g, b := idx(pixel.Red), idx(pixel.Green), idx(pixel.Blue)
	switch {
	case r >= 0 && g >= 0 && b >= 0:
		n := len(planes[r])
		hue, chroma, lum := make([]float64, n), make([]float64, n), make([]float64, n)
		for i := 0; i < n; i++ {
			h, c, l := colorful.Color{R: planes[r][i], G: planes[g][i], B: planes[b][i]}.Hcl()
			hue[i], chroma[i], lum[i] = h/360, c, l
		}
		return map[pixel.Channel][]float64{pixel.Red: hue, pixel.Green: chroma, pixel.Blue: lum}
	case r >= 0 && g < 0 && b < 0:
		n := len(planes[r])
		lum := make([]float64, n)
		for i, v := range planes[r] {
			_, _, lum[i] = colorful.Color{R: v, G: v, B: v}.Hcl()
		}
		return map[pixel.Channel][]float64{pixel.Gray: lum}
	}
	return nil
}

// phash compares perceptual hashes of both images, once on the stored
// channels and once in HCL.
func (e *Engine) phash(ctx context.Context, p *pair) (*pixel.ChannelDistortion, error) {
	w, h := p.columns, p.rows
	pa, pb, err := e.planes(ctx, p, w, h)
	if err != nil {
		return nil, err
	}
	pa, pb = blurPlanes(pa, w, h), blurPlanes(pb, w, h)

	d := new(pixel.ChannelDistortion)
	for k, ch := range p.channels {
		v := hashDistance(huMoments(pa[k], w, h), huMoments(pb[k], w, h))
		d[ch] += v
		d[pixel.Composite] += v
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ha, hb := hclPlanes(pa, p.channels), hclPlanes(pb, p.channels)
	for _, ch := range []pixel.Channel{pixel.Red, pixel.Green, pixel.Blue} {
		plane, ok := ha[ch]
		if !ok {
			continue
		}
		v := hashDistance(huMoments(plane, w, h), huMoments(hb[ch], w, h))
		d[ch] += v
		d[pixel.Composite] += v
	}
	return d, nil
}
