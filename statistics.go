package pixcache

import (
	"context"
	"math"

	"github.com/hupe1980/pixcache/pixel"
)

// ChannelStatistics summarizes one channel in quantum units.
type ChannelStatistics struct {
	Minima            float64
	Maxima            float64
	Mean              float64
	StandardDeviation float64
}

// Range returns Maxima - Minima.
func (s ChannelStatistics) Range() float64 { return s.Maxima - s.Minima }

// Statistics returns per-channel statistics indexed by channel id. The
// Composite slot holds the extreme minima and maxima and the mean of the
// per-channel means and deviations. Channels the image does not store, and
// the index channel, are left zero.
func (img *Image) Statistics(ctx context.Context) ([pixel.MaxChannels + 1]ChannelStatistics, error) {
	var stats [pixel.MaxChannels + 1]ChannelStatistics
	s, err := img.Store(ctx)
	if err != nil {
		return stats, err
	}

	l := img.layout
	n := l.NumChannels()
	var sum, sumSq [pixel.MaxChannels]float64
	for i := range stats[:pixel.MaxChannels] {
		stats[i].Minima = math.Inf(1)
		stats[i].Maxima = math.Inf(-1)
	}

	band := rowsPerBand(img.columns, n)
	buf := make([]pixel.Quantum, band*img.columns*n)
	for y := 0; y < img.rows; y += band {
		rows := min(band, img.rows-y)
		px := buf[:rows*img.columns*n]
		if err := s.ReadRows(ctx, y, rows, px); err != nil {
			return stats, err
		}
		for i := 0; i < n; i++ {
			ch := l.Channel(i)
			st := &stats[ch]
			for k := i; k < len(px); k += n {
				v := float64(px[k])
				sum[ch] += v
				sumSq[ch] += v * v
				st.Minima = min(st.Minima, v)
				st.Maxima = max(st.Maxima, v)
			}
		}
	}

	area := float64(img.columns) * float64(img.rows)
	all := &stats[pixel.Composite]
	all.Minima = math.Inf(1)
	all.Maxima = math.Inf(-1)
	var channels float64
	for i := 0; i < n; i++ {
		ch := l.Channel(i)
		if ch == pixel.Index {
			stats[ch] = ChannelStatistics{}
			continue
		}
		st := &stats[ch]
		st.Mean = sum[ch] / area
		st.StandardDeviation = math.Sqrt(max(sumSq[ch]/area-st.Mean*st.Mean, 0))
		all.Minima = min(all.Minima, st.Minima)
		all.Maxima = max(all.Maxima, st.Maxima)
		all.Mean += st.Mean
		all.StandardDeviation += st.StandardDeviation
		channels++
	}
	for i := range stats[:pixel.MaxChannels] {
		if !l.Has(pixel.Channel(i)) {
			stats[i] = ChannelStatistics{}
		}
	}
	if channels > 0 {
		all.Mean /= channels
		all.StandardDeviation /= channels
	} else {
		*all = ChannelStatistics{}
	}
	return stats, nil
}

// IsConstant reports whether every channel selected by the channel mask
// holds a single value across the image.
func (img *Image) IsConstant(ctx context.Context) (bool, error) {
	stats, err := img.Statistics(ctx)
	if err != nil {
		return false, err
	}
	l := img.Layout()
	for i := 0; i < l.NumChannels(); i++ {
		ch := l.Channel(i)
		if !l.Traits(ch).Has(pixel.UpdateTrait) {
			continue
		}
		if stats[ch].Range() >= pixel.MagickEpsilon {
			return false, nil
		}
	}
	return true, nil
}
