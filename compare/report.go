package compare

import (
	"bufio"
	"fmt"
	"io"

	"github.com/hupe1980/pixcache/pixel"
)

// channelName names c the way the report's colorspace calls it.
func channelName(c pixel.Channel, cs pixel.Colorspace) string {
	switch cs {
	case pixel.GrayColorspace:
		if c == pixel.Gray {
			return "gray"
		}
	case pixel.CMYK:
		switch c {
		case pixel.Cyan:
			return "cyan"
		case pixel.Magenta:
			return "magenta"
		case pixel.Yellow:
			return "yellow"
		}
	}
	return c.String()
}

// value formats one distortion slot in display units followed by the raw
// value, or the raw value alone for metrics without a scale.
func (r *Report) value(v float64) string {
	if r.Scale == 1 || r.Scale == 0 {
		return fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("%.6g (%.6g)", r.Scale*v, v)
}

// FormatReport writes r in the compare command's output format. The short
// form is one line; verbose lists every compared channel and the aggregate.
func FormatReport(w io.Writer, r *Report, verbose bool) error {
	bw := bufio.NewWriter(w)
	all := r.Distortion[pixel.Composite]
	stats := r.ErrorStatistics

	if !verbose {
		if r.Metric == MEPP {
			fmt.Fprintf(bw, "%.6g (%.6g, %.6g)", all, stats.NormalizedMeanError, stats.NormalizedMaximumError)
		} else {
			fmt.Fprint(bw, r.value(all))
		}
		if r.Subimage {
			fmt.Fprintf(bw, " @ %d,%d [%.6g]", r.Offset.X, r.Offset.Y, r.Similarity)
		}
		fmt.Fprintln(bw)
		return bw.Flush()
	}

	fmt.Fprintf(bw, "Image: %s\n", r.Filename)
	fmt.Fprintf(bw, "  Channel distortion: %s\n", r.Metric)
	for _, ch := range r.Channels {
		fmt.Fprintf(bw, "    %s: %s\n", channelName(ch, r.Colorspace), r.value(r.Distortion[ch]))
	}
	if r.Metric == MEPP {
		fmt.Fprintf(bw, "    all: %.6g (%.6g, %.6g)\n", all, stats.NormalizedMeanError, stats.NormalizedMaximumError)
	} else {
		fmt.Fprintf(bw, "    all: %s\n", r.value(all))
	}
	if r.Subimage {
		fmt.Fprintf(bw, "  Offset: %d,%d\n", r.Offset.X, r.Offset.Y)
		fmt.Fprintf(bw, "  Similarity: %.6g\n", r.Similarity)
	}
	return bw.Flush()
}
