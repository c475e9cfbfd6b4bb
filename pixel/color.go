package pixel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/pixcache/exception"
	"golang.org/x/image/colornames"
)

// Color is a pixel value in quantum units.
type Color struct {
	Red   float64
	Green float64
	Blue  float64
	Black float64
	Alpha float64
}

const midQuantum = (QuantumRange + 1) / 2

// Predefined colors.
var (
	BlackColor       = Color{Alpha: QuantumRange}
	WhiteColor       = Color{Red: QuantumRange, Green: QuantumRange, Blue: QuantumRange, Alpha: QuantumRange}
	GrayColor        = Color{Red: midQuantum, Green: midQuantum, Blue: midQuantum, Alpha: QuantumRange}
	TransparentColor = Color{}
)

// Get returns the value of channel c. Index has no color value.
func (c Color) Get(ch Channel) float64 {
	switch ch {
	case Red:
		return c.Red
	case Green:
		return c.Green
	case Blue:
		return c.Blue
	case Black:
		return c.Black
	case Alpha:
		return c.Alpha
	}
	return 0
}

// Store writes the color into one pixel laid out by l.
func (c Color) Store(dst []Quantum, l Layout) {
	for i := 0; i < l.NumChannels(); i++ {
		ch := l.Channel(i)
		if ch == Index {
			dst[i] = 0
			continue
		}
		dst[i] = ClampToQuantum(c.Get(ch))
	}
}

// Load reads one pixel laid out by l. Missing alpha reads as opaque and a
// gray level is replicated into green and blue.
func Load(src []Quantum, l Layout) Color {
	c := Color{Alpha: QuantumRange}
	for i := 0; i < l.NumChannels(); i++ {
		v := float64(src[i])
		switch l.Channel(i) {
		case Red:
			c.Red = v
		case Green:
			c.Green = v
		case Blue:
			c.Blue = v
		case Black:
			c.Black = v
		case Alpha:
			c.Alpha = v
		}
	}
	if !l.Has(Green) && !l.Has(Blue) {
		c.Green, c.Blue = c.Red, c.Red
	}
	return c
}

// RGB converts a color held in colorspace cs to sRGB. Colors in other
// colorspaces are returned unchanged.
func (c Color) RGB(cs Colorspace) Color {
	if cs != CMYK {
		return c
	}
	k := QuantumRange - c.Black
	return Color{
		Red:   (QuantumRange - c.Red) * k / QuantumRange,
		Green: (QuantumRange - c.Green) * k / QuantumRange,
		Blue:  (QuantumRange - c.Blue) * k / QuantumRange,
		Alpha: c.Alpha,
	}
}

func (c Color) String() string {
	q := func(v float64) uint8 { return ScaleQuantumToChar(ClampToQuantum(v)) }
	return fmt.Sprintf("#%02x%02x%02x%02x", q(c.Red), q(c.Green), q(c.Blue), q(c.Alpha))
}

// ParseColor parses hex notation (#rgb, #rgba, #rrggbb, #rrggbbaa and the
// 16-bit forms), rgb()/rgba(), "none"/"transparent" and SVG color names.
func ParseColor(s string) (Color, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch {
	case name == "none" || name == "transparent":
		return TransparentColor, nil
	case strings.HasPrefix(name, "#"):
		return parseHex(s, name[1:])
	case strings.HasPrefix(name, "rgb"):
		return parseFunctional(s, name)
	}

	if rgba, ok := colornames.Map[strings.ReplaceAll(name, " ", "")]; ok {
		return Color{
			Red:   float64(ScaleCharToQuantum(rgba.R)),
			Green: float64(ScaleCharToQuantum(rgba.G)),
			Blue:  float64(ScaleCharToQuantum(rgba.B)),
			Alpha: float64(ScaleCharToQuantum(rgba.A)),
		}, nil
	}
	return Color{}, exception.New(exception.ErrOption, "UnrecognizedColor", s)
}

func parseHex(orig, hex string) (Color, error) {
	var width int
	var n int
	switch len(hex) {
	case 3, 4:
		width, n = 1, len(hex)
	case 6, 8:
		width, n = 2, len(hex)/2
	case 12, 16:
		width, n = 4, len(hex)/4
	default:
		return Color{}, exception.New(exception.ErrOption, "UnrecognizedColor", orig)
	}

	full := float64(uint64(1)<<(4*width) - 1)
	vals := make([]float64, n)
	for i := range vals {
		v, err := strconv.ParseUint(hex[i*width:(i+1)*width], 16, 16)
		if err != nil {
			return Color{}, exception.Wrap(exception.ErrOption, "UnrecognizedColor", orig, err)
		}
		vals[i] = QuantumRange * float64(v) / full
	}

	c := Color{Red: vals[0], Green: vals[1], Blue: vals[2], Alpha: QuantumRange}
	if n == 4 {
		c.Alpha = vals[3]
	}
	return c, nil
}

func parseFunctional(orig, s string) (Color, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return Color{}, exception.New(exception.ErrOption, "UnrecognizedColor", orig)
	}
	fn := s[:open]
	args := strings.Split(s[open+1:len(s)-1], ",")
	if (fn == "rgb" && len(args) != 3) || (fn == "rgba" && len(args) != 4) || (fn != "rgb" && fn != "rgba") {
		return Color{}, exception.New(exception.ErrOption, "UnrecognizedColor", orig)
	}

	vals := make([]float64, len(args))
	for i, a := range args {
		a = strings.TrimSpace(a)
		percent := strings.HasSuffix(a, "%")
		f, err := strconv.ParseFloat(strings.TrimSuffix(a, "%"), 64)
		if err != nil {
			return Color{}, exception.Wrap(exception.ErrOption, "UnrecognizedColor", orig, err)
		}
		switch {
		case percent:
			vals[i] = QuantumRange * f / 100
		case i == 3:
			vals[i] = QuantumRange * f
		default:
			vals[i] = QuantumRange * f / 255
		}
	}

	c := Color{Red: vals[0], Green: vals[1], Blue: vals[2], Alpha: QuantumRange}
	if len(vals) == 4 {
		c.Alpha = vals[3]
	}
	return c, nil
}
