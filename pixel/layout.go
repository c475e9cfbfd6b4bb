package pixel

import (
	"strings"

	"github.com/hupe1980/pixcache/exception"
)

// Colorspace tags the interpretation of the color channels.
type Colorspace uint8

const (
	UndefinedColorspace Colorspace = iota
	SRGB
	GrayColorspace
	CMYK
)

func (c Colorspace) String() string {
	switch c {
	case SRGB:
		return "sRGB"
	case GrayColorspace:
		return "Gray"
	case CMYK:
		return "CMYK"
	default:
		return "Undefined"
	}
}

// ParseColorspace maps a colorspace name to its tag.
func ParseColorspace(s string) (Colorspace, error) {
	switch strings.ToLower(s) {
	case "srgb", "rgb":
		return SRGB, nil
	case "gray", "grey":
		return GrayColorspace, nil
	case "cmyk":
		return CMYK, nil
	}
	return UndefinedColorspace, exception.New(exception.ErrOption, "UnrecognizedColorspace", s)
}

// Layout is the ordered channel map of an image.
//
// Layout is a value type; methods never mutate the receiver.
type Layout struct {
	order   [MaxChannels]Channel
	n       int
	offsets [MaxChannels]int8
	traits  [MaxChannels]Trait
}

// NewLayout builds the channel map for a colorspace with optional alpha and
// index planes. Color and alpha channels get Update|Blend traits; the index
// plane is copied but never compared.
func NewLayout(cs Colorspace, alpha, index bool) Layout {
	var l Layout
	for i := range l.offsets {
		l.offsets[i] = -1
	}

	switch cs {
	case GrayColorspace:
		l = l.with(Gray, UpdateTrait|BlendTrait)
	case CMYK:
		l = l.with(Cyan, UpdateTrait|BlendTrait)
		l = l.with(Magenta, UpdateTrait|BlendTrait)
		l = l.with(Yellow, UpdateTrait|BlendTrait)
		l = l.with(Black, UpdateTrait|BlendTrait)
	default:
		l = l.with(Red, UpdateTrait|BlendTrait)
		l = l.with(Green, UpdateTrait|BlendTrait)
		l = l.with(Blue, UpdateTrait|BlendTrait)
	}
	if alpha {
		l = l.with(Alpha, UpdateTrait)
	}
	if index {
		l = l.with(Index, CopyTrait)
	}
	return l
}

func (l Layout) with(c Channel, t Trait) Layout {
	l.order[l.n] = c
	l.offsets[c] = int8(l.n)
	l.traits[c] = t
	l.n++
	return l
}

// NumChannels returns the number of samples per pixel.
func (l Layout) NumChannels() int { return l.n }

// Channel returns the channel stored at position i.
func (l Layout) Channel(i int) Channel { return l.order[i] }

// Offset returns the position of c inside a pixel.
func (l Layout) Offset(c Channel) (int, bool) {
	if int(c) >= MaxChannels || l.offsets[c] < 0 {
		return 0, false
	}
	return int(l.offsets[c]), true
}

// Has reports whether c is stored.
func (l Layout) Has(c Channel) bool {
	_, ok := l.Offset(c)
	return ok
}

// Traits returns the traits of c (UndefinedTrait if c is absent).
func (l Layout) Traits(c Channel) Trait {
	if !l.Has(c) {
		return UndefinedTrait
	}
	return l.traits[c]
}

// WithMask returns a copy whose channels outside mask lose UpdateTrait.
func (l Layout) WithMask(mask ChannelMask) Layout {
	for i := 0; i < l.n; i++ {
		c := l.order[i]
		if c == Index {
			continue
		}
		if mask.Contains(c) {
			l.traits[c] = (l.traits[c] &^ CopyTrait) | UpdateTrait
		} else {
			l.traits[c] = (l.traits[c] &^ UpdateTrait) | CopyTrait
		}
	}
	return l
}

// UpdateChannels returns the channels with UpdateTrait in both layouts, in
// the order of l.
func (l Layout) UpdateChannels(o Layout) []Channel {
	out := make([]Channel, 0, l.n)
	for i := 0; i < l.n; i++ {
		c := l.order[i]
		if l.traits[c].Has(UpdateTrait) && o.Traits(c).Has(UpdateTrait) {
			out = append(out, c)
		}
	}
	return out
}
