package pixel

import (
	"fmt"
	"strings"

	"github.com/hupe1980/pixcache/exception"
)

// Channel identifies one channel of a pixel.
type Channel uint8

const (
	Red Channel = iota
	Green
	Blue
	Black
	Alpha
	Index
)

// Channel aliases used by gray and CMYK images.
const (
	Gray    = Red
	Cyan    = Red
	Magenta = Green
	Yellow  = Blue
)

// MaxChannels is the number of distinct channel ids.
const MaxChannels = 6

// Composite is the synthetic slot holding an all-channels aggregate.
const Composite = Channel(MaxChannels)

var channelNames = [MaxChannels + 1]string{"red", "green", "blue", "black", "alpha", "index", "all"}

func (c Channel) String() string {
	if int(c) < len(channelNames) {
		return channelNames[c]
	}
	return fmt.Sprintf("channel(%d)", uint8(c))
}

// Trait describes how operators treat a channel.
type Trait uint8

const (
	UndefinedTrait Trait = 0
	CopyTrait      Trait = 1 << 0
	UpdateTrait    Trait = 1 << 1
	BlendTrait     Trait = 1 << 2
)

// Has reports whether all bits of o are set.
func (t Trait) Has(o Trait) bool { return t&o == o }

// ChannelMask is a set of channels an operation applies to.
type ChannelMask uint32

const (
	RedMask   ChannelMask = 1 << Red
	GreenMask ChannelMask = 1 << Green
	BlueMask  ChannelMask = 1 << Blue
	BlackMask ChannelMask = 1 << Black
	AlphaMask ChannelMask = 1 << Alpha
	IndexMask ChannelMask = 1 << Index

	GrayMask    = RedMask
	RGBMask     = RedMask | GreenMask | BlueMask
	AllChannels = RedMask | GreenMask | BlueMask | BlackMask | AlphaMask | IndexMask
)

// Contains reports whether c is part of the mask.
func (m ChannelMask) Contains(c Channel) bool {
	return m&(1<<c) != 0
}

var maskNames = map[string]ChannelMask{
	"all":         AllChannels,
	"default":     AllChannels,
	"red":         RedMask,
	"green":       GreenMask,
	"blue":        BlueMask,
	"cyan":        RedMask,
	"magenta":     GreenMask,
	"yellow":      BlueMask,
	"black":       BlackMask,
	"alpha":       AlphaMask,
	"opacity":     AlphaMask,
	"matte":       AlphaMask,
	"index":       IndexMask,
	"gray":        GrayMask,
	"grey":        GrayMask,
	"rgb":         RGBMask,
	"rgba":        RGBMask | AlphaMask,
	"cmyk":        RGBMask | BlackMask,
	"cmyka":       RGBMask | BlackMask | AlphaMask,
	"composite":   AllChannels,
	"sync":        AllChannels,
	"colors":      RGBMask | BlackMask,
	"transparent": AlphaMask,
}

var maskLetters = map[rune]ChannelMask{
	'r': RedMask, 'g': GreenMask, 'b': BlueMask,
	'c': RedMask, 'm': GreenMask, 'y': BlueMask,
	'k': BlackMask, 'a': AlphaMask, 'o': AlphaMask, 'i': IndexMask,
}

// ParseChannelMask parses a channel list such as "RGB", "red,alpha" or "All".
func ParseChannelMask(s string) (ChannelMask, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, exception.New(exception.ErrOption, "UnrecognizedChannelType", s)
	}

	var mask ChannelMask
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if m, ok := maskNames[part]; ok {
			mask |= m
			continue
		}
		for _, r := range part {
			m, ok := maskLetters[r]
			if !ok {
				return 0, exception.New(exception.ErrOption, "UnrecognizedChannelType", s)
			}
			mask |= m
		}
	}
	return mask, nil
}

// ChannelDistortion holds one value per channel id plus the aggregate in
// the Composite slot.
type ChannelDistortion [MaxChannels + 1]float64
