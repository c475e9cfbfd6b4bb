package dpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/hupe1980/pixcache/pixel"
)

// DefaultPort is the port used when a host omits one.
const DefaultPort = 6668

// Commands. Each request is the command byte, the session key and the
// command's little-endian fields; each reply starts with a status byte.
const (
	cmdOpen    byte = 'o'
	cmdRead    byte = 'r'
	cmdWrite   byte = 'w'
	cmdDestroy byte = 'd'

	statusFailure byte = 0
	statusOK      byte = 1
)

var (
	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("dpc: server closed")
	// ErrRejected is returned when the server refuses a request.
	ErrRejected = errors.New("dpc: request rejected")
)

type openRequest struct {
	Columns  uint64
	Rows     uint64
	Channels uint64
}

type regionRequest struct {
	X      int64
	Y      int64
	Width  uint64
	Height uint64
	Length uint64
}

func writeRequest(w io.Writer, cmd byte, key uint64, body any) error {
	var hdr [9]byte
	hdr[0] = cmd
	binary.LittleEndian.PutUint64(hdr[1:], key)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if body == nil {
		return nil
	}
	return binary.Write(w, binary.LittleEndian, body)
}

func encodeQuanta(dst []byte, src []pixel.Quantum) {
	for i, q := range src {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(q))
	}
}

func decodeQuanta(dst []pixel.Quantum, src []byte) {
	for i := range dst {
		dst[i] = pixel.Quantum(binary.LittleEndian.Uint16(src[2*i:]))
	}
}

// layoutFor returns a layout with n samples per pixel. The server only
// stores samples, so channel semantics do not matter.
func layoutFor(n uint64) (pixel.Layout, error) {
	switch n {
	case 1:
		return pixel.NewLayout(pixel.GrayColorspace, false, false), nil
	case 2:
		return pixel.NewLayout(pixel.GrayColorspace, true, false), nil
	case 3:
		return pixel.NewLayout(pixel.SRGB, false, false), nil
	case 4:
		return pixel.NewLayout(pixel.SRGB, true, false), nil
	case 5:
		return pixel.NewLayout(pixel.CMYK, true, false), nil
	case 6:
		return pixel.NewLayout(pixel.CMYK, true, true), nil
	}
	return pixel.Layout{}, fmt.Errorf("dpc: unsupported channel count %d", n)
}

// ParseHosts splits a comma or space separated host list, adding
// DefaultPort where a host has none.
func ParseHosts(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	hosts := make([]string, 0, len(fields))
	for _, h := range fields {
		if _, _, err := net.SplitHostPort(h); err != nil {
			h = net.JoinHostPort(h, strconv.Itoa(DefaultPort))
		}
		hosts = append(hosts, h)
	}
	return hosts
}
