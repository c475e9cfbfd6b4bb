// Package conv computes buffer sizes without silent integer wraparound.
package conv
