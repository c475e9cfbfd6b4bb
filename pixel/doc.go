// Package pixel defines the sample model shared by the pixel cache and the
// comparison engine.
//
// # Quantum
//
// Every channel of every pixel is stored as a 16-bit [Quantum]. Conversions
// between stored samples and the normalized [0,1] range always go through
// [QuantumScale] (or [ClampToQuantum] in the other direction) so rounding is
// identical everywhere:
//
//	v := pixel.Normalize(q)          // q * QuantumScale
//	q := pixel.ClampToQuantum(v * pixel.QuantumRange)
//
// # Channels and Layouts
//
// A [Layout] is the ordered channel map of one image. It records which
// channels exist, where each one lives inside a pixel and which [Trait]s it
// carries. Only channels with [UpdateTrait] in both images take part in a
// comparison.
//
//	l := pixel.NewLayout(pixel.SRGB, true, false) // red, green, blue, alpha
//	off, ok := l.Offset(pixel.Alpha)               // 3, true
//
// # Colors
//
// [Color] holds channel values in quantum units. [ParseColor] understands
// hex notation, rgb()/rgba() and SVG color names.
package pixel
