package pixel

import "math"

// Quantum is one stored sample of one channel.
type Quantum uint16

const (
	// QuantumDepth is the number of bits per stored sample.
	QuantumDepth = 16
	// SampleSize is the number of bytes per stored sample.
	SampleSize = 2
	// QuantumRange is the largest representable sample value.
	QuantumRange = 65535.0
	// QuantumScale converts a stored sample into the normalized [0,1] range.
	QuantumScale = 1.0 / QuantumRange

	// MagickEpsilon is the smallest difference treated as perceptible.
	MagickEpsilon = 1.0e-12
	// MagickSQ1_2 is sqrt(1/2), the floor for fuzz comparisons.
	MagickSQ1_2 = 0.70710678118654752440084436210484903928483593768847
)

// Normalize maps a stored sample to [0,1].
func Normalize(q Quantum) float64 {
	return QuantumScale * float64(q)
}

// ClampToQuantum rounds v (in quantum units) to the nearest sample,
// saturating at 0 and QuantumRange. NaN maps to 0.
func ClampToQuantum(v float64) Quantum {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= QuantumRange {
		return Quantum(QuantumRange)
	}
	return Quantum(v + 0.5)
}

// ScaleToQuantum maps a normalized value to a stored sample.
func ScaleToQuantum(v float64) Quantum {
	return ClampToQuantum(QuantumRange * v)
}

// ScaleCharToQuantum widens an 8-bit sample.
func ScaleCharToQuantum(v uint8) Quantum {
	return Quantum(uint16(v) * 257)
}

// ScaleQuantumToChar narrows a sample to 8 bits with rounding.
func ScaleQuantumToChar(q Quantum) uint8 {
	return uint8((uint32(q) + 128) / 257)
}

// PerceptibleReciprocal returns 1/x, or sign(x)/MagickEpsilon when |x| is
// too small to divide by.
func PerceptibleReciprocal(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	if sign*x >= MagickEpsilon {
		return 1.0 / x
	}
	return sign / MagickEpsilon
}

// Intensity returns the Rec. 709 luma of a color given in any unit.
func Intensity(red, green, blue float64) float64 {
	return 0.212656*red + 0.715158*green + 0.072186*blue
}
