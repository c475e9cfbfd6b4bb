package compare

import (
	"math"
	"strings"

	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

// Metric selects a distortion measure.
type Metric uint8

const (
	UndefinedMetric Metric = iota
	// AE counts differing pixels (normalized by area).
	AE
	// Fuzz is the root of the mean squared distance.
	Fuzz
	// MAE is the mean absolute error.
	MAE
	// MEPP is the mean error per pixel in quantum units.
	MEPP
	// MSE is the mean squared error.
	MSE
	// RMSE is the root mean squared error.
	RMSE
	// PAE is the peak absolute error.
	PAE
	// PSNR is the peak signal to noise ratio, normalized so that identical
	// images score 1.
	PSNR
	// NCC is the normalized cross correlation.
	NCC
	// DPC is the dot product correlation.
	DPC
	// Phase is the peak of the phase correlation surface.
	Phase
	// PHash compares perceptual hashes built from image moments.
	PHash
	// SSIM is the structural similarity index.
	SSIM
	// DSSIM is the structural dissimilarity, (1-SSIM)/2.
	DSSIM
)

// SafePSNRReciprocal is 10*log10(1/MagickEpsilon), the largest PSNR in dB.
const SafePSNRReciprocal = 120.0

// DefaultDissimilarityThreshold is the best subimage score above which two
// images are reported as too dissimilar.
const DefaultDissimilarityThreshold = 1 / math.Pi

var metricNames = [...]string{
	"Undefined", "AE", "FUZZ", "MAE", "MEPP", "MSE", "RMSE", "PAE", "PSNR",
	"NCC", "DPC", "PHASE", "PHASH", "SSIM", "DSSIM",
}

var metricAliases = map[string]Metric{
	"absoluteerror":              AE,
	"fuzzerror":                  Fuzz,
	"meanabsoluteerror":          MAE,
	"meanerrorperpixel":          MEPP,
	"meansquarederror":           MSE,
	"rootmeansquarederror":       RMSE,
	"peakabsoluteerror":          PAE,
	"peaksignaltonoiseratio":     PSNR,
	"normalizedcrosscorrelation": NCC,
	"dotproductcorrelation":      DPC,
	"phasecorrelation":           Phase,
	"perceptualhash":             PHash,
	"structuralsimilarity":       SSIM,
	"structuraldissimilarity":    DSSIM,
}

func (m Metric) String() string {
	if int(m) < len(metricNames) {
		return metricNames[m]
	}
	return "Undefined"
}

// ParseMetric parses a metric mnemonic such as "RMSE" or a long name such as
// "RootMeanSquaredError". Matching ignores case, dashes and underscores.
func ParseMetric(s string) (Metric, error) {
	key := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	for i, name := range metricNames {
		if i != int(UndefinedMetric) && strings.ToLower(name) == key {
			return Metric(i), nil
		}
	}
	if m, ok := metricAliases[key]; ok {
		return m, nil
	}
	return UndefinedMetric, exception.New(exception.ErrOption, "UnrecognizedMetric", s)
}

func (m Metric) valid() bool { return m > UndefinedMetric && int(m) < len(metricNames) }

// Identical returns the value the metric yields for identical images.
func (m Metric) Identical() float64 {
	switch m {
	case PSNR, NCC, DPC, Phase, SSIM:
		return 1
	}
	return 0
}

// Dissimilarity maps a metric value onto a score where 0 means identical and
// larger means less similar.
func (m Metric) Dissimilarity(v float64) float64 {
	if m.Identical() == 1 {
		return 1 - v
	}
	return v
}

// Scale returns the factor a normalized metric value is multiplied by for
// display. area is the number of compared pixels.
func (m Metric) Scale(area float64) float64 {
	switch m {
	case AE:
		return area
	case PSNR:
		return SafePSNRReciprocal
	case MEPP, NCC, DPC, Phase, SSIM, DSSIM, PHash:
		return 1
	}
	return pixel.QuantumRange
}

// correlation reports metrics that are unreliable on constant images.
func (m Metric) correlation() bool {
	switch m {
	case NCC, DPC, Phase, PHash:
		return true
	}
	return false
}
