package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/hupe1980/pixcache"
	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/compare"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/pixel"
)

type compareFlags struct {
	runtimeFlags

	metric         string
	fuzz           string
	subimage       bool
	similarity     float64
	dissimilarity  float64
	earlyExit      string
	virtualPixel   string
	highlightColor string
	lowlightColor  string
	compose        string
	channel        string
	defines        []string
	similarityMap  string
	verbose        bool
}

// CompareCmd returns the compare command.
func CompareCmd(env map[string]string) *Command {
	var f compareFlags
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	f.register(fs)
	fs.StringVar(&f.metric, "metric", "", "Distortion metric (AE, DPC, DSSIM, FUZZ, MAE, MEPP, MSE, NCC, PAE, PHASE, PHASH, PSNR, RMSE, SSIM); default NCC")
	fs.StringVar(&f.fuzz, "fuzz", "", "Colors within this distance are equal, in quantum units or as a percentage")
	fs.BoolVar(&f.subimage, "subimage-search", false, "Locate the reconstruction inside the reference")
	fs.Float64Var(&f.similarity, "similarity-threshold", -1, "Stop the search at the first offset scoring at or below this value")
	fs.Float64Var(&f.dissimilarity, "dissimilarity-threshold", compare.DefaultDissimilarityThreshold, "Warn when the best offset scores above this value")
	fs.StringVar(&f.earlyExit, "early-exit", "", "Search policy once the similarity threshold is met (first, exhaustive)")
	fs.StringVar(&f.virtualPixel, "virtual-pixel", "", "Virtual pixel method for reads outside the image")
	fs.StringVar(&f.highlightColor, "highlight-color", "", "Difference image color of differing pixels")
	fs.StringVar(&f.lowlightColor, "lowlight-color", "", "Difference image color of equal pixels")
	fs.StringVar(&f.compose, "compose", "", "Operator used to overlay the difference layer")
	fs.StringVar(&f.channel, "channel", "", "Channels to compare, e.g. RGB or red,alpha")
	fs.StringArrayVar(&f.defines, "define", nil, "Image artifact as key=value")
	fs.StringVar(&f.similarityMap, "similarity-map", "", "Write the subimage search similarity map to this file")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Print the distortion of every channel")

	return &Command{
		Flags: fs,
		Usage: "compare [flags] <reference> <reconstruction> [difference]",
		Short: "Measure the distortion between two images",
		Long: `Measure the distortion of a reconstructed image against a reference.

The distortion is written to stderr. When a difference path is given the
highlighted difference image is written there ("-" for stdout). Exit status
is 0 when the images are similar, 1 when they differ and 2 on error.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return runCompare(ctx, o, fs, &f, args, env)
		},
	}
}

func runCompare(ctx context.Context, o *IO, fs *flag.FlagSet, f *compareFlags, args []string, env map[string]string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("%w: want <reference> <reconstruction> [difference], got %d arguments", errInvalidFlag, len(args))
	}

	cfg, err := f.load(fs, env)
	if err != nil {
		return err
	}
	if f.virtualPixel != "" {
		if cfg.VirtualPixel, err = cache.ParseVirtualPixelMethod(f.virtualPixel); err != nil {
			return err
		}
	}
	req, err := f.request(fs)
	if err != nil {
		return err
	}
	req.Difference = len(args) == 3

	log := logger(o, cfg)
	opts := []pixcache.Option{pixcache.WithConfig(cfg), pixcache.WithLogger(log)}
	if cfg.Remote != "" && len(cfg.Hosts) == 0 {
		remote, err := openRemote(ctx, cfg.Remote, cfg, env, log.Logger)
		if err != nil {
			return err
		}
		opts = append(opts, pixcache.WithRemote(remote))
	}
	rt, err := pixcache.New(opts...)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	reference, err := pixcache.ReadImage(ctx, rt, args[0])
	if err != nil {
		return err
	}
	reconstruction, err := pixcache.ReadImage(ctx, rt, args[1])
	if err != nil {
		return err
	}
	if err := f.apply(reference, reconstruction); err != nil {
		return err
	}

	exc := exception.NewCollector()
	report, err := compare.Compare(ctx, rt, reference, reconstruction, req, exc)
	o.WarnAll(exc)
	if err != nil {
		return err
	}
	defer report.Close(ctx)

	if err := compare.FormatReport(o.Err(), report, f.verbose); err != nil {
		return err
	}
	if report.Difference != nil {
		if err := writeImage(ctx, o, report.Difference, args[2]); err != nil {
			return err
		}
	}
	if report.SimilarityMap != nil {
		if err := writeImage(ctx, o, report.SimilarityMap, f.similarityMap); err != nil {
			return err
		}
	}
	if !report.Similar() {
		return ErrDissimilar
	}
	return nil
}

// request builds the comparison request from the metric and search flags.
func (f *compareFlags) request(fs *flag.FlagSet) (compare.Request, error) {
	var req compare.Request
	if f.metric != "" {
		m, err := compare.ParseMetric(f.metric)
		if err != nil {
			return req, err
		}
		req.Metric = m
	}
	req.SubimageSearch = f.subimage

	search := compare.DefaultSearchOptions()
	if fs.Changed("similarity-threshold") {
		search.SimilarityThreshold = f.similarity
	}
	if fs.Changed("dissimilarity-threshold") {
		search.DissimilarityThreshold = f.dissimilarity
	}
	if f.earlyExit != "" {
		e, err := compare.ParseEarlyExit(f.earlyExit)
		if err != nil {
			return req, err
		}
		search.EarlyExit = e
	}
	search.SimilarityMap = f.similarityMap != ""
	req.Search = &search
	return req, nil
}

// apply copies the image settings given on the command line to both images.
// Artifacts and difference colors go on the reference only.
func (f *compareFlags) apply(reference, reconstruction *pixcache.Image) error {
	if f.fuzz != "" {
		fuzz, err := parseFuzz(f.fuzz)
		if err != nil {
			return err
		}
		reference.SetFuzz(fuzz)
		reconstruction.SetFuzz(fuzz)
	}
	if f.channel != "" {
		mask, err := pixel.ParseChannelMask(f.channel)
		if err != nil {
			return err
		}
		reference.SetChannelMask(mask)
		reconstruction.SetChannelMask(mask)
	}
	if f.compose != "" {
		op, err := pixcache.ParseCompositeOperator(f.compose)
		if err != nil {
			return err
		}
		reference.SetCompose(op)
	}
	for key, value := range map[string]string{
		"highlight-color": f.highlightColor,
		"lowlight-color":  f.lowlightColor,
	} {
		if value != "" {
			if _, err := pixel.ParseColor(value); err != nil {
				return err
			}
			reference.SetArtifact(key, value)
		}
	}
	for _, d := range f.defines {
		key, value, ok := strings.Cut(d, "=")
		if !ok || key == "" {
			return fmt.Errorf("%w: --define %q, want key=value", errInvalidFlag, d)
		}
		reference.SetArtifact(key, value)
	}
	return nil
}

// parseFuzz parses an absolute fuzz in quantum units or a percentage of
// the quantum range.
func parseFuzz(s string) (float64, error) {
	s = strings.TrimSpace(s)
	pct, isPct := strings.CutSuffix(s, "%")
	v, err := strconv.ParseFloat(pct, 64)
	if err != nil || v < 0 {
		return 0, exception.New(exception.ErrOption, "InvalidArgument", "fuzz "+s)
	}
	if isPct {
		return v / 100 * pixel.QuantumRange, nil
	}
	return v, nil
}

func writeImage(ctx context.Context, o *IO, img *pixcache.Image, path string) error {
	if path == "-" {
		return pixcache.EncodeImage(ctx, o.Out(), img, "png")
	}
	return pixcache.WriteImage(ctx, img, path)
}
