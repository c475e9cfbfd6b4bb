// Package compare measures how far one image is from another.
//
// An Engine computes per-channel distortion for a Metric; a Search finds
// the best placement of a small image inside a larger one; Compare ties
// both together and builds the highlighted difference image:
//
//	report, err := compare.Compare(ctx, rt, a, b, compare.Request{
//		Metric:     compare.RMSE,
//		Difference: true,
//	}, exc)
//	if err != nil {
//		return err
//	}
//	defer report.Close(ctx)
//	compare.FormatReport(os.Stdout, report, false)
//
// Distortions are normalized: the Composite slot of a ChannelDistortion
// holds the aggregate and Metric.Scale converts values to display units.
package compare
