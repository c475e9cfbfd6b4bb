// Package pixcache provides an on-demand pixel cache and an image comparison
// engine for Go.
//
// Images keep their pixels in exactly one cache store. The store is chosen
// when the pixels are first touched: process memory while the memory ceiling
// allows it, then a memory-mapped scratch file, then a plain scratch file,
// and finally a remote cache server or blob store when one is configured.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, _ := pixcache.New(pixcache.WithConfig(cfg))
//	defer rt.Close(ctx)
//
//	a, _ := pixcache.ReadImage(ctx, rt, "a.png")
//	b, _ := pixcache.ReadImage(ctx, rt, "b.png")
//
//	report, _ := compare.Compare(ctx, rt, a, b, compare.Request{Metric: compare.RMSE}, nil)
//	compare.FormatReport(os.Stdout, report, false)
//
// # Resource Ceilings
//
// Config carries the memory, map and disk ceilings. Sizes accept humanized
// strings:
//
//	cfg, _ := pixcache.LoadConfig("pixcache.hujson", nil)
//	_ = cfg.SetLimit("memory", "256MiB")
//
// When a memory request does not fit, least recently used memory stores that
// nobody holds a window on are demoted to disk before the new store falls
// back to a slower tier.
//
// # Virtual Pixels
//
// Reads outside the image are resolved by the image's virtual pixel method
// (edge, mirror, tile, background, and so on):
//
//	img.SetVirtualPixelMethod(cache.MirrorVirtualPixel)
//	px, _ := img.ReadPixels(ctx, cache.Rect(-2, -2, 8, 8))
//
// # Distributed Cache
//
// A pixcache-server process serves pixel caches over TCP. Clients list it in
// Config.Hosts together with the shared secret.
package pixcache
