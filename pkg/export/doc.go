// Package export renders routes ahead of time and decides, per route,
// whether the output may be served statically and for how long.
//
// Each route is first rendered as a static generation attempt. The
// attempt's outcome decides the route's revalidate window:
//
//   - success: the smallest revalidate window any fetch declared, or
//     "forever" when none declared one
//   - dynamic usage, not-found or redirect: 0 (render on every request)
//   - any other error: the route fails
//
// Routes are rendered by a bounded worker pool:
//
//	exporter := export.New(store, export.DefaultConfig())
//	results, err := exporter.ExportAll(ctx, routes)
//
// Revalidate performs the incremental regeneration pass for a single route:
// stale fetches wait for fresh data so the regenerated output carries it.
package export
