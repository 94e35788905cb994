package render

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// DefaultDrainTimeout bounds how long Run waits for background tasks.
const DefaultDrainTimeout = 60 * time.Second

var (
	renderAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rendercache_render_attempts_total",
		Help: "Total render attempts by mode and outcome",
	}, []string{"mode", "outcome"})

	renderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rendercache_render_duration_seconds",
		Help:    "Render attempt duration in seconds by mode",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"mode"})
)

// Func renders a route. It must use ctx (or contexts derived from it) for
// every fetch so the fetches are attributed to this attempt.
type Func func(ctx context.Context) error

// Result is what the orchestrator reads back after an attempt.
type Result struct {
	Outcome Outcome

	// Revalidate is the minimum revalidate window observed; HasRevalidate is
	// false when no fetch declared one.
	Revalidate    int
	HasRevalidate bool

	// DynamicUsageDescription and DynamicUsageStack are set when a fetch
	// bailed out of static generation.
	DynamicUsageDescription string
	DynamicUsageStack       string

	// BackgroundTasks is the number of revalidations the attempt started.
	BackgroundTasks int

	Duration time.Duration
}

// Run executes one render attempt: it creates the attempt's store, runs fn
// under it, classifies the result and waits for background tasks (their
// errors are theirs to log) before returning.
func Run(ctx context.Context, opts Options, fn Func) Result {
	start := time.Now()
	store := NewStore(opts)

	err := fn(WithStore(ctx, store))
	outcome := Classify(err)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultDrainTimeout)
	defer cancel()
	if derr := store.Drain(drainCtx); derr != nil {
		log.Warn().
			Err(derr).
			Str("pathname", opts.Pathname).
			Msg("Background revalidations still running after drain timeout")
	}

	result := Result{
		Outcome:         outcome,
		BackgroundTasks: store.Scheduled(),
		Duration:        time.Since(start),
	}
	result.Revalidate, result.HasRevalidate = store.MinRevalidate()
	result.DynamicUsageDescription, result.DynamicUsageStack = store.DynamicUsage()

	mode := modeLabel(opts)
	renderAttemptsTotal.WithLabelValues(mode, outcome.Kind.String()).Inc()
	renderDuration.WithLabelValues(mode).Observe(result.Duration.Seconds())

	return result
}

func modeLabel(opts Options) string {
	switch {
	case opts.IsRevalidate:
		return "revalidate"
	case opts.IsStaticGeneration:
		return "static"
	default:
		return "dynamic"
	}
}
