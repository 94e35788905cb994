package render

import (
	"errors"
	"strings"
)

// OutcomeKind discriminates Outcome.
type OutcomeKind int

const (
	// OutcomeSuccess means the render completed.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeDynamic means the render bailed out of static generation.
	OutcomeDynamic

	// OutcomeNotFound means the route rendered not-found.
	OutcomeNotFound

	// OutcomeRedirect means the route redirected.
	OutcomeRedirect

	// OutcomeError means the render failed with a genuine error.
	OutcomeError
)

// String implements fmt.Stringer.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeDynamic:
		return "dynamic"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRedirect:
		return "redirect"
	default:
		return "error"
	}
}

// Outcome is the result of one render attempt, pattern-matched by the
// orchestrator instead of catching typed errors.
type Outcome struct {
	Kind OutcomeKind

	// Reason describes a dynamic bailout.
	Reason string

	// RedirectURL and Permanent describe a redirect.
	RedirectURL string
	Permanent   bool

	// Err is the genuine error for OutcomeError.
	Err error
}

// Classify maps a render error to its Outcome. A nil error is success.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess}
	}

	digest := DigestOf(err)
	switch {
	case digest == DigestDynamicUsage:
		var due *DynamicUsageError
		reason := err.Error()
		if errors.As(err, &due) {
			reason = due.Reason
		}
		return Outcome{Kind: OutcomeDynamic, Reason: reason}
	case digest == DigestNoSSR:
		return Outcome{Kind: OutcomeDynamic, Reason: err.Error()}
	case digest == DigestNotFound:
		return Outcome{Kind: OutcomeNotFound}
	case strings.HasPrefix(digest, digestRedirect+";"):
		parts := strings.SplitN(digest, ";", 3)
		out := Outcome{Kind: OutcomeRedirect}
		if len(parts) == 3 {
			out.Permanent = parts[1] == "permanent"
			out.RedirectURL = parts[2]
		}
		return out
	default:
		return Outcome{Kind: OutcomeError, Err: err}
	}
}

// IsStaticBailout reports whether the outcome stops the route from being
// emitted as a static artifact without failing the build.
func (o Outcome) IsStaticBailout() bool {
	switch o.Kind {
	case OutcomeDynamic, OutcomeNotFound, OutcomeRedirect:
		return true
	default:
		return false
	}
}
