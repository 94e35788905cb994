package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Sternrassler/rendercache/internal/testutil"
	"github.com/Sternrassler/rendercache/pkg/cache"
	"github.com/Sternrassler/rendercache/pkg/render"
)

func TestOptionsFromContext(t *testing.T) {
	if got := OptionsFromContext(context.Background()); got != (Options{}) {
		t.Errorf("OptionsFromContext(empty) = %+v, want zero", got)
	}

	want := Options{Revalidate: cache.RevalidateAfter(10), Cache: cache.ModeForceCache}
	if got := OptionsFromContext(WithOptions(context.Background(), want)); got != want {
		t.Errorf("OptionsFromContext() = %+v, want %+v", got, want)
	}
}

func TestTransport_CachesThroughHTTPClient(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetVersionedResponse("/data", "v")

	incremental := newTestCache(newFakeClock())
	httpClient := newTestClient(t, upstream).HTTPClient()
	url := upstream.URL() + "/data"

	var bodies []string
	for i := 0; i < 2; i++ {
		result := renderOnce(t, render.Options{IsStaticGeneration: true, Pathname: "/sdk", Cache: incremental},
			func(ctx context.Context) error {
				ctx = WithOptions(ctx, Options{Revalidate: cache.RevalidateAfter(60)})
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				if err != nil {
					return err
				}
				resp, err := httpClient.Do(req)
				if err != nil {
					return err
				}
				bodies = append(bodies, readBody(t, resp))
				return nil
			})
		if result.Outcome.Kind != render.OutcomeSuccess {
			t.Fatalf("render %d outcome = %v, want success", i, result.Outcome.Kind)
		}
	}

	if len(bodies) != 2 || bodies[0] != "v-1" || bodies[1] != "v-1" {
		t.Errorf("bodies = %v, want [v-1 v-1]", bodies)
	}
	if got := upstream.RequestCount(); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}

func TestTransport_BailoutSurvivesURLError(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	httpClient := newTestClient(t, upstream).HTTPClient()

	result := renderOnce(t, render.Options{IsStaticGeneration: true, Pathname: "/sdk", Cache: newTestCache(newFakeClock())},
		func(ctx context.Context) error {
			ctx = WithOptions(ctx, Options{Cache: cache.ModeNoStore})
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.URL()+"/live", nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err == nil {
				resp.Body.Close()
				return nil
			}
			var due *render.DynamicUsageError
			if !errors.As(err, &due) {
				t.Errorf("error %v does not wrap *DynamicUsageError", err)
			}
			return err
		})

	if result.Outcome.Kind != render.OutcomeDynamic {
		t.Errorf("outcome = %v, want dynamic", result.Outcome.Kind)
	}
	if got := upstream.RequestCount(); got != 0 {
		t.Errorf("upstream requests = %d, want 0", got)
	}
}

func TestNew_UnwrapsInterceptingHTTPClient(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	base := upstream.Client()
	client := Wrap(base)

	nested := New(Config{HTTPClient: client.HTTPClient()})
	if nested.Upstream() != Doer(base) {
		t.Error("New() stacked an interception layer behind Transport")
	}
}
