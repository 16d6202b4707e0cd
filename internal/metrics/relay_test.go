package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRelayMetrics_Exported(t *testing.T) {
	provider, err := NewProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rm, err := NewRelayMetrics(provider.MeterProvider(), "bookingrelay")
	require.NoError(t, err)

	ctx := context.Background()
	rm.RecordEvent(ctx, "webhook", "notified")
	rm.RecordEvent(ctx, "webhook", "duplicate")
	rm.RecordCallback(ctx, "claimed")
	rm.RecordTransition(ctx, "paid", "partial", 150*time.Millisecond)

	out := scrape(t, provider)
	assert.Regexp(t, `bookingrelay_events_total\{[^}]*result="duplicate"[^}]*\} 1`, out)
	assert.Regexp(t, `bookingrelay_callbacks_total\{[^}]*result="claimed"[^}]*\} 1`, out)
	assert.Regexp(t, `bookingrelay_transitions_total\{[^}]*outcome="paid"[^}]*status="partial"[^}]*\} 1`, out)
	assert.Contains(t, out, "bookingrelay_transition_duration_seconds")
}

func TestNoop(t *testing.T) {
	m := NewNoop()
	assert.NotPanics(t, func() {
		m.RecordEvent(context.Background(), "poll", "notified")
		m.RecordCallback(context.Background(), "duplicate")
		m.RecordTransition(context.Background(), "cancelled", "applied", time.Second)
	})
}
