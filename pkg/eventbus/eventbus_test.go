package eventbus

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type sample struct {
	value int
}

func TestBus_PublishToAllSubscribers(t *testing.T) {
	b := New[sample]("test")
	var got []int
	b.Subscribe(func(s sample) { got = append(got, s.value) })
	b.Subscribe(func(s sample) { got = append(got, s.value*10) })

	b.Publish(sample{value: 2})

	sort.Ints(got)
	assert.Equal(t, []int{2, 20}, got)
	assert.Equal(t, 2, b.Count())
	assert.Equal(t, "test", b.Name())
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New[sample]("test")
	calls := 0
	unsubscribe := b.Subscribe(func(sample) { calls++ })

	b.Publish(sample{})
	unsubscribe()
	unsubscribe()
	b.Publish(sample{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Count())
}

func TestBus_SubscribeDuringPublish(t *testing.T) {
	b := New[sample]("test")
	late := 0
	b.Subscribe(func(sample) {
		b.Subscribe(func(sample) { late++ })
	})

	b.Publish(sample{})
	assert.Equal(t, 0, late, "handler added during publish must not see the current event")

	b.Publish(sample{})
	assert.Equal(t, 1, late)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	b := New[sample]("empty")
	assert.NotPanics(t, func() { b.Publish(sample{}) })
}

func TestBus_CountsPublishedEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	b := New[sample]("counted")
	b.Publish(sample{})
	b.Publish(sample{})

	rm := metricdata.ResourceMetrics{}
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "racesim.eventbus.published" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				if v, found := dp.Attributes.Value("bus"); found && v.AsString() == "counted" {
					total += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), total)
}
