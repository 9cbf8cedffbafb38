package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// BufferPoolMetrics holds all the metric instruments for the buffer pool and its heap file.
// A nil *BufferPoolMetrics records nothing.
type BufferPoolMetrics struct {
	HitsCounter           metric.Int64Counter
	MissesCounter         metric.Int64Counter
	EvictionsCounter      metric.Int64Counter
	DirtyFlushesCounter   metric.Int64Counter
	ExhaustedCounter      metric.Int64Counter
	PinnedFramesUpDown    metric.Int64UpDownCounter
	DiskReadBytesCounter  metric.Int64Counter
	DiskWriteBytesCounter metric.Int64Counter
}

// NewBufferPoolMetrics creates and registers all the metrics for the buffer pool.
// A nil meter falls back to a no-op meter.
func NewBufferPoolMetrics(meter metric.Meter) (*BufferPoolMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	m := &BufferPoolMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.HitsCounter, "gojodb.bufferpool.hits_total", "Fetches served from a resident frame.", "1"},
		{&m.MissesCounter, "gojodb.bufferpool.misses_total", "Fetches that had to load the page from disk.", "1"},
		{&m.EvictionsCounter, "gojodb.bufferpool.evictions_total", "Frames repurposed for a different page.", "1"},
		{&m.DirtyFlushesCounter, "gojodb.bufferpool.dirty_flushes_total", "Dirty pages written back to the heap file.", "1"},
		{&m.ExhaustedCounter, "gojodb.bufferpool.exhausted_total", "Misses rejected because every frame was leased.", "1"},
		{&m.DiskReadBytesCounter, "gojodb.disk.read_bytes_total", "Bytes read from the heap file.", "By"},
		{&m.DiskWriteBytesCounter, "gojodb.disk.write_bytes_total", "Bytes written to the heap file.", "By"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	pinned, err := meter.Int64UpDownCounter(
		"gojodb.bufferpool.pinned_frames",
		metric.WithDescription("Frames with at least one outstanding lease."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	m.PinnedFramesUpDown = pinned
	return m, nil
}

func (m *BufferPoolMetrics) RecordHit(ctx context.Context) {
	if m != nil {
		m.HitsCounter.Add(ctx, 1)
	}
}

func (m *BufferPoolMetrics) RecordMiss(ctx context.Context) {
	if m != nil {
		m.MissesCounter.Add(ctx, 1)
	}
}

func (m *BufferPoolMetrics) RecordEviction(ctx context.Context) {
	if m != nil {
		m.EvictionsCounter.Add(ctx, 1)
	}
}

func (m *BufferPoolMetrics) RecordDirtyFlush(ctx context.Context) {
	if m != nil {
		m.DirtyFlushesCounter.Add(ctx, 1)
	}
}

func (m *BufferPoolMetrics) RecordExhausted(ctx context.Context) {
	if m != nil {
		m.ExhaustedCounter.Add(ctx, 1)
	}
}

// RecordPinnedDelta tracks frames moving between pinned and unpinned.
func (m *BufferPoolMetrics) RecordPinnedDelta(ctx context.Context, delta int64) {
	if m != nil {
		m.PinnedFramesUpDown.Add(ctx, delta)
	}
}

func (m *BufferPoolMetrics) RecordDiskRead(ctx context.Context, n int) {
	if m != nil {
		m.DiskReadBytesCounter.Add(ctx, int64(n))
	}
}

func (m *BufferPoolMetrics) RecordDiskWrite(ctx context.Context, n int) {
	if m != nil {
		m.DiskWriteBytesCounter.Add(ctx, int64(n))
	}
}
