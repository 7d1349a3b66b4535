package binding

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipinfo/internal/logger"
	"ipinfo/internal/rangeindex"
	"ipinfo/internal/refresh"
)

type fakeSource struct {
	name    string
	batches [][]rangeindex.Record
	errs    []error
	calls   atomic.Int64
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchRecords(context.Context) ([]rangeindex.Record, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	return f.batches[n%len(f.batches)], nil
}

func cidr(t *testing.T, s string, attrs map[string]string) rangeindex.Record {
	t.Helper()
	r, err := rangeindex.ParseCIDR(s)
	require.NoError(t, err)
	return rangeindex.NewRecord(r, attrs)
}

func addr(t *testing.T, s string) rangeindex.Address {
	t.Helper()
	a, err := rangeindex.ParseAddress(s)
	require.NoError(t, err)
	return a
}

// awsRecords：与 AWS 样例数据一致的四条记录（两条 /14 相同网段分属 AMAZON 与 EC2）
func awsRecords(t *testing.T) []rangeindex.Record {
	return []rangeindex.Record{
		cidr(t, "23.20.0.0/14", map[string]string{"region": "us-east-1", "service": "AMAZON"}),
		cidr(t, "27.0.0.0/22", map[string]string{"region": "ap-northeast-1", "service": "AMAZON"}),
		cidr(t, "23.20.0.0/14", map[string]string{"region": "us-east-1", "service": "EC2"}),
		cidr(t, "46.51.128.0/18", map[string]string{"region": "eu-west-1", "service": "EC2"}),
	}
}

func TestEagerPlain(t *testing.T) {
	src := &fakeSource{name: "AWS", batches: [][]rangeindex.Record{awsRecords(t)}}
	b, err := NewEager(context.Background(), src, WithLogger(logger.Discard()))
	require.NoError(t, err)
	defer b.Close()

	set, ok := b.Snapshot()
	require.True(t, ok)
	require.Len(t, set, 1)
	idx := set["AWS"]
	require.NotNil(t, idx)
	assert.Equal(t, 3, idx.Len())

	r, ok := idx.Lookup(addr(t, "23.21.1.1"))
	require.True(t, ok)
	assert.Equal(t, "AMAZON", r.Attrs["service"])
	assert.False(t, b.Partitioned())
}

func TestEagerPartitioned(t *testing.T) {
	src := &fakeSource{name: "AWS", batches: [][]rangeindex.Record{awsRecords(t)}}
	b, err := NewEager(context.Background(), src, PartitionBy("service"), WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.True(t, b.Partitioned())

	set, ok := b.Snapshot()
	require.True(t, ok)
	require.Len(t, set, 2)
	require.Contains(t, set, "AWS:AMAZON")
	require.Contains(t, set, "AWS:EC2")

	a := addr(t, "23.20.5.5")
	r, ok := set["AWS:AMAZON"].Lookup(a)
	require.True(t, ok)
	assert.Equal(t, "AMAZON", r.Attrs["service"])
	r, ok = set["AWS:EC2"].Lookup(a)
	require.True(t, ok)
	assert.Equal(t, "EC2", r.Attrs["service"])

	_, ok = set["AWS:AMAZON"].Lookup(addr(t, "46.51.130.1"))
	assert.False(t, ok)
	_, ok = set["AWS:EC2"].Lookup(addr(t, "46.51.130.1"))
	assert.True(t, ok)
}

func TestPartitionMissingKey(t *testing.T) {
	set, err := BuildSet("SRC", "service", []rangeindex.Record{
		cidr(t, "10.0.0.0/8", map[string]string{"region": "x"}),
	})
	require.NoError(t, err)
	assert.Contains(t, set, "SRC:")
}

func TestEagerFetchError(t *testing.T) {
	cause := errors.New("connection refused")
	src := &fakeSource{name: "AZURE", batches: [][]rangeindex.Record{nil}, errs: []error{cause}}
	b, err := NewEager(context.Background(), src, WithLogger(logger.Discard()))
	assert.Nil(t, b)
	require.Error(t, err)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "AZURE", fe.Source)
	assert.ErrorIs(t, err, cause)
}

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

func TestPeriodicKeepsIndexOnBadBatch(t *testing.T) {
	good := []rangeindex.Record{cidr(t, "10.0.0.0/8", map[string]string{"v": "1"})}
	bad := []rangeindex.Record{rangeindex.NewRecord(rangeindex.Range{Start: 9, End: 1}, nil)}
	next := []rangeindex.Record{cidr(t, "11.0.0.0/8", map[string]string{"v": "3"})}
	src := &fakeSource{name: "SRC", batches: [][]rangeindex.Record{good, bad, next}}

	tk := &manualTicker{ch: make(chan time.Time)}
	b := NewPeriodic(src, time.Hour,
		WithLogger(logger.Discard()),
		WithRefreshOptions(refresh.WithTicker(func(time.Duration) refresh.Ticker { return tk })),
	)
	defer b.Close()

	wait := func(n int64) {
		require.Eventually(t, func() bool {
			st := b.Status()
			return st.Successes+st.Failures >= n
		}, 2*time.Second, 2*time.Millisecond)
	}
	wait(1)
	set, ok := b.Snapshot()
	require.True(t, ok)
	_, hit := set["SRC"].Lookup(addr(t, "10.1.1.1"))
	assert.True(t, hit)

	tk.ch <- time.Now()
	wait(2)
	st := b.Status()
	assert.Equal(t, int64(1), st.Failures)
	assert.Contains(t, st.LastError, "invalid range")
	set, _ = b.Snapshot()
	_, hit = set["SRC"].Lookup(addr(t, "10.1.1.1"))
	assert.True(t, hit)

	tk.ch <- time.Now()
	wait(3)
	set, _ = b.Snapshot()
	_, hit = set["SRC"].Lookup(addr(t, "10.1.1.1"))
	assert.False(t, hit)
	_, hit = set["SRC"].Lookup(addr(t, "11.1.1.1"))
	assert.True(t, hit)
}

func TestBindingLoggerReceivesBuildWarnings(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	src := &fakeSource{name: "AWS", batches: [][]rangeindex.Record{{
		cidr(t, "10.0.0.0/16", map[string]string{"service": "EC2"}),
		rangeindex.NewRecord(rangeindex.Range{Start: addr(t, "10.0.255.0"), End: addr(t, "10.1.0.255")}, map[string]string{"service": "EC2"}),
	}}}
	b, err := NewEager(context.Background(), src, PartitionBy("service"), WithLogger(l))
	require.NoError(t, err)
	defer b.Close()

	assert.Contains(t, buf.String(), "range_overlap_anomaly")
	assert.Contains(t, buf.String(), "binding=AWS:EC2")
}

func TestFailKeepsExistingFetchError(t *testing.T) {
	inner := &FetchError{Source: "A", Err: errors.New("x")}
	assert.Same(t, inner, Fail("B", inner))
	assert.Nil(t, Fail("B", nil))
}
