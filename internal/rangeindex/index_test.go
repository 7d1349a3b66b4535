package rangeindex

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(start, end Address, v string) Record {
	return NewRecord(Range{Start: start, End: end}, map[string]string{"v": v})
}

func value(t *testing.T, x *Index, a Address) string {
	t.Helper()
	r, ok := x.Lookup(a)
	if !ok {
		return ""
	}
	return r.Attrs["v"]
}

func TestBuildConflictPolicy(t *testing.T) {
	testCases := []struct {
		name    string
		records []Record
		want    map[Address]string
	}{
		{
			name:    "equal range keeps existing",
			records: []Record{rec(10, 20, "A"), rec(10, 20, "B")},
			want:    map[Address]string{10: "A", 15: "A", 20: "A"},
		},
		{
			name:    "enclosed range keeps existing",
			records: []Record{rec(10, 20, "A"), rec(12, 18, "B")},
			want:    map[Address]string{10: "A", 12: "A", 18: "A", 20: "A"},
		},
		{
			name:    "enclosing range replaces existing",
			records: []Record{rec(12, 18, "A"), rec(10, 20, "B")},
			want:    map[Address]string{10: "B", 12: "B", 15: "B", 18: "B", 20: "B"},
		},
		{
			name:    "partial overlap discards incoming including its tail",
			records: []Record{rec(10, 20, "A"), rec(15, 25, "B")},
			want:    map[Address]string{17: "A", 20: "A", 21: "", 23: "", 25: ""},
		},
		{
			name:    "boundaries are inclusive",
			records: []Record{rec(10, 20, "A")},
			want:    map[Address]string{9: "", 10: "A", 20: "A", 21: ""},
		},
		{
			name:    "disjoint unsorted input",
			records: []Record{rec(100, 200, "C"), rec(10, 20, "A"), rec(30, 40, "B")},
			want:    map[Address]string{15: "A", 35: "B", 150: "C", 25: "", 250: ""},
		},
		{
			name:    "start probe miss trims the entry it reaches into",
			records: []Record{rec(15, 30, "A"), rec(10, 20, "B")},
			want:    map[Address]string{10: "B", 20: "B", 21: "A", 30: "A", 31: ""},
		},
		{
			name:    "start probe miss removes entries it covers",
			records: []Record{rec(15, 18, "A"), rec(22, 24, "C"), rec(10, 25, "B")},
			want:    map[Address]string{10: "B", 16: "B", 23: "B", 25: "B"},
		},
		{
			name:    "full address space",
			records: []Record{rec(0, 0xFFFFFFFF, "ALL"), rec(10, 20, "A")},
			want:    map[Address]string{0: "ALL", 15: "ALL", 0xFFFFFFFF: "ALL"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			x, err := Build("test", tc.records)
			require.NoError(t, err)
			for a, v := range tc.want {
				assert.Equal(t, v, value(t, x, a), "lookup %d", a)
			}
			assertDisjoint(t, x)
		})
	}
}

func TestBuildStats(t *testing.T) {
	x, err := Build("test", []Record{
		rec(10, 20, "A"),
		rec(12, 18, "B"),
		rec(30, 40, "C"),
		rec(28, 45, "D"),
		rec(44, 50, "E"),
	})
	require.NoError(t, err)
	st := x.Stats()
	assert.Equal(t, 5, st.Input)
	assert.Equal(t, 3, st.Inserted)
	assert.Equal(t, 1, st.Kept)
	assert.Equal(t, 0, st.Replaced)
	assert.Equal(t, 1, st.Anomalies)
	assert.Equal(t, 2, x.Len())
	assert.Equal(t, "D", value(t, x, 29))
}

func TestBuildRejectsInvalidRange(t *testing.T) {
	_, err := Build("broken", []Record{rec(10, 20, "A"), rec(30, 25, "B")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRange))
	var ce *ConstructionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "broken", ce.Binding)
	assert.Equal(t, 1, ce.Position)
	assert.Contains(t, err.Error(), ErrInvalidRange.Error())
	assert.Contains(t, err.Error(), "record 1")
}

func TestBuildWithLoggerReportsAnomalies(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	x, err := BuildWithLogger(l, "own", []Record{rec(10, 20, "A"), rec(15, 30, "B")})
	require.NoError(t, err)
	assert.Equal(t, 1, x.Stats().Anomalies)
	assert.Contains(t, buf.String(), "range_overlap_anomaly")
	assert.Contains(t, buf.String(), "binding=own")

	_, err = BuildWithLogger(nil, "nil", []Record{rec(1, 2, "A")})
	assert.NoError(t, err)
}

func TestBuildEmpty(t *testing.T) {
	x, err := Build("empty", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, x.Len())
	_, ok := x.Lookup(42)
	assert.False(t, ok)

	var nilIndex *Index
	_, ok = nilIndex.Lookup(42)
	assert.False(t, ok)
}

func TestRecordKeepsSourceRange(t *testing.T) {
	x, err := Build("test", []Record{rec(15, 30, "A"), rec(10, 20, "B")})
	require.NoError(t, err)
	r, ok := x.Lookup(25)
	require.True(t, ok)
	assert.Equal(t, Range{Start: 15, End: 30}, r.Range)
	es := x.Entries()
	require.Len(t, es, 2)
	assert.Equal(t, Range{Start: 21, End: 30}, es[1].Range)
}

// 随机生成大量相互重叠的输入，校验构建结果互不重叠且每个条目都可被查到
func TestBuildNeverOverlaps(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var records []Record
		for i := 0; i < 300; i++ {
			s := Address(rnd.Intn(5000))
			e := s + Address(rnd.Intn(200))
			records = append(records, rec(s, e, "x"))
		}
		x, err := Build("random", records)
		require.NoError(t, err)
		assertDisjoint(t, x)
		for _, e := range x.Entries() {
			got, ok := x.Lookup(e.Range.Start)
			require.True(t, ok)
			assert.Equal(t, e.Record.Range, got.Range)
			got, ok = x.Lookup(e.Range.End)
			require.True(t, ok)
			assert.Equal(t, e.Record.Range, got.Range)
		}
	}
}

func assertDisjoint(t *testing.T, x *Index) {
	t.Helper()
	es := x.Entries()
	for i := range es {
		require.True(t, es[i].Range.Valid())
		if i > 0 {
			require.Less(t, uint32(es[i-1].Range.End), uint32(es[i].Range.Start), "entries %d and %d overlap", i-1, i)
		}
	}
}
