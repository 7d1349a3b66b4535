package logstats

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipinfo/internal/binding"
	"ipinfo/internal/logger"
	"ipinfo/internal/lookup"
	"ipinfo/internal/rangeindex"
)

type staticSource struct {
	name    string
	records []rangeindex.Record
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) FetchRecords(context.Context) ([]rangeindex.Record, error) {
	return s.records, nil
}

func rec(t *testing.T, cidr string, attrs map[string]string) rangeindex.Record {
	t.Helper()
	r, err := rangeindex.ParseCIDR(cidr)
	require.NoError(t, err)
	return rangeindex.NewRecord(r, attrs)
}

func newAggregator(t *testing.T) *lookup.Aggregator {
	t.Helper()
	agg := lookup.New()
	srcs := []binding.Source{
		&staticSource{name: "THYME", records: []rangeindex.Record{
			rec(t, "8.8.8.0/24", map[string]string{"ASN": "15169", "ASNORG": "GOOGLE"}),
			rec(t, "23.20.0.0/14", map[string]string{"ASN": "14618", "ASNORG": "AMAZON-AES"}),
		}},
		&staticSource{name: "AWS", records: []rangeindex.Record{
			rec(t, "23.20.0.0/14", map[string]string{"service": "AMAZON"}),
		}},
	}
	for _, s := range srcs {
		b, err := binding.NewEager(context.Background(), s, binding.WithLogger(logger.Discard()))
		require.NoError(t, err)
		require.NoError(t, agg.Register(b))
	}
	t.Cleanup(agg.Close)
	return agg
}

const accessLog = `8.8.8.8 - - [10/Oct/2024:13:55:36 +0000] "GET / HTTP/1.1" 200 2326
23.21.1.1 - - [10/Oct/2024:13:55:37 +0000] "GET / HTTP/1.1" 200 2326

8.8.8.9 - - [10/Oct/2024:13:55:38 +0000] "GET / HTTP/1.1" 200 2326
1.1.1.1 - - [10/Oct/2024:13:55:39 +0000] "GET / HTTP/1.1" 404 0
   
2001:db8::1 - - [10/Oct/2024:13:55:40 +0000] "GET / HTTP/1.1" 200 12
`

func TestAnalyze(t *testing.T) {
	rep, err := Analyze(strings.NewReader(accessLog), newAggregator(t))
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Rows)
	assert.Equal(t, map[string]int{"THYME": 3, "AWS": 1}, rep.ByBinding)
	assert.Equal(t, map[string]int{"GOOGLE": 2, "AMAZON-AES": 1}, rep.Orgs)
	assert.Equal(t, []string{"1.1.1.1", "2001:db8::1"}, rep.NoInfo)
	assert.Equal(t, []OrgCount{{"GOOGLE", 2}, {"AMAZON-AES", 1}}, rep.Top(TopOrgs))
	assert.Len(t, rep.Top(1), 1)
}

func TestTopTieBreak(t *testing.T) {
	rep := &Report{Orgs: map[string]int{"B": 3, "A": 3, "C": 5}}
	assert.Equal(t, []OrgCount{{"C", 5}, {"A", 3}, {"B", 3}}, rep.Top(10))
}

func TestWrite(t *testing.T) {
	rep := &Report{
		Rows:      1234,
		ByBinding: map[string]int{"THYME": 1200, "AWS": 3},
		Orgs:      map[string]int{"GOOGLE": 1200},
		NoInfo:    []string{"1.1.1.1"},
	}
	var buf bytes.Buffer
	require.NoError(t, rep.Write(&buf))
	out := buf.String()
	assert.Contains(t, out, "0\t1,200\tGOOGLE\n")
	assert.Contains(t, out, "All rows: 1,234\n")
	assert.Less(t, strings.Index(out, "\tAWS\t3"), strings.Index(out, "\tTHYME\t1,200"))
	assert.Contains(t, out, "IPs with no infos (1): 1.1.1.1\n")
}
