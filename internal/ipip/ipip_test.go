package ipip

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walk(t *testing.T, r *Reader, lang string) []Leaf {
	t.Helper()
	var out []Leaf
	require.NoError(t, r.WalkIPv4(lang, func(l Leaf) error {
		out = append(out, l)
		return nil
	}))
	return out
}

func TestWalkIPv4(t *testing.T) {
	r, err := Open(filepath.Join("testdata", "sample.ipdb"))
	require.NoError(t, err)
	assert.Equal(t, []string{"country_name", "region_name", "city_name"}, r.Fields())
	assert.Equal(t, int64(1704067200), r.Build())

	leaves := walk(t, r, "EN")
	require.Len(t, leaves, 2)
	assert.Equal(t, Leaf{Prefix: 0, Length: 1, Values: map[string]string{"country_name": "United States", "region_name": "California"}}, leaves[0])
	assert.Equal(t, Leaf{Prefix: 0x80000000, Length: 2, Values: map[string]string{"country_name": "China", "region_name": "Beijing", "city_name": "Beijing"}}, leaves[1])

	cn := walk(t, r, "CN")
	assert.Equal(t, "中国", cn[1].Values["country_name"])
	// 未知语言回退到最小偏移
	assert.Equal(t, cn, walk(t, r, "JP"))
}

func TestWalkStopsOnError(t *testing.T) {
	r, err := Open(filepath.Join("testdata", "sample.ipdb"))
	require.NoError(t, err)
	stop := errors.New("stop")
	n := 0
	err = r.WalkIPv4("EN", func(Leaf) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestParseRejectsCorrupt(t *testing.T) {
	body, err := os.ReadFile(filepath.Join("testdata", "sample.ipdb"))
	require.NoError(t, err)

	cases := map[string][]byte{
		"short":     {0, 0},
		"meta_len":  {0, 0, 1, 0, '{'},
		"meta_json": append([]byte{0, 0, 0, 1}, '{'),
		"truncated": body[:len(body)-1],
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(b)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
	_, err = Open(filepath.Join(t.TempDir(), "missing.ipdb"))
	assert.Error(t, err)
}
