package rangeindex

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	testCases := []struct {
		in   string
		want Address
		err  bool
	}{
		{in: "0.0.0.0", want: 0},
		{in: "10.0.0.1", want: 0x0A000001},
		{in: " 255.255.255.255 ", want: 0xFFFFFFFF},
		{in: "::ffff:192.168.1.1", want: 0xC0A80101},
		{in: "2001:db8::1", err: true},
		{in: "10.0.0", err: true},
		{in: "", err: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAddress(tc.in)
			if tc.err {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNotIPv4))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "10.0.0.1", Address(0x0A000001).String())
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), Address(0x01020304).Netip())
}

func TestParseCIDR(t *testing.T) {
	r, err := ParseCIDR("23.20.0.0/14")
	require.NoError(t, err)
	assert.Equal(t, "23.20.0.0-23.23.255.255", r.String())

	r, err = ParseCIDR("10.1.2.3/24")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.0-10.1.2.255", r.String())

	r, err = ParseCIDR("1.2.3.4/32")
	require.NoError(t, err)
	assert.Equal(t, r.Start, r.End)

	r, err = ParseCIDR("0.0.0.0/0")
	require.NoError(t, err)
	assert.Equal(t, Range{Start: 0, End: 0xFFFFFFFF}, r)

	_, err = ParseCIDR("2001:db8::/32")
	assert.True(t, errors.Is(err, ErrNotIPv4))

	_, err = ParseCIDR("nonsense")
	assert.Error(t, err)
}

func TestRangeRelations(t *testing.T) {
	outer := Range{Start: 10, End: 20}
	assert.True(t, outer.Encloses(outer))
	assert.True(t, outer.Encloses(Range{Start: 12, End: 18}))
	assert.False(t, outer.Encloses(Range{Start: 15, End: 25}))
	assert.True(t, outer.Overlaps(Range{Start: 20, End: 25}))
	assert.False(t, outer.Overlaps(Range{Start: 21, End: 25}))
	assert.True(t, outer.Contains(10))
	assert.True(t, outer.Contains(20))
	assert.False(t, outer.Contains(21))

	_, err := NewRange(5, 4)
	assert.True(t, errors.Is(err, ErrInvalidRange))
}

func TestNewRecordCopiesAttrs(t *testing.T) {
	attrs := map[string]string{"ASN": "13335"}
	r := NewRecord(Range{Start: 1, End: 2}, attrs)
	attrs["ASN"] = "0"
	v, ok := r.Attr("ASN")
	assert.True(t, ok)
	assert.Equal(t, "13335", v)
	_, ok = r.Attr("missing")
	assert.False(t, ok)
}
