package sources

import (
	"context"
	"net/netip"

	"ipinfo/internal/binding"
	"ipinfo/internal/ipip"
	"ipinfo/internal/logger"
	"ipinfo/internal/rangeindex"
)

// DefaultIPDBLanguage：IPDB 字段语言（缺失时回退到文件中的首个语言）
const DefaultIPDBLanguage = "EN"

// IPDB：本地 IPIP.net IPDB 文件遍历为网段记录，属性键为文件中的字段名（country_name、region_name、city_name 等）
type IPDB struct {
	name     string
	path     string
	language string
}

func NewIPDB(name, path, language string) *IPDB {
	if language == "" {
		language = DefaultIPDBLanguage
	}
	return &IPDB{name: name, path: path, language: language}
}

func (s *IPDB) Name() string { return s.name }

func (s *IPDB) FetchRecords(ctx context.Context) ([]rangeindex.Record, error) {
	r, err := ipip.Open(s.path)
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	var out []rangeindex.Record
	err = r.WalkIPv4(s.language, func(l ipip.Leaf) error {
		if len(out)%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		a := netip.AddrFrom4([4]byte{byte(l.Prefix >> 24), byte(l.Prefix >> 16), byte(l.Prefix >> 8), byte(l.Prefix)})
		rng, err := rangeindex.RangeFromPrefix(netip.PrefixFrom(a, l.Length))
		if err != nil {
			return err
		}
		out = append(out, rangeindex.NewRecord(rng, l.Values))
		return nil
	})
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	logger.L().Info("source_fetch_ok", "source", s.name, "build", r.Build(), "records", len(out))
	return out, nil
}
