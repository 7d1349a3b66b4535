package sources

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
	"go4.org/netipx"

	"ipinfo/internal/binding"
	"ipinfo/internal/logger"
	"ipinfo/internal/rangeindex"
)

const (
	KeyCountry     = "country"
	KeyCountryName = "country_name"
)

// MMDB：本地 MaxMind 数据库（ASN 或 Country/City）遍历为网段记录
// 约束：只输出 IPv4 网段（跳过 IPv4 别名子树）；数据库类型由元数据判断
type MMDB struct {
	name string
	path string
}

func NewMMDB(name, path string) *MMDB { return &MMDB{name: name, path: path} }

func (s *MMDB) Name() string { return s.name }

func (s *MMDB) FetchRecords(ctx context.Context) ([]rangeindex.Record, error) {
	db, err := maxminddb.Open(s.path)
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	defer db.Close()
	dbType := db.Metadata.DatabaseType
	var decode func(*maxminddb.Networks) (*net.IPNet, map[string]string, error)
	switch {
	case strings.Contains(dbType, "ASN"):
		decode = decodeASN
	case strings.Contains(dbType, "Country"), strings.Contains(dbType, "City"):
		decode = decodeCountry
	default:
		return nil, binding.Fail(s.name, fmt.Errorf("unsupported database type %q", dbType))
	}

	var out []rangeindex.Record
	nets := db.Networks(maxminddb.SkipAliasedNetworks)
	for nets.Next() {
		if len(out)%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, binding.Fail(s.name, err)
			}
		}
		subnet, attrs, err := decode(nets)
		if err != nil {
			return nil, binding.Fail(s.name, err)
		}
		if attrs == nil {
			continue
		}
		rng, ok := ipv4Range(subnet)
		if !ok {
			continue
		}
		out = append(out, rangeindex.NewRecord(rng, attrs))
	}
	if err := nets.Err(); err != nil {
		return nil, binding.Fail(s.name, err)
	}
	logger.L().Info("source_fetch_ok", "source", s.name, "db_type", dbType, "records", len(out))
	return out, nil
}

// ipv4Range：跳过别名后 IPv4 网段以 4 字节地址返回，其余视为 IPv6
func ipv4Range(subnet *net.IPNet) (rangeindex.Range, bool) {
	p, ok := netipx.FromStdIPNet(subnet)
	if !ok || !p.Addr().Is4() {
		return rangeindex.Range{}, false
	}
	rng, err := rangeindex.RangeFromPrefix(p)
	return rng, err == nil
}

func decodeASN(nets *maxminddb.Networks) (*net.IPNet, map[string]string, error) {
	var rec geoip2.ASN
	subnet, err := nets.Network(&rec)
	if err != nil || rec.AutonomousSystemNumber == 0 {
		return nil, nil, err
	}
	return subnet, map[string]string{
		KeyASN:    strconv.FormatUint(uint64(rec.AutonomousSystemNumber), 10),
		KeyASNOrg: rec.AutonomousSystemOrganization,
	}, nil
}

func decodeCountry(nets *maxminddb.Networks) (*net.IPNet, map[string]string, error) {
	var rec geoip2.Country
	subnet, err := nets.Network(&rec)
	if err != nil {
		return nil, nil, err
	}
	iso, names := rec.Country.IsoCode, rec.Country.Names
	if iso == "" {
		iso, names = rec.RegisteredCountry.IsoCode, rec.RegisteredCountry.Names
	}
	if iso == "" {
		return nil, nil, nil
	}
	return subnet, map[string]string{KeyCountry: iso, KeyCountryName: names["en"]}, nil
}
