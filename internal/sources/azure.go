package sources

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"ipinfo/internal/binding"
	"ipinfo/internal/logger"
	"ipinfo/internal/rangeindex"
)

const AzurePageURL = "https://www.microsoft.com/en-us/download/confirmation.aspx?id=41653"

// AzureLocation：确认页中公开 IP 段 XML 的下载链接
var AzureLocation = regexp.MustCompile(`.*href="(https://download.microsoft.com/download/0/1/8/018E208D-54F8-44CD-AA26-CD7BC9524A8C/)(.*?)(.xml).*`)

const AzureReplace = "${1}${2}${3}"

// NewAzureOpener：两段式定位 Azure 数据中心 IP 段 XML
func NewAzureOpener(pageURL string, client *http.Client, source string) TwoStepOpener {
	if pageURL == "" {
		pageURL = AzurePageURL
	}
	return TwoStepOpener{
		Page:    Locate(pageURL, client, source),
		Pattern: AzureLocation,
		Replace: AzureReplace,
		Next:    func(loc string) Opener { return Locate(loc, client, source) },
	}
}

// Azure：Region@Name 设定当前区域，IpRange@Subnet 产出记录
type Azure struct {
	name string
	src  Opener
}

func NewAzure(name string, src Opener) *Azure { return &Azure{name: name, src: src} }

func (s *Azure) Name() string { return s.name }

func (s *Azure) FetchRecords(ctx context.Context) ([]rangeindex.Record, error) {
	rc, err := s.src.Open(ctx)
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	defer rc.Close()
	out, skipped, err := parseAzure(rc)
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	logger.L().Info("source_fetch_ok", "source", s.name, "records", len(out), "skipped_ipv6", skipped)
	return out, nil
}

func parseAzure(r io.Reader) ([]rangeindex.Record, int, error) {
	d := xml.NewDecoder(r)
	var (
		out     []rangeindex.Record
		region  string
		skipped int
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return out, skipped, nil
		}
		if err != nil {
			return nil, 0, fmt.Errorf("parse xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "Region":
			region = attr(se, "Name")
		case "IpRange":
			subnet := attr(se, "Subnet")
			rng, err := rangeindex.ParseCIDR(subnet)
			if errors.Is(err, rangeindex.ErrNotIPv4) {
				skipped++
				continue
			}
			if err != nil {
				return nil, 0, fmt.Errorf("region %s: %w", region, err)
			}
			out = append(out, rangeindex.NewRecord(rng, map[string]string{KeyRegion: region}))
		}
	}
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
