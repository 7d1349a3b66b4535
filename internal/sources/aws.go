package sources

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"ipinfo/internal/binding"
	"ipinfo/internal/logger"
	"ipinfo/internal/rangeindex"
)

const (
	KeyService = "service"
	KeyRegion  = "region"

	AWSURL = "https://ip-ranges.amazonaws.com/ip-ranges.json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type awsDocument struct {
	SyncToken  string      `json:"syncToken"`
	CreateDate string      `json:"createDate"`
	Prefixes   []awsPrefix `json:"prefixes"`
}

type awsPrefix struct {
	IPPrefix string `json:"ip_prefix"`
	Region   string `json:"region"`
	Service  string `json:"service"`
}

// AWS：ip-ranges.json 的 IPv4 前缀；同一网段按服务重复出现（AMAZON 与 EC2 等）
type AWS struct {
	name string
	src  Opener
}

func NewAWS(name string, src Opener) *AWS { return &AWS{name: name, src: src} }

func (s *AWS) Name() string { return s.name }

func (s *AWS) FetchRecords(ctx context.Context) ([]rangeindex.Record, error) {
	rc, err := s.src.Open(ctx)
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	defer rc.Close()
	var doc awsDocument
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, binding.Fail(s.name, fmt.Errorf("decode ip-ranges: %w", err))
	}
	out := make([]rangeindex.Record, 0, len(doc.Prefixes))
	for i, p := range doc.Prefixes {
		rng, err := rangeindex.ParseCIDR(p.IPPrefix)
		if err != nil {
			return nil, binding.Fail(s.name, fmt.Errorf("prefix %d: %w", i, err))
		}
		out = append(out, rangeindex.NewRecord(rng, map[string]string{
			KeyService: p.Service,
			KeyRegion:  p.Region,
		}))
	}
	logger.L().Info("source_fetch_ok", "source", s.name, "sync_token", doc.SyncToken, "records", len(out))
	return out, nil
}
