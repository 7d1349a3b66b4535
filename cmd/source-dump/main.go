// source-dump：拉取单个数据源并构建索引，输出构建统计与（可选）全部生效区间
// 背景：用于排查数据源的部分重叠异常与拆分结果，不启动服务
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ipinfo/internal/app"
	"ipinfo/internal/binding"
	"ipinfo/internal/config"
	"ipinfo/internal/logger"
	"ipinfo/internal/sources"
)

func main() {
	_ = godotenv.Load(".env")
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		sourcesFile string
		timeout     time.Duration
		records     bool
		partition   string
	)
	cmd := &cobra.Command{
		Use:          "source-dump <source>",
		Short:        "Fetch one range source and print its index build statistics",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			l := logger.Setup()
			specs, err := config.LoadSources(sourcesFile, app.DefaultPeriod)
			if err != nil {
				return err
			}
			spec, ok := find(specs, args[0])
			if !ok {
				return fmt.Errorf("unknown source %q", args[0])
			}
			if cmd.Flags().Changed("partition-by") {
				spec.PartitionBy = partition
			}
			src, err := sources.FromConfig(spec, sources.NewHTTPClient(timeout))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			t0 := time.Now()
			recs, err := src.FetchRecords(ctx)
			if err != nil {
				return err
			}
			l.Info("source_fetched", "source", spec.Name, "records", len(recs), "duration_ms", time.Since(t0).Milliseconds())
			set, err := binding.BuildSet(spec.Name, spec.PartitionBy, recs)
			if err != nil {
				return err
			}
			return dump(cmd.OutOrStdout(), set, records)
		},
	}
	cmd.Flags().StringVar(&sourcesFile, "sources", envOr("SOURCES_FILE", "data/sources.yaml"), "sources file (built-in sources when missing)")
	cmd.Flags().DurationVar(&timeout, "fetch-timeout", sources.DefaultTimeout, "timeout of the fetch")
	cmd.Flags().BoolVar(&records, "records", false, "print every effective range as TSV")
	cmd.Flags().StringVar(&partition, "partition-by", "", "override the partition attribute (empty disables partitioning)")
	cmd.SetContext(context.Background())
	return cmd
}

func find(specs []config.SourceConfig, name string) (config.SourceConfig, bool) {
	for _, s := range specs {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return config.SourceConfig{}, false
}

// dump：统计行格式 "<binding> input=.. entries=.. kept=.. replaced=.. trimmed=.. anomalies=.."
// 记录行格式 "<binding>\t<start>\t<end>\t<k=v,...>"（属性按键排序）
func dump(w io.Writer, set binding.Set, withRecords bool) error {
	bw := bufio.NewWriter(w)
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		idx := set[n]
		st := idx.Stats()
		fmt.Fprintf(bw, "%s\tinput=%s entries=%s kept=%s replaced=%s trimmed=%s anomalies=%s\n", n,
			humanize.Comma(int64(st.Input)), humanize.Comma(int64(idx.Len())), humanize.Comma(int64(st.Kept)),
			humanize.Comma(int64(st.Replaced)), humanize.Comma(int64(st.Trimmed)), humanize.Comma(int64(st.Anomalies)))
	}
	if withRecords {
		for _, n := range names {
			for _, e := range set[n].Entries() {
				fmt.Fprintf(bw, "%s\t%s\t%s\t%s\n", n, e.Range.Start, e.Range.End, attrs(e.Record.Attrs))
			}
		}
	}
	return bw.Flush()
}

func attrs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ",")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
