// log-stats：读取访问日志，统计客户端 IP 在各数据源中的命中情况
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ipinfo/internal/app"
	"ipinfo/internal/config"
	"ipinfo/internal/logger"
	"ipinfo/internal/logstats"
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
	)
	cmd := &cobra.Command{
		Use:          "log-stats <access.log|->",
		Short:        "Print data source statistics for the client IPs of an access log",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			l := logger.Setup()
			specs, err := config.LoadSources(sourcesFile, app.DefaultPeriod)
			if err != nil {
				return err
			}
			in, err := openInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()

			t0 := time.Now()
			agg, err := app.Bootstrap(cmd.Context(), specs, sources.NewHTTPClient(timeout), app.ForceEager(), app.WithFetchTimeout(timeout))
			if err != nil {
				return err
			}
			defer agg.Close()
			l.Info("sources_ready", "bindings", len(agg.Bindings()), "duration_ms", time.Since(t0).Milliseconds())

			rep, err := logstats.Analyze(in, agg)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return rep.Write(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sourcesFile, "sources", envOr("SOURCES_FILE", "data/sources.yaml"), "sources file (built-in sources when missing)")
	cmd.Flags().DurationVar(&timeout, "fetch-timeout", sources.DefaultTimeout, "timeout of one source fetch")
	cmd.SetContext(context.Background())
	return cmd
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
