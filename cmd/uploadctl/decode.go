package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"example.com/uploadcore/internal/common"
	"example.com/uploadcore/internal/export"
	"example.com/uploadcore/internal/pages"
	"example.com/uploadcore/internal/pipeline"
	"example.com/uploadcore/internal/records"
	"example.com/uploadcore/internal/report"
	"example.com/uploadcore/internal/store"
)

type decodeOptions struct {
	config      string
	in          string
	out         string
	format      string
	compression string
	summary     string
	pdf         string
	family      string
	deviceID    string
	strict      bool
	progress    bool
	metrics     bool
}

func newDecodeCmd() *cobra.Command {
	var o decodeOptions
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a page dump into records",
		Long: `Decode a page dump into ordered records.

Input is either JSON lines of {"ordinal","data","nak","valid"} pages
(.jsonl/.ndjson) or a raw dump cut into pages of the table page size.
Records are written as NDJSON or Parquet, chosen by --format or the
output file extension.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, _ := cmd.Flags().GetString("ledger")
			return runDecode(cmd, o, ledger)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.config, "config", "c", os.Getenv("UPLOADCORE_CONFIG"), "pipeline config YAML (default: $UPLOADCORE_CONFIG)")
	f.StringVar(&o.in, "in", "", "page dump (required)")
	f.StringVar(&o.out, "out", "records.ndjson", "record output file")
	f.StringVar(&o.format, "format", "", "output format: ndjson or parquet")
	f.StringVar(&o.compression, "parquet-compression", "snappy", "parquet compression: snappy, gzip or none")
	f.StringVar(&o.summary, "summary", "", "write the upload summary JSON here")
	f.StringVar(&o.pdf, "pdf", "", "write the upload summary PDF here")
	f.StringVar(&o.family, "family", "", "device family (overrides config)")
	f.StringVar(&o.deviceID, "device-id", "", "device id (overrides config)")
	f.BoolVar(&o.strict, "strict", false, "fail on the first skipped page or record")
	f.BoolVar(&o.progress, "progress", false, "display decode progress")
	f.BoolVar(&o.metrics, "metrics", false, "print decode counters")
	cmd.MarkFlagRequired("in")
	return cmd
}

func decodeConfig(o decodeOptions, ledger string) (pipeline.Config, error) {
	var cfg pipeline.Config
	if o.config != "" {
		loaded, err := pipeline.LoadConfig(o.config)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if o.family != "" {
		cfg.Family = o.family
	}
	if o.deviceID != "" {
		cfg.DeviceID = o.deviceID
	}
	if o.strict {
		cfg.Strict = true
	}
	if ledger != "" {
		cfg.Ledger = ledger
	}
	return cfg.WithDefaults(), nil
}

func readPages(path string, pageSize int) ([]pages.RawPage, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return pages.ReadPages(f)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return pages.SplitPages(data, pageSize), nil
	}
}

func outputFormat(o decodeOptions) (string, error) {
	format := strings.ToLower(o.format)
	if format == "" {
		format = "ndjson"
		if strings.EqualFold(filepath.Ext(o.out), ".parquet") {
			format = "parquet"
		}
	}
	if format != "ndjson" && format != "parquet" {
		return "", fmt.Errorf("unknown output format %q", o.format)
	}
	return format, nil
}

// writeRecords writes recs to path and returns the sha256 of the file.
func writeRecords(path, format, compression string, recs []records.Record) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := common.NewHasher()
	w := io.MultiWriter(f, h)
	if format == "parquet" {
		if _, err := export.WriteParquet(w, recs, compression); err != nil {
			return "", err
		}
	} else {
		bw := bufio.NewWriter(w)
		if err := export.NewNDJSONWriter(bw).WriteRecords(recs); err != nil {
			return "", err
		}
		if err := bw.Flush(); err != nil {
			return "", err
		}
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return h.Sum(), nil
}

func runDecode(cmd *cobra.Command, o decodeOptions, ledgerPath string) error {
	cfg, err := decodeConfig(o, ledgerPath)
	if err != nil {
		return err
	}
	closer, err := common.SetupLogging(cfg.Logs)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer closer.Close()
	format, err := outputFormat(o)
	if err != nil {
		return err
	}

	m := common.NewMetrics()
	p, err := pipeline.FromConfig(cfg, pipeline.WithMetrics(m))
	if err != nil {
		return err
	}
	raw, err := readPages(o.in, p.Family().Table.Options().PageSize)
	if err != nil {
		return fmt.Errorf("read pages: %w", err)
	}

	stopProgress := func() {}
	if o.progress {
		stopProgress = common.StartProgressPrinter(cmd.ErrOrStderr(), m, 500*time.Millisecond)
	}
	out, runErr := p.Run(cmd.Context(), raw)
	stopProgress()

	log := common.WithComponent("uploadctl")
	recs := out.Records
	var ledger *store.Ledger
	if cfg.Ledger != "" {
		if ledger, err = store.Open(cfg.Ledger); err != nil {
			return err
		}
		defer ledger.Close()
		var dropped int
		recs, dropped, err = ledger.Filter(cmd.Context(), cfg.DeviceID, recs)
		if err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		if dropped > 0 {
			log.Infof("%d records already delivered by earlier batches", dropped)
		}
	}

	digest, err := writeRecords(o.out, format, o.compression, recs)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}

	out.Records = recs
	sum := report.Summarize(cfg.Family, cfg.DeviceID, out, runErr)
	sum.Output = o.out
	sum.Digest = digest
	if ledger != nil && runErr == nil {
		b, err := ledger.Commit(cmd.Context(), store.Batch{
			Family: cfg.Family, DeviceID: cfg.DeviceID, Output: o.out, Digest: digest,
		}, recs)
		if err != nil {
			return fmt.Errorf("ledger commit: %w", err)
		}
		sum.BatchID = b.ID
	}
	if o.metrics {
		snap := m.Snapshot()
		sum.Metrics = &snap
	}
	if o.summary != "" {
		if err := report.SaveSummaryJSON(sum, o.summary); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	if o.pdf != "" {
		if err := report.SaveSummaryPDF(sum, o.pdf); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}
	if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
		return err
	}
	return runErr
}
