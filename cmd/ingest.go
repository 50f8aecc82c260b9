package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/citymetrics/tripflow/internal/fetcher"
	"github.com/citymetrics/tripflow/internal/model"
	"github.com/citymetrics/tripflow/internal/pipeline"
)

var (
	ingestSource     string
	ingestChunkSize  int
	ingestAnomalyLog string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a raw trip CSV into the store",
	Long:  "Streams the source in chunks, validates and enriches each record, and persists new trips. Re-running over the same source inserts nothing new.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if ingestSource == "" {
			ingestSource = cfg.Ingest.Source
		}
		if ingestChunkSize == 0 {
			ingestChunkSize = cfg.Ingest.ChunkSize
		}
		if ingestAnomalyLog == "" {
			ingestAnomalyLog = cfg.Ingest.AnomalyLog
		}
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}
		if ingestSource == "" {
			return eris.New("ingest: no source given (use --source or TRIPFLOW_INGEST_SOURCE)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		anomalyFile, err := openAnomalyLog(ingestAnomalyLog)
		if err != nil {
			return err
		}
		defer anomalyFile.Close() //nolint:errcheck

		run, err := st.StartIngestRun(ctx, ingestSource)
		if err != nil {
			return err
		}

		started := time.Now()
		stats, runErr := runPipeline(cmd, st, anomalyFile)
		if runErr != nil {
			if failErr := st.FailIngestRun(ctx, run.ID, runErr); failErr != nil {
				zap.L().Error("record failed run", zap.Error(failErr))
			}
			return runErr
		}

		if err := st.CompleteIngestRun(ctx, run.ID, stats.RowsRead, stats.RowsInserted); err != nil {
			return err
		}

		printIngestStats(stats, time.Since(started))
		return nil
	},
}

func runPipeline(cmd *cobra.Command, writer pipeline.TripWriter, anomalySink *os.File) (model.IngestStats, error) {
	ctx := cmd.Context()

	src, err := fetcher.Open(ctx, ingestSource, fetcher.SourceOptions{
		HTTPTimeout: time.Duration(cfg.Ingest.HTTPTimeoutSecs) * time.Second,
	})
	if err != nil {
		return model.IngestStats{}, err
	}
	defer src.Close() //nolint:errcheck

	rows, errs := fetcher.StreamCSV(ctx, src, fetcher.CSVOptions{TrimSpace: true})

	ing := pipeline.NewIngestor(
		writer,
		pipeline.NewNYCValidator(),
		pipeline.NewDeriver(pipeline.NewAnomalyLog(anomalySink)),
		ingestChunkSize,
	)
	return ing.Run(ctx, rows, errs)
}

func openAnomalyLog(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "ingest: create anomaly log dir %s", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open anomaly log %s", path)
	}
	return f, nil
}

func printIngestStats(stats model.IngestStats, elapsed time.Duration) {
	p := message.NewPrinter(language.English)
	p.Printf("Ingest complete in %v\n", elapsed.Round(time.Millisecond))
	p.Printf("  rows read:      %d\n", stats.RowsRead)
	p.Printf("  batches:        %d\n", stats.Batches)
	p.Printf("  inserted:       %d\n", stats.RowsInserted)
	p.Printf("  rejected:       %d\n", stats.Rejected.Total())
	p.Printf("    missing:      %d\n", stats.Rejected.MissingFields)
	p.Printf("    duplicates:   %d\n", stats.Rejected.DuplicateID)
	p.Printf("    out of area:  %d\n", stats.Rejected.OutOfBounds)
	p.Printf("    bad duration: %d\n", stats.Rejected.NonPositiveDuration)
	p.Printf("  time dropped:   %d\n", stats.TimeDropped)
	p.Printf("  anomalies:      %d\n", stats.Anomalies)
	if stats.Anomalies > 0 || stats.TimeDropped > 0 {
		fmt.Printf("  details in %s\n", ingestAnomalyLog)
	}
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "CSV source: file path, http(s):// or ftp:// URL")
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", 0, "rows per batch (default from config)")
	ingestCmd.Flags().StringVar(&ingestAnomalyLog, "anomaly-log", "", "anomaly log path (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
