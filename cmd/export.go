package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/citymetrics/tripflow/internal/aggregate"
	"github.com/citymetrics/tripflow/internal/model"
	"github.com/citymetrics/tripflow/internal/store"
)

var (
	exportOut     string
	exportStart   string
	exportEnd     string
	exportTopK    int
	exportBinSize int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export aggregate views to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := aggregate.NewEngine(st)
		dr := store.DateRange{Start: exportStart, End: exportEnd}

		var (
			summary model.Summary
			hours   []model.HourCount
			dist    map[model.DurationCategory]int64
			bins    []model.HistogramBin
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			summary, err = engine.Summary(gctx, dr)
			return err
		})
		g.Go(func() (err error) {
			hours, err = engine.BusiestHours(gctx, dr, exportTopK)
			return err
		})
		g.Go(func() (err error) {
			dist, err = engine.Distribution(gctx, store.DistributionFilter{DateRange: dr})
			return err
		})
		g.Go(func() (err error) {
			bins, err = engine.SpeedHistogram(gctx, dr, exportBinSize)
			return err
		})
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "export: aggregate")
		}

		wb, err := buildWorkbook(summary, hours, dist, bins)
		if err != nil {
			return err
		}
		if err := wb.Save(exportOut); err != nil {
			return eris.Wrapf(err, "export: save %s", exportOut)
		}

		zap.L().Info("export written", zap.String("path", exportOut), zap.Int64("trips", summary.Trips))
		fmt.Printf("Wrote %s\n", exportOut)
		return nil
	},
}

func buildWorkbook(
	summary model.Summary,
	hours []model.HourCount,
	dist map[model.DurationCategory]int64,
	bins []model.HistogramBin,
) (*xlsx.File, error) {
	wb := xlsx.NewFile()

	sheet, err := wb.AddSheet("Summary")
	if err != nil {
		return nil, eris.Wrap(err, "export: add summary sheet")
	}
	addHeaderRow(sheet, "metric", "value")
	addRow(sheet, "trips", summary.Trips)
	addRow(sheet, "avg_duration_s", summary.AvgDurationS)
	addRow(sheet, "avg_km", summary.AvgKM)
	addRow(sheet, "avg_kmh", summary.AvgKMH)

	sheet, err = wb.AddSheet("Busiest Hours")
	if err != nil {
		return nil, eris.Wrap(err, "export: add hours sheet")
	}
	addHeaderRow(sheet, "hour", "trips")
	for _, h := range hours {
		addRow(sheet, h.Hour, h.Trips)
	}

	sheet, err = wb.AddSheet("Distribution")
	if err != nil {
		return nil, eris.Wrap(err, "export: add distribution sheet")
	}
	addHeaderRow(sheet, "category", "trips")
	for _, cat := range []model.DurationCategory{model.DurationShort, model.DurationMedium, model.DurationLong} {
		if n, ok := dist[cat]; ok {
			addRow(sheet, string(cat), n)
		}
	}

	sheet, err = wb.AddSheet("Speed Histogram")
	if err != nil {
		return nil, eris.Wrap(err, "export: add histogram sheet")
	}
	addHeaderRow(sheet, "bin", "trips")
	for _, b := range bins {
		addRow(sheet, b.Label, b.Count)
	}

	return wb, nil
}

func addHeaderRow(sheet *xlsx.Sheet, names ...string) {
	row := sheet.AddRow()
	for _, n := range names {
		row.AddCell().SetString(n)
	}
}

func addRow(sheet *xlsx.Sheet, values ...any) {
	row := sheet.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		switch x := v.(type) {
		case string:
			cell.SetString(x)
		case int:
			cell.SetInt(x)
		case int64:
			cell.SetInt64(x)
		case float64:
			cell.SetFloat(x)
		default:
			cell.SetValue(x)
		}
	}
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "trips_export.xlsx", "output workbook path")
	exportCmd.Flags().StringVar(&exportStart, "start", "", "start date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportEnd, "end", "", "end date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().IntVar(&exportTopK, "k", 5, "busiest hours to include")
	exportCmd.Flags().IntVar(&exportBinSize, "bin-size", 5, "speed histogram bin width (km/h)")
	rootCmd.AddCommand(exportCmd)
}
