package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grupocrist/client360/internal/export"
	"github.com/grupocrist/client360/internal/reconcile"
)

var (
	snapshotSegments []string
	snapshotOut      string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export the full merged catalog to JSON or XLSX",
	Long:  "Fetches every company with its financial metrics, week visits and annotations, and writes the result to a file. The output format follows the file extension.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("snapshot"); err != nil {
			return err
		}

		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		start := time.Now()
		res, err := e.Service.AllCompanies(cmd.Context(), reconcile.AllRequest{
			SegmentLabels: snapshotSegments,
		})
		if err != nil {
			return eris.Wrap(err, "snapshot: fetch")
		}

		zap.L().Info("snapshot fetched",
			zap.Int("companies", len(res.Entities)),
			zap.Duration("elapsed", time.Since(start)),
		)

		out := snapshotOut
		if out == "" {
			out = "snapshot_" + time.Now().Format("20060102") + ".json"
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "snapshot: create output")
		}
		defer f.Close()

		if strings.HasSuffix(strings.ToLower(out), ".xlsx") {
			if err := export.WriteXLSX(f, res.Entities, cfg.CRM.CodeField); err != nil {
				return eris.Wrap(err, "snapshot: write xlsx")
			}
		} else {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Entities); err != nil {
				return eris.Wrap(err, "snapshot: write json")
			}
		}

		zap.L().Info("snapshot written", zap.String("file", out))
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringSliceVar(&snapshotSegments, "segment", nil, "segment labels to narrow the export")
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "output file (.json or .xlsx)")
	rootCmd.AddCommand(snapshotCmd)
}
