package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/konduit/internal/storage/local"
)

// newCrawlCmd creates the 'crawl' subcommand. It crawls one or two sites,
// prints the crawl report as JSON and optionally exports each session.
func newCrawlCmd() *cobra.Command {
	var exportDir string

	cmd := &cobra.Command{
		Use:   "crawl <url> [url2]",
		Short: "Crawls one or two sites and prints the report",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var exporter *local.Exporter
			if exportDir != "" {
				if exporter, err = local.New(local.Config{BaseDir: exportDir}); err != nil {
					return fmt.Errorf("init exporter: %w", err)
				}
			}

			report, err := appInstance.Service().Crawl(ctx, args...)
			if err != nil {
				return err
			}
			if exporter != nil {
				for _, s := range report.Sessions {
					entry, err := appInstance.Service().Session(ctx, s.ID)
					if err != nil {
						return err
					}
					dir, err := exporter.Export(ctx, entry)
					if err != nil {
						return fmt.Errorf("export session %s: %w", s.ID, err)
					}
					appInstance.Logger().Info("session exported", zap.String("session_id", s.ID), zap.String("dir", dir))
				}
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "write each session as JSON under this directory")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
