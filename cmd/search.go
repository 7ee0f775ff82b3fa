package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/konduit/internal/search"
)

// newSearchCmd creates the 'search' subcommand. Sessions live in process
// memory, so it crawls the given sites before ranking them.
func newSearchCmd() *cobra.Command {
	var (
		urls  []string
		smart bool
	)

	cmd := &cobra.Command{
		Use:   "search --url <url> [--url <url2>] <query...>",
		Short: "Crawls one or two sites and ranks their pages against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			roots, err := search.Roots(urls...)
			if err != nil {
				return err
			}

			if _, err := appInstance.Service().Crawl(ctx, roots...); err != nil {
				return err
			}
			report, err := appInstance.Service().Search(ctx, search.Query{
				Text:  strings.Join(args, " "),
				Roots: roots,
				Smart: smart,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "site to crawl and search (repeatable, at most two)")
	cmd.Flags().BoolVar(&smart, "smart", false, "summarize the top results")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
