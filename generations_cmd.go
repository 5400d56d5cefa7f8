package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lofiland/lofiproxy/internal/cache"
	"github.com/lofiland/lofiproxy/internal/offline"
)

var generationsCmd = &cobra.Command{
	Use:     "generations",
	Aliases: []string{"gens"},
	Short:   "List cache generations",
	Long:    paragraph(fmt.Sprintf("\nList the cache generations in the store. The %s generation is marked with an asterisk; every other one is purged on the next start.", keyword("current"))),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		storage, err := openStorage()
		if err != nil {
			return err
		}
		defer storage.Close() //nolint:errcheck

		ctx := cmd.Context()
		names, err := storage.Names(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tGENERATION\tENTRIES\tSIZE")
		for _, name := range names {
			marker := ""
			if name == generation {
				marker = "*"
			}

			stats, err := storage.Stats(ctx, name)
			if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
				log.Warn("Unable to read generation", "generation", name, "error", err)
				fmt.Fprintf(tw, "%s\t%s\t?\t?\n", marker, name)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", marker, name, stats.ItemCount,
				humanize.IBytes(uint64(stats.Size))) //nolint:gosec
		}
		return tw.Flush()
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every cache generation but the current one",
	Long:  paragraph(fmt.Sprintf("\nInstall and %s the current generation without starting the proxy: every other generation is deleted.", keyword("activate"))),
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		storage, err := openStorage()
		if err != nil {
			return err
		}
		defer storage.Close() //nolint:errcheck

		lc := offline.NewLifecycle(storage, nil, generation)
		if _, err := lc.Install(cmd.Context()); err != nil {
			return err
		}
		return lc.Activate(cmd.Context())
	},
}
