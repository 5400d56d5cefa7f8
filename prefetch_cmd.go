package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/lofiland/lofiproxy/internal/packs"
)

var prefetchRate float64

var prefetchCmd = &cobra.Command{
	Use:   "prefetch MANIFEST_URL...",
	Short: "Warm the cache with the loops of audio packs",
	Long: paragraph(fmt.Sprintf("\nFetch each pack manifest and every loop it lists through the cache, so the packs %s. Use the public URLs the player requests, e.g. the proxy's own address.", keyword("play offline"))),
	Example: paragraph("lofiproxy prefetch http://localhost:8080/packs/forest/manifest.json"),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storage, err := openStorage()
		if err != nil {
			return err
		}
		defer storage.Close() //nolint:errcheck

		worker, err := newWorker(storage)
		if err != nil {
			return err
		}
		if err := startWorker(cmd.Context(), worker); err != nil {
			return err
		}
		// Refills run in the background; they must land before the storage closes
		defer worker.Wait()

		warmer := packs.NewWarmer(worker.Interceptor(), prefetchRate)
		for _, u := range args {
			res, err := warmer.Warm(cmd.Context(), u)
			if err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
			log.Info("Warmed pack", "manifest", u, "loops", res.Loops,
				"cached", res.Cached, "fetched", res.Fetched, "skipped", res.Skipped, "failed", res.Failed)
		}
		return nil
	},
}

func init() {
	prefetchCmd.Flags().Float64Var(&prefetchRate, "rate", 4, "loop requests per second (0 for unlimited)")
}
