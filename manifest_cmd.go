package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lofiland/lofiproxy/internal/packs"
)

var manifestCmd = &cobra.Command{
	Use:     "manifest [PACKS_DIR]",
	Short:   "Write manifest.json for every audio pack",
	Long:    paragraph(fmt.Sprintf("\nScan each pack below PACKS_DIR (default %s) and write its manifest.json, listing the loops of every stem in natural order.", keyword("./packs"))),
	Example: paragraph("lofiproxy manifest\nlofiproxy manifest public/packs"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "packs"
		if len(args) == 1 {
			dir = expandPath(args[0])
		}

		written, err := packs.BuildAll(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d manifests\n", len(written))
		return nil
	},
}
