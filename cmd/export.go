package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/mpduck/internal/saver"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export NAME",
	Short: "Write a fetched table to a Parquet file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := exportOut
		if out == "" {
			out = args[0] + ".parquet"
		}
		n, err := saver.ExportTable(cmd.Context(), store, args[0], out, getLogger())
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d rows to %s\n", n, out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output Parquet file (default NAME.parquet)")
}
