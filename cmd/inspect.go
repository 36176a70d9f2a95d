package cmd

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/brensch/mpduck/internal/saver"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Summarise an exported Parquet file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := saver.InspectFile(args[0], getLogger())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}
