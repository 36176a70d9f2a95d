package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/brensch/mpduck/internal/db"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List fetched tables and their fetch metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tables, err := store.ListTables(cmd.Context())
		if err != nil {
			return err
		}
		db.DisplayTables(tables, func(format string, a ...any) { fmt.Fprintf(os.Stdout, format, a...) })
		return nil
	},
}

var tablesInfoCmd = &cobra.Command{
	Use:   "info NAME",
	Short: "Show metadata of one table as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := store.GetMetadata(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(db.TableInfo{Name: args[0], Metadata: meta}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

var tablesDropCmd = &cobra.Command{
	Use:   "drop NAME",
	Short: "Drop a fetched table and its metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.DropTable(cmd.Context(), args[0]); err != nil {
			return err
		}
		getLogger().Info("Table dropped.", "table", args[0])
		return nil
	},
}

func init() {
	tablesCmd.AddCommand(tablesInfoCmd)
	tablesCmd.AddCommand(tablesDropCmd)
}
