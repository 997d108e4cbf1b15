package cmd

import (
	"fmt"
	"io"
	"slices"

	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/tracing"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report [recording.sqlite3]",
	Short: "Summarize a recording made with run --trace-db.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRecording(args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func reportRecording(filename string, w io.Writer) error {
	reader, err := datarecording.NewReader(filename)
	if err != nil {
		return err
	}
	defer reader.Close()

	total, err := reader.Count(tracing.EventTableName)
	if err != nil {
		return err
	}

	counts, err := reader.GroupCount(tracing.EventTableName, "Kind")
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%d events\n", total)
	for _, kind := range sortedKeys(counts) {
		fmt.Fprintf(w, "%-12s %d\n", kind, counts[kind])
	}

	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}
