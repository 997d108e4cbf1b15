// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envPrefix prefixes the environment variables that override flag defaults.
const envPrefix = "VMSIM_"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim drives the paging core with synthetic workloads.",
	Long: `vmsim drives the paging core with synthetic workloads. Flags can ` +
		`also be set with VMSIM_ environment variables, which are read from ` +
		`a .env file if one exists.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		err := loadEnv(".env")
		if err != nil {
			return err
		}

		return applyEnv(cmd.Flags())
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func loadEnv(filename string) error {
	err := godotenv.Load(filename)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", filename, err)
	}

	return nil
}

// applyEnv sets every flag that is not given on the command line from the
// matching environment variable. The flag "swap-slots" maps to
// VMSIM_SWAP_SLOTS.
func applyEnv(flags *pflag.FlagSet) error {
	var firstErr error

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || firstErr != nil {
			return
		}

		value, found := os.LookupEnv(envName(f.Name))
		if !found {
			return
		}

		err := f.Value.Set(value)
		if err != nil {
			firstErr = fmt.Errorf("%s: %w", envName(f.Name), err)
		}
	})

	return firstErr
}

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
