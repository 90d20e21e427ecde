// Command pthctl runs a small demo fiber workload and reports the
// scheduler statistics exposed through pth.Ctrl, exercising the public
// API end to end the way a caller embedding the library would.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pthctl",
		Short: "pthctl drives and inspects a github.com/xtaci/pth runtime",
		Long: `pthctl spawns a small demo fiber workload on a pth.Runtime and
reports queue depths and load average via pth.Ctrl, as a worked example
of embedding the cooperative fiber scheduler in a standalone program.`,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
