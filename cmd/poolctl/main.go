// Command poolctl validates pool configuration and exercises a pool against
// a live database.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/dbpool/pkg/drivers"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configFile string
	driver     string
	dsn        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	v := viper.New()

	root := &cobra.Command{
		Use:   "poolctl",
		Short: "poolctl - database connection pool tool",
		Long: `poolctl loads a pool configuration, opens a pool against one of the
bundled drivers and reports its behaviour.

Every configuration key can be overridden with a DBPOOL_ environment variable,
for example DBPOOL_SIZE=10 or DBPOOL_DRIVER_DSN=postgres://localhost/app.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Path to a YAML, JSON or TOML pool configuration")
	root.PersistentFlags().StringVar(&g.driver, "driver", "", fmt.Sprintf("Driver name, one of %v", drivers.Names()))
	root.PersistentFlags().StringVar(&g.dsn, "dsn", "", "Driver data source name")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "poolctl v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(
		newValidateCmd(g, v),
		newBenchCmd(g, v),
		newServeCmd(g, v),
		newStatusCmd(),
	)
	return root
}
