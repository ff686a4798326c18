package main

import (
	"context"
	"os"

	"github.com/eagraf/habitat-deployd/internal/deployd/client"
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

var (
	address string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "deployctl",
	Short:         "deployctl - control a deployd daemon",
	Long:          `deployctl starts, stops and inspects local and cloud deployments managed by deployd.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initOutput(verbose)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if versionFlag, _ := cmd.Flags().GetBool("version"); versionFlag {
			out.Info(version)
			return
		}
		_ = cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of deployctl and the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		out.Infof("deployctl %s", version)
		c, err := newClient()
		if err != nil {
			return err
		}
		daemon, err := c.Version(cmd.Context())
		if err != nil {
			return err
		}
		out.Infof("deployd %s", daemon)
		return nil
	},
}

func newClient() (*client.Client, error) {
	return client.NewClient(address)
}

func init() {
	defaultAddress := os.Getenv("DEPLOYD_ADDRESS")
	if defaultAddress == "" {
		defaultAddress = client.DefaultAddress
	}
	rootCmd.PersistentFlags().StringVarP(&address, "address", "a", defaultAddress, "deployd address")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug output")
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")

	rootCmd.AddCommand(
		versionCmd,
		newStatusCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newLogsCmd(),
		newProcessesCmd(),
		newTestEndpointsCmd(),
		newWatchCmd(),
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		initOutput(verbose)
		out.Error(err.Error())
		os.Exit(1)
	}
}
