package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiowebux/echotest/internal/config"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "echotest",
	Short: "ISO 8583 echo test client and server",
	Long: `echotest exercises ISO 8583 network management echo tests (0800/0810,
field 70 = 301) over TCP with 4-digit length framing.

The client sends echo requests over a pool of persistent connections from
several concurrent workers and reports response times. The server answers
every echo request, running one worker process per CPU on a shared port.

Settings come from the defaults, then the config file (--config, or
./echotest.yaml, or ~/.echotest/config.yaml), then command line flags.

Examples:
  echotest server                              # Listen on 0.0.0.0:6020, one worker per CPU
  echotest server -P 7000 -w 1                 # Single process on port 7000
  echotest client -H 127.0.0.1 -n 5            # Five echo tests, one per second
  echotest client -n 1000 -w 8 --pool-size 4 -d 0
  echotest runs list                           # Past client runs
  echotest runs show 12                        # One run with its error breakdown`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send echo test requests to a server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd)
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Answer echo test requests",
	Long: `Answer echo test requests.

With more than one worker the command becomes a coordinator: it starts the
workers as child processes bound to the same port and restarts those that
exit, until a worker slot has crashed more than --max-crashes times.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

var serverWorkerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one server worker process",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServerWorker(cmd)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the client run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent client runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRunsList(cmd)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one client run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRunsShow(cmd, args[0])
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one client run and its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRunsDelete(cmd, args[0])
	},
}

// Global flags
var (
	flagConfig string
)

// Flags for client
var (
	clientCfg   = config.DefaultClientConfig()
	flagVerbose bool
)

// Flags for server and server worker
var (
	serverCfg = config.DefaultServerConfig()
	workerCfg = config.DefaultServerConfig()
	flagSlot  int
)

// Flags for runs
var (
	flagRunsLimit int
	flagRunsDB    string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (.yaml, .yml or .json)")

	config.BindClientFlags(clientCmd.Flags(), &clientCfg)
	clientCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "Print one line per iteration")

	config.BindServerFlags(serverCmd.Flags(), &serverCfg)

	config.BindServerFlags(serverWorkerCmd.Flags(), &workerCfg)
	serverWorkerCmd.Flags().IntVar(&flagSlot, "slot", 0, "Worker slot assigned by the coordinator")

	runsCmd.PersistentFlags().StringVar(&flagRunsDB, "db", "", "SQLite database for run history")
	runsListCmd.Flags().IntVarP(&flagRunsLimit, "limit", "l", 20, "Maximum number of runs to list")

	serverCmd.AddCommand(serverWorkerCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)
	rootCmd.AddCommand(clientCmd, serverCmd, runsCmd)
}
