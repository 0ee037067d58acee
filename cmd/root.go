package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stackctl/pkg/logging"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	descriptors string
	kubeContext string
	namespace   string
	output      string
	lock        string
	logLevel    string
	logFormat   string
	debug       bool
}

var globals globalOptions

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stackctl",
	Short: "Deploy a ZooKeeper and Kafka stack to Kubernetes in dependency order",
	Long: `stackctl installs a streaming stack onto a Kubernetes namespace in phases:
the coordination service first, then the brokers, then auxiliary services.

Each phase is applied and then probed until it is functional before the next
one starts. If a phase cannot get there, everything applied so far is rolled
back in reverse order. Runs against one target are serialised by a lock, and
every run leaves a report in the local history.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. failed deployments, held locks)
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.ParseLevel(globals.logLevel)
		if globals.debug {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, logging.Format(globals.logFormat), cmd.ErrOrStderr())
	},
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "stackctl version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		// Cobra prints the error, we just pick the exit code
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newRollbackCmd())
	rootCmd.AddCommand(newTeardownCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globals.descriptors, "descriptors", "", "Descriptors file (default from config, stackctl.yaml)")
	flags.StringVar(&globals.kubeContext, "context", "", "Kubeconfig context of the target cluster (default: current context)")
	flags.StringVarP(&globals.namespace, "namespace", "n", "", "Target namespace (default: the context's namespace)")
	flags.StringVarP(&globals.output, "output", "o", "", "Report format: text, json, yaml or table")
	flags.StringVar(&globals.lock, "lock", "", "Lock backend: lease or memory")
	flags.StringVar(&globals.logLevel, "log-level", "info", "Progress log level: debug, info, warn or error")
	flags.StringVar(&globals.logFormat, "log-format", string(logging.FormatText), "Progress log format: text or json")
	flags.BoolVar(&globals.debug, "debug", false, "Enable debug logging (same as --log-level=debug)")
}
