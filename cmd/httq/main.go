// Command httq is a quantum-safe request client, responder and benchmark
// tool.
//
//	httq serve --listen :8443 --metrics-listen :9090
//	httq get httq://localhost:8443/hello -v
//	httq post httq://localhost:8443/echo -d '{"a":1}' --json
//	httq bench --handshakes 100
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/httq-go/pkg/config"
	"github.com/sara-star-quant/httq-go/pkg/kem"
	"github.com/sara-star-quant/httq-go/pkg/metrics"
	pkgversion "github.com/sara-star-quant/httq-go/pkg/version"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	level      string
	logLevel   string
	logFormat  string
	tracing    string
}

var (
	flags globalFlags
	cfg   *config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "httq",
		Short:         "Quantum-safe HTTP requests over a hybrid ML-KEM + X25519 handshake",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, loaded); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ./httq.yaml or ./configs/httq.yaml)")
	pf.StringVar(&flags.level, "level", "", "security level: L1, L2 or L3")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error, silent")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&flags.tracing, "tracing", "", "tracing backend: none or otel")

	root.AddCommand(getCmd(), postCmd(), serveCmd(), benchCmd(), versionCmd())
	return root
}

// applyFlags layers explicitly set command-line flags over the loaded
// configuration.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	pf := cmd.Flags()
	if pf.Changed("level") {
		l, err := kem.ParseLevel(flags.level)
		if err != nil {
			return err
		}
		c.Client.Level = l
		c.Server.Level = l
	}
	if pf.Changed("log-level") {
		c.LogLevel = metrics.ParseLevel(flags.logLevel)
	}
	if pf.Changed("log-format") {
		c.LogFormat = metrics.ParseFormat(flags.logFormat)
	}
	if pf.Changed("tracing") {
		switch flags.tracing {
		case config.TracingNone, config.TracingOTel:
			c.Tracing = flags.tracing
		default:
			return fmt.Errorf("invalid tracing mode: %s (use none or otel)", flags.tracing)
		}
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "httq version %s\n", getVersion())
			if buildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", buildTime)
			}
			if gitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			}
		},
	}
}
