// Package commands is the cube CLI: a thin shell over the graph
// facade, orchestrator and synthesis pipeline.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/graph"
	"github.com/nenadatanasovski/memory-cube/internal/logging"
)

// Exit codes: 0 success, 1 application error, 2 invalid arguments
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var (
	cubeRoot string
	noIndex  bool
	verbose  bool

	logger *zap.Logger
)

// usageError marks argument problems so Execute can exit 2
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

func usage(err error) error { return &usageError{err: err} }

var rootCmd = &cobra.Command{
	Use:           "cube",
	Short:         "memory-cube knowledge graph engine",
	Long:          "cube manages a local knowledge graph workspace: typed nodes, edges, events, triggers, agents and a work queue.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cubeRoot, "cube", "", "workspace root (default $CUBE_ROOT or the working directory)")
	rootCmd.PersistentFlags().BoolVar(&noIndex, "no-index", false, "disable the structured index")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usage(err)
	})
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cube: %v\n", err)
		var u *usageError
		if errors.As(err, &u) {
			return exitUsage
		}
		return exitError
	}
	return exitOK
}

// workspaceRoot resolves the root from flag, environment or cwd
func workspaceRoot() string {
	if cubeRoot != "" {
		return cubeRoot
	}
	if env := os.Getenv("CUBE_ROOT"); env != "" {
		return env
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// openGraph builds and initializes the facade for one invocation
func openGraph() (*graph.Graph, error) {
	g := graph.New(graph.Options{
		Root:        workspaceRoot(),
		EnableIndex: !noIndex,
		Bus:         events.NewBus(logger),
		Logger:      logger,
	})
	if err := g.Init(); err != nil {
		return nil, err
	}
	return g, nil
}

// exactArgs is cobra.ExactArgs with usage-tagged errors
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usage(fmt.Errorf("%q expects %d argument(s), got %d", cmd.Name(), n, len(args)))
		}
		return nil
	}
}

// printJSON writes a result to stdout
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
