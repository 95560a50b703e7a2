package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nenadatanasovski/memory-cube/internal/bridge"
	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/triggers"
	"github.com/nenadatanasovski/memory-cube/internal/watcher"
	"github.com/nenadatanasovski/memory-cube/internal/workspace"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the workspace layout",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		if err := triggers.WriteDefaultRules(g.Workspace().Path(workspace.TriggersFile)); err != nil {
			return err
		}
		cfg, err := g.Workspace().LoadConfig()
		if err != nil {
			return err
		}
		return printJSON(cfg)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Node totals by type and status",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		stats, err := g.Stats()
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from node files",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		count, errs := g.RebuildIndex(cmd.Context())
		out := map[string]interface{}{"indexed": count, "errors": len(errs)}
		var messages []string
		for _, err := range errs {
			messages = append(messages, err.Error())
		}
		if len(messages) > 0 {
			out["errorDetails"] = messages
		}
		return printJSON(out)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report malformed files, duplicate edges and dangling targets",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		report, err := g.Validate()
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List node types, statuses, validities, priorities and edge types",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(node.Types())
	},
}

var watchFlags struct {
	natsURL string
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the workspace, run triggers, and optionally bridge events to NATS",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		release, err := g.Workspace().AcquireLock()
		if err != nil {
			return err
		}
		defer release()

		elog, err := events.OpenLog(g.Workspace().Path(workspace.EventLogFile), events.LogOptions{})
		if err != nil {
			return err
		}

		engine := triggers.NewEngine(triggers.Options{
			Graph:  g,
			Bus:    g.Bus(),
			Log:    elog,
			Logger: logger,
		})
		if _, err := engine.LoadRules(g.Workspace().Path(workspace.TriggersFile)); err != nil {
			return err
		}
		engine.Attach()
		defer engine.Detach()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		w := watcher.New(g.Workspace(), g.Bus(), logger)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		if watchFlags.natsURL != "" {
			b, err := bridge.New(watchFlags.natsURL, g.Bus(), logger)
			if err != nil {
				return err
			}
			b.Start()
			defer b.Close()
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sig:
		case <-ctx.Done():
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchFlags.natsURL, "nats", "", "NATS server URL to bridge events to")
	rootCmd.AddCommand(initCmd, statsCmd, rebuildCmd, validateCmd, typesCmd, watchCmd)
}
