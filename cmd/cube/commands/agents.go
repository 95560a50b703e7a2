package commands

import (
	"github.com/spf13/cobra"

	"github.com/nenadatanasovski/memory-cube/internal/agents"
	"github.com/nenadatanasovski/memory-cube/internal/graph"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/orchestrator"
	"github.com/nenadatanasovski/memory-cube/internal/queue"
)

// openRegistry builds graph + registry + queue for agent commands
func openRegistry() (*graph.Graph, *agents.Registry, *queue.Queue, error) {
	g, err := openGraph()
	if err != nil {
		return nil, nil, nil, err
	}
	reg := agents.NewRegistry(g.Workspace(), g.Bus(), logger)
	if err := reg.Load(); err != nil {
		g.Close()
		return nil, nil, nil, err
	}
	return g, reg, queue.New(g, reg, g.Bus(), logger), nil
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage the agent registry",
}

var registerFlags struct {
	name          string
	role          string
	description   string
	nodeTypes     []string
	tags          []string
	maxConcurrent int
	boost         int
	canCreate     bool
	canDelete     bool
}

var agentsRegisterCmd = &cobra.Command{
	Use:   "register <id>",
	Short: "Register an agent",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, reg, _, err := openRegistry()
		if err != nil {
			return err
		}
		defer g.Close()

		caps := agents.Capabilities{
			Tags:          registerFlags.tags,
			MaxConcurrent: registerFlags.maxConcurrent,
			PriorityBoost: registerFlags.boost,
			CanCreate:     registerFlags.canCreate,
			CanDelete:     registerFlags.canDelete,
		}
		for _, t := range registerFlags.nodeTypes {
			caps.NodeTypes = append(caps.NodeTypes, node.Type(t))
		}
		agent, err := reg.Register(agents.Config{
			ID:           args[0],
			Name:         registerFlags.name,
			Role:         registerFlags.role,
			Description:  registerFlags.description,
			Capabilities: caps,
		})
		if err != nil {
			return err
		}
		return printJSON(agent)
	},
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, reg, _, err := openRegistry()
		if err != nil {
			return err
		}
		defer g.Close()
		return printJSON(reg.List())
	},
}

var agentsHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <id>",
	Short: "Record an agent heartbeat",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, reg, _, err := openRegistry()
		if err != nil {
			return err
		}
		defer g.Close()
		return reg.Heartbeat(args[0])
	},
}

var agentsUnregisterCmd = &cobra.Command{
	Use:   "unregister <id>",
	Short: "Remove an agent without claims",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, reg, _, err := openRegistry()
		if err != nil {
			return err
		}
		defer g.Close()
		return reg.Unregister(args[0])
	},
}

var dispatchFlags struct {
	dryRun bool
	tags   []string
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Match pending tasks to capable agents",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, reg, q, err := openRegistry()
		if err != nil {
			return err
		}
		defer g.Close()

		o := orchestrator.New(orchestrator.Options{
			Graph:    g,
			Registry: reg,
			Queue:    q,
			Bus:      g.Bus(),
			Logger:   logger,
		})
		assignments, err := o.Dispatch(cmd.Context(), orchestrator.DispatchOptions{
			Tags:   dispatchFlags.tags,
			DryRun: dispatchFlags.dryRun,
		})
		if err != nil {
			return err
		}
		return printJSON(assignments)
	},
}

func init() {
	agentsRegisterCmd.Flags().StringVar(&registerFlags.name, "name", "", "display name")
	agentsRegisterCmd.Flags().StringVar(&registerFlags.role, "role", "", "agent role")
	agentsRegisterCmd.Flags().StringVar(&registerFlags.description, "description", "", "description")
	agentsRegisterCmd.Flags().StringSliceVar(&registerFlags.nodeTypes, "node-type", nil, "supported node type (repeatable)")
	agentsRegisterCmd.Flags().StringSliceVar(&registerFlags.tags, "tag", nil, "capability tag (repeatable)")
	agentsRegisterCmd.Flags().IntVar(&registerFlags.maxConcurrent, "max-concurrent", 0, "max simultaneous claims")
	agentsRegisterCmd.Flags().IntVar(&registerFlags.boost, "priority-boost", 0, "dispatch priority boost")
	agentsRegisterCmd.Flags().BoolVar(&registerFlags.canCreate, "can-create", false, "may create nodes")
	agentsRegisterCmd.Flags().BoolVar(&registerFlags.canDelete, "can-delete", false, "may delete nodes")

	dispatchCmd.Flags().BoolVar(&dispatchFlags.dryRun, "dry-run", false, "report assignments without claiming")
	dispatchCmd.Flags().StringSliceVar(&dispatchFlags.tags, "tag", nil, "restrict to tasks with a tag")

	agentsCmd.AddCommand(agentsRegisterCmd, agentsListCmd, agentsHeartbeatCmd, agentsUnregisterCmd)
	rootCmd.AddCommand(agentsCmd, dispatchCmd)
}
