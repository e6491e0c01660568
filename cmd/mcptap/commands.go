// commands.go contains the cobra command definitions and their flag
// wiring. Each builder creates a command and binds it to its handler.
package main

import (
	"github.com/spf13/cobra"
)

func buildProxyCmd() *cobra.Command {
	var (
		target    string
		agentID   string
		chaosPath string
		dbPath    string
		tracePath string
	)

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Intercept a stdio tool server, journaling every exchange",
		Long: `Spawn the target tool server and sit between it and the client on
stdin/stdout. Every JSON-RPC request and response is journaled; lines
that do not parse pass through untouched.

With --chaos, a seeded fault-injection config perturbs tools/call
traffic with delays, substituted errors, and corrupted responses.`,
		Example: `  # Plain interception
  mcptap proxy --target "npx my-mcp-server --stdio"

  # With fault injection and a trace export
  mcptap proxy --target "./server" --chaos chaos.json --trace baseline-trace.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd.Context(), target, agentID, chaosPath, dbPath, tracePath)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Tool server command to spawn (required)")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id to attribute the run to")
	cmd.Flags().StringVar(&chaosPath, "chaos", "", "Path to a chaos config JSON file")
	cmd.Flags().StringVar(&dbPath, "db", "mcptap.db", "Path to the journal database")
	cmd.Flags().StringVar(&tracePath, "trace", "", "Export the run's trace to this file when the session ends")
	cmd.MarkFlagRequired("target")

	return cmd
}

func buildStressCmd() *cobra.Command {
	var (
		target  string
		agentID string
		dbPath  string
		timeout int
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Fuzz a tool server with schema-derived mutations",
		Long: `Drive the target through initialization and tool enumeration, then
probe every tool that declares an input schema with a deterministic
mutation matrix. Each probe's outcome is classified as pass,
graceful_fail, or crash_or_hang, and the run receives a reliability
score from 0 to 100.`,
		Example: `  mcptap stress --target "npx my-mcp-server --stdio"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Context(), target, agentID, dbPath, timeout)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Tool server command to spawn (required)")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id to attribute the run to")
	cmd.Flags().StringVar(&dbPath, "db", "mcptap.db", "Path to the journal database")
	cmd.Flags().IntVar(&timeout, "timeout", 10000, "Per-probe timeout in milliseconds")
	cmd.MarkFlagRequired("target")

	return cmd
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the journal and live event stream over HTTP",
		Long: `Start the HTTP/websocket API: project, agent, and run management,
run event queries, stress sweep launching, and a websocket feed of
journaled events by run, agent, or global topic.`,
		Example: `  mcptap serve --config mcptap.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	return cmd
}

func buildDiffCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "diff <baseline> <current>",
		Short: "Compare two runs' tool-call behavior and latency",
		Long: `Compare a baseline and a current run. Each argument is a run id in
the journal or the path of an exported trace file. The report lists
tool calls added, removed, or changed, plus per-tool mean latency
shifts beyond 20%.`,
		Example: `  mcptap diff 6f1b… 9a2c…
  mcptap diff baseline-trace.json chaos-trace.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.Context(), dbPath, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "mcptap.db", "Path to the journal database")

	return cmd
}

func buildProjectsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage projects",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "mcptap.db", "Path to the journal database")

	var description string
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCreate(cmd.Context(), dbPath, args[0], description)
		},
	}
	createCmd.Flags().StringVar(&description, "description", "", "Project description")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectList(cmd.Context(), dbPath)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectDelete(cmd.Context(), dbPath, args[0])
		},
	}

	cmd.AddCommand(createCmd, listCmd, deleteCmd)
	return cmd
}

func buildAgentsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "mcptap.db", "Path to the journal database")

	var (
		projectID string
		target    string
		chaosPath string
	)
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an agent in a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentCreate(cmd.Context(), dbPath, projectID, args[0], target, chaosPath)
		},
	}
	createCmd.Flags().StringVar(&projectID, "project", "", "Owning project id (required)")
	createCmd.Flags().StringVarP(&target, "target", "t", "", "Tool server command (required)")
	createCmd.Flags().StringVar(&chaosPath, "chaos", "", "Path to a chaos config JSON file")
	createCmd.MarkFlagRequired("project")
	createCmd.MarkFlagRequired("target")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentList(cmd.Context(), dbPath, projectID)
		},
	}
	listCmd.Flags().StringVar(&projectID, "project", "", "Owning project id (required)")
	listCmd.MarkFlagRequired("project")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an agent and its runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentDelete(cmd.Context(), dbPath, args[0])
		},
	}

	cmd.AddCommand(createCmd, listCmd, deleteCmd)
	return cmd
}

func buildRunsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "mcptap.db", "Path to the journal database")

	var (
		agentID string
		kind    string
		status  string
		limit   int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunList(cmd.Context(), dbPath, agentID, kind, status, limit)
		},
	}
	listCmd.Flags().StringVar(&agentID, "agent", "", "Filter by agent id")
	listCmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (proxy|stress)")
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunShow(cmd.Context(), dbPath, args[0])
		},
	}

	var tracePath string
	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a run's trace to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunExport(cmd.Context(), dbPath, args[0], tracePath)
		},
	}
	exportCmd.Flags().StringVarP(&tracePath, "out", "o", "", "Output file (default <id>.json)")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunDelete(cmd.Context(), dbPath, args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd, exportCmd, deleteCmd)
	return cmd
}
