package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cis-project/cis/internal/application/service"
)

func newDagCmd(svc *service.DagService) *cobra.Command {
	dagCmd := &cobra.Command{
		Use:   "dag",
		Short: "Manage DAG runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List DAG runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			opts := service.ListOptions{}
			if status != "" {
				opts.Filters = map[string]string{"status": status}
			}
			page := svc.List(opts)
			fmt.Printf("%-36s %-12s %s\n", "RUN ID", "STATUS", "TASKS")
			for _, run := range page.Items {
				fmt.Printf("%-36s %-12s %d\n", run.RunID, run.Status, len(run.Dag.Tasks))
			}
			return nil
		},
	}
	listCmd.Flags().String("status", "", "filter by run status")

	inspectCmd := &cobra.Command{
		Use:   "inspect <run-id>",
		Short: "Show one DAG run's full state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := svc.Inspect(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Run:    %s\n", run.RunID)
			fmt.Printf("Status: %s\n", run.Status)
			fmt.Printf("Tasks:\n")
			fmt.Printf("  %-20s %-12s\n", "ID", "NODE STATUS")
			for id, status := range run.NodeStatus {
				fmt.Printf("  %-20s %-12s\n", id, status)
			}
			return nil
		},
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new DAG run from a TOML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			runID, err := svc.CreateFromFile(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Println(runID)
			return nil
		},
	}
	createCmd.Flags().String("file", "", "path to a DAG TOML file (spec.md §6 DAG file format)")
	_ = createCmd.MarkFlagRequired("file")

	runCmd := &cobra.Command{
		Use:   "run <run-id>",
		Short: "Drive a run to completion, blocking until every task is terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Run(cmd.Context(), args[0])
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run and every non-terminal task within it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireYes(cmd); err != nil {
				return err
			}
			return svc.Cancel(cmd.Context(), args[0])
		},
	}
	cancelCmd.Flags().Bool("yes", false, "confirm the cancellation")

	removeCmd := &cobra.Command{
		Use:   "remove <run-id>",
		Short: "Delete a terminal run's persisted record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireYes(cmd); err != nil {
				return err
			}
			return svc.Remove(args[0])
		},
	}
	removeCmd.Flags().Bool("yes", false, "confirm the removal")

	sessionsCmd := &cobra.Command{
		Use:   "sessions <run-id>",
		Short: "List agent sessions bound to a run's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := svc.ListSessions(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%-36s %-15s %-10s\n", "SESSION ID", "AGENT KIND", "STATE")
			for _, e := range entries {
				fmt.Printf("%-36s %-15s %-10s\n", e.Session.SessionID.String(), e.Session.AgentType, e.Session.State)
			}
			return nil
		},
	}

	acquireSessionCmd := &cobra.Command{
		Use:   "acquire-session <run-id> <task-id>",
		Short: "Pre-warm an agent session for a task ahead of execution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentKind, _ := cmd.Flags().GetString("agent-kind")
			workspaceDir, _ := cmd.Flags().GetString("workspace")
			reuse, _ := cmd.Flags().GetString("reuse")
			entry, err := svc.AcquireSession(cmd.Context(), args[0], args[1], agentKind, workspaceDir, reuse)
			if err != nil {
				return err
			}
			fmt.Println(entry.Session.SessionID.String())
			return nil
		},
	}
	acquireSessionCmd.Flags().String("agent-kind", "claude", "agent kind to spawn")
	acquireSessionCmd.Flags().String("workspace", "", "workspace directory for the spawned process")
	acquireSessionCmd.Flags().String("reuse", "", "reuse an existing session id if still alive")

	releaseSessionCmd := &cobra.Command{
		Use:   "release-session <session-id>",
		Short: "Release an agent session back to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keepAlive, _ := cmd.Flags().GetBool("keep-alive")
			return svc.ReleaseSession(args[0], keepAlive)
		},
	}
	releaseSessionCmd.Flags().Bool("keep-alive", false, "keep the session warm instead of terminating it")

	dagCmd.AddCommand(listCmd, inspectCmd, createCmd, runCmd, cancelCmd, removeCmd, sessionsCmd, acquireSessionCmd, releaseSessionCmd)
	return dagCmd
}
