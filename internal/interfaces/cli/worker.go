package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cis-project/cis/internal/application/service"
)

func newWorkerCmd(svc *service.WorkerService) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "List, inspect, and stop long-lived agent worker processes on this node",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every worker process currently held by the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			agentKind, _ := cmd.Flags().GetString("agent-kind")
			opts := service.ListOptions{}
			if agentKind != "" {
				opts.Filters = map[string]string{"agent_kind": agentKind}
			}
			page := svc.List(opts)
			fmt.Fprintf(cmd.OutOrStdout(), "%-36s %-12s %-10s %-7s %s\n", "SESSION ID", "AGENT KIND", "STATE", "ALIVE", "PID")
			for _, w := range page.Items {
				fmt.Fprintf(cmd.OutOrStdout(), "%-36s %-12s %-10s %-7v %d\n", w.SessionID, w.AgentKind, w.State, w.Alive, w.PID)
			}
			return nil
		},
	}
	listCmd.Flags().String("agent-kind", "", "filter by agent kind")

	inspectCmd := &cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Show one worker process's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := svc.Inspect(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session ID: %s\n", w.SessionID)
			fmt.Printf("Agent kind: %s\n", w.AgentKind)
			fmt.Printf("State:      %s\n", w.State)
			fmt.Printf("Alive:      %v\n", w.Alive)
			fmt.Printf("PID:        %d\n", w.PID)
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Evict a worker process from the pool, regardless of its own keep-alive setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireYes(cmd); err != nil {
				return err
			}
			return svc.Stop(args[0])
		},
	}
	stopCmd.Flags().Bool("yes", false, "confirm stopping the worker")

	workerCmd.AddCommand(listCmd, inspectCmd, stopCmd)
	return workerCmd
}
