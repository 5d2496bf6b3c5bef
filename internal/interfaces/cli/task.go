package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cis-project/cis/internal/application/service"
	"github.com/cis-project/cis/internal/domain/dagrun"
)

func newTaskCmd(svc *service.TaskService) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and drive individual tasks within a run",
	}

	runFlag := func(cmd *cobra.Command) (string, error) {
		runID, _ := cmd.Flags().GetString("run")
		if runID == "" {
			return "", fmt.Errorf("--run is required")
		}
		return runID, nil
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := runFlag(cmd)
			if err != nil {
				return err
			}
			group, _ := cmd.Flags().GetString("group")
			status, _ := cmd.Flags().GetString("status")
			opts := service.ListOptions{Filters: map[string]string{}}
			if group != "" {
				opts.Filters["group"] = group
			}
			if status != "" {
				opts.Filters["status"] = status
			}
			page, err := svc.List(runID, opts)
			if err != nil {
				return err
			}
			fmt.Printf("%-20s %-15s %-10s\n", "ID", "GROUP", "TITLE")
			for _, t := range page.Items {
				fmt.Printf("%-20s %-15s %-10s\n", t.ID, t.Group, t.Title)
			}
			return nil
		},
	}
	listCmd.Flags().String("group", "", "filter by task group")
	listCmd.Flags().String("status", "", "filter by node status")

	showCmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task plus its current run-scoped node status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := runFlag(cmd)
			if err != nil {
				return err
			}
			t, status, err := svc.Show(runID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ID:          %s\n", t.ID)
			fmt.Printf("Title:       %s\n", t.Title)
			fmt.Printf("Group:       %s\n", t.Group)
			fmt.Printf("Node status: %s\n", status)
			fmt.Printf("Dependencies: %v\n", t.Dependencies)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "set-status <task-id> <status>",
		Short: "Apply a manual node-status transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := runFlag(cmd)
			if err != nil {
				return err
			}
			return svc.UpdateStatus(cmd.Context(), runID, args[0], dagrun.NodeStatus(args[1]))
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Reset a Failed task back to Ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := runFlag(cmd)
			if err != nil {
				return err
			}
			return svc.Retry(cmd.Context(), runID, args[0])
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a single non-terminal task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := runFlag(cmd)
			if err != nil {
				return err
			}
			if err := requireYes(cmd); err != nil {
				return err
			}
			return svc.Cancel(cmd.Context(), runID, args[0])
		},
	}
	cancelCmd.Flags().Bool("yes", false, "confirm the cancellation")

	logsCmd := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Print the output captured so far from a task's bound agent session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := runFlag(cmd)
			if err != nil {
				return err
			}
			out, err := svc.Logs(runID, args[0])
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	taskCmd.AddCommand(listCmd, showCmd, statusCmd, retryCmd, cancelCmd, logsCmd)
	return taskCmd
}
