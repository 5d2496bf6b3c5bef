// Package cli implements CIS's cobra-based command surface (spec.md §6
// "Exit codes (CLI-facing, when hosted)"), grounded on
// _examples/cuemby-warren/cmd/warren/main.go's idiom: a root command with
// persistent flags, one package-level *cobra.Command per noun (dag, task,
// node, worker), RunE closures reading flags via cmd.Flags().GetX, and
// fixed-width printf-style table output. Every command is a thin wrapper
// over internal/application/service — none of them contain business
// logic of their own.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cis-project/cis/internal/application/service"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// Services bundles the four service-facade types every subcommand group
// dispatches into. cmd/cisd constructs one of these at startup and hands
// it to NewRootCommand; nothing in this package reaches past it into the
// scheduler/executor/dht layers directly.
type Services struct {
	Dag    *service.DagService
	Task   *service.TaskService
	Node   *service.NodeService
	Worker *service.WorkerService
}

// errConfirmationRequired is returned by a destructive subcommand invoked
// without --yes. It is a CLI-layer sentinel, not a *cerr.CisError: no
// service-layer operation has a notion of "ask the operator first", that
// policy belongs entirely to the command surface (spec.md §6).
var errConfirmationRequired = errors.New("confirmation required; re-run with --yes")

// NewRootCommand builds the root "cisd" command and wires every
// subcommand group under it.
func NewRootCommand(svc *Services) *cobra.Command {
	root := &cobra.Command{
		Use:           "cisd",
		Short:         "cisd drives a CIS cluster node: DAGs, tasks, peers, and workers",
		Long:          "cisd is the command-line surface over one CIS node's service facade.\nIt never talks to another node's CLI directly — peer traffic is the DHT's job.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("run", "", "target run id (dag/task subcommands)")

	root.AddCommand(newDagCmd(svc.Dag))
	root.AddCommand(newTaskCmd(svc.Task))
	root.AddCommand(newNodeCmd(svc.Node))
	root.AddCommand(newWorkerCmd(svc.Worker))
	return root
}

// Execute runs root under ctx (so a blocking command like "dag run" reacts
// to the caller's own cancellation/signal handling) and returns the
// process exit code spec.md §6 defines: 0 success, 1 general error, 2
// confirmation required, 3 configuration missing. cmd/cisd's main is
// expected to call os.Exit(cli.Execute(ctx, root)).
func Execute(ctx context.Context, root *cobra.Command) int {
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errConfirmationRequired) {
		return 2
	}
	var ce *cerr.CisError
	if errors.As(err, &ce) && ce.Code == cerr.CodeConfiguration {
		return 3
	}
	return 1
}

func requireYes(cmd *cobra.Command) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return errConfirmationRequired
	}
	return nil
}
