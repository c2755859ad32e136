package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/typedai/typedai/agent"
	"github.com/typedai/typedai/agent/runner"
	"github.com/typedai/typedai/functions"
)

// consoleHandlerName is the completed-handler registered for CLI runs.
const consoleHandlerName = "console"

// consoleHandler prints terminal notifications to the command's output.
type consoleHandler struct {
	out io.Writer
}

func (h *consoleHandler) AgentCompleted(_ context.Context, ac *agent.Context) {
	fmt.Fprintf(h.out, "agent %s reached %s (cost $%.4f)\n", ac.AgentID, ac.State, ac.Cost)
}

func newAgentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run and inspect agents",
	}
	cmd.AddCommand(
		newAgentStartCmd(a),
		newAgentResumeCmd(a),
		newAgentListCmd(a),
		newAgentDeleteCmd(a),
	)
	return cmd
}

func (a *app) newRunner(ctx context.Context, out io.Writer, timeout time.Duration) (*runner.Runner, error) {
	model, err := a.buildModel(ctx)
	if err != nil {
		return nil, err
	}
	return runner.New(runner.Options{
		Store:    a.agents,
		Llm:      model,
		Calls:    a.calls,
		Handlers: map[string]runner.CompletedHandler{consoleHandlerName: &consoleHandler{out: out}},
		Timeout:  timeout,
		Logger:   a.logger,
		Tracer:   a.tracer,
	})
}

func newAgentStartCmd(a *app) *cobra.Command {
	var (
		name      string
		prompt    string
		agentType string
		fns       []string
		hilCount  int
		hilBudget float64
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create an agent and run it until it completes or parks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			typ := agent.Type(agentType)
			if typ != agent.TypeWorkflow && typ != agent.TypeCodegen {
				return fmt.Errorf("typedai: unknown agent type %q (workflow or codegen)", agentType)
			}
			r, err := a.newRunner(ctx, cmd.OutOrStdout(), timeout)
			if err != nil {
				return err
			}
			ac := &agent.Context{
				AgentID:          uuid.NewString(),
				User:             a.sole,
				Type:             typ,
				State:            agent.StateAgent,
				Name:             name,
				UserPrompt:       prompt,
				Functions:        fns,
				HilCount:         hilCount,
				HilBudget:        hilBudget,
				CompletedHandler: consoleHandlerName,
			}
			if ac.HilCount == 0 {
				ac.HilCount = a.sole.HilCount
			}
			if ac.HilBudget == 0 {
				ac.HilBudget = a.sole.HilBudget
			}
			if err := r.Run(ctx, ac); err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), ac)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&prompt, "prompt", "", "initial user prompt")
	cmd.Flags().StringVar(&agentType, "type", string(agent.TypeWorkflow), "agent type: workflow or codegen")
	cmd.Flags().StringSliceVar(&fns, "functions", nil, "function classes to bind, comma separated")
	cmd.Flags().IntVar(&hilCount, "hil-count", 0, "iterations between human-in-the-loop gates, 0 disables")
	cmd.Flags().Float64Var(&hilBudget, "hil-budget", 0, "dollars between human-in-the-loop gates, 0 disables")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wall-clock budget for the execution, 0 disables")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newAgentResumeCmd(a *app) *cobra.Command {
	var (
		feedback string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resume <agent-id>",
		Short: "Resume a parked agent, delivering feedback when it asked for some",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := a.newRunner(ctx, cmd.OutOrStdout(), timeout)
			if err != nil {
				return err
			}
			if err := r.Resume(ctx, args[0], feedback); err != nil {
				return err
			}
			ac, err := a.agents.Load(ctx, args[0])
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), ac)
			return nil
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "answer to the agent's pending question or confirmation")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wall-clock budget for the execution, 0 disables")
	return cmd
}

func newAgentListCmd(a *app) *cobra.Command {
	var running bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the current user's agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var (
				summaries []agent.Summary
				err       error
			)
			if running {
				summaries, err = a.agents.ListRunning(ctx)
			} else {
				summaries, err = a.agents.List(ctx)
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT\tNAME\tTYPE\tSTATE\tCOST\tUPDATED")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.4f\t%s\n",
					s.AgentID, s.Name, s.Type, s.State, s.Cost,
					time.UnixMilli(s.LastUpdate).Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&running, "running", false, "only non-terminal agents, ordered by state")
	return cmd
}

func newAgentDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent-id>...",
		Short: "Delete agents; executing agents and child agents are skipped",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.agents.Delete(cmd.Context(), args)
		},
	}
}

func newFunctionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the registered function classes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(functions.Names(), "\n"))
			return nil
		},
	}
}

// printOutcome reports where the execution left the agent and, when parked,
// how to pick it back up.
func printOutcome(out io.Writer, ac *agent.Context) {
	switch ac.State {
	case agent.StateCompleted:
		fmt.Fprintf(out, "%s completed, cost $%.4f\n", ac.AgentID, ac.Cost)
	case agent.StateError:
		fmt.Fprintf(out, "%s failed: %s\n", ac.AgentID, ac.Error)
	case agent.StateHitlFeedback:
		fmt.Fprintf(out, "%s is waiting for feedback; answer with:\n  typedai agent resume %s --feedback '...'\n", ac.AgentID, ac.AgentID)
	case agent.StateHitlTool:
		fmt.Fprintf(out, "%s is waiting for tool confirmation; continue with:\n  typedai agent resume %s --feedback '...'\n", ac.AgentID, ac.AgentID)
	case agent.StateHitlThreshold, agent.StateHil:
		fmt.Fprintf(out, "%s hit a human-in-the-loop gate at $%.4f; continue with:\n  typedai agent resume %s\n", ac.AgentID, ac.Cost, ac.AgentID)
	default:
		fmt.Fprintf(out, "%s is in state %s, cost $%.4f\n", ac.AgentID, ac.State, ac.Cost)
	}
}
