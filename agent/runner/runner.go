// Package runner drives the agent iteration loop: checkpoint, human-in-the-
// loop gates, pending-message drain, planning call, function dispatch, and
// state transitions through to a terminal state. A runner holds the single
// execution allowed to mutate an agent context at a time; suspensions (HIL
// gates, feedback requests) return with the context parked in a waiting state
// and a later Resume call picks it back up.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/typedai/typedai/agent"
	"github.com/typedai/typedai/functions"
	"github.com/typedai/typedai/llm"
	"github.com/typedai/typedai/llmcall"
	"github.com/typedai/typedai/telemetry"
)

const (
	defaultMaxIterations     = 50
	defaultChildPollInterval = 2 * time.Second

	// maxInvalidPlans bounds consecutive unparseable planning responses
	// before the agent errors out.
	maxInvalidPlans = 2
)

type (
	// CompletedHandler is notified when an agent reaches completed or pauses
	// for feedback. Handlers are registered by name and referenced from
	// Context.CompletedHandler.
	CompletedHandler interface {
		AgentCompleted(ctx context.Context, ac *agent.Context)
	}

	// Options configures a Runner.
	Options struct {
		// Store persists agent contexts. Required.
		Store agent.Store
		// Llm serves planning calls. Required.
		Llm llm.Llm
		// Calls, when set, records every planning call.
		Calls llmcall.Store
		// Handlers maps handler names to terminal-notification sinks.
		Handlers map[string]CompletedHandler
		// Timeout is the wall-clock budget per execution. Zero disables it.
		Timeout time.Duration
		// MaxIterations is an absolute safety cap per execution. Zero uses
		// the default.
		MaxIterations int
		// ChildPollInterval is the wait between child-agent state polls.
		ChildPollInterval time.Duration
		// Logger and Tracer default to no-ops.
		Logger telemetry.Logger
		Tracer telemetry.Tracer
	}

	// Runner executes agent contexts.
	Runner struct {
		store         agent.Store
		llm           llm.Llm
		calls         llmcall.Store
		handlers      map[string]CompletedHandler
		timeout       time.Duration
		maxIterations int
		childPoll     time.Duration
		logger        telemetry.Logger
		tracer        telemetry.Tracer
	}
)

// New validates opts and returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("runner: agent store is required")
	}
	if opts.Llm == nil {
		return nil, errors.New("runner: llm is required")
	}
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	childPoll := opts.ChildPollInterval
	if childPoll <= 0 {
		childPoll = defaultChildPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Runner{
		store:         opts.Store,
		llm:           opts.Llm,
		calls:         opts.Calls,
		handlers:      opts.Handlers,
		timeout:       opts.Timeout,
		maxIterations: maxIterations,
		childPoll:     childPoll,
		logger:        logger,
		tracer:        tracer,
	}, nil
}

// Run executes the agent until it reaches a terminal state or parks in a
// waiting state. A fresh ExecutionID is stamped so stale writers from a
// previous execution can be detected.
func (r *Runner) Run(ctx context.Context, ac *agent.Context) error {
	ac.ExecutionID = uuid.NewString()
	if ac.State == "" {
		ac.State = agent.StateAgent
	}
	if len(ac.Messages) == 0 {
		prompt := ac.InputPrompt
		if prompt == "" {
			prompt = ac.UserPrompt
		}
		ac.Messages = append(ac.Messages, llm.UserMsg(prompt))
	}
	ctx = agent.WithAgent(ctx, ac)
	start := time.Now()
	iterationsThisExecution := 0

	return telemetry.WithSpan(ctx, r.tracer, "agent.run", func(ctx context.Context) error {
		for {
			if ac.State.IsTerminal() || isWaiting(ac.State) {
				return nil
			}
			if err := r.checkpoint(ctx, ac); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return r.park(ctx, ac, agent.StateShutdown)
			}
			if r.timeout > 0 && time.Since(start) >= r.timeout {
				return r.park(ctx, ac, agent.StateTimeout)
			}
			if iterationsThisExecution >= r.maxIterations {
				return r.fail(ctx, ac, fmt.Errorf("runner: iteration cap %d reached", r.maxIterations))
			}

			switch ac.State {
			case agent.StateChildAgents:
				if err := r.waitForChildren(ctx, ac); err != nil {
					return r.fail(ctx, ac, err)
				}
			case agent.StateFunctions, agent.StateWorkflow:
				// Crash-resume mid-dispatch: re-plan from the recorded
				// history rather than guessing which calls completed.
				if err := ac.Transition(agent.StateAgent); err != nil {
					return r.fail(ctx, ac, err)
				}
			case agent.StateAgent:
				suspended, err := r.iterate(ctx, ac)
				if err != nil {
					return err
				}
				if suspended {
					return nil
				}
				iterationsThisExecution++
			default:
				return r.fail(ctx, ac, fmt.Errorf("runner: cannot execute from state %s", ac.State))
			}
		}
	})
}

// Resume restarts a parked agent. The transition depends on the waiting
// state: an iteration gate resets the iteration counter, a cost gate clears
// the spend accumulator, a feedback request appends the human response as a
// pending message, and a tool confirmation re-enters planning.
func (r *Runner) Resume(ctx context.Context, agentID, feedback string) error {
	ac, err := r.store.Load(ctx, agentID)
	if err != nil {
		return err
	}
	switch ac.State {
	case agent.StateHitlThreshold:
		ac.Iterations = 0
	case agent.StateHil:
		ac.CostSinceHil = 0
	case agent.StateHitlFeedback, agent.StateHitlTool:
		if feedback == "" {
			return fmt.Errorf("runner: resume %s from %s requires feedback", agentID, ac.State)
		}
	default:
		return fmt.Errorf("runner: agent %s is not waiting (state %s)", agentID, ac.State)
	}
	if feedback != "" {
		ac.PendingMessages = append(ac.PendingMessages, feedback)
	}
	if err := ac.Transition(agent.StateAgent); err != nil {
		return err
	}
	if err := r.store.Save(ctx, ac); err != nil {
		return err
	}
	return r.Run(ctx, ac)
}

// iterate performs one planning pass. It returns true when the agent parked
// in a waiting or terminal state and the loop should stop.
func (r *Runner) iterate(ctx context.Context, ac *agent.Context) (bool, error) {
	// Gates come before the LLM call so a resumed agent re-evaluates them.
	if ac.HilCount > 0 && ac.Iterations >= ac.HilCount {
		if err := r.park(ctx, ac, agent.StateHitlThreshold); err != nil {
			return false, err
		}
		return true, nil
	}
	if ac.HilBudget > 0 && ac.CostSinceHil >= ac.HilBudget {
		if err := r.park(ctx, ac, agent.StateHil); err != nil {
			return false, err
		}
		return true, nil
	}

	for _, pending := range ac.PendingMessages {
		ac.Messages = append(ac.Messages, llm.UserMsg(pending))
	}
	ac.PendingMessages = nil

	bound, missing := functions.Resolve(ac.Functions)
	for _, name := range missing {
		r.logger.Warn(ctx, "bound function missing from registry", "agentId", ac.AgentID, "function", name)
	}

	response, err := r.plan(ctx, ac, bound)
	if err != nil {
		return false, r.fail(ctx, ac, fmt.Errorf("runner: planning call: %w", err))
	}
	ac.Messages = append(ac.Messages, response)
	if response.Stats != nil {
		ac.AddCost(response.Stats.Cost)
	}

	plan := parsePlan(response.Text())
	if plan == nil {
		return r.handleInvalidPlan(ctx, ac)
	}

	parked, err := r.dispatch(ctx, ac, plan, bound)
	if err != nil || parked {
		return parked, err
	}

	ac.Iterations++
	ac.Touch()
	return false, r.checkpoint(ctx, ac)
}

// handleInvalidPlan counts consecutive unparseable planning responses and
// either nudges the model with a corrective message or errors the agent out.
func (r *Runner) handleInvalidPlan(ctx context.Context, ac *agent.Context) (bool, error) {
	invalid := 0
	for i := len(ac.Messages) - 1; i >= 0; i-- {
		m := ac.Messages[i]
		if m.Role == llm.RoleAssistant && parsePlan(m.Text()) == nil {
			invalid++
			continue
		}
		if m.Role == llm.RoleUser && strings.HasPrefix(m.Text(), invalidPlanNudge[:20]) {
			continue
		}
		break
	}
	if invalid > maxInvalidPlans {
		return false, r.fail(ctx, ac, errors.New("runner: planner kept returning malformed responses"))
	}
	r.logger.Warn(ctx, "malformed planning response, asking again", "agentId", ac.AgentID)
	ac.Messages = append(ac.Messages, llm.UserMsg(invalidPlanNudge))
	ac.Iterations++
	ac.Touch()
	return false, r.checkpoint(ctx, ac)
}

const invalidPlanNudge = "Your previous response was not the required JSON object. Respond with exactly one JSON object of the shape {\"thoughts\": string, \"functionCalls\": [{\"functionName\": string, \"parameters\": object}]}."

// dispatch executes the planned function calls. Control functions are
// intercepted; the rest run through the bound callables. It returns true when
// the agent parked in a waiting or terminal state.
func (r *Runner) dispatch(ctx context.Context, ac *agent.Context, plan *Plan, bound []functions.Callable) (bool, error) {
	var regular []FunctionCallIntent
	for _, intent := range plan.FunctionCalls {
		switch intent.FunctionName {
		case FuncCompleted:
			return true, r.complete(ctx, ac, stringArg(intent, "note"))
		case FuncRequestFeedback:
			return true, r.requestFeedback(ctx, ac, stringArg(intent, "request"))
		case FuncSetMemory:
			if ac.Memory == nil {
				ac.Memory = make(map[string]string)
			}
			ac.Memory[stringArg(intent, "key")] = stringArg(intent, "value")
			r.record(ac, intent, "memory updated", "")
		case FuncDeleteMemory:
			delete(ac.Memory, stringArg(intent, "key"))
			r.record(ac, intent, "memory key removed", "")
		default:
			regular = append(regular, intent)
		}
	}
	if len(regular) == 0 {
		return false, nil
	}

	if err := ac.Transition(agent.StateFunctions); err != nil {
		return false, r.fail(ctx, ac, err)
	}
	byName := make(map[string]functions.Callable, len(bound))
	for _, c := range bound {
		byName[c.Schema().Name] = c
	}
	for _, intent := range regular {
		callable, ok := byName[intent.FunctionName]
		if !ok {
			r.record(ac, intent, "", fmt.Sprintf("function %q is not bound to this agent", intent.FunctionName))
			continue
		}
		if err := functions.ValidateArgs(callable.Schema(), intent.Parameters); err != nil {
			r.record(ac, intent, "", err.Error())
			continue
		}
		ac.CallStack = append(ac.CallStack, intent.FunctionName)
		stdout, err := callable.Call(ctx, intent.Parameters)
		ac.CallStack = ac.CallStack[:len(ac.CallStack)-1]
		if err != nil {
			var confirm *functions.ConfirmationError
			if errors.As(err, &confirm) {
				r.record(ac, intent, "", "")
				if err := r.park(ctx, ac, agent.StateHitlTool); err != nil {
					return false, err
				}
				r.logger.Info(ctx, "tool requested confirmation", "agentId", ac.AgentID, "function", intent.FunctionName, "prompt", confirm.Prompt)
				return true, nil
			}
			var fatal *functions.FatalError
			if errors.As(err, &fatal) {
				r.record(ac, intent, stdout, err.Error())
				return false, r.fail(ctx, ac, err)
			}
			r.record(ac, intent, stdout, err.Error())
			continue
		}
		r.record(ac, intent, stdout, "")
	}
	if err := ac.Transition(agent.StateAgent); err != nil {
		return false, r.fail(ctx, ac, err)
	}
	return false, nil
}

// record appends the call outcome to the history and mirrors it into the
// conversation so the planner sees the result on the next pass.
func (r *Runner) record(ac *agent.Context, intent FunctionCallIntent, stdout, stderr string) {
	ac.FunctionCallHistory = append(ac.FunctionCallHistory, agent.FunctionCallResult{
		FunctionName: intent.FunctionName,
		Parameters:   intent.Parameters,
		Stdout:       stdout,
		Stderr:       stderr,
	})
	body := map[string]string{"functionName": intent.FunctionName}
	if stdout != "" {
		body["stdout"] = stdout
	}
	if stderr != "" {
		body["stderr"] = stderr
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return
	}
	ac.Messages = append(ac.Messages, llm.Message{Role: llm.RoleTool, Content: string(encoded)})
}

// plan issues the planning LLM call, recording it in the call store when one
// is configured.
func (r *Runner) plan(ctx context.Context, ac *agent.Context, bound []functions.Callable) (llm.Message, error) {
	messages := make([]llm.Message, 0, len(ac.Messages)+1)
	messages = append(messages, llm.System(planningSystemPrompt(bound)))
	messages = append(messages, ac.Messages...)

	callID := uuid.NewString()
	if r.calls != nil {
		call := llmcall.NewCall(callID, messages, r.llm.GetID(), "agent-plan")
		call.AgentID = ac.AgentID
		call.UserID = ac.User.ID
		call.CallStack = strings.Join(ac.CallStack, " > ")
		if err := r.calls.SaveRequest(ctx, call); err != nil {
			r.logger.Warn(ctx, "failed to record planning request", "agentId", ac.AgentID, "error", err.Error())
		}
	}
	start := time.Now()
	response, err := r.llm.Generate(ctx, messages, llm.GenerateOptions{ID: "agent-plan"})
	if err != nil {
		return llm.Message{}, err
	}
	if r.calls != nil {
		call := llmcall.NewCall(callID, append(messages, response), r.llm.GetID(), "agent-plan")
		call.AgentID = ac.AgentID
		call.UserID = ac.User.ID
		call.TotalTime = time.Since(start).Milliseconds()
		if response.Stats != nil {
			call.Cost = response.Stats.Cost
			call.InputTokens = response.Stats.InputTokens
			call.OutputTokens = response.Stats.OutputTokens
		}
		if err := r.calls.SaveResponse(ctx, call); err != nil {
			r.logger.Warn(ctx, "failed to record planning response", "agentId", ac.AgentID, "error", err.Error())
		}
	}
	return response, nil
}

// waitForChildren polls until every spawned child reaches a terminal state,
// then appends a summary message and returns the agent to planning.
func (r *Runner) waitForChildren(ctx context.Context, ac *agent.Context) error {
	ticker := time.NewTicker(r.childPoll)
	defer ticker.Stop()
	for {
		done, summaries, err := r.childStates(ctx, ac)
		if err != nil {
			return err
		}
		if done {
			ac.Messages = append(ac.Messages, llm.UserMsg("All child agents finished:\n"+strings.Join(summaries, "\n")))
			return ac.Transition(agent.StateAgent)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) childStates(ctx context.Context, ac *agent.Context) (bool, []string, error) {
	summaries := make([]string, 0, len(ac.ChildAgents))
	for _, childID := range ac.ChildAgents {
		child, err := r.store.Load(ctx, childID)
		if err != nil {
			return false, nil, fmt.Errorf("runner: load child %s: %w", childID, err)
		}
		if !child.State.IsTerminal() {
			return false, nil, nil
		}
		summaries = append(summaries, fmt.Sprintf("- %s (%s): %s", child.Name, child.State, lastAssistantText(child)))
	}
	return true, summaries, nil
}

func lastAssistantText(ac *agent.Context) string {
	for i := len(ac.Messages) - 1; i >= 0; i-- {
		if ac.Messages[i].Role == llm.RoleAssistant {
			return ac.Messages[i].Text()
		}
	}
	return ""
}

// complete moves the agent to its successful terminal state and notifies the
// registered handler.
func (r *Runner) complete(ctx context.Context, ac *agent.Context, note string) error {
	if note != "" {
		ac.Messages = append(ac.Messages, llm.Assistant(note))
	}
	if err := ac.Transition(agent.StateCompleted); err != nil {
		return r.fail(ctx, ac, err)
	}
	ac.Touch()
	if err := r.checkpoint(ctx, ac); err != nil {
		return err
	}
	r.notify(ctx, ac)
	return nil
}

// requestFeedback parks the agent waiting for a human response and notifies
// the registered handler so the user learns about the question.
func (r *Runner) requestFeedback(ctx context.Context, ac *agent.Context, request string) error {
	if request != "" {
		ac.Messages = append(ac.Messages, llm.Assistant(request))
	}
	if err := r.park(ctx, ac, agent.StateHitlFeedback); err != nil {
		return err
	}
	r.notify(ctx, ac)
	return nil
}

func (r *Runner) notify(ctx context.Context, ac *agent.Context) {
	if ac.CompletedHandler == "" {
		return
	}
	handler, ok := r.handlers[ac.CompletedHandler]
	if !ok {
		r.logger.Warn(ctx, "completed handler not registered", "agentId", ac.AgentID, "handler", ac.CompletedHandler)
		return
	}
	handler.AgentCompleted(ctx, ac)
}

// park transitions to a waiting or terminal state and persists the full
// context so the pause survives a process restart.
func (r *Runner) park(ctx context.Context, ac *agent.Context, state agent.State) error {
	if err := ac.Transition(state); err != nil {
		return r.fail(ctx, ac, err)
	}
	ac.Touch()
	return r.checkpoint(ctx, ac)
}

// fail records the error on the context, moves it to the error state and
// persists it. The original error is returned.
func (r *Runner) fail(ctx context.Context, ac *agent.Context, cause error) error {
	r.logger.Error(ctx, "agent execution failed", "agentId", ac.AgentID, "error", cause.Error())
	ac.Error = cause.Error()
	if agent.CanTransition(ac.State, agent.StateError) {
		ac.State = agent.StateError
	} else if !ac.State.IsTerminal() {
		ac.State = agent.StateError
	}
	ac.Touch()
	if err := r.checkpoint(ctx, ac); err != nil {
		r.logger.Error(ctx, "failed to persist error state", "agentId", ac.AgentID, "error", err.Error())
	}
	return cause
}

func (r *Runner) checkpoint(ctx context.Context, ac *agent.Context) error {
	if err := r.store.Save(ctx, ac); err != nil {
		return fmt.Errorf("runner: checkpoint %s: %w", ac.AgentID, err)
	}
	return nil
}

// isWaiting reports whether the state parks the agent for human input.
func isWaiting(s agent.State) bool {
	switch s {
	case agent.StateHitlTool, agent.StateHitlFeedback, agent.StateHitlThreshold, agent.StateHil, agent.StateError:
		return true
	}
	return false
}
