package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/typedai/typedai/functions"
)

type (
	// FunctionCallIntent is one function invocation requested by the planner.
	FunctionCallIntent struct {
		FunctionName string         `json:"functionName"`
		Parameters   map[string]any `json:"parameters"`
	}

	// Plan is the parsed planning response.
	Plan struct {
		Thoughts      string               `json:"thoughts"`
		FunctionCalls []FunctionCallIntent `json:"functionCalls"`
	}
)

// Control function names the runner intercepts before dispatching to the
// registry. They are presented to the planner alongside the agent's bound
// functions.
const (
	FuncCompleted       = "Agent_completed"
	FuncRequestFeedback = "Agent_requestFeedback"
	FuncSetMemory       = "Agent_setMemory"
	FuncDeleteMemory    = "Agent_deleteMemory"
)

// controlSchemas describe the always-available control functions.
var controlSchemas = []functions.Schema{
	{
		Name:        FuncCompleted,
		Description: "Call when the task is fully complete. The note summarizes the outcome for the user.",
		Parameters:  []functions.Parameter{{Name: "note", Type: "string", Description: "completion summary", Required: true}},
	},
	{
		Name:        FuncRequestFeedback,
		Description: "Call when human input is required to continue. Execution pauses until the user responds.",
		Parameters:  []functions.Parameter{{Name: "request", Type: "string", Description: "question for the user", Required: true}},
	},
	{
		Name:        FuncSetMemory,
		Description: "Store a value in the agent's persistent memory.",
		Parameters: []functions.Parameter{
			{Name: "key", Type: "string", Required: true},
			{Name: "value", Type: "string", Required: true},
		},
	},
	{
		Name:        FuncDeleteMemory,
		Description: "Remove a key from the agent's persistent memory.",
		Parameters:  []functions.Parameter{{Name: "key", Type: "string", Required: true}},
	},
}

const planningInstructions = `You are an autonomous agent working towards the goal given by the user. On each turn, decide the next function calls that make progress. Respond with a single JSON object of the shape:

{"thoughts": string, "functionCalls": [{"functionName": string, "parameters": object}]}

Call %s when the goal is achieved, or %s when you need human input. Available functions:

%s`

// planningSystemPrompt renders the system message for a planning call: the
// fixed instructions plus the schemas of the control functions and every bound
// function.
func planningSystemPrompt(bound []functions.Callable) string {
	schemas := make([]functions.Schema, 0, len(controlSchemas)+len(bound))
	schemas = append(schemas, controlSchemas...)
	for _, c := range bound {
		schemas = append(schemas, c.Schema())
	}
	var sb strings.Builder
	for _, s := range schemas {
		encoded, err := json.MarshalIndent(map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  s.JSONSchema(),
		}, "", "  ")
		if err != nil {
			continue
		}
		sb.Write(encoded)
		sb.WriteString("\n")
	}
	return fmt.Sprintf(planningInstructions, FuncCompleted, FuncRequestFeedback, sb.String())
}

// parsePlan parses the planner output defensively: markdown fences are
// stripped, the outermost JSON object is extracted, and any shape problem
// yields nil. An object without a functionCalls array is malformed too — an
// empty array is the planner's way of doing nothing, silence is not.
func parsePlan(text string) *Plan {
	raw := strings.TrimSpace(text)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var out Plan
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if out.FunctionCalls == nil {
		return nil
	}
	return &out
}

// stringArg extracts a string parameter from a control-function intent.
func stringArg(intent FunctionCallIntent, name string) string {
	v, _ := intent.Parameters[name].(string)
	return v
}
