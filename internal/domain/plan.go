package domain

import (
	"fmt"
	"strings"
)

// PlanStep is a single advisory step of an ExecutionPlan.
type PlanStep struct {
	ID        string   `json:"id"`
	Action    string   `json:"action"`
	Tool      string   `json:"tool,omitempty"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

// ExecutionPlan is an optional structured plan produced before the agent loop.
// It is advisory only and never required for correctness.
type ExecutionPlan struct {
	Goal       string     `json:"goal"`
	Steps      []PlanStep `json:"steps"`
	Complexity string     `json:"complexity"`
}

// Render formats the plan for inclusion in the system context.
func (p *ExecutionPlan) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", p.Goal)
	if p.Complexity != "" {
		fmt.Fprintf(&sb, "Complexity: %s\n", p.Complexity)
	}
	for i, s := range p.Steps {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, s.ID, s.Action)
		if s.Tool != "" {
			fmt.Fprintf(&sb, " (tool: %s)", s.Tool)
		}
		if len(s.DependsOn) > 0 {
			fmt.Fprintf(&sb, " after %s", strings.Join(s.DependsOn, ", "))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
