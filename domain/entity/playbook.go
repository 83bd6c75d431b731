package entity

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaybookAction identifies an automated response action
type PlaybookAction string

const (
	ActionBlockIP        PlaybookAction = "block_ip"
	ActionIsolateHost    PlaybookAction = "isolate_host"
	ActionDisableAccount PlaybookAction = "disable_account"
	ActionCollectLogs    PlaybookAction = "collect_logs"
	ActionQuarantineFile PlaybookAction = "quarantine_file"
	ActionResetPassword  PlaybookAction = "reset_password"
	ActionNotifyTeam     PlaybookAction = "notify_team"
	ActionCreateTicket   PlaybookAction = "create_ticket"
)

// KnownActions lists every supported playbook action
var KnownActions = []PlaybookAction{
	ActionBlockIP,
	ActionIsolateHost,
	ActionDisableAccount,
	ActionCollectLogs,
	ActionQuarantineFile,
	ActionResetPassword,
	ActionNotifyTeam,
	ActionCreateTicket,
}

// IsValid reports whether the action is a supported one
func (a PlaybookAction) IsValid() bool {
	for _, known := range KnownActions {
		if a == known {
			return true
		}
	}
	return false
}

// templateVarPattern matches a parameter value that is entirely a
// single placeholder, e.g. "{{ source_ip }}".
var templateVarPattern = regexp.MustCompile(`^\{\{\s*([a-zA-Z0-9_]+)\s*\}\}$`)

// TemplateVariable returns the placeholder name if the raw value is a
// template reference, or "" when the value is literal.
func TemplateVariable(raw string) string {
	m := templateVarPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ""
	}
	return m[1]
}

// PlaybookStep is one ordered action in a response procedure
type PlaybookStep struct {
	Name       string            `json:"name" db:"name"`
	Action     PlaybookAction    `json:"action" db:"action"`
	Parameters map[string]string `json:"parameters" db:"-"`
}

// Playbook is an ordered automated-response procedure. Registered
// playbooks are immutable; executions record results on a PlaybookRun.
type Playbook struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	TriggerRules []CorrelationRule `json:"trigger_rules,omitempty"`
	Steps        []PlaybookStep    `json:"steps"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Validate validates the playbook definition
func (p *Playbook) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("playbook name is required")
	}
	if len(p.Steps) == 0 {
		return ErrPlaybookNoSteps
	}
	for i, step := range p.Steps {
		if !step.Action.IsValid() {
			return fmt.Errorf("%w: step %d action %q", ErrUnknownPlaybookAction, i, step.Action)
		}
	}
	return nil
}

// TemplateVariables returns the distinct placeholder names referenced
// by any step parameter.
func (p *Playbook) TemplateVariables() []string {
	seen := make(map[string]bool)
	var vars []string
	for _, step := range p.Steps {
		for _, raw := range step.Parameters {
			if name := TemplateVariable(raw); name != "" && !seen[name] {
				seen[name] = true
				vars = append(vars, name)
			}
		}
	}
	return vars
}

// Triggers reports whether the playbook is bound to the given rule
func (p *Playbook) Triggers(rule CorrelationRule) bool {
	for _, r := range p.TriggerRules {
		if r == rule {
			return true
		}
	}
	return false
}

// StepStatus represents the execution state of a single step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
)

// StepResult records the outcome of one step within a run
type StepResult struct {
	StepName    string            `json:"step_name"`
	Action      PlaybookAction    `json:"action"`
	Status      StepStatus        `json:"status"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Result      map[string]string `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// RunStatus represents the overall state of a playbook run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// PlaybookRun is the execution record of one playbook invocation.
// Each invocation gets a fresh run; registered playbooks are never
// mutated by execution.
type PlaybookRun struct {
	ID           uuid.UUID         `json:"id"`
	PlaybookName string            `json:"playbook_name"`
	IncidentID   *uuid.UUID        `json:"incident_id,omitempty"`
	Status       RunStatus         `json:"status"`
	Context      map[string]string `json:"context,omitempty"`
	Steps        []StepResult      `json:"steps"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Succeeded reports whether every step completed successfully
func (r *PlaybookRun) Succeeded() bool {
	return r.Status == RunStatusSucceeded
}
