package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/repository"
	"github.com/vigilsec/sentinel/internal/metrics"
)

// ActionExecutor executes a single response action against an
// external system. Implementations may be simulated or live.
type ActionExecutor interface {
	Execute(ctx context.Context, action entity.PlaybookAction, params map[string]string) (map[string]string, error)
}

// SOARConfig defines configuration for the playbook engine
type SOARConfig struct {
	// StepDelay paces consecutive step executions. Zero disables
	// pacing.
	StepDelay time.Duration `json:"step_delay"`
}

// SOAREngine executes named response playbooks. Registered playbooks
// are immutable; every execution produces a fresh PlaybookRun record.
type SOAREngine struct {
	logger   *zap.Logger
	config   *SOARConfig
	runs     repository.PlaybookRunRepository
	executor ActionExecutor
	metrics  *metrics.Collector

	playbooks map[string]*entity.Playbook
	mu        sync.RWMutex
}

// NewSOAREngine creates a playbook engine preloaded with the built-in
// response playbooks.
func NewSOAREngine(logger *zap.Logger, config *SOARConfig, runs repository.PlaybookRunRepository, executor ActionExecutor, collector *metrics.Collector) (*SOAREngine, error) {
	if config == nil {
		config = &SOARConfig{}
	}
	if runs == nil {
		return nil, fmt.Errorf("playbook run repository is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("action executor is required")
	}

	engine := &SOAREngine{
		logger:    logger.With(zap.String("component", "soar-engine")),
		config:    config,
		runs:      runs,
		executor:  executor,
		metrics:   collector,
		playbooks: make(map[string]*entity.Playbook),
	}

	for _, playbook := range builtinPlaybooks() {
		if err := engine.RegisterPlaybook(playbook); err != nil {
			return nil, fmt.Errorf("failed to register builtin playbook %q: %w", playbook.Name, err)
		}
	}

	logger.Info("SOAR engine initialized", zap.Int("playbooks", len(engine.playbooks)))

	return engine, nil
}

// builtinPlaybooks returns the preregistered response procedures
func builtinPlaybooks() []*entity.Playbook {
	now := time.Now().UTC()
	return []*entity.Playbook{
		{
			Name:         "ransomware-response",
			Description:  "Contain a suspected ransomware outbreak and open a ticket",
			TriggerRules: []entity.CorrelationRule{entity.RuleDataExfiltration},
			CreatedAt:    now,
			Steps: []entity.PlaybookStep{
				{
					Name:   "isolate-patient-zero",
					Action: entity.ActionIsolateHost,
					Parameters: map[string]string{
						"hostname": "{{ hostname }}",
					},
				},
				{
					Name:   "block-c2-address",
					Action: entity.ActionBlockIP,
					Parameters: map[string]string{
						"ip":       "{{ source_ip }}",
						"duration": "24h",
					},
				},
				{
					Name:   "quarantine-dropper",
					Action: entity.ActionQuarantineFile,
					Parameters: map[string]string{
						"hash": "{{ file_hash }}",
					},
				},
				{
					Name:   "page-soc",
					Action: entity.ActionNotifyTeam,
					Parameters: map[string]string{
						"team":    "soc",
						"message": "ransomware playbook engaged for {{ hostname }}",
					},
				},
				{
					Name:   "open-ticket",
					Action: entity.ActionCreateTicket,
					Parameters: map[string]string{
						"queue":   "SECOPS",
						"summary": "ransomware response for {{ hostname }}",
					},
				},
			},
		},
		{
			Name:         "brute-force-response",
			Description:  "Shut down a credential stuffing source and rotate the target account",
			TriggerRules: []entity.CorrelationRule{entity.RuleBruteForce},
			CreatedAt:    now,
			Steps: []entity.PlaybookStep{
				{
					Name:   "block-source",
					Action: entity.ActionBlockIP,
					Parameters: map[string]string{
						"ip":       "{{ source_ip }}",
						"duration": "1h",
					},
				},
				{
					Name:   "rotate-credentials",
					Action: entity.ActionResetPassword,
					Parameters: map[string]string{
						"account": "{{ user }}",
					},
				},
				{
					Name:   "notify-soc",
					Action: entity.ActionNotifyTeam,
					Parameters: map[string]string{
						"team":    "soc",
						"message": "brute force from {{ source_ip }} against {{ user }}",
					},
				},
			},
		},
	}
}

// RegisterPlaybook adds a user-defined playbook. Template variables
// are surfaced at registration time so operators can see what context
// an execution will need; an unbound variable at execution time still
// falls back to the literal placeholder.
func (e *SOAREngine) RegisterPlaybook(playbook *entity.Playbook) error {
	if err := playbook.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.playbooks[playbook.Name]; exists {
		return fmt.Errorf("%w: %s", entity.ErrPlaybookExists, playbook.Name)
	}
	e.playbooks[playbook.Name] = playbook

	e.logger.Info("Playbook registered",
		zap.String("playbook", playbook.Name),
		zap.Int("steps", len(playbook.Steps)),
		zap.Strings("template_variables", playbook.TemplateVariables()),
	)

	return nil
}

// GetPlaybook returns a registered playbook by name
func (e *SOAREngine) GetPlaybook(name string) (*entity.Playbook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	playbook, ok := e.playbooks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrPlaybookNotFound, name)
	}
	return playbook, nil
}

// ListPlaybooks returns all registered playbooks sorted by name
func (e *SOAREngine) ListPlaybooks() []*entity.Playbook {
	e.mu.RLock()
	defer e.mu.RUnlock()

	playbooks := make([]*entity.Playbook, 0, len(e.playbooks))
	for _, playbook := range e.playbooks {
		playbooks = append(playbooks, playbook)
	}
	sort.Slice(playbooks, func(i, j int) bool {
		return playbooks[i].Name < playbooks[j].Name
	})
	return playbooks
}

// PlaybookForRule returns the first playbook bound to the given
// correlation rule, or nil when none is bound.
func (e *SOAREngine) PlaybookForRule(rule entity.CorrelationRule) *entity.Playbook {
	for _, playbook := range e.ListPlaybooks() {
		if playbook.Triggers(rule) {
			return playbook
		}
	}
	return nil
}

// ExecutePlaybook runs the named playbook against the supplied
// context. Parameter values that are entirely a "{{ var }}" reference
// are resolved from the context; a missing variable substitutes the
// literal placeholder text rather than failing. The run aborts on the
// first step failure, leaving later steps pending. Step failures are
// reported on the returned run, not as an error.
func (e *SOAREngine) ExecutePlaybook(ctx context.Context, name string, execContext map[string]string, incidentID *uuid.UUID) (*entity.PlaybookRun, error) {
	playbook, err := e.GetPlaybook(name)
	if err != nil {
		return nil, err
	}

	run := &entity.PlaybookRun{
		ID:           uuid.New(),
		PlaybookName: playbook.Name,
		IncidentID:   incidentID,
		Status:       entity.RunStatusRunning,
		Context:      execContext,
		Steps:        make([]entity.StepResult, len(playbook.Steps)),
		StartedAt:    time.Now().UTC(),
	}
	for i, step := range playbook.Steps {
		run.Steps[i] = entity.StepResult{
			StepName: step.Name,
			Action:   step.Action,
			Status:   entity.StepStatusPending,
		}
	}

	if err := e.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record playbook run: %w", err)
	}

	e.logger.Info("Playbook execution started",
		zap.String("run_id", run.ID.String()),
		zap.String("playbook", playbook.Name),
		zap.Int("steps", len(playbook.Steps)),
	)

	failed := false
	for i, step := range playbook.Steps {
		if i > 0 && e.config.StepDelay > 0 {
			select {
			case <-ctx.Done():
				e.failStep(run, i, ctx.Err().Error())
				failed = true
			case <-time.After(e.config.StepDelay):
			}
		}
		if failed {
			break
		}

		params := resolveParameters(step.Parameters, execContext)
		started := time.Now().UTC()
		run.Steps[i].Parameters = params
		run.Steps[i].StartedAt = &started

		result, execErr := e.executor.Execute(ctx, step.Action, params)
		completed := time.Now().UTC()
		run.Steps[i].CompletedAt = &completed

		if e.metrics != nil {
			e.metrics.RecordActionExecution(string(step.Action), execErr == nil)
		}

		if execErr != nil {
			run.Steps[i].Status = entity.StepStatusFailed
			run.Steps[i].Error = execErr.Error()
			failed = true

			e.logger.Error("Playbook step failed, aborting run",
				zap.String("run_id", run.ID.String()),
				zap.String("step", step.Name),
				zap.String("action", string(step.Action)),
				zap.Error(execErr),
			)
			break
		}

		run.Steps[i].Status = entity.StepStatusSucceeded
		run.Steps[i].Result = result

		e.logger.Debug("Playbook step completed",
			zap.String("run_id", run.ID.String()),
			zap.String("step", step.Name),
			zap.String("action", string(step.Action)),
		)
	}

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if failed {
		run.Status = entity.RunStatusFailed
	} else {
		run.Status = entity.RunStatusSucceeded
	}

	if err := e.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record playbook run: %w", err)
	}

	if e.metrics != nil {
		e.metrics.RecordPlaybookRun(playbook.Name, string(run.Status), completed.Sub(run.StartedAt))
	}

	e.logger.Info("Playbook execution finished",
		zap.String("run_id", run.ID.String()),
		zap.String("playbook", playbook.Name),
		zap.String("status", string(run.Status)),
	)

	return run, nil
}

func (e *SOAREngine) failStep(run *entity.PlaybookRun, index int, message string) {
	run.Steps[index].Status = entity.StepStatusFailed
	run.Steps[index].Error = message
}

// resolveParameters substitutes whole-value template references from
// the execution context. Missing variables keep the raw placeholder.
func resolveParameters(raw, execContext map[string]string) map[string]string {
	resolved := make(map[string]string, len(raw))
	for key, value := range raw {
		if name := entity.TemplateVariable(value); name != "" {
			if bound, ok := execContext[name]; ok {
				resolved[key] = bound
				continue
			}
		}
		resolved[key] = value
	}
	return resolved
}
