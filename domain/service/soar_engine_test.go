package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/infrastructure/memory"
)

// scriptedExecutor succeeds until failAt (1-based call index), then
// fails once. Zero disables failure.
type scriptedExecutor struct {
	calls  int
	failAt int
	params []map[string]string
}

func (e *scriptedExecutor) Execute(_ context.Context, action entity.PlaybookAction, params map[string]string) (map[string]string, error) {
	e.calls++
	e.params = append(e.params, params)
	if e.failAt > 0 && e.calls == e.failAt {
		return nil, fmt.Errorf("connector unavailable")
	}
	return map[string]string{"action": string(action), "status": "done"}, nil
}

func newTestSOAREngine(t *testing.T, executor ActionExecutor) (*SOAREngine, *memory.RunRepository) {
	t.Helper()

	repo := memory.NewRunRepository()
	engine, err := NewSOAREngine(zap.NewNop(), &SOARConfig{}, repo, executor, nil)
	require.NoError(t, err)

	return engine, repo
}

func TestBuiltinPlaybooksRegistered(t *testing.T) {
	engine, _ := newTestSOAREngine(t, &scriptedExecutor{})

	playbooks := engine.ListPlaybooks()
	require.Len(t, playbooks, 2)
	assert.Equal(t, "brute-force-response", playbooks[0].Name)
	assert.Equal(t, "ransomware-response", playbooks[1].Name)
}

func TestGetPlaybookUnknown(t *testing.T) {
	engine, _ := newTestSOAREngine(t, &scriptedExecutor{})

	_, err := engine.GetPlaybook("no-such-playbook")
	assert.ErrorIs(t, err, entity.ErrPlaybookNotFound)
}

func TestRegisterPlaybook(t *testing.T) {
	engine, _ := newTestSOAREngine(t, &scriptedExecutor{})

	playbook := &entity.Playbook{
		Name:        "phishing-response",
		Description: "Disable the targeted account",
		Steps: []entity.PlaybookStep{
			{Name: "disable", Action: entity.ActionDisableAccount, Parameters: map[string]string{"account": "{{ user }}"}},
		},
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, engine.RegisterPlaybook(playbook))

	registered, err := engine.GetPlaybook("phishing-response")
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, registered.TemplateVariables())
}

func TestRegisterPlaybookRejectsDuplicates(t *testing.T) {
	engine, _ := newTestSOAREngine(t, &scriptedExecutor{})

	playbook := &entity.Playbook{
		Name:  "brute-force-response",
		Steps: []entity.PlaybookStep{{Name: "noop", Action: entity.ActionNotifyTeam}},
	}

	err := engine.RegisterPlaybook(playbook)
	assert.ErrorIs(t, err, entity.ErrPlaybookExists)
}

func TestRegisterPlaybookValidation(t *testing.T) {
	engine, _ := newTestSOAREngine(t, &scriptedExecutor{})

	tests := []struct {
		name     string
		playbook *entity.Playbook
		expected error
	}{
		{
			"no steps",
			&entity.Playbook{Name: "empty"},
			entity.ErrPlaybookNoSteps,
		},
		{
			"unknown action",
			&entity.Playbook{
				Name:  "bad-action",
				Steps: []entity.PlaybookStep{{Name: "boom", Action: entity.PlaybookAction("launch_missiles")}},
			},
			entity.ErrUnknownPlaybookAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, engine.RegisterPlaybook(tt.playbook), tt.expected)
		})
	}
}

func TestPlaybookForRule(t *testing.T) {
	engine, _ := newTestSOAREngine(t, &scriptedExecutor{})

	playbook := engine.PlaybookForRule(entity.RuleBruteForce)
	require.NotNil(t, playbook)
	assert.Equal(t, "brute-force-response", playbook.Name)

	playbook = engine.PlaybookForRule(entity.RuleDataExfiltration)
	require.NotNil(t, playbook)
	assert.Equal(t, "ransomware-response", playbook.Name)

	assert.Nil(t, engine.PlaybookForRule(entity.RuleLateralMovement))
}

func TestExecutePlaybookSuccess(t *testing.T) {
	executor := &scriptedExecutor{}
	engine, repo := newTestSOAREngine(t, executor)

	run, err := engine.ExecutePlaybook(context.Background(), "brute-force-response", map[string]string{
		"source_ip": "203.0.113.7",
		"user":      "svc-backup",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, entity.RunStatusSucceeded, run.Status)
	assert.True(t, run.Succeeded())
	require.NotNil(t, run.CompletedAt)
	require.Len(t, run.Steps, 3)
	for _, step := range run.Steps {
		assert.Equal(t, entity.StepStatusSucceeded, step.Status)
		assert.NotNil(t, step.StartedAt)
		assert.NotNil(t, step.CompletedAt)
	}

	// Whole-value references resolve from the execution context.
	assert.Equal(t, "203.0.113.7", run.Steps[0].Parameters["ip"])
	assert.Equal(t, "1h", run.Steps[0].Parameters["duration"])
	assert.Equal(t, "svc-backup", run.Steps[1].Parameters["account"])

	// Embedded references inside longer strings stay literal.
	assert.Equal(t, "brute force from {{ source_ip }} against {{ user }}", run.Steps[2].Parameters["message"])

	stored, err := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusSucceeded, stored.Status)
}

func TestExecutePlaybookMissingVariableKeepsPlaceholder(t *testing.T) {
	executor := &scriptedExecutor{}
	engine, _ := newTestSOAREngine(t, executor)

	run, err := engine.ExecutePlaybook(context.Background(), "brute-force-response", map[string]string{}, nil)
	require.NoError(t, err)

	assert.Equal(t, entity.RunStatusSucceeded, run.Status)
	assert.Equal(t, "{{ source_ip }}", run.Steps[0].Parameters["ip"])
	assert.Equal(t, "{{ user }}", run.Steps[1].Parameters["account"])
}

func TestExecutePlaybookAbortsOnFirstFailure(t *testing.T) {
	executor := &scriptedExecutor{failAt: 2}
	engine, repo := newTestSOAREngine(t, executor)

	run, err := engine.ExecutePlaybook(context.Background(), "ransomware-response", map[string]string{
		"hostname":  "ws-0042",
		"source_ip": "185.220.101.45",
	}, nil)
	require.NoError(t, err, "step failures are reported on the run, not as an error")

	assert.Equal(t, entity.RunStatusFailed, run.Status)
	require.Len(t, run.Steps, 5)

	assert.Equal(t, entity.StepStatusSucceeded, run.Steps[0].Status)
	assert.Equal(t, entity.StepStatusFailed, run.Steps[1].Status)
	assert.Equal(t, "connector unavailable", run.Steps[1].Error)
	for _, step := range run.Steps[2:] {
		assert.Equal(t, entity.StepStatusPending, step.Status)
		assert.Nil(t, step.StartedAt)
	}

	// Only the first two steps reached the executor.
	assert.Equal(t, 2, executor.calls)

	stored, err := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusFailed, stored.Status)
}

func TestExecutePlaybookFreshRunPerExecution(t *testing.T) {
	engine, repo := newTestSOAREngine(t, &scriptedExecutor{})
	ctx := context.Background()

	first, err := engine.ExecutePlaybook(ctx, "brute-force-response", map[string]string{"source_ip": "10.0.0.1"}, nil)
	require.NoError(t, err)
	second, err := engine.ExecutePlaybook(ctx, "brute-force-response", map[string]string{"source_ip": "10.0.0.2"}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "10.0.0.1", first.Steps[0].Parameters["ip"])
	assert.Equal(t, "10.0.0.2", second.Steps[0].Parameters["ip"])

	runs, err := repo.ListByPlaybook(ctx, "brute-force-response", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestExecutePlaybookUnknownName(t *testing.T) {
	engine, _ := newTestSOAREngine(t, &scriptedExecutor{})

	_, err := engine.ExecutePlaybook(context.Background(), "no-such-playbook", nil, nil)
	assert.ErrorIs(t, err, entity.ErrPlaybookNotFound)
}
