// Package executor provides ActionExecutor implementations: a
// simulated executor for demos and tests, and an HTTP executor that
// calls a real response gateway.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
)

// SimulatedExecutor fabricates successful results without touching
// any external system.
type SimulatedExecutor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSimulatedExecutor creates a simulated executor
func NewSimulatedExecutor(logger *zap.Logger) *SimulatedExecutor {
	return &SimulatedExecutor{
		logger: logger.With(zap.String("component", "simulated-executor")),
		now:    time.Now,
	}
}

// Execute returns a canned result for the action. The fabricated
// identifiers mimic what the real systems would hand back.
func (e *SimulatedExecutor) Execute(_ context.Context, action entity.PlaybookAction, params map[string]string) (map[string]string, error) {
	ts := e.now().Unix()

	var result map[string]string
	switch action {
	case entity.ActionBlockIP:
		result = map[string]string{
			"rule_id":    fmt.Sprintf("FW-RULE-%d", ts),
			"blocked_ip": params["ip"],
			"duration":   params["duration"],
		}
	case entity.ActionIsolateHost:
		result = map[string]string{
			"isolation_id": fmt.Sprintf("EDR-ISO-%d", ts),
			"hostname":     params["hostname"],
		}
	case entity.ActionDisableAccount:
		result = map[string]string{
			"directory_txn": fmt.Sprintf("IAM-DIS-%d", ts),
			"account":       params["account"],
		}
	case entity.ActionCollectLogs:
		result = map[string]string{
			"collection_id": fmt.Sprintf("LOG-COL-%d", ts),
			"target":        params["target"],
		}
	case entity.ActionQuarantineFile:
		result = map[string]string{
			"quarantine_id": fmt.Sprintf("AV-QTN-%d", ts),
			"hash":          params["hash"],
		}
	case entity.ActionResetPassword:
		result = map[string]string{
			"reset_token": fmt.Sprintf("IAM-RST-%d", ts),
			"account":     params["account"],
		}
	case entity.ActionNotifyTeam:
		result = map[string]string{
			"notification_id": fmt.Sprintf("NOTIFY-%d", ts),
			"team":            params["team"],
		}
	case entity.ActionCreateTicket:
		result = map[string]string{
			"ticket_id": fmt.Sprintf("TICKET-%d", ts),
			"queue":     params["queue"],
		}
	default:
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownPlaybookAction, action)
	}

	e.logger.Debug("Simulated action executed",
		zap.String("action", string(action)),
		zap.Any("params", params),
	)

	return result, nil
}

