package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Hyunsookm/VisionWalkHelper/internal/model"
	"github.com/Hyunsookm/VisionWalkHelper/internal/push"
)

// TokenStore manages guardian token registrations.
type TokenStore interface {
	GuardianTokens(ctx context.Context, guardianUID string) ([]string, error)
	DeleteGuardianToken(ctx context.Context, guardianUID, token string) error
}

// Dispatcher pushes one freshly created alert record to the devices of
// its snapshotted guardians. Invocations carry no ordering guarantee; a
// record is handled exactly once by the creation listener feeding it.
type Dispatcher struct {
	tokens TokenStore
	sender push.Sender
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(tokens TokenStore, sender push.Sender) *Dispatcher {
	return &Dispatcher{tokens: tokens, sender: sender}
}

// HandleAlert delivers the alert with the given document id and data.
// Alerts without guardians are skipped. Dead token registrations found
// during delivery are removed; transient failures are logged and not
// retried.
func (d *Dispatcher) HandleAlert(ctx context.Context, id string, data map[string]any) error {
	rec, err := model.AlertFromDoc(data)
	if err != nil {
		return fmt.Errorf("alert: dispatch %s: %w", id, err)
	}
	if len(rec.GuardianUIDs) == 0 {
		slog.Info("[alert] no guardians on record, nothing to dispatch", "id", id)
		return nil
	}

	// Token -> owning guardian, so a dead token can be deleted from the
	// right registration.
	owner := make(map[string]string)
	var tokens []string
	for _, uid := range rec.GuardianUIDs {
		ts, err := d.tokens.GuardianTokens(ctx, uid)
		if err != nil {
			slog.Warn("[alert] token lookup failed", "id", id, "guardian", uid, "error", err)
			continue
		}
		for _, t := range ts {
			if _, dup := owner[t]; dup {
				continue
			}
			owner[t] = uid
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		slog.Info("[alert] guardians have no registered devices", "id", id)
		return nil
	}

	results, err := d.sender.Send(ctx, tokens, buildMessage(id, rec))
	if err != nil {
		return fmt.Errorf("alert: dispatch %s: %w", id, err)
	}

	for _, res := range results {
		if res.Err == nil {
			continue
		}
		if !res.Permanent {
			slog.Warn("[alert] transient delivery failure", "id", id, "error", res.Err)
			continue
		}
		uid := owner[res.Token]
		if err := d.tokens.DeleteGuardianToken(ctx, uid, res.Token); err != nil {
			slog.Warn("[alert] dead token cleanup failed", "guardian", uid, "error", err)
			continue
		}
		slog.Info("[alert] removed dead token registration", "guardian", uid)
	}
	return nil
}

// buildMessage renders the notification for one alert record.
func buildMessage(id string, rec model.AlertRecord) push.Message {
	title := "알림"
	body := "새로운 알림이 도착했습니다."
	if rec.Type == model.AlertTypeFall {
		title = "낙상 감지"
		body = "보호 대상자의 낙상이 감지되었습니다. 위치를 확인해 주세요."
	}
	return push.Message{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":     rec.Type,
			"userUid":  rec.UserUID,
			"alertId":  id,
			"deviceId": rec.DeviceID,
			"status":   string(rec.Status),
		},
	}
}
