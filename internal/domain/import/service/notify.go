package service

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-import/internal/domain/import/progress"
	"github.com/FACorreiaa/echo-import/pkg/push"
)

// NewHubNotifier publishes tracker events as JSON to the owner's push
// connections.
func NewHubNotifier(hub *push.Hub, logger *slog.Logger) progress.Notifier {
	return progress.NotifierFunc(func(ownerID uuid.UUID, ev progress.Event) {
		msg, err := json.Marshal(ev)
		if err != nil {
			logger.Error("failed to encode import event", slog.Any("error", err))
			return
		}
		hub.Broadcast(ownerID, msg)
	})
}
