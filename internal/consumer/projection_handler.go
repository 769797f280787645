package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/projection"
)

// Listener is the projection side of the notification contract.
type Listener interface {
	OnEventsStored(ctx context.Context, n events.EventsStored) (projection.Report, error)
	OnCompensationsStored(ctx context.Context, n events.CompensationsStored) (projection.Report, error)
}

// ProjectionHandler routes notifications to the projection listener.
type ProjectionHandler struct {
	listener Listener
}

// NewProjectionHandler constructs a handler for listener.
func NewProjectionHandler(listener Listener) *ProjectionHandler {
	return &ProjectionHandler{listener: listener}
}

// Handle decodes the notification payload and forwards it. The record key, when present,
// must match the device of the payload. Payload problems wrap ErrInvalidNotification;
// listener errors are returned as is so the processor retries them.
func (h *ProjectionHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.Type {
	case events.NotificationEventsStored:
		var n events.EventsStored
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrInvalidNotification, msg.Type, err)
		}
		if err := checkDevice(msg, n.DeviceID); err != nil {
			return err
		}
		_, err := h.listener.OnEventsStored(ctx, n)
		return err
	case events.NotificationCompensationsStored:
		var n events.CompensationsStored
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrInvalidNotification, msg.Type, err)
		}
		if err := checkDevice(msg, n.DeviceID); err != nil {
			return err
		}
		_, err := h.listener.OnCompensationsStored(ctx, n)
		return err
	default:
		return fmt.Errorf("%w: unsupported notification type %q", ErrInvalidNotification, msg.Type)
	}
}

func checkDevice(msg Message, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: %s without device id", ErrInvalidNotification, msg.Type)
	}
	if msg.DeviceID != "" && msg.DeviceID != deviceID {
		return fmt.Errorf("%w: %s key %q does not match device", ErrInvalidNotification, msg.Type, msg.DeviceID)
	}
	return nil
}
