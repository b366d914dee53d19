package alerts

import "context"

// Store persists active alerts and the bounded acknowledgment history.
type Store interface {
	// SaveActive persists a newly emitted, unacknowledged alert.
	SaveActive(ctx context.Context, a *Alert) error

	// ListActive returns unacknowledged alerts, newest first.
	ListActive(ctx context.Context, driverID string) ([]*Alert, error)

	// ListHistory returns acknowledged alerts, newest first, at most HistoryCap.
	ListHistory(ctx context.Context, driverID string) ([]*Alert, error)

	// Acknowledge marks the alert acknowledged and moves it to history,
	// evicting the oldest history entry beyond HistoryCap. Returns
	// ErrAlertNotFound if the alert is not active for this driver.
	Acknowledge(ctx context.Context, driverID, alertID string) (*Alert, error)

	// Dismiss removes an active alert entirely, leaving no history entry.
	// Returns the removed alert or ErrAlertNotFound.
	Dismiss(ctx context.Context, driverID, alertID string) (*Alert, error)
}
