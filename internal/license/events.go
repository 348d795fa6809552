package license

import "time"

// Event names published by the manager
const (
	EventActivated        = "license.activated"
	EventActivationFailed = "license.activation_failed"
	EventDeactivated      = "license.deactivated"
	EventStatusChanged    = "license.status"
	EventRevoked          = "license.revoked"
	EventTamper           = "license.tamper"
	EventTrialIssued      = "license.trial_issued"
)

// Event is a one-way notification about the license lifecycle
type Event struct {
	Type      string         `json:"type"`
	LicenseID string         `json:"license_id,omitempty"`
	State     State          `json:"state"`
	Outcome   OutcomeKind    `json:"outcome,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventPublisher receives manager events. Publish must not block and must
// not call back into the manager.
type EventPublisher interface {
	Publish(event Event)
}

// PublisherFunc adapts a function to EventPublisher
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
