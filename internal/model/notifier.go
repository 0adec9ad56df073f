package model

// Notifier delivers an alert. body is an HTML fragment.
type Notifier interface {
	Send(subject, body string) error
}
