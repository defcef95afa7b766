package authcore

import (
	"context"
	"log"
)

// LogMailer writes deliveries to a logger instead of sending them. Meant for
// development and tests; token values are logged, so never use it in
// production.
type LogMailer struct {
	Logger *log.Logger
}

func (m *LogMailer) Send(_ context.Context, recipient, template string, data map[string]string) error {
	logger := m.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("authcore: mail %s to %s: %v", template, recipient, data)
	return nil
}
