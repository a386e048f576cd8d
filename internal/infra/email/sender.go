package email

import (
	"context"

	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/infra/logger"
)

// LoggingSender records delivery intents through the structured logger without
// sending anything. It stands in for a real provider in development and tests;
// bodies are never logged because they carry sign-in links.
type LoggingSender struct {
	logger *zap.Logger
}

var _ port.EmailSender = (*LoggingSender)(nil)

// NewLoggingSender builds a sender that only logs delivery metadata.
func NewLoggingSender(log *zap.Logger) *LoggingSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingSender{logger: log}
}

// Send logs the delivery intent.
func (s *LoggingSender) Send(_ context.Context, to, subject, _ string, _ string) error {
	s.logger.Info("email dispatch (logging sender)",
		zap.String("to", logger.MaskEmail(to)),
		zap.String("subject", subject),
	)
	return nil
}
