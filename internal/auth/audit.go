package auth

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxUserAgentLen caps stored user-agent strings
const maxUserAgentLen = 500

// AuditLogger appends authentication attempts to the audit trail.
// Entries are immutable once written; corrections happen via new
// entries, never mutation.
type AuditLogger struct {
	repo   AuditRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates an audit logger over the given repository
func NewAuditLogger(repo AuditRepository, logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		repo:   repo,
		logger: logger.With(slog.String("component", "auth_audit")),
		now:    time.Now,
	}
}

// Log appends one attempt record. Audit writes must never fail the
// authentication flow itself: persistence errors are logged and
// swallowed.
func (a *AuditLogger) Log(ctx context.Context, userID *uuid.UUID, username string, success bool, method, failureReason, ip, userAgent string) {
	if len(userAgent) > maxUserAgentLen {
		cut := maxUserAgentLen
		for cut > 0 && !utf8.RuneStart(userAgent[cut]) {
			cut--
		}
		userAgent = userAgent[:cut]
	}

	entry := &AuditEntry{
		ID:            uuid.New(),
		UserID:        userID,
		Username:      username,
		Success:       success,
		Method:        method,
		FailureReason: failureReason,
		IP:            ip,
		UserAgent:     userAgent,
		CreatedAt:     a.now().UTC(),
	}

	if err := a.repo.Insert(ctx, entry); err != nil {
		a.logger.ErrorContext(ctx, "failed to write audit entry",
			slog.String("username", username),
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return
	}

	a.logger.InfoContext(ctx, "authentication attempt recorded",
		slog.String("username", username),
		slog.String("method", method),
		slog.Bool("success", success),
		slog.String("ip", ip),
	)
}

// Recent returns the most recent audit entries
func (a *AuditLogger) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	return a.repo.ListRecent(ctx, limit)
}
