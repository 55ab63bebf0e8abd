package authgate

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	internalaudit "github.com/smartbag/authgate/internal/audit"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshReplayDetected = "refresh_replay_detected"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventRateLimited           = "rate_limited"
	auditEventStoreUnavailable      = "store_unavailable"
)

// AuditErrorCode is the stable error label written into audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpired            AuditErrorCode = "expired"
	auditErrReplay             AuditErrorCode = "refresh_replay"
	auditErrUnknownSession     AuditErrorCode = "unknown_session"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnavailable        AuditErrorCode = "store_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func auditCode(err error) AuditErrorCode {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrReplayDetected):
		return auditErrReplay
	case errors.Is(err, ErrUnknownSession):
		return auditErrUnknownSession
	case errors.Is(err, ErrExpiredToken), errors.Is(err, ErrExpiredRefresh):
		return auditErrExpired
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrMalformed), errors.Is(err, ErrTokenRevoked):
		return auditErrInvalidToken
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// NewChannelSink returns a sink that buffers events on a channel.
func NewChannelSink(buffer int) *internalaudit.ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes newline-delimited JSON to w.
func NewJSONWriterSink(w io.Writer) *internalaudit.JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLogrusSink returns a sink that logs each event through log.
func NewLogrusSink(log logrus.FieldLogger) *internalaudit.LogrusSink {
	return internalaudit.NewLogrusSink(log)
}

func (g *Gate) emitAudit(ctx context.Context, eventType string, success bool, subject, family string, err error, metadata func() map[string]string) {
	if g == nil || g.audit == nil {
		return
	}
	clientKey, _ := ClientKeyFromContext(ctx)
	event := AuditEvent{
		Timestamp: g.now().UTC(),
		EventType: eventType,
		Subject:   subject,
		Family:    family,
		ClientKey: clientKey,
		Success:   success,
	}
	if err != nil {
		event.Error = string(auditCode(err))
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	g.audit.Emit(ctx, event)
}
