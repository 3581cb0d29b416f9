package service

import (
	"encoding/json"
	"querycraft"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// AuditEvent is published after every pipeline run, successful or not.
type AuditEvent struct {
	RunID      string    `json:"run_id"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql,omitempty"`
	Method     string    `json:"method,omitempty"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// AuditService streams run events over NATS so downstream consumers can
// follow query activity without polling. Publication is best effort, a
// broker outage never fails the run itself.
type AuditService struct {
	logger  zerolog.Logger
	conn    *nats.Conn
	subject string
}

// NewAuditService connects to the broker named in the configuration. It
// returns nil when no NATS URL is configured, callers treat a nil service
// as "auditing disabled".
func NewAuditService() *AuditService {
	config := querycraft.GetConfig()
	if config.NatsConfig.URL == "" {
		return nil
	}

	conn, err := nats.Connect(config.NatsConfig.URL,
		nats.Name("querycraft-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		querycraft.Logger.Warn().Err(err).Msg("audit stream unavailable, events will not be published")
		return nil
	}

	return &AuditService{
		logger:  querycraft.Logger,
		conn:    conn,
		subject: config.NatsConfig.Subject,
	}
}

func (slf *AuditService) Publish(event AuditEvent) {
	if slf == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slf.logger.Error().Err(err).Msg("failed to encode audit event")
		return
	}
	if err := slf.conn.Publish(slf.subject, payload); err != nil {
		slf.logger.Warn().Err(err).Msg("failed to publish audit event")
	}
}

// Close drains the connection, flushing pending events.
func (slf *AuditService) Close() {
	if slf == nil {
		return
	}
	if err := slf.conn.Drain(); err != nil {
		slf.logger.Warn().Err(err).Msg("failed to drain audit connection")
	}
}
