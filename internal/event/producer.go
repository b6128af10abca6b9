// Package event publishes portfolio domain events to Kafka.
package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	pkgkafka "github.com/hamletsspeak/812Hamur/pkg/kafka"
)

// Kafka topic constants for portfolio domain events.
const (
	TopicSessionSignedIn  = "portfolio.session.signed_in"
	TopicSessionSignedOut = "portfolio.session.signed_out"
	TopicProfileUpdated   = "portfolio.profile.updated"
)

// Aggregate type constants.
const (
	AggregateTypeSession = "session"
	AggregateTypeProfile = "profile"
)

// Source identifier for events originating from this service.
const SourcePortfolio = "portfolio-sync"

// SessionSignedInData is the payload for a session.signed_in event.
type SessionSignedInData struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email,omitempty"`
	AuthMethod   string `json:"auth_method"`
	IsAnonymous  bool   `json:"is_anonymous"`
	IsNewAccount bool   `json:"is_new_account"`
}

// SessionSignedOutData is the payload for a session.signed_out event.
type SessionSignedOutData struct {
	UserID string `json:"user_id"`
}

// ProfileUpdatedData is the payload for a profile.updated event.
type ProfileUpdatedData struct {
	UserID string            `json:"user_id"`
	Fields map[string]string `json:"fields"`
}

// Producer publishes portfolio domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// SessionSignedIn publishes a session.signed_in event.
func (p *Producer) SessionSignedIn(ctx context.Context, s domain.Session, isNewAccount bool) error {
	data := SessionSignedInData{
		UserID:       s.UserID,
		Email:        s.Email,
		AuthMethod:   string(s.AuthMethod),
		IsAnonymous:  s.IsAnonymous,
		IsNewAccount: isNewAccount,
	}

	evt, err := pkgkafka.NewEvent("session.signed_in", s.UserID, AggregateTypeSession, SourcePortfolio, data)
	if err != nil {
		return fmt.Errorf("create session.signed_in event: %w", err)
	}

	return p.kafka.Publish(ctx, TopicSessionSignedIn, evt)
}

// SessionSignedOut publishes a session.signed_out event.
func (p *Producer) SessionSignedOut(ctx context.Context, userID string) error {
	evt, err := pkgkafka.NewEvent("session.signed_out", userID, AggregateTypeSession, SourcePortfolio,
		SessionSignedOutData{UserID: userID})
	if err != nil {
		return fmt.Errorf("create session.signed_out event: %w", err)
	}

	return p.kafka.Publish(ctx, TopicSessionSignedOut, evt)
}

// ProfileUpdated publishes a profile.updated event naming the persisted
// fields.
func (p *Producer) ProfileUpdated(ctx context.Context, userID string, fields map[string]string) error {
	evt, err := pkgkafka.NewEvent("profile.updated", userID, AggregateTypeProfile, SourcePortfolio,
		ProfileUpdatedData{UserID: userID, Fields: fields})
	if err != nil {
		return fmt.Errorf("create profile.updated event: %w", err)
	}

	return p.kafka.Publish(ctx, TopicProfileUpdated, evt)
}
