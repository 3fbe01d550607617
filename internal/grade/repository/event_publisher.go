package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"judgeflow/internal/common/mq"
	"judgeflow/internal/grade/model"
	appErr "judgeflow/pkg/errors"
)

// EventPublisher announces finalized submissions.
type EventPublisher interface {
	PublishFinalized(ctx context.Context, event model.SubmissionEvent) error
}

// MQEventPublisher publishes submission events to a message queue.
type MQEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQEventPublisher creates a publisher for topic.
func NewMQEventPublisher(producer mq.Producer, topic string) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, topic: topic}
}

// PublishFinalized publishes one event keyed by user so a user's events stay ordered.
func (p *MQEventPublisher) PublishFinalized(ctx context.Context, event model.SubmissionEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	if event.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if event.Type == "" {
		event.Type = model.EventSubmissionFinalized
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal submission event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.SubmissionID
	message.Key = strconv.FormatInt(event.UserID, 10)
	message.SetHeader("event_type", event.Type)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish submission event failed")
	}
	return nil
}
