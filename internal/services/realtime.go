package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
)

// ErrRealtimeDisabled is returned by subscription calls when no messaging
// backend is configured.
var ErrRealtimeDisabled = errors.New("realtime notifications are not configured")

// TopicMessenger is the part of the FCM client the notifier needs
type TopicMessenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

// UserTopic is the per-user channel every device of the user subscribes to
func UserTopic(userID uint) string {
	return fmt.Sprintf("user-%d", userID)
}

// RealtimeNotifier publishes events to a user's FCM topic
type RealtimeNotifier struct {
	client  TopicMessenger
	timeout time.Duration
	log     *logrus.Logger
	wg      sync.WaitGroup
}

func NewRealtimeNotifier(client TopicMessenger, timeout time.Duration, log *logrus.Logger) *RealtimeNotifier {
	return &RealtimeNotifier{client: client, timeout: timeout, log: log}
}

// PushToUser sends in the background and only logs failures.
func (n *RealtimeNotifier) PushToUser(userID uint, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.log.WithError(err).WithField("event", event).Warn("realtime payload not encodable")
		return
	}

	msg := &messaging.Message{
		Topic: UserTopic(userID),
		Data: map[string]string{
			"event":   event,
			"payload": string(data),
		},
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if _, err := n.client.Send(ctx, msg); err != nil {
			n.log.WithError(err).WithFields(logrus.Fields{
				"user_id": userID,
				"event":   event,
			}).Warn("realtime push failed")
		}
	}()
}

// Subscribe registers a device token on the user's topic
func (n *RealtimeNotifier) Subscribe(ctx context.Context, userID uint, token string) error {
	resp, err := n.client.SubscribeToTopic(ctx, []string{token}, UserTopic(userID))
	if err != nil {
		return fmt.Errorf("subscribe to topic: %w", err)
	}
	if resp.FailureCount > 0 {
		reason := "rejected"
		if len(resp.Errors) > 0 && resp.Errors[0] != nil {
			reason = resp.Errors[0].Reason
		}
		return fmt.Errorf("%w: device token %s", ErrValidation, reason)
	}
	return nil
}

// Wait blocks until in-flight pushes finish
func (n *RealtimeNotifier) Wait() {
	n.wg.Wait()
}

// NopNotifier drops every event. Used when Firebase is not configured.
type NopNotifier struct{}

func (NopNotifier) PushToUser(uint, string, interface{}) {}

func (NopNotifier) Subscribe(context.Context, uint, string) error {
	return ErrRealtimeDisabled
}

func (NopNotifier) Wait() {}
