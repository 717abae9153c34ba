// Package push delivers alert notifications to guardian devices over
// FCM multicast. Delivery is fire-and-forget per token; the caller gets
// a per-token verdict and decides what to do with dead registrations.
package push

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Message is one notification to fan out.
type Message struct {
	Title string
	Body  string
	// Data rides alongside the notification payload and is handed to
	// the receiving app verbatim.
	Data map[string]string
}

// Result is the delivery verdict for one token.
type Result struct {
	Token string
	Err   error
	// Permanent marks a registration that will never work again
	// (unregistered or malformed). Transient failures leave it false.
	Permanent bool
}

// Sender fans a message out to a set of tokens.
type Sender interface {
	Send(ctx context.Context, tokens []string, msg Message) ([]Result, error)
}

// Service is the FCM-backed Sender.
type Service struct {
	client *messaging.Client
}

var _ Sender = (*Service)(nil)

// NewService initializes the Firebase messaging client. credentialsFile
// may be empty when ambient credentials are available.
func NewService(ctx context.Context, credentialsFile string) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("push: init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: init messaging client: %w", err)
	}
	slog.Info("[push] fcm client initialized")
	return &Service{client: client}, nil
}

// Send multicasts msg to tokens and reports a verdict per token. The
// returned error covers the multicast call itself; individual token
// failures are carried in the results.
func (s *Service) Send(ctx context.Context, tokens []string, msg Message) ([]Result, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	m := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "alerts",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	br, err := s.client.SendEachForMulticast(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("push: multicast send: %w", err)
	}

	results := make([]Result, len(tokens))
	for i, resp := range br.Responses {
		results[i] = Result{Token: tokens[i]}
		if resp.Error == nil {
			continue
		}
		results[i].Err = resp.Error
		results[i].Permanent = messaging.IsUnregistered(resp.Error) ||
			errorutils.IsInvalidArgument(resp.Error)
	}
	if br.FailureCount > 0 {
		slog.Warn("[push] multicast partial failure",
			"sent", br.SuccessCount, "failed", br.FailureCount)
	}
	return results, nil
}
