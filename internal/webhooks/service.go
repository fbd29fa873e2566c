/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks posts signed notifications when timeslots start and end.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/scheduler"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// Event names sent in the payload and the X-Slotwatch-Event header.
const (
	EventTimeslotStart = "timeslot.start"
	EventTimeslotEnd   = "timeslot.end"
	EventTest          = "test"
)

const maxRetries = 3

// Payload is the body sent to webhook endpoints.
type Payload struct {
	ID         string           `json:"id"`
	Event      string           `json:"event"`
	Timestamp  time.Time        `json:"timestamp"`
	InstanceID string           `json:"instance_id"`
	Timeslot   *TimeslotPayload `json:"timeslot,omitempty"`
}

// TimeslotPayload represents a timeslot in the webhook payload.
type TimeslotPayload struct {
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	Duration   float64        `json:"duration"`
	Edited     bool           `json:"edited"`
	Mode       string         `json:"mode"`
	ModeParams map[string]any `json:"mode_params,omitempty"`
}

// Service handles webhook delivery.
type Service struct {
	targets    []string
	secret     string
	instanceID string
	logger     zerolog.Logger
	client     *http.Client
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.client = client }
}

// WithBackOff sets the retry policy used per delivery.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackOff = fn }
}

// NewService creates a webhook service posting to targets. An empty secret
// sends unsigned requests.
func NewService(targets []string, secret, instanceID string, logger zerolog.Logger, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		targets:    append([]string(nil), targets...),
		secret:     secret,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Callbacks returns the controller callbacks that trigger deliveries.
func (s *Service) Callbacks() []scheduler.Callback {
	return []scheduler.Callback{
		{Name: "webhooks", Roles: scheduler.RoleStart, Slot: s.notifier(EventTimeslotStart)},
		{Name: "webhooks", Roles: scheduler.RoleEnd, Slot: s.notifier(EventTimeslotEnd)},
	}
}

// notifier fans the event out to every target in the background so a slow
// endpoint never delays the watcher.
func (s *Service) notifier(event string) scheduler.SlotFunc {
	return func(_ context.Context, slot *models.Timeslot) error {
		body, err := s.encode(event, slot)
		if err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil
		}
		for _, target := range s.targets {
			s.wg.Add(1)
			go func(target string) {
				defer s.wg.Done()
				s.deliver(s.ctx, target, event, body)
			}(target)
		}
		return nil
	}
}

func (s *Service) encode(event string, slot *models.Timeslot) ([]byte, error) {
	payload := Payload{
		ID:         uuid.NewString(),
		Event:      event,
		Timestamp:  time.Now().UTC(),
		InstanceID: s.instanceID,
	}
	if slot != nil {
		payload.Timeslot = &TimeslotPayload{
			StartTime:  slot.StartTime.UTC(),
			EndTime:    slot.EndTime.UTC(),
			Duration:   slot.Duration.Seconds(),
			Edited:     slot.Edited,
			Mode:       slot.Mode,
			ModeParams: slot.ModeParams,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return body, nil
}

// deliver posts body to target, retrying transport errors and 5xx answers.
func (s *Service) deliver(ctx context.Context, target, event string, body []byte) {
	attempt := 0
	send := func() error {
		attempt++
		return s.send(ctx, target, event, body)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		s.logger.Debug().Err(err).Str("url", target).Str("event", event).Dur("retry_in", wait).Msg("webhook delivery retry")
	}

	if err := backoff.RetryNotify(send, policy, notify); err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "error").Inc()
		s.logger.Error().Err(err).Str("url", target).Str("event", event).Int("attempts", attempt).Msg("webhook delivery failed")
		return
	}
	telemetry.WebhookDeliveriesTotal.WithLabelValues(event, "success").Inc()
	s.logger.Debug().Str("url", target).Str("event", event).Int("attempts", attempt).Msg("webhook delivered")
}

func (s *Service) send(ctx context.Context, target, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create webhook request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Slotwatch-Webhook/1.0")
	req.Header.Set("X-Slotwatch-Event", event)
	req.Header.Set("X-Slotwatch-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if s.secret != "" {
		req.Header.Set("X-Slotwatch-Signature", Sign(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}

// Sign creates the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// TestWebhook sends a single test payload to target without retries.
func (s *Service) TestWebhook(ctx context.Context, target string) error {
	body, err := s.encode(EventTest, nil)
	if err != nil {
		return err
	}
	err = s.send(ctx, target, EventTest, body)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// Close cancels pending deliveries and waits for them to finish.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
