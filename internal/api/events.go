/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// eventTypeSubscribed is sent once all requested bus subscriptions exist.
const eventTypeSubscribed = "subscribed"

// EventMessage is one frame of the event feed.
type EventMessage struct {
	Type      string         `json:"type"`
	Payload   events.Payload `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type busEvent struct {
	eventType events.EventType
	payload   events.Payload
}

// handleEvents streams bus events over a websocket. The optional "types"
// query parameter is a comma separated filter; the default is every type.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Clients never send; CloseRead handles their close frame.
	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.All
	}

	merged := make(chan busEvent, 16)
	var wg sync.WaitGroup
	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		subscribers = append(subscribers, sub)
		wg.Add(1)
		go forward(ctx, &wg, eventType, sub, merged)
	}
	defer func() {
		cancel()
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
		wg.Wait()
	}()

	names := make([]string, 0, len(eventTypes))
	for _, t := range eventTypes {
		names = append(names, string(t))
	}
	if err := a.writeMessage(ctx, conn, eventTypeSubscribed, events.Payload{"types": names}); err != nil {
		return
	}

	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := a.writeMessage(ctx, conn, "ping", nil); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case ev := <-merged:
			if err := a.writeMessage(ctx, conn, string(ev.eventType), ev.payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

// forward copies one subscription into the merged stream until the
// subscription is closed or ctx ends.
func forward(ctx context.Context, wg *sync.WaitGroup, eventType events.EventType, sub events.Subscriber, out chan<- busEvent) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			select {
			case out <- busEvent{eventType: eventType, payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *API) writeMessage(ctx context.Context, conn *ws.Conn, eventType string, payload events.Payload) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, EventMessage{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}
