// Package notify publishes resource notifications out of the backend's outbox.
//
// The backend writes a notification row in the same transaction as the resource change.
// A relay picks up committed rows and hands them to a Publisher. Delivery to the
// subscribed push endpoints happens downstream of the publisher.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/appseed/core"
)

// Message is a resource notification
type Message struct {
	AppID      int             `json:"appId"`
	Type       string          `json:"type"`
	Action     core.Operation  `json:"action"`
	ResourceID int             `json:"resourceId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Key returns the partitioning key of the message. Notifications of one resource
// share a key so they keep their order.
func (m Message) Key() string {
	return strconv.Itoa(m.AppID) + "/" + m.Type + "/" + strconv.Itoa(m.ResourceID)
}

// Encode returns the JSON representation of the message
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("cannot encode notification %s: %w", m.Key(), err)
	}
	return data, nil
}

// Publisher sends messages to an external broker
type Publisher interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}
