// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// AuthEventsQueue is the durable queue identity lifecycle events go to.
const AuthEventsQueue = "auth.events"

// EventType names an identity lifecycle transition.
type EventType string

const (
    EventRegistered       EventType = "registered"
    EventLogin            EventType = "login"
    EventRefresh          EventType = "refresh"
    EventLogout           EventType = "logout"
    EventFederatedLinked  EventType = "federated_linked"
    EventFederatedCreated EventType = "federated_created"
)

// AuthEvent is published after a credential operation succeeds.  It carries
// enough for audit consumers to log the transition without querying the
// credential store.  Tokens are never included.
type AuthEvent struct {
    Type     EventType `json:"type"`
    UserID   string    `json:"user_id"`
    Email    string    `json:"email"`
    Provider string    `json:"provider"`
    RemoteIP string    `json:"remote_ip,omitempty"`
    At       time.Time `json:"at"`
}
