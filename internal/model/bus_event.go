package model

import (
	"fmt"
	"net"

	"github.com/google/uuid"
)

// BusEventType discriminates the two wire variants carried over the
// message bus.
type BusEventType string

const (
	BusEventEmailReadyToSend      BusEventType = "EmailReadyToSend"
	BusEventEmailDeliveryAttempt BusEventType = "EmailDeliveryAttempted"
)

// BusEvent is the self-describing JSON envelope posted to the bus's
// /post endpoint and broadcast to /listen subscribers. SourceIP is only
// carried by EmailReadyToSend (and may be empty) and Status only by
// EmailDeliveryAttempted, selected by Type.
type BusEvent struct {
	Type      BusEventType  `json:"type"`
	MessageID uuid.UUID     `json:"message_id"`
	SourceIP  net.IP        `json:"source_ip,omitempty"`
	Status    MessageStatus `json:"status,omitempty"`
}

// NewEmailReadyToSend builds the event the ingress handler and the
// periodic scheduler emit once a message's row is ready for the
// outbound handler to pick up.
func NewEmailReadyToSend(messageID uuid.UUID, sourceIP net.IP) BusEvent {
	return BusEvent{Type: BusEventEmailReadyToSend, MessageID: messageID, SourceIP: sourceIP}
}

// NewEmailDeliveryAttempted builds the event the outbound handler emits
// after every delivery attempt, successful or not.
func NewEmailDeliveryAttempted(messageID uuid.UUID, status MessageStatus) BusEvent {
	return BusEvent{Type: BusEventEmailDeliveryAttempt, MessageID: messageID, Status: status}
}

// Validate reports whether the event carries a known type and, for
// EmailDeliveryAttempted, a Status; used by bus subscribers to reject
// garbage before acting on it.
func (e BusEvent) Validate() error {
	switch e.Type {
	case BusEventEmailReadyToSend:
		return nil
	case BusEventEmailDeliveryAttempt:
		if e.Status == "" {
			return fmt.Errorf("bus event %s missing status", e.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown bus event type %q", e.Type)
	}
}
