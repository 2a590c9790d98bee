package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const ProtocolVersion = 1

// Envelope wraps all directives with routing metadata.
//
// Source is authoritative: the relay overwrites it with the sender's live
// session ID before routing, so a payload can never spoof its origin.
// Target is set by the relay on unicast delivery.
type Envelope struct {
	V       int             `json:"v"`
	Kind    Kind            `json:"kind"`
	MsgID   string          `json:"msgId"`
	Target  string          `json:"target,omitempty"`
	Source  string          `json:"source,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope creates a new envelope with the given directive kind, message ID,
// and payload. The payload is automatically marshaled to JSON.
func NewEnvelope(kind Kind, msgID string, payload any) (Envelope, error) {
	var rawPayload json.RawMessage
	var err error

	if payload != nil {
		rawPayload, err = json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal payload: %w", err)
		}
	}

	return Envelope{
		V:       ProtocolVersion,
		Kind:    kind,
		MsgID:   msgID,
		TS:      NowMillis(),
		Payload: rawPayload,
	}, nil
}

// DecodePayload unmarshals the envelope's payload into the provided output struct.
func (e Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return errors.New("payload is empty")
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// ValidateBasic performs basic validation on the envelope.
// Returns an error if validation fails.
func (e Envelope) ValidateBasic() error {
	if e.V != ProtocolVersion {
		return fmt.Errorf("invalid protocol version: got %d, expected %d", e.V, ProtocolVersion)
	}
	if e.Kind == "" {
		return errors.New("kind is required")
	}
	if e.MsgID == "" {
		return errors.New("msgId is required")
	}
	return nil
}

// NewMsgID generates a random 16-character hex string for message identification.
func NewMsgID() string {
	b := make([]byte, 8) // 8 bytes = 16 hex characters
	if _, err := rand.Read(b); err != nil {
		// Fallback if rand fails (should be extremely rare)
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}

// NowMillis returns the current wall clock as Unix milliseconds, the timestamp
// unit used throughout the protocol.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
