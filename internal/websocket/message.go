package websocket

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Actions pushed to or accepted from clients.
const (
	ActionSessionRevoked = "session.revoked"
	ActionPing           = "ping"
	ActionPong           = "pong"
	ActionError          = "error"
)

// Message defines the structure for websocket messages.
type Message struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

// SessionRevokedPayload tells clients which token stopped being valid. An
// empty JTI means every token of the user.
type SessionRevokedPayload struct {
	JTI    string `json:"jti,omitempty"`
	Reason string `json:"reason"`
}

// NewSessionRevokedMessage encodes a session.revoked message.
func NewSessionRevokedMessage(jti, reason string) []byte {
	return encode(Message{Action: ActionSessionRevoked, Payload: SessionRevokedPayload{JTI: jti, Reason: reason}})
}

// NewErrorMessage encodes an error message.
func NewErrorMessage(text string) []byte {
	return encode(Message{Action: ActionError, Payload: map[string]string{"message": text}})
}

// NewPongMessage encodes the reply to an application-level ping.
func NewPongMessage() []byte {
	return encode(Message{Action: ActionPong})
}

func encode(msg Message) []byte {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("action", msg.Action).Msg("Failed to encode websocket message")
		return nil
	}
	return b
}
