package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the "type" discriminator of every frame on the matchmaking socket
type MessageType string

// Client -> Server
const (
	TypeJoinQueue      MessageType = "join_queue"
	TypeLeaveQueue     MessageType = "leave_queue"
	TypeSubmitSolution MessageType = "submit_solution"
	TypeResignMatch    MessageType = "resign_match"
	TypePing           MessageType = "ping"
)

// Server -> Client
const (
	TypeConnected         MessageType = "connected"
	TypeQueueJoined       MessageType = "queue_joined"
	TypeQueueLeft         MessageType = "queue_left"
	TypeQueueStatus       MessageType = "queue_status"
	TypeMatchRetry        MessageType = "match_retry"
	TypeMatchError        MessageType = "match_error"
	TypeMatchFound        MessageType = "match_found"
	TypeTimerUpdate       MessageType = "timer_update"
	TypeMatchCompleted    MessageType = "match_completed"
	TypeSubmissionInvalid MessageType = "submission_invalid"
	TypeError             MessageType = "error"
	TypePong              MessageType = "pong"
)

var (
	// ErrUnknownType is returned by Decode for frames whose type this client does not understand
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed wraps every JSON failure while decoding a frame
	ErrMalformed = errors.New("malformed message")
)

// Message is a decoded inbound frame. Payload holds one of the payload structs
// below, or nil for payload-less kinds (queue_joined, queue_left, pong).
type Message struct {
	Type    MessageType
	Payload interface{}
}

type envelope struct {
	Type MessageType `json:"type"`
}

// Decode parses a raw frame into a typed Message.
// Unknown types return the Message with its Type set and ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	msg := Message{Type: env.Type}
	var target interface{}

	switch env.Type {
	case TypeQueueJoined, TypeQueueLeft, TypePong:
		return msg, nil
	case TypeConnected, TypeMatchRetry, TypeMatchError, TypeSubmissionInvalid, TypeError:
		target = &Notice{}
	case TypeQueueStatus:
		target = &QueueStatus{}
	case TypeMatchFound:
		target = &MatchFound{}
	case TypeTimerUpdate:
		target = &TimerUpdate{}
	case TypeMatchCompleted:
		target = &MatchCompleted{}
	default:
		return msg, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}

	// Payloads are stored by value
	switch p := target.(type) {
	case *Notice:
		msg.Payload = *p
	case *QueueStatus:
		msg.Payload = *p
	case *MatchFound:
		msg.Payload = *p
	case *TimerUpdate:
		msg.Payload = *p
	case *MatchCompleted:
		msg.Payload = *p
	}
	return msg, nil
}

// Command is an outbound frame
type Command struct {
	Type            MessageType `json:"type"`
	MatchID         int64       `json:"match_id,omitempty"`
	FrontendSeconds *int        `json:"frontend_seconds,omitempty"`
}

// Encode marshals an outbound command
func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", cmd.Type, err)
	}
	return data, nil
}

// JoinQueue builds a join_queue command
func JoinQueue() Command { return Command{Type: TypeJoinQueue} }

// LeaveQueue builds a leave_queue command
func LeaveQueue() Command { return Command{Type: TypeLeaveQueue} }

// Ping builds the heartbeat command
func Ping() Command { return Command{Type: TypePing} }

// SubmitSolution builds a submit_solution command carrying the local elapsed-seconds hint
func SubmitSolution(matchID int64, frontendSeconds int) Command {
	return Command{Type: TypeSubmitSolution, MatchID: matchID, FrontendSeconds: &frontendSeconds}
}

// ResignMatch builds a resign_match command carrying the local elapsed-seconds hint
func ResignMatch(matchID int64, frontendSeconds int) Command {
	return Command{Type: TypeResignMatch, MatchID: matchID, FrontendSeconds: &frontendSeconds}
}
