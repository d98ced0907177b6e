package sockjs

import (
	"encoding/json"
	"fmt"
	"regexp"
)

type FrameKind int

const (
	// FrameUnknown is any line that is not part of the framing, callers keep waiting.
	FrameUnknown FrameKind = iota
	FrameOpen
	FrameHeartbeat
	FramePayload
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameOpen:
		return "open"
	case FrameHeartbeat:
		return "heartbeat"
	case FramePayload:
		return "payload"
	case FrameClose:
		return "close"
	}
	return "unknown"
}

// Frame is one decoded line of the streaming transport.
type Frame struct {
	Kind FrameKind
	// Items holds the sub-messages of a FramePayload.
	Items []string
	// Code and Reason are set for FrameClose.
	Code   int
	Reason string
}

// DecodeError is returned when the framing matched but the JSON inside it did
// not parse, it means the wire format is not what this client expects.
type DecodeError struct {
	Line string
	Err  error
}

func (e DecodeError) Error() string {
	line := e.Line
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return fmt.Sprintf("sockjs: decode %q: %s", line, e.Err)
}

func (e DecodeError) Unwrap() error {
	return e.Err
}

var (
	heartbeatRegex = regexp.MustCompile(`^h{2,}$`)
	payloadRegex   = regexp.MustCompile(`^a(\[.*\])$`)
	closeRegex     = regexp.MustCompile(`^c(\[.*\])$`)
)

func DecodeFrame(line string) (Frame, error) {
	if line == "o" {
		return Frame{Kind: FrameOpen}, nil
	}
	if heartbeatRegex.MatchString(line) {
		return Frame{Kind: FrameHeartbeat}, nil
	}

	if groups := payloadRegex.FindStringSubmatch(line); groups != nil {
		var items []string
		err := json.Unmarshal([]byte(groups[1]), &items)
		if err != nil {
			return Frame{}, DecodeError{Line: line, Err: err}
		}
		return Frame{Kind: FramePayload, Items: items}, nil
	}

	if groups := closeRegex.FindStringSubmatch(line); groups != nil {
		var fields []json.RawMessage
		err := json.Unmarshal([]byte(groups[1]), &fields)
		if err != nil {
			return Frame{}, DecodeError{Line: line, Err: err}
		}
		if len(fields) != 2 {
			return Frame{}, DecodeError{
				Line: line,
				Err:  fmt.Errorf("expected [code, reason], got %d elements", len(fields)),
			}
		}
		frame := Frame{Kind: FrameClose}
		err = json.Unmarshal(fields[0], &frame.Code)
		if err != nil {
			return Frame{}, DecodeError{Line: line, Err: fmt.Errorf("code: %w", err)}
		}
		err = json.Unmarshal(fields[1], &frame.Reason)
		if err != nil {
			return Frame{}, DecodeError{Line: line, Err: fmt.Errorf("reason: %w", err)}
		}
		return frame, nil
	}

	return Frame{Kind: FrameUnknown}, nil
}

type MessageKind int

const (
	MessageUnknown MessageKind = iota
	// MessageData is a normal `SEQ#LEN|m|{...}` message.
	MessageData
	// MessageError is a per-exchange `SEQ#LEN|c|{...}` error.
	MessageError
)

// Message is one sub-message of a payload frame.
type Message struct {
	Kind MessageKind
	// Body is the raw JSON object of a MessageData.
	Body json.RawMessage
	// Code and Reason are set for MessageError.
	Code   int
	Reason string
}

var (
	dataMessageRegex  = regexp.MustCompile(`^\w+#\w+\|m\|(\{.*\})$`)
	errorMessageRegex = regexp.MustCompile(`^\w+#\w+\|c\|(\{.*\})$`)
)

func DecodeMessage(item string) (Message, error) {
	if groups := dataMessageRegex.FindStringSubmatch(item); groups != nil {
		body := json.RawMessage(groups[1])
		if !json.Valid(body) {
			return Message{}, DecodeError{Line: item, Err: fmt.Errorf("invalid json body")}
		}
		return Message{Kind: MessageData, Body: body}, nil
	}

	if groups := errorMessageRegex.FindStringSubmatch(item); groups != nil {
		var body struct {
			Code   int    `json:"code"`
			Reason string `json:"reason"`
		}
		err := json.Unmarshal([]byte(groups[1]), &body)
		if err != nil {
			return Message{}, DecodeError{Line: item, Err: err}
		}
		return Message{Kind: MessageError, Code: body.Code, Reason: body.Reason}, nil
	}

	return Message{Kind: MessageUnknown}, nil
}
