// Package protocol decodes and encodes the telephony provider's media-stream
// WebSocket frames. Frames are JSON text messages carrying a stream id plus
// an event-specific payload.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WebSocket close codes used by the bridge.
const (
	CloseProtocolFault  = 1008 // policy violation: malformed or missing identifiers
	CloseSessionLimit   = 1013 // try again later: global session ceiling reached
	CloseNormalShutdown = 1000
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// StreamStart opens a call stream. Custom parameters carry the call metadata
// configured on the provider side.
type StreamStart struct {
	StreamID string
	CallID   string
	TenantID string
	From     string
	To       string
}

// StreamMedia carries one inbound audio packet (base64 mulaw).
type StreamMedia struct {
	StreamID string
	Payload  string
}

// StreamStop closes a call stream.
type StreamStop struct {
	StreamID string
}

// StreamMark is the provider's playback checkpoint acknowledgment.
type StreamMark struct {
	StreamID string
	Name     string
}

// StreamUnknown is a well-formed frame carrying an event the bridge does not
// handle, such as DTMF. Decoding it is not a fault; handlers log and ignore.
type StreamUnknown struct {
	Event    string
	StreamID string
}

// Event is one decoded inbound frame: StreamStart, StreamMedia, StreamStop,
// StreamMark or StreamUnknown.
type Event any

type rawFrame struct {
	Event    string `json:"event"`
	StreamID string `json:"streamSid"`
	Start    *struct {
		StreamID         string            `json:"streamSid"`
		CallID           string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// normalizeEventName folds the provider's event-name aliases onto one
// canonical name so a single handler can dispatch every frame.
func normalizeEventName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "start", "connected", "stream-start", "streamstart":
		return "start"
	case "media", "audio", "stream-media":
		return "media"
	case "stop", "closed", "disconnect", "stream-stop":
		return "stop"
	case "mark":
		return "mark"
	default:
		return ""
	}
}

// DecodeEvent parses one inbound text frame into a typed event.
func DecodeEvent(data []byte) (Event, *DecodeError) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, badFrame("invalid JSON frame", "")
	}

	switch normalizeEventName(raw.Event) {
	case "start":
		if raw.Start == nil {
			return nil, badFrame("start frame missing start block", "start")
		}
		streamID := strings.TrimSpace(raw.Start.StreamID)
		if streamID == "" {
			streamID = strings.TrimSpace(raw.StreamID)
		}
		if streamID == "" {
			return nil, badFrame("start frame missing stream id", "streamSid")
		}
		if strings.TrimSpace(raw.Start.CallID) == "" {
			return nil, badFrame("start frame missing call id", "start.callSid")
		}
		params := raw.Start.CustomParameters
		return StreamStart{
			StreamID: streamID,
			CallID:   strings.TrimSpace(raw.Start.CallID),
			TenantID: strings.TrimSpace(params["tenantId"]),
			From:     strings.TrimSpace(params["from"]),
			To:       strings.TrimSpace(params["to"]),
		}, nil
	case "media":
		if strings.TrimSpace(raw.StreamID) == "" {
			return nil, badFrame("media frame missing stream id", "streamSid")
		}
		if raw.Media == nil || raw.Media.Payload == "" {
			return nil, badFrame("media frame missing payload", "media.payload")
		}
		return StreamMedia{StreamID: raw.StreamID, Payload: raw.Media.Payload}, nil
	case "stop":
		if strings.TrimSpace(raw.StreamID) == "" {
			return nil, badFrame("stop frame missing stream id", "streamSid")
		}
		return StreamStop{StreamID: raw.StreamID}, nil
	case "mark":
		if raw.Mark == nil {
			return nil, badFrame("mark frame missing mark block", "mark")
		}
		return StreamMark{StreamID: raw.StreamID, Name: raw.Mark.Name}, nil
	default:
		return StreamUnknown{Event: raw.Event, StreamID: raw.StreamID}, nil
	}
}

type outboundMedia struct {
	Event    string `json:"event"`
	StreamID string `json:"streamSid"`
	Media    struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// EncodeMediaFrame builds one outbound media frame addressed to the stream.
func EncodeMediaFrame(streamID, base64Payload string) ([]byte, error) {
	frame := outboundMedia{Event: "media", StreamID: streamID}
	frame.Media.Payload = base64Payload
	return json.Marshal(frame)
}

type outboundMark struct {
	Event    string `json:"event"`
	StreamID string `json:"streamSid"`
	Mark     struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// EncodeMarkFrame builds a playback checkpoint request.
func EncodeMarkFrame(streamID, name string) ([]byte, error) {
	frame := outboundMark{Event: "mark", StreamID: streamID}
	frame.Mark.Name = name
	return json.Marshal(frame)
}
