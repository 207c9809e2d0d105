package signaling

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/jrsteele09/go-call-relay/calls"
	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
)

// Inbound event names.
const (
	EventJoinGroups         = "joinGroups"
	EventLeaveGroup         = "leaveGroup"
	EventInitiateCall       = "initiateCall"
	EventCallUser           = "callUser"
	EventAcceptCall         = "acceptCall"
	EventRejectCall         = "rejectCall"
	EventCallStarted        = "callStarted"
	EventEndCall            = "endCall"
	EventWebRTCOffer        = "webrtc-offer"
	EventWebRTCAnswer       = "webrtc-answer"
	EventWebRTCICECandidate = "webrtc-ice-candidate"
	EventSendMessage        = "sendMessage"
	EventSendGroupMessage   = "sendGroupMessage"
)

// Inbound is one decoded client message. The set of implementations is closed;
// Relay.Handle switches over all of them.
type Inbound interface {
	// Kind names the message kind for logs and metrics
	Kind() string
	inbound()
}

// JoinGroups subscribes the session to the broadcasts of each listed group.
type JoinGroups struct {
	GroupIDs []string `json:"groupIds"`
}

// LeaveGroup unsubscribes the session from one group.
type LeaveGroup struct {
	GroupID string `json:"groupId"`
}

// InitiateCall starts a direct call to TargetUserID or a group call to GroupID.
type InitiateCall struct {
	CallID       string     `json:"callId"` // Generated when empty
	TargetUserID string     `json:"targetUserId"`
	GroupID      string     `json:"groupId"`
	CallType     calls.Kind `json:"callType"`
	IsGroup      bool       `json:"isGroup"`
}

// AcceptCall is sent by the callee. CallerID also accepts targetUserId on the
// wire since clients address the caller as their target.
type AcceptCall struct {
	CallID   string
	CallerID string
}

// RejectCall is the callee declining. CallerID is read like AcceptCall's.
type RejectCall struct {
	CallID   string
	CallerID string
}

// CallStarted reports that media is flowing.
type CallStarted struct {
	CallID string `json:"callId"`
}

// EndCall hangs up. An empty Participants falls back to the stored record.
type EndCall struct {
	CallID       string   `json:"callId"`
	Participants []string `json:"participants"`
	Reason       string   `json:"reason"`
}

// Media carries one media negotiation message. Payload is the whole data
// object as received.
type Media struct {
	CallID       string
	TargetUserID string
	Payload      json.RawMessage
}

// MediaOffer is a webrtc-offer.
type MediaOffer struct{ Media }

// MediaAnswer is a webrtc-answer.
type MediaAnswer struct{ Media }

// MediaICECandidate is a webrtc-ice-candidate, forwarded whether or not the
// offer has been seen.
type MediaICECandidate struct{ Media }

// SendMessage is a direct chat message for ReceiverID.
type SendMessage struct {
	ReceiverID string          `json:"receiverId"`
	Message    json.RawMessage `json:"message"`
}

// SendGroupMessage is a chat message broadcast to GroupID's subscribers.
type SendGroupMessage struct {
	GroupID string          `json:"groupId"`
	Message json.RawMessage `json:"message"`
}

func (JoinGroups) Kind() string        { return EventJoinGroups }
func (LeaveGroup) Kind() string        { return EventLeaveGroup }
func (InitiateCall) Kind() string      { return EventInitiateCall }
func (AcceptCall) Kind() string        { return EventAcceptCall }
func (RejectCall) Kind() string        { return EventRejectCall }
func (CallStarted) Kind() string       { return EventCallStarted }
func (EndCall) Kind() string           { return EventEndCall }
func (MediaOffer) Kind() string        { return EventWebRTCOffer }
func (MediaAnswer) Kind() string       { return EventWebRTCAnswer }
func (MediaICECandidate) Kind() string { return EventWebRTCICECandidate }
func (SendMessage) Kind() string       { return EventSendMessage }
func (SendGroupMessage) Kind() string  { return EventSendGroupMessage }

func (JoinGroups) inbound()       {}
func (LeaveGroup) inbound()       {}
func (InitiateCall) inbound()     {}
func (AcceptCall) inbound()       {}
func (RejectCall) inbound()       {}
func (CallStarted) inbound()      {}
func (EndCall) inbound()          {}
func (Media) inbound()            {}
func (SendMessage) inbound()      {}
func (SendGroupMessage) inbound() {}

// Decode parses a frame of the form {"event": name, "data": {...}}.
// Unknown events fail with ErrUnsupported, anything else malformed with
// ErrInvalidRequest.
func Decode(frame []byte) (Inbound, error) {
	if !gjson.ValidBytes(frame) {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "frame is not valid JSON")
	}
	event := gjson.GetBytes(frame, "event")
	if event.Type != gjson.String {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "frame has no event name")
	}
	data := gjson.GetBytes(frame, "data")

	switch event.Str {
	case EventJoinGroups:
		// Older clients send the id list as the whole payload
		ids := data
		if !data.IsArray() {
			ids = data.Get("groupIds")
		}
		if !ids.IsArray() {
			return nil, missing(event.Str, "groupIds")
		}
		msg := JoinGroups{}
		for _, id := range ids.Array() {
			if id.Type == gjson.String && id.Str != "" {
				msg.GroupIDs = append(msg.GroupIDs, id.Str)
			}
		}
		return msg, nil

	case EventLeaveGroup:
		groupID := data.Str
		if data.Type != gjson.String {
			groupID = data.Get("groupId").String()
		}
		if groupID == "" {
			return nil, missing(event.Str, "groupId")
		}
		return LeaveGroup{GroupID: groupID}, nil

	case EventInitiateCall, EventCallUser:
		var msg InitiateCall
		if err := unmarshal(event.Str, data, &msg); err != nil {
			return nil, err
		}
		if !msg.CallType.Valid() {
			return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "%s: unknown callType %q", event.Str, msg.CallType)
		}
		if msg.IsGroup && msg.GroupID == "" {
			return nil, missing(event.Str, "groupId")
		}
		if !msg.IsGroup && msg.TargetUserID == "" {
			return nil, missing(event.Str, "targetUserId")
		}
		if !msg.IsGroup {
			msg.GroupID = ""
		}
		return msg, nil

	case EventAcceptCall, EventRejectCall:
		callID := data.Get("callId").String()
		callerID := data.Get("callerId").String()
		if callerID == "" {
			callerID = data.Get("targetUserId").String()
		}
		if callID == "" {
			return nil, missing(event.Str, "callId")
		}
		if callerID == "" {
			return nil, missing(event.Str, "callerId")
		}
		if event.Str == EventAcceptCall {
			return AcceptCall{CallID: callID, CallerID: callerID}, nil
		}
		return RejectCall{CallID: callID, CallerID: callerID}, nil

	case EventCallStarted:
		var msg CallStarted
		if err := unmarshal(event.Str, data, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" {
			return nil, missing(event.Str, "callId")
		}
		return msg, nil

	case EventEndCall:
		var msg EndCall
		if err := unmarshal(event.Str, data, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" {
			return nil, missing(event.Str, "callId")
		}
		return msg, nil

	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCICECandidate:
		if !data.IsObject() {
			return nil, missing(event.Str, "data")
		}
		media := Media{
			CallID:       data.Get("callId").String(),
			TargetUserID: data.Get("targetUserId").String(),
			Payload:      json.RawMessage(data.Raw),
		}
		if media.TargetUserID == "" {
			return nil, missing(event.Str, "targetUserId")
		}
		switch event.Str {
		case EventWebRTCOffer:
			return MediaOffer{media}, nil
		case EventWebRTCAnswer:
			return MediaAnswer{media}, nil
		default:
			return MediaICECandidate{media}, nil
		}

	case EventSendMessage:
		var msg SendMessage
		if err := unmarshal(event.Str, data, &msg); err != nil {
			return nil, err
		}
		if msg.ReceiverID == "" {
			return nil, missing(event.Str, "receiverId")
		}
		return msg, nil

	case EventSendGroupMessage:
		var msg SendGroupMessage
		if err := unmarshal(event.Str, data, &msg); err != nil {
			return nil, err
		}
		if msg.GroupID == "" {
			return nil, missing(event.Str, "groupId")
		}
		return msg, nil
	}

	return nil, relayerrors.Wrapf(relayerrors.ErrUnsupported, "unknown event %q", event.Str)
}

func unmarshal(event string, data gjson.Result, v any) error {
	if !data.IsObject() {
		return missing(event, "data")
	}
	if err := json.Unmarshal([]byte(data.Raw), v); err != nil {
		return relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "%s: %v", event, err)
	}
	return nil
}

func missing(event, field string) error {
	return relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "%s: %s is required", event, field)
}
