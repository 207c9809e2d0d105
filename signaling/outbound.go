package signaling

import (
	"encoding/json"

	"github.com/tidwall/sjson"

	"github.com/jrsteele09/go-call-relay/calls"
)

// Outbound event names.
const (
	EventGetOnlineUsers   = "getOnlineUsers"
	EventIncomingCall     = "incomingCall"
	EventCallAccepted     = "callAccepted"
	EventCallRejected     = "callRejected"
	EventCallEnded        = "callEnded"
	EventRemovedFromGroup = "removedFromGroup"
	EventNewMessage       = "newMessage"
	EventNewGroupMessage  = "newGroupMessage"
)

// Outbound is a server to client frame.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode renders the frame as JSON.
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

type IncomingCall struct {
	CallID       string     `json:"callId"`
	CallerID     string     `json:"callerId"`
	CallType     calls.Kind `json:"callType"`
	IsGroup      bool       `json:"isGroup"`
	GroupID      string     `json:"groupId,omitempty"`
	TargetUserID string     `json:"targetUserId,omitempty"`
}

type CallAccepted struct {
	CallID     string `json:"callId"`
	AcceptedBy string `json:"acceptedBy"`
}

type CallRejected struct {
	CallID     string `json:"callId"`
	RejectedBy string `json:"rejectedBy"`
}

type CallEnded struct {
	CallID  string          `json:"callId"`
	EndedBy string          `json:"endedBy"`
	Reason  calls.EndReason `json:"reason,omitempty"`
}

type RemovedFromGroup struct {
	GroupID string `json:"groupId"`
}

// stampMedia prepares a media negotiation payload for the target: the
// routing field is removed and the sender is recorded as callerId. Every
// other field is passed through untouched.
func stampMedia(payload json.RawMessage, senderID string) (json.RawMessage, error) {
	out, err := sjson.DeleteBytes(payload, "targetUserId")
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "callerId", senderID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}
