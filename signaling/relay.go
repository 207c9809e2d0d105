// Package signaling relays call setup, media negotiation and chat messages
// between live sessions. Routing goes through the presence table; call
// lifecycle changes are mirrored into call records on a best effort basis,
// so a failed write never holds back a forward.
package signaling

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-call-relay/calls"
	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
	"github.com/jrsteele09/go-call-relay/internal/metrics"
	"github.com/jrsteele09/go-call-relay/internal/reporting"
	"github.com/jrsteele09/go-call-relay/presence"
	"github.com/jrsteele09/go-call-relay/sessions"
)

// Sender queues an encoded frame for one connection. Send must not block; it
// returns false when the frame was dropped.
type Sender interface {
	Send(frame []byte) bool
}

// Membership resolves group members.
type Membership interface {
	Members(ctx context.Context, groupID string) ([]string, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Options tune optional relay behaviour.
type Options struct {
	// EndCallsOnDisconnect ends every open call of a user whose presence
	// entry is released, with reason network_error.
	EndCallsOnDisconnect bool
}

type liveConn struct {
	session *sessions.Session
	sender  Sender
}

// Relay routes inbound messages to the sessions they address.
type Relay struct {
	presence   *presence.Table
	calls      *calls.Writer
	membership Membership
	log        zerolog.Logger
	metrics    *metrics.Metrics
	opts       Options

	mu     sync.RWMutex
	conns  map[string]*liveConn           // sessionID -> connection
	rooms  map[string]map[string]struct{} // groupID -> subscribed sessionIDs
	joined map[string]map[string]struct{} // sessionID -> subscribed groupIDs
}

// New creates a relay.
func New(table *presence.Table, writer *calls.Writer, membership Membership, logger zerolog.Logger, m *metrics.Metrics, opts Options) *Relay {
	return &Relay{
		presence:   table,
		calls:      writer,
		membership: membership,
		log:        logger,
		metrics:    m,
		opts:       opts,
		conns:      make(map[string]*liveConn),
		rooms:      make(map[string]map[string]struct{}),
		joined:     make(map[string]map[string]struct{}),
	}
}

// Connect admits an authenticated session. The session becomes the user's
// presence entry, superseding any earlier one, and every live connection is
// sent the new online list.
func (r *Relay) Connect(ctx context.Context, sess *sessions.Session, sender Sender) {
	r.mu.Lock()
	r.conns[sess.ID] = &liveConn{session: sess, sender: sender}
	r.mu.Unlock()
	r.metrics.Connections.Inc()

	if err := r.presence.SetSession(ctx, sess); err != nil {
		r.log.Error().Err(err).Str("user_id", sess.UserID).Msg("failed to record presence")
		reporting.CaptureError(ctx, err, map[string]string{"operation": "presence_set"})
	}
	r.log.Info().Str("user_id", sess.UserID).Str("session_id", sess.ID).Msg("user connected")
	r.broadcastOnlineUsers(ctx)
}

// Disconnect forgets a closed session. The presence entry is only removed
// while it still points at this session.
func (r *Relay) Disconnect(ctx context.Context, sess *sessions.Session) {
	r.mu.Lock()
	if _, ok := r.conns[sess.ID]; ok {
		delete(r.conns, sess.ID)
		r.metrics.Connections.Dec()
	}
	for groupID := range r.joined[sess.ID] {
		r.leaveLocked(sess.ID, groupID)
	}
	r.mu.Unlock()

	released, err := r.presence.ReleaseSession(ctx, sess)
	if err != nil {
		r.log.Error().Err(err).Str("user_id", sess.UserID).Msg("failed to release presence")
		reporting.CaptureError(ctx, err, map[string]string{"operation": "presence_release"})
	}
	r.log.Info().Str("user_id", sess.UserID).Str("session_id", sess.ID).Bool("released", released).Msg("user disconnected")
	r.broadcastOnlineUsers(ctx)

	if released && r.opts.EndCallsOnDisconnect {
		r.endOpenCalls(ctx, sess.UserID)
	}
}

// HandleFrame decodes and handles one raw client frame. Malformed frames are
// logged and ignored.
func (r *Relay) HandleFrame(ctx context.Context, sess *sessions.Session, frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		r.metrics.EventsReceived.WithLabelValues("invalid").Inc()
		r.log.Warn().Err(err).Str("user_id", sess.UserID).Msg("ignoring malformed frame")
		return
	}
	r.Handle(ctx, sess, msg)
}

// Handle applies one decoded message sent by sess.
func (r *Relay) Handle(ctx context.Context, sess *sessions.Session, msg Inbound) {
	r.metrics.EventsReceived.WithLabelValues(msg.Kind()).Inc()

	switch m := msg.(type) {
	case JoinGroups:
		r.joinGroups(ctx, sess, m)
	case LeaveGroup:
		r.mu.Lock()
		r.leaveLocked(sess.ID, m.GroupID)
		r.mu.Unlock()
	case InitiateCall:
		r.initiateCall(ctx, sess, m)
	case AcceptCall:
		r.acceptCall(ctx, sess, m)
	case RejectCall:
		r.rejectCall(ctx, sess, m)
	case CallStarted:
		if _, ok := r.authorize(ctx, sess, m.CallID, EventCallStarted); !ok {
			return
		}
		if _, err := r.calls.MarkActive(ctx, m.CallID); err != nil {
			r.recordFailure(ctx, "active", m.CallID, err)
		}
	case EndCall:
		r.endCall(ctx, sess, m)
	case MediaOffer:
		r.forwardMedia(ctx, sess, EventWebRTCOffer, m.Media)
	case MediaAnswer:
		r.forwardMedia(ctx, sess, EventWebRTCAnswer, m.Media)
	case MediaICECandidate:
		r.forwardMedia(ctx, sess, EventWebRTCICECandidate, m.Media)
	case SendMessage:
		r.sendToUser(ctx, m.ReceiverID, EventNewMessage, m.Message)
	case SendGroupMessage:
		r.sendGroupMessage(ctx, sess, m)
	default:
		r.log.Error().Str("kind", msg.Kind()).Msg("no handler for message kind")
	}
}

// RemovedFromGroup unsubscribes userID's live sessions from groupID and tells
// the current one about it.
func (r *Relay) RemovedFromGroup(ctx context.Context, userID, groupID string) {
	r.mu.Lock()
	for sessionID, c := range r.conns {
		if c.session.UserID == userID {
			r.leaveLocked(sessionID, groupID)
		}
	}
	r.mu.Unlock()

	r.sendToUser(ctx, userID, EventRemovedFromGroup, RemovedFromGroup{GroupID: groupID})
}

// OnlineUsers returns the sorted ids of every user with a presence entry.
func (r *Relay) OnlineUsers(ctx context.Context) ([]string, error) {
	return r.presence.OnlineUsers(ctx)
}

// Subscribed reports whether the session receives broadcasts of groupID.
func (r *Relay) Subscribed(sessionID, groupID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[groupID][sessionID]
	return ok
}

func (r *Relay) joinGroups(ctx context.Context, sess *sessions.Session, m JoinGroups) {
	for _, groupID := range m.GroupIDs {
		ok, err := r.membership.IsMember(ctx, groupID, sess.UserID)
		if err != nil {
			r.log.Error().Err(err).Str("group_id", groupID).Msg("membership lookup failed")
			continue
		}
		if !ok {
			r.log.Debug().Str("user_id", sess.UserID).Str("group_id", groupID).Msg("not a member, join ignored")
			continue
		}
		r.mu.Lock()
		if _, live := r.conns[sess.ID]; live {
			if r.rooms[groupID] == nil {
				r.rooms[groupID] = make(map[string]struct{})
			}
			if r.joined[sess.ID] == nil {
				r.joined[sess.ID] = make(map[string]struct{})
			}
			r.rooms[groupID][sess.ID] = struct{}{}
			r.joined[sess.ID][groupID] = struct{}{}
		}
		r.mu.Unlock()
	}
}

func (r *Relay) leaveLocked(sessionID, groupID string) {
	if room, ok := r.rooms[groupID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(r.rooms, groupID)
		}
	}
	if groups, ok := r.joined[sessionID]; ok {
		delete(groups, groupID)
		if len(groups) == 0 {
			delete(r.joined, sessionID)
		}
	}
}

func (r *Relay) initiateCall(ctx context.Context, sess *sessions.Session, m InitiateCall) {
	callID := m.CallID
	if callID == "" {
		callID = uuid.NewString()
	}

	participants := []string{m.TargetUserID}
	if m.IsGroup {
		members, err := r.membership.Members(ctx, m.GroupID)
		if err != nil && !relayerrors.Is(err, relayerrors.ErrGroupNotFound) {
			r.log.Error().Err(err).Str("group_id", m.GroupID).Msg("membership lookup failed")
			return
		}
		if !slices.Contains(members, sess.UserID) {
			r.log.Debug().Str("user_id", sess.UserID).Str("group_id", m.GroupID).Msg("group call from non-member dropped")
			return
		}
		participants = members
	}

	_, err := r.calls.Initiate(ctx, calls.InitiateParams{
		CallID:       callID,
		InitiatedBy:  sess.UserID,
		Participants: participants,
		Kind:         m.CallType,
		IsGroup:      m.IsGroup,
		GroupID:      m.GroupID,
	})
	if err != nil {
		r.recordFailure(ctx, "initiate", callID, err)
	}

	invite := IncomingCall{
		CallID:   callID,
		CallerID: sess.UserID,
		CallType: m.CallType,
		IsGroup:  m.IsGroup,
	}
	if !m.IsGroup {
		invite.TargetUserID = m.TargetUserID
		r.sendToUser(ctx, m.TargetUserID, EventIncomingCall, invite)
		return
	}
	invite.GroupID = m.GroupID
	frame, ok := r.encode(EventIncomingCall, invite)
	if !ok {
		return
	}
	for _, member := range participants {
		if member != sess.UserID {
			r.deliver(ctx, member, EventIncomingCall, frame)
		}
	}
}

func (r *Relay) acceptCall(ctx context.Context, sess *sessions.Session, m AcceptCall) {
	record, ok := r.authorize(ctx, sess, m.CallID, EventAcceptCall)
	if !ok {
		return
	}
	if _, err := r.calls.MarkConnecting(ctx, m.CallID); err != nil {
		r.recordFailure(ctx, "connecting", m.CallID, err)
		if lostRace(record, err) {
			return
		}
	}
	r.sendToUser(ctx, m.CallerID, EventCallAccepted, CallAccepted{CallID: m.CallID, AcceptedBy: sess.UserID})
}

func (r *Relay) rejectCall(ctx context.Context, sess *sessions.Session, m RejectCall) {
	record, ok := r.authorize(ctx, sess, m.CallID, EventRejectCall)
	if !ok {
		return
	}
	if record != nil && record.IsGroup {
		// One member declining a group call leaves it ringing for the others
		r.log.Debug().Str("call_id", m.CallID).Str("user_id", sess.UserID).Msg("group call declined by member")
	} else if _, err := r.calls.MarkDeclined(ctx, m.CallID); err != nil {
		r.recordFailure(ctx, "rejected", m.CallID, err)
		if lostRace(record, err) {
			return
		}
	}
	r.sendToUser(ctx, m.CallerID, EventCallRejected, CallRejected{CallID: m.CallID, RejectedBy: sess.UserID})
}

func (r *Relay) endCall(ctx context.Context, sess *sessions.Session, m EndCall) {
	stored, ok := r.authorize(ctx, sess, m.CallID, EventEndCall)
	if !ok {
		return
	}
	reason, ok := calls.ParseEndReason(m.Reason)
	if !ok {
		reason = calls.EndReasonCompleted
	}
	record, err := r.calls.MarkEnded(ctx, m.CallID, reason)
	if err != nil {
		r.recordFailure(ctx, "ended", m.CallID, err)
		record = stored
	}

	participants := m.Participants
	if len(participants) == 0 && record != nil {
		participants = record.Participants
	}
	r.notifyEnded(ctx, participants, CallEnded{CallID: m.CallID, EndedBy: sess.UserID})
}

// authorize loads the record of callID and reports whether sess may act on
// it. A record that was never stored cannot be checked; signaling proceeds
// without it, as it does when the store cannot be read.
func (r *Relay) authorize(ctx context.Context, sess *sessions.Session, callID, event string) (*calls.Record, bool) {
	record, err := r.calls.Get(ctx, callID)
	switch {
	case relayerrors.Is(err, relayerrors.ErrCallNotFound):
		return nil, true
	case err != nil:
		r.recordFailure(ctx, "get", callID, err)
		return nil, true
	case !record.HasParticipant(sess.UserID):
		r.log.Debug().Str("call_id", callID).Str("user_id", sess.UserID).Str("event", event).Msg("event from non-participant dropped")
		return nil, false
	}
	return record, true
}

// lostRace reports whether err means a direct call was already answered the
// other way. The losing answer is not forwarded.
func lostRace(record *calls.Record, err error) bool {
	if record == nil || record.IsGroup {
		return false
	}
	return relayerrors.Is(err, relayerrors.ErrInvalidTransition) || relayerrors.Is(err, relayerrors.ErrTerminalState)
}

func (r *Relay) notifyEnded(ctx context.Context, participants []string, ended CallEnded) {
	frame, ok := r.encode(EventCallEnded, ended)
	if !ok {
		return
	}
	seen := make(map[string]struct{}, len(participants))
	for _, userID := range participants {
		if _, dup := seen[userID]; dup || userID == ended.EndedBy || userID == "" {
			continue
		}
		seen[userID] = struct{}{}
		r.deliver(ctx, userID, EventCallEnded, frame)
	}
}

// endOpenCalls ends the calls of a user who went away without hanging up.
func (r *Relay) endOpenCalls(ctx context.Context, userID string) {
	open, err := r.calls.OpenCalls(ctx, userID)
	if err != nil {
		r.recordFailure(ctx, "list_open", "", err)
		return
	}
	for _, record := range open {
		ended, err := r.calls.MarkEnded(ctx, record.CallID, calls.EndReasonNetworkError)
		if err != nil {
			r.recordFailure(ctx, "ended", record.CallID, err)
			continue
		}
		r.log.Info().Str("call_id", record.CallID).Str("user_id", userID).Msg("ended call after disconnect")
		r.notifyEnded(ctx, ended.Participants, CallEnded{
			CallID:  record.CallID,
			EndedBy: userID,
			Reason:  calls.EndReasonNetworkError,
		})
	}
}

func (r *Relay) forwardMedia(ctx context.Context, sess *sessions.Session, event string, m Media) {
	payload, err := stampMedia(m.Payload, sess.UserID)
	if err != nil {
		r.log.Warn().Err(err).Str("event", event).Msg("cannot rewrite media payload")
		return
	}
	r.sendToUser(ctx, m.TargetUserID, event, payload)
}

func (r *Relay) sendGroupMessage(ctx context.Context, sess *sessions.Session, m SendGroupMessage) {
	ok, err := r.membership.IsMember(ctx, m.GroupID, sess.UserID)
	if err != nil {
		r.log.Error().Err(err).Str("group_id", m.GroupID).Msg("membership lookup failed")
		return
	}
	if !ok {
		r.log.Debug().Str("user_id", sess.UserID).Str("group_id", m.GroupID).Msg("group message from non-member dropped")
		return
	}

	frame, encoded := r.encode(EventNewGroupMessage, m.Message)
	if !encoded {
		return
	}
	r.mu.RLock()
	targets := make([]Sender, 0, len(r.rooms[m.GroupID]))
	for sessionID := range r.rooms[m.GroupID] {
		if c, ok := r.conns[sessionID]; ok {
			targets = append(targets, c.sender)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		r.push(s, EventNewGroupMessage, frame)
	}
}

func (r *Relay) broadcastOnlineUsers(ctx context.Context) {
	users, err := r.presence.OnlineUsers(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list online users")
		return
	}
	r.metrics.OnlineUsers.Set(float64(len(users)))

	frame, ok := r.encode(EventGetOnlineUsers, users)
	if !ok {
		return
	}
	r.mu.RLock()
	targets := make([]Sender, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c.sender)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		r.push(s, EventGetOnlineUsers, frame)
	}
}

// sendToUser encodes data and delivers it to userID's current session.
func (r *Relay) sendToUser(ctx context.Context, userID, event string, data any) {
	frame, ok := r.encode(event, data)
	if !ok {
		return
	}
	r.deliver(ctx, userID, event, frame)
}

// deliver queues frame on the live session of userID. Missing targets are
// dropped silently; the sender is never told.
func (r *Relay) deliver(ctx context.Context, userID, event string, frame []byte) {
	entry, ok, err := r.presence.Lookup(ctx, userID)
	if err != nil {
		r.log.Error().Err(err).Str("target", userID).Msg("presence lookup failed")
		r.metrics.ForwardsDropped.WithLabelValues(event, metrics.DropOffline).Inc()
		return
	}
	if !ok {
		r.drop(userID, event, metrics.DropOffline)
		return
	}
	if !r.presence.IsLocal(entry) {
		r.drop(userID, event, metrics.DropRemote)
		return
	}

	r.mu.RLock()
	c, live := r.conns[entry.SessionID]
	r.mu.RUnlock()
	if !live {
		r.drop(userID, event, metrics.DropOffline)
		return
	}
	r.push(c.sender, event, frame)
}

func (r *Relay) push(s Sender, event string, frame []byte) {
	if !s.Send(frame) {
		r.metrics.ForwardsDropped.WithLabelValues(event, metrics.DropQueueFull).Inc()
		r.log.Debug().Str("event", event).Msg("send queue full, frame dropped")
		return
	}
	r.metrics.ForwardsDelivered.WithLabelValues(event).Inc()
}

func (r *Relay) drop(userID, event, reason string) {
	r.metrics.ForwardsDropped.WithLabelValues(event, reason).Inc()
	r.log.Debug().Str("target", userID).Str("event", event).Str("reason", reason).Msg("forward dropped")
}

func (r *Relay) encode(event string, data any) ([]byte, bool) {
	frame, err := Outbound{Event: event, Data: data}.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("failed to encode frame")
		return nil, false
	}
	return frame, true
}

// recordFailure logs a call record write that did not apply. Refused
// transitions are expected under races and only logged at debug; anything
// else is a storage failure and is counted and reported.
func (r *Relay) recordFailure(ctx context.Context, operation, callID string, err error) {
	if relayerrors.Is(err, relayerrors.ErrInvalidTransition) ||
		relayerrors.Is(err, relayerrors.ErrTerminalState) ||
		relayerrors.Is(err, relayerrors.ErrCallNotFound) ||
		relayerrors.Is(err, relayerrors.ErrCallExists) {
		r.log.Debug().Err(err).Str("call_id", callID).Str("operation", operation).Msg("call record transition refused")
		return
	}
	r.metrics.PersistenceFailures.WithLabelValues(operation).Inc()
	r.log.Error().Err(err).Str("call_id", callID).Str("operation", operation).Msg("call record write failed")
	reporting.CaptureError(ctx, err, map[string]string{"operation": operation, "call_id": callID})
}
