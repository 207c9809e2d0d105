package signaling_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/jrsteele09/go-call-relay/calls"
	callrepofake "github.com/jrsteele09/go-call-relay/calls/repofake"
	"github.com/jrsteele09/go-call-relay/groups"
	"github.com/jrsteele09/go-call-relay/internal/metrics"
	"github.com/jrsteele09/go-call-relay/presence"
	"github.com/jrsteele09/go-call-relay/sessions"
	"github.com/jrsteele09/go-call-relay/signaling"
)

const testInstanceID = "instance-1"

// recorder is a Sender that keeps every frame it is given.
type recorder struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (r *recorder) Send(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.frames = append(r.frames, frame)
	return true
}

// events returns the data of every received frame named event.
func (r *recorder) events(event string) []gjson.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []gjson.Result
	for _, f := range r.frames {
		if gjson.GetBytes(f, "event").String() == event {
			out = append(out, gjson.GetBytes(f, "data"))
		}
	}
	return out
}

func (r *recorder) count(event string) int {
	return len(r.events(event))
}

type client struct {
	session *sessions.Session
	out     *recorder
}

type testFixture struct {
	ctx      context.Context
	store    *presence.InMemoryStore
	table    *presence.Table
	callRepo *callrepofake.FakeCallRepo
	writer   *calls.Writer
	groups   *groups.Service
	registry *prometheus.Registry
	relay    *signaling.Relay
}

func setupTestFixture(t *testing.T, opts signaling.Options) *testFixture {
	t.Helper()

	f := &testFixture{
		ctx:      context.Background(),
		store:    presence.NewInMemoryStore(),
		callRepo: callrepofake.NewFakeCallRepo(),
		groups:   groups.NewService(groups.NewInMemoryGroupRepo(), time.Minute),
		registry: prometheus.NewRegistry(),
	}
	f.table = presence.NewTable(f.store, testInstanceID)
	f.writer = calls.NewWriter(f.callRepo)
	f.relay = signaling.New(f.table, f.writer, f.groups, zerolog.Nop(), metrics.New(f.registry), opts)
	f.groups.OnMemberRemoved(f.relay.RemovedFromGroup)
	return f
}

func (f *testFixture) connect(t *testing.T, userID string) *client {
	t.Helper()
	c := &client{session: sessions.New(userID), out: &recorder{}}
	f.relay.Connect(f.ctx, c.session, c.out)
	return c
}

func (f *testFixture) send(c *client, frame string) {
	f.relay.HandleFrame(f.ctx, c.session, []byte(frame))
}

func (f *testFixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func lastOnlineUsers(t *testing.T, c *client) []string {
	t.Helper()
	lists := c.out.events(signaling.EventGetOnlineUsers)
	require.NotEmpty(t, lists)
	var users []string
	for _, u := range lists[len(lists)-1].Array() {
		users = append(users, u.String())
	}
	return users
}

func TestRelay_PresenceLastConnectionWins(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})

	first := f.connect(t, "alice")
	second := f.connect(t, "alice")
	observer := f.connect(t, "bob")

	sessionID, ok, err := f.table.GetSession(f.ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second.session.ID, sessionID)
	require.Equal(t, []string{"alice", "bob"}, lastOnlineUsers(t, observer))

	// Forwards go to the newest connection only
	f.send(observer, `{"event":"sendMessage","data":{"receiverId":"alice","message":{"text":"hi"}}}`)
	require.Equal(t, 0, first.out.count(signaling.EventNewMessage))
	require.Equal(t, 1, second.out.count(signaling.EventNewMessage))

	// The superseded connection closing does not take alice offline
	f.relay.Disconnect(f.ctx, first.session)
	require.Equal(t, []string{"alice", "bob"}, lastOnlineUsers(t, observer))

	f.relay.Disconnect(f.ctx, second.session)
	_, ok, err = f.table.GetSession(f.ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"bob"}, lastOnlineUsers(t, observer))
}

func TestRelay_DirectCallScenario(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"video","isGroup":false}}`)

	invites := bob.out.events(signaling.EventIncomingCall)
	require.Len(t, invites, 1)
	require.Equal(t, "call-1", invites[0].Get("callId").String())
	require.Equal(t, "alice", invites[0].Get("callerId").String())
	require.Equal(t, "video", invites[0].Get("callType").String())
	require.False(t, invites[0].Get("isGroup").Bool())
	require.Equal(t, "bob", invites[0].Get("targetUserId").String())
	require.False(t, invites[0].Get("groupId").Exists())
	require.Equal(t, 0, alice.out.count(signaling.EventIncomingCall))

	record, err := f.writer.Get(f.ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusInitiated, record.Status)
	require.ElementsMatch(t, []string{"alice", "bob"}, record.Participants)

	f.send(bob, `{"event":"acceptCall","data":{"callId":"call-1","callerId":"alice"}}`)

	accepted := alice.out.events(signaling.EventCallAccepted)
	require.Len(t, accepted, 1)
	require.Equal(t, "call-1", accepted[0].Get("callId").String())
	require.Equal(t, "bob", accepted[0].Get("acceptedBy").String())

	record, err = f.writer.Get(f.ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusConnecting, record.Status)
}

func TestRelay_CallToOfflineUserIsDroppedSilently(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	before := len(alice.out.frames)

	f.send(alice, `{"event":"callUser","data":{"callId":"call-1","targetUserId":"carol","callType":"audio"}}`)

	// Nothing comes back to the caller
	require.Len(t, alice.out.frames, before)

	record, err := f.writer.Get(f.ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusInitiated, record.Status)

	require.EqualValues(t, 1, f.counter(t, "call_relay_signaling_forwards_dropped_total", map[string]string{
		"event":  signaling.EventIncomingCall,
		"reason": metrics.DropOffline,
	}))
}

func TestRelay_GeneratesMissingCallID(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, `{"event":"initiateCall","data":{"targetUserId":"bob","callType":"audio"}}`)

	invites := bob.out.events(signaling.EventIncomingCall)
	require.Len(t, invites, 1)
	callID := invites[0].Get("callId").String()
	require.NotEmpty(t, callID)

	_, err := f.writer.Get(f.ctx, callID)
	require.NoError(t, err)
}

func TestRelay_GroupCallReachesEveryOtherMember(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	g, err := f.groups.Create(f.ctx, "alice", "Team", []string{"bob", "carol"})
	require.NoError(t, err)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	carol := f.connect(t, "carol")
	outsider := f.connect(t, "mallory")

	f.send(alice, `{"event":"initiateCall","data":{"callId":"call-g","groupId":"`+g.ID+`","callType":"audio","isGroup":true}}`)

	require.Equal(t, 0, alice.out.count(signaling.EventIncomingCall))
	require.Equal(t, 1, bob.out.count(signaling.EventIncomingCall))
	require.Equal(t, 1, carol.out.count(signaling.EventIncomingCall))
	require.Equal(t, 0, outsider.out.count(signaling.EventIncomingCall))

	invite := carol.out.events(signaling.EventIncomingCall)[0]
	require.True(t, invite.Get("isGroup").Bool())
	require.Equal(t, g.ID, invite.Get("groupId").String())
	require.False(t, invite.Get("targetUserId").Exists())

	record, err := f.writer.Get(f.ctx, "call-g")
	require.NoError(t, err)
	require.True(t, record.IsGroup)
	require.Equal(t, g.ID, record.GroupID)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, record.Participants)

	// One member declining leaves the call ringing for the rest
	f.send(bob, `{"event":"rejectCall","data":{"callId":"call-g","callerId":"alice"}}`)
	require.Equal(t, 1, alice.out.count(signaling.EventCallRejected))
	record, err = f.writer.Get(f.ctx, "call-g")
	require.NoError(t, err)
	require.Equal(t, calls.StatusInitiated, record.Status)
}

func TestRelay_GroupCallFromNonMemberIsDropped(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	g, err := f.groups.Create(f.ctx, "alice", "Team", []string{"bob"})
	require.NoError(t, err)

	bob := f.connect(t, "bob")
	mallory := f.connect(t, "mallory")

	f.send(mallory, `{"event":"initiateCall","data":{"callId":"call-x","groupId":"`+g.ID+`","callType":"audio","isGroup":true}}`)

	require.Equal(t, 0, bob.out.count(signaling.EventIncomingCall))
	_, err = f.writer.Get(f.ctx, "call-x")
	require.Error(t, err)
}

func TestRelay_RejectDirectCall(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"audio"}}`)
	f.send(bob, `{"event":"rejectCall","data":{"callId":"call-1","targetUserId":"alice"}}`)

	rejected := alice.out.events(signaling.EventCallRejected)
	require.Len(t, rejected, 1)
	require.Equal(t, "bob", rejected[0].Get("rejectedBy").String())

	record, err := f.writer.Get(f.ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusRejected, record.Status)
	require.NotNil(t, record.EndedAt)
	require.Equal(t, calls.EndReasonRejected, record.EndReason)

	// A late accept cannot revive the call and is not forwarded
	f.send(bob, `{"event":"acceptCall","data":{"callId":"call-1","callerId":"alice"}}`)
	record, err = f.writer.Get(f.ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusRejected, record.Status)
	require.Equal(t, 0, alice.out.count(signaling.EventCallAccepted))
}

func TestRelay_RejectAfterAcceptIsRefused(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"audio"}}`)
	f.send(bob, `{"event":"acceptCall","data":{"callId":"call-1","callerId":"alice"}}`)
	f.send(bob, `{"event":"rejectCall","data":{"callId":"call-1","callerId":"alice"}}`)

	record, err := f.writer.Get(f.ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusConnecting, record.Status)
	require.Nil(t, record.EndedAt)
	require.Equal(t, 1, alice.out.count(signaling.EventCallAccepted))
	require.Equal(t, 0, alice.out.count(signaling.EventCallRejected))
}

func TestRelay_NonParticipantCannotChangeCall(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	mallory := f.connect(t, "mallory")

	f.send(alice, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"video"}}`)

	f.send(mallory, `{"event":"acceptCall","data":{"callId":"call-1","callerId":"alice"}}`)
	f.send(mallory, `{"event":"rejectCall","data":{"callId":"call-1","callerId":"alice"}}`)
	f.send(mallory, `{"event":"callStarted","data":{"callId":"call-1"}}`)
	f.send(mallory, `{"event":"endCall","data":{"callId":"call-1","participants":["alice","bob"]}}`)

	record, err := f.writer.Get(f.ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusInitiated, record.Status)
	require.Nil(t, record.StartedAt)
	require.Equal(t, 0, alice.out.count(signaling.EventCallAccepted))
	require.Equal(t, 0, alice.out.count(signaling.EventCallRejected))
	require.Equal(t, 0, alice.out.count(signaling.EventCallEnded))
	require.Equal(t, 0, bob.out.count(signaling.EventCallEnded))

	// The real callee is unaffected
	f.send(bob, `{"event":"acceptCall","data":{"callId":"call-1","callerId":"alice"}}`)
	require.Equal(t, 1, alice.out.count(signaling.EventCallAccepted))
}

func TestRelay_EndCallDurationAndNotifications(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})

	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	calls.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { calls.NowTimeFunc = time.Now })

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"video"}}`)
	f.send(bob, `{"event":"acceptCall","data":{"callId":"call-1","callerId":"alice"}}`)
	f.send(alice, `{"event":"callStarted","data":{"callId":"call-1"}}`)
	f.send(bob, `{"event":"callStarted","data":{"callId":"call-1"}}`)

	now = now.Add(61*time.Second + 900*time.Millisecond)
	f.send(bob, `{"event":"endCall","data":{"callId":"call-1","participants":["alice","bob"]}}`)

	ended := alice.out.events(signaling.EventCallEnded)
	require.Len(t, ended, 1)
	require.Equal(t, "call-1", ended[0].Get("callId").String())
	require.Equal(t, "bob", ended[0].Get("endedBy").String())
	require.Equal(t, 0, bob.out.count(signaling.EventCallEnded))

	record, err := f.writer.Get(f.ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusEnded, record.Status)
	require.EqualValues(t, 61, record.Duration)
	require.Equal(t, calls.EndReasonCompleted, record.EndReason)
}

func TestRelay_EndCallWithoutParticipantsUsesRecord(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"audio"}}`)
	f.send(alice, `{"event":"endCall","data":{"callId":"call-1","reason":"bogus"}}`)

	require.Equal(t, 1, bob.out.count(signaling.EventCallEnded))
	require.Equal(t, 0, alice.out.count(signaling.EventCallEnded))

	record, err := f.writer.Get(f.ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusEnded, record.Status)
	require.EqualValues(t, 0, record.Duration)
	require.Equal(t, calls.EndReasonCompleted, record.EndReason)
}

func TestRelay_MediaIsForwardedImmediately(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	// The candidate arrives before any offer and is still passed straight on
	f.send(alice, `{"event":"webrtc-ice-candidate","data":{"callId":"call-1","targetUserId":"bob","candidate":{"candidate":"a=1","sdpMLineIndex":0}}}`)
	f.send(alice, `{"event":"webrtc-offer","data":{"callId":"call-1","targetUserId":"bob","offer":{"type":"offer","sdp":"v=0"}}}`)
	f.send(bob, `{"event":"webrtc-answer","data":{"callId":"call-1","targetUserId":"alice","answer":{"type":"answer","sdp":"v=0"}}}`)

	candidates := bob.out.events(signaling.EventWebRTCICECandidate)
	require.Len(t, candidates, 1)
	require.Equal(t, "alice", candidates[0].Get("callerId").String())
	require.Equal(t, "call-1", candidates[0].Get("callId").String())
	require.Equal(t, "a=1", candidates[0].Get("candidate.candidate").String())
	require.False(t, candidates[0].Get("targetUserId").Exists())

	offers := bob.out.events(signaling.EventWebRTCOffer)
	require.Len(t, offers, 1)
	require.Equal(t, "v=0", offers[0].Get("offer.sdp").String())

	answers := alice.out.events(signaling.EventWebRTCAnswer)
	require.Len(t, answers, 1)
	require.Equal(t, "bob", answers[0].Get("callerId").String())

	// Media negotiation is never persisted
	_, err := f.writer.Get(f.ctx, "call-1")
	require.Error(t, err)
}

func TestRelay_GroupChannels(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	g, err := f.groups.Create(f.ctx, "alice", "Team", []string{"bob"})
	require.NoError(t, err)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	mallory := f.connect(t, "mallory")

	join := `{"event":"joinGroups","data":{"groupIds":["` + g.ID + `"]}}`
	f.send(alice, join)
	f.send(bob, join)
	f.send(mallory, join)

	require.True(t, f.relay.Subscribed(alice.session.ID, g.ID))
	require.True(t, f.relay.Subscribed(bob.session.ID, g.ID))
	require.False(t, f.relay.Subscribed(mallory.session.ID, g.ID))

	f.send(alice, `{"event":"sendGroupMessage","data":{"groupId":"`+g.ID+`","message":{"text":"hello team"}}}`)
	require.Equal(t, 1, alice.out.count(signaling.EventNewGroupMessage))
	require.Equal(t, 1, bob.out.count(signaling.EventNewGroupMessage))
	require.Equal(t, 0, mallory.out.count(signaling.EventNewGroupMessage))
	require.Equal(t, "hello team", bob.out.events(signaling.EventNewGroupMessage)[0].Get("text").String())

	// Non-members cannot broadcast
	f.send(mallory, `{"event":"sendGroupMessage","data":{"groupId":"`+g.ID+`","message":{"text":"spam"}}}`)
	require.Equal(t, 1, bob.out.count(signaling.EventNewGroupMessage))

	f.send(bob, `{"event":"leaveGroup","data":"`+g.ID+`"}`)
	require.False(t, f.relay.Subscribed(bob.session.ID, g.ID))
}

func TestRelay_RemovedFromGroup(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	g, err := f.groups.Create(f.ctx, "alice", "Team", []string{"bob"})
	require.NoError(t, err)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	join := `{"event":"joinGroups","data":["` + g.ID + `"]}`
	f.send(alice, join)
	f.send(bob, join)

	_, err = f.groups.RemoveMember(f.ctx, "alice", g.ID, "bob")
	require.NoError(t, err)

	removed := bob.out.events(signaling.EventRemovedFromGroup)
	require.Len(t, removed, 1)
	require.Equal(t, g.ID, removed[0].Get("groupId").String())
	require.False(t, f.relay.Subscribed(bob.session.ID, g.ID))

	f.send(alice, `{"event":"sendGroupMessage","data":{"groupId":"`+g.ID+`","message":{"text":"bye"}}}`)
	require.Equal(t, 0, bob.out.count(signaling.EventNewGroupMessage))

	// And bob can neither rejoin nor post
	f.send(bob, join)
	require.False(t, f.relay.Subscribed(bob.session.ID, g.ID))
	f.send(bob, `{"event":"sendGroupMessage","data":{"groupId":"`+g.ID+`","message":{"text":"still here"}}}`)
	require.Equal(t, 1, alice.out.count(signaling.EventNewGroupMessage))
}

func TestRelay_PersistenceFailureDoesNotBlockSignaling(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.callRepo.FailWith = errors.New("database is on fire")

	f.send(alice, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"audio"}}`)
	f.send(bob, `{"event":"acceptCall","data":{"callId":"call-1","callerId":"alice"}}`)

	require.Equal(t, 1, bob.out.count(signaling.EventIncomingCall))
	require.Equal(t, 1, alice.out.count(signaling.EventCallAccepted))
	require.EqualValues(t, 1, f.counter(t, "call_relay_calls_persistence_failures_total", map[string]string{"operation": "initiate"}))
	require.EqualValues(t, 1, f.counter(t, "call_relay_calls_persistence_failures_total", map[string]string{"operation": "connecting"}))
}

func TestRelay_FullQueueDropsFrame(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	bob.out.full = true

	f.send(alice, `{"event":"sendMessage","data":{"receiverId":"bob","message":{"text":"hi"}}}`)

	require.Equal(t, 0, bob.out.count(signaling.EventNewMessage))
	require.EqualValues(t, 1, f.counter(t, "call_relay_signaling_forwards_dropped_total", map[string]string{
		"event":  signaling.EventNewMessage,
		"reason": metrics.DropQueueFull,
	}))
}

func TestRelay_RemoteSessionIsUnreachable(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")

	// Another relay instance sharing the store owns bob's connection
	other := presence.NewTable(f.store, "instance-2")
	require.NoError(t, other.SetSession(f.ctx, sessions.New("bob")))

	f.send(alice, `{"event":"sendMessage","data":{"receiverId":"bob","message":{}}}`)
	require.EqualValues(t, 1, f.counter(t, "call_relay_signaling_forwards_dropped_total", map[string]string{
		"event":  signaling.EventNewMessage,
		"reason": metrics.DropRemote,
	}))
}

func TestRelay_MalformedFrameIsIgnored(t *testing.T) {
	f := setupTestFixture(t, signaling.Options{})
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(alice, `{"event":"initiateCall","data":`)
	f.send(alice, `{"event":"launchRocket","data":{}}`)
	f.send(alice, `{"event":"sendMessage","data":{"receiverId":"bob","message":{"text":"still works"}}}`)

	require.Equal(t, 1, bob.out.count(signaling.EventNewMessage))
	require.EqualValues(t, 2, f.counter(t, "call_relay_signaling_events_received_total", map[string]string{"kind": "invalid"}))
}

func TestRelay_DisconnectSweep(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		f := setupTestFixture(t, signaling.Options{})
		alice := f.connect(t, "alice")
		bob := f.connect(t, "bob")
		f.send(alice, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"audio"}}`)
		f.send(bob, `{"event":"acceptCall","data":{"callId":"call-1","callerId":"alice"}}`)

		f.relay.Disconnect(f.ctx, alice.session)

		record, err := f.writer.Get(f.ctx, "call-1")
		require.NoError(t, err)
		require.Equal(t, calls.StatusConnecting, record.Status)
		require.Equal(t, 0, bob.out.count(signaling.EventCallEnded))
	})

	t.Run("ends open calls when enabled", func(t *testing.T) {
		f := setupTestFixture(t, signaling.Options{EndCallsOnDisconnect: true})
		alice := f.connect(t, "alice")
		bob := f.connect(t, "bob")
		f.send(alice, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"audio"}}`)
		f.send(bob, `{"event":"acceptCall","data":{"callId":"call-1","callerId":"alice"}}`)

		f.relay.Disconnect(f.ctx, alice.session)

		record, err := f.writer.Get(f.ctx, "call-1")
		require.NoError(t, err)
		require.Equal(t, calls.StatusEnded, record.Status)
		require.Equal(t, calls.EndReasonNetworkError, record.EndReason)

		ended := bob.out.events(signaling.EventCallEnded)
		require.Len(t, ended, 1)
		require.Equal(t, "alice", ended[0].Get("endedBy").String())
		require.Equal(t, "network_error", ended[0].Get("reason").String())
	})

	t.Run("superseded session does not sweep", func(t *testing.T) {
		f := setupTestFixture(t, signaling.Options{EndCallsOnDisconnect: true})
		first := f.connect(t, "alice")
		f.connect(t, "bob")
		f.send(first, `{"event":"initiateCall","data":{"callId":"call-1","targetUserId":"bob","callType":"audio"}}`)
		f.connect(t, "alice")

		f.relay.Disconnect(f.ctx, first.session)

		record, err := f.writer.Get(f.ctx, "call-1")
		require.NoError(t, err)
		require.Equal(t, calls.StatusInitiated, record.Status)
	})
}
