package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/gateway"
	"github.com/mcdev12/codeduel/go/internal/matchmaking/notify"
	"github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"
)

const (
	waitFor = 2 * time.Second
	pollAt  = 5 * time.Millisecond
)

type fakeTransport struct {
	events chan gateway.Event

	mu          sync.Mutex
	connects    []int64
	disconnects int
	sent        []protocol.Command
	sendErr     error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan gateway.Event, 64)}
}

func (f *fakeTransport) Connect(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, userID)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeTransport) Send(cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeTransport) Events() <-chan gateway.Event { return f.events }

func (f *fakeTransport) Sent(types ...protocol.MessageType) []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Command
	for _, cmd := range f.sent {
		if len(types) == 0 {
			out = append(out, cmd)
			continue
		}
		for _, t := range types {
			if cmd.Type == t {
				out = append(out, cmd)
			}
		}
	}
	return out
}

func (f *fakeTransport) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeTransport) Connects() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.connects...)
}

func (f *fakeTransport) open() {
	f.events <- gateway.Event{Type: gateway.EventConnecting}
	f.events <- gateway.Event{Type: gateway.EventOpened, ConnectionID: "conn"}
}

func (f *fakeTransport) frame(raw string) {
	f.events <- gateway.Event{Type: gateway.EventMessage, ConnectionID: "conn", Data: []byte(raw)}
}

type recordingNotifier struct {
	mu           sync.Mutex
	achievements []protocol.Achievement
	completed    []protocol.MatchCompleted
	advisories   []notify.Advisory
}

func (n *recordingNotifier) AchievementUnlocked(userID, matchID int64, a protocol.Achievement) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.achievements = append(n.achievements, a)
}

func (n *recordingNotifier) MatchCompleted(userID int64, r protocol.MatchCompleted) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, r)
}

func (n *recordingNotifier) Advisory(userID int64, a notify.Advisory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advisories = append(n.advisories, a)
}

func (n *recordingNotifier) counts() (achievements, completed, advisories int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.achievements), len(n.completed), len(n.advisories)
}

type harness struct {
	session   *Session
	transport *fakeTransport
	clock     *clockwork.FakeClock
	notifier  *recordingNotifier
	navigated chan int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		clock:     clockwork.NewFakeClockAt(t0),
		notifier:  &recordingNotifier{},
		navigated: make(chan int64, 8),
	}
	h.session = New(context.Background(), h.transport, Config{
		HeartbeatInterval: 30 * time.Second,
		DisplayTick:       100 * time.Millisecond,
		Clock:             h.clock,
		Notifier:          h.notifier,
		Router:            notify.RouterFunc(func(matchID int64) { h.navigated <- matchID }),
	})
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) waitView(t *testing.T, msg string, cond func(v View) bool) View {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.session.View()) }, waitFor, pollAt, msg)
	return h.session.View()
}

// connect dials as user 42 and waits for the transport to be reported open
func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Connect(context.Background(), 42))
	h.transport.open()
	h.waitView(t, "connected", func(v View) bool { return v.Connection == Connected })
}

// toActive drives a connected session into an active match started at t0
func (h *harness) toActive(t *testing.T, matchID int64) {
	t.Helper()
	h.transport.frame(matchFoundFrame(matchID))
	h.transport.frame(`{"type":"timer_update","phase":"countdown","countdown":3}`)
	h.transport.frame(`{"type":"timer_update","phase":"start"}`)
	h.transport.frame(activeFrame(serverStart))
	h.waitView(t, "active", func(v View) bool { return v.Match == MatchActive })
}

func TestCommandsWhileDisconnected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.ErrorIs(t, h.session.JoinQueue(ctx), ErrNotConnected)
	require.ErrorIs(t, h.session.LeaveQueue(ctx), ErrNotConnected)
	require.ErrorIs(t, h.session.SubmitSolution(ctx, 1), ErrNotConnected)

	assert.Empty(t, h.transport.Sent())
	assert.Equal(t, QueueIdle, h.session.View().Queue)
}

func TestConnectRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.session.Connect(context.Background(), 0), gateway.ErrNoIdentity)
	assert.Empty(t, h.transport.Connects())
}

func TestQueueCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t)

	require.NoError(t, h.session.JoinQueue(ctx))
	assert.Equal(t, QueueIdle, h.session.View().Queue, "queued only once the server acknowledges")

	h.transport.frame(`{"type":"queue_joined"}`)
	h.waitView(t, "queued", func(v View) bool { return v.Queue == Queued })

	require.ErrorIs(t, h.session.JoinQueue(ctx), ErrCommandRejected)
	require.NoError(t, h.session.LeaveQueue(ctx))

	h.transport.frame(`{"type":"queue_left"}`)
	h.waitView(t, "idle", func(v View) bool { return v.Queue == QueueIdle })
	require.ErrorIs(t, h.session.LeaveQueue(ctx), ErrCommandRejected)

	sent := h.transport.Sent(protocol.TypeJoinQueue, protocol.TypeLeaveQueue)
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.TypeJoinQueue, sent[0].Type)
	assert.Equal(t, protocol.TypeLeaveQueue, sent[1].Type)
}

func TestSendFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.transport.mu.Lock()
	h.transport.sendErr = gateway.ErrNotConnected
	h.transport.mu.Unlock()

	require.ErrorIs(t, h.session.JoinQueue(context.Background()), ErrNotConnected)
}

func TestEndToEndMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t)

	require.NoError(t, h.session.JoinQueue(ctx))
	h.transport.frame(`{"type":"queue_joined"}`)
	h.transport.frame(`{"type":"queue_status","queue_size":5,"wait_time":12,"elo_range":150,"potential_matches":1,"message":"Searching..."}`)
	v := h.waitView(t, "telemetry", func(v View) bool { return v.Telemetry != nil })
	assert.Equal(t, 5, v.Telemetry.QueueSize)

	h.transport.frame(matchFoundFrame(77))
	v = h.waitView(t, "match found", func(v View) bool { return v.Match == MatchFound })
	assert.Equal(t, QueueIdle, v.Queue)
	assert.Nil(t, v.Telemetry)
	assert.Equal(t, int64(77), v.CurrentMatch.ID)

	for _, n := range []int{3, 2, 1} {
		h.transport.frame(fmt.Sprintf(`{"type":"timer_update","phase":"countdown","countdown":%d}`, n))
		want := fmt.Sprint(n)
		h.waitView(t, "countdown "+want, func(v View) bool { return v.Clock.Display == want })
	}

	h.transport.frame(`{"type":"timer_update","phase":"start"}`)
	h.waitView(t, "ready", func(v View) bool { return v.Clock.Display == "ready" })

	h.transport.frame(activeFrame(serverStart))
	h.waitView(t, "active", func(v View) bool { return v.Match == MatchActive })

	h.clock.Advance(125 * time.Second)
	v = h.session.View()
	assert.Equal(t, 125, v.Clock.ElapsedSeconds)
	assert.Equal(t, "02:05", v.Clock.Display)
	assert.True(t, v.Clock.Ticking)

	require.NoError(t, h.session.SubmitSolution(ctx, 77))
	submits := h.transport.Sent(protocol.TypeSubmitSolution)
	require.Len(t, submits, 1)
	assert.Equal(t, int64(77), submits[0].MatchID)
	require.NotNil(t, submits[0].FrontendSeconds)
	assert.Equal(t, 125, *submits[0].FrontendSeconds)

	h.transport.frame(`{"type":"match_completed","match_id":77,"result":"won","elo_change":15}`)
	v = h.waitView(t, "completed", func(v View) bool { return v.Match == MatchCompleted })
	assert.False(t, v.Clock.Ticking)
	assert.Equal(t, "02:05", v.Clock.Display)
	require.NotNil(t, v.Result)
	assert.Equal(t, "won", v.Result.Result)

	_, completed, _ := h.notifier.counts()
	assert.Equal(t, 1, completed)

	select {
	case id := <-h.navigated:
		t.Fatalf("navigated to %d before the redirect delay", id)
	default:
	}

	h.clock.Advance(2 * time.Second)
	select {
	case id := <-h.navigated:
		assert.Equal(t, int64(77), id)
	case <-time.After(waitFor):
		t.Fatal("no navigation to the result view")
	}
}

func TestAchievementsAreStaggered(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.toActive(t, 9)

	h.transport.frame(`{"type":"match_completed","match_id":9,"result":"won","achievements_unlocked":[
		{"id":1,"description":"First win"},{"id":2,"description":"Fast"},{"id":3,"description":"Streak"}]}`)
	h.waitView(t, "completed", func(v View) bool { return v.Match == MatchCompleted })

	achievements, _, _ := h.notifier.counts()
	assert.Equal(t, 1, achievements, "first achievement is announced immediately")

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { n, _, _ := h.notifier.counts(); return n == 2 }, waitFor, pollAt)

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { n, _, _ := h.notifier.counts(); return n == 3 }, waitFor, pollAt)

	// 3 s + 1 s per achievement
	h.clock.Advance(3 * time.Second)
	select {
	case id := <-h.navigated:
		t.Fatalf("navigated to %d too early", id)
	case <-time.After(50 * time.Millisecond):
	}

	h.clock.Advance(time.Second)
	select {
	case id := <-h.navigated:
		assert.Equal(t, int64(9), id)
	case <-time.After(waitFor):
		t.Fatal("no navigation to the result view")
	}
}

func TestSupersededNavigationIsDropped(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.toActive(t, 1)

	h.transport.frame(`{"type":"match_completed","match_id":1,"result":"lost"}`)
	h.waitView(t, "completed", func(v View) bool { return v.Match == MatchCompleted })

	h.transport.frame(matchFoundFrame(2))
	h.waitView(t, "next match", func(v View) bool { return v.Match == MatchFound })

	h.clock.Advance(2 * time.Second)
	_, err := h.session.State(context.Background())
	require.NoError(t, err)

	select {
	case id := <-h.navigated:
		t.Fatalf("navigated to superseded match %d", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectPreservesMatch(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.toActive(t, 77)

	h.transport.events <- gateway.Event{Type: gateway.EventError, Err: fmt.Errorf("read: connection reset")}
	h.transport.events <- gateway.Event{Type: gateway.EventClosed, Code: 1006, Reconnecting: true}
	v := h.waitView(t, "disconnected", func(v View) bool { return v.Connection == Disconnected })

	assert.Equal(t, QueueIdle, v.Queue)
	assert.Equal(t, MatchActive, v.Match)
	require.NotNil(t, v.CurrentMatch)
	assert.Equal(t, int64(77), v.CurrentMatch.ID)
	assert.Equal(t, "Connection error", v.LastError)
	require.ErrorIs(t, h.session.SubmitSolution(context.Background(), 77), ErrNotConnected)

	h.clock.Advance(3 * time.Second)
	h.transport.open()
	v = h.waitView(t, "reconnected", func(v View) bool { return v.Connection == Connected })

	assert.Equal(t, uint64(2), v.ConnectionSeq)
	assert.Equal(t, int64(77), v.CurrentMatch.ID)
	assert.Empty(t, v.LastError)
	assert.Equal(t, "00:03", v.Clock.Display, "elapsed time continues from the server start")
	assert.Equal(t, []int64{42}, h.transport.Connects(), "the transport owns redialing")
}

func TestSubmissionInvalidClearsAfterFiveSeconds(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.toActive(t, 3)

	h.transport.frame(`{"type":"submission_invalid","message":"Wrong answer on test 3"}`)
	h.waitView(t, "error shown", func(v View) bool { return v.LastError == "Wrong answer on test 3" })

	h.clock.Advance(4999 * time.Millisecond)
	st, err := h.session.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Wrong answer on test 3", st.LastError)

	h.clock.Advance(time.Millisecond)
	h.waitView(t, "error cleared", func(v View) bool { return v.LastError == "" })
}

func TestStaleErrorClearDoesNotDropNewerError(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.toActive(t, 3)

	h.transport.frame(`{"type":"submission_invalid","message":"first"}`)
	h.waitView(t, "first", func(v View) bool { return v.LastError == "first" })

	h.clock.Advance(4 * time.Second)
	h.transport.frame(`{"type":"error","message":"second"}`)
	h.waitView(t, "second", func(v View) bool { return v.LastError == "second" })

	h.clock.Advance(time.Second)
	st, err := h.session.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", st.LastError)
}

func TestAdvisoryNoticeClears(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	require.NoError(t, h.session.JoinQueue(context.Background()))
	h.transport.frame(`{"type":"queue_joined"}`)
	h.transport.frame(`{"type":"match_retry","message":"Retrying with broader criteria..."}`)

	v := h.waitView(t, "notice", func(v View) bool { return v.Notice != nil })
	assert.Equal(t, "Retrying with broader criteria...", v.Notice.Message)
	_, _, advisories := h.notifier.counts()
	assert.Equal(t, 1, advisories)

	h.clock.Advance(3 * time.Second)
	h.waitView(t, "notice cleared", func(v View) bool { return v.Notice == nil })
}

func TestClearErrorCommand(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.transport.frame(`{"type":"error","message":"boom"}`)
	h.waitView(t, "error", func(v View) bool { return v.LastError == "boom" })

	require.NoError(t, h.session.ClearError(context.Background()))
	assert.Empty(t, h.session.View().LastError)
}

func TestHeartbeatOnlyWhileConnected(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return len(h.transport.Sent(protocol.TypePing)) == 1
	}, waitFor, pollAt)

	h.transport.events <- gateway.Event{Type: gateway.EventClosed, Code: 1006, Reconnecting: true}
	h.waitView(t, "disconnected", func(v View) bool { return v.Connection == Disconnected })

	h.clock.Advance(90 * time.Second)
	_, err := h.session.State(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.transport.Sent(protocol.TypePing), 1)
}

func TestResignGates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t)

	require.ErrorIs(t, h.session.ResignMatch(ctx, 5), ErrCommandRejected)

	h.transport.frame(matchFoundFrame(5))
	h.waitView(t, "found", func(v View) bool { return v.Match == MatchFound })

	require.ErrorIs(t, h.session.SubmitSolution(ctx, 5), ErrCommandRejected, "submit needs an active match")
	require.ErrorIs(t, h.session.ResignMatch(ctx, 6), ErrCommandRejected, "resign needs the current match")
	require.NoError(t, h.session.ResignMatch(ctx, 5))

	resigns := h.transport.Sent(protocol.TypeResignMatch)
	require.Len(t, resigns, 1)
	assert.Equal(t, 0, *resigns[0].FrontendSeconds)
}

func TestDisconnectStopsTransport(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	require.NoError(t, h.session.Disconnect(context.Background()))
	assert.Equal(t, 1, h.transport.Disconnects())
	assert.Equal(t, Disconnected, h.session.View().Connection)

	h.transport.open()
	assert.Never(t, func() bool { return h.session.View().Connection != Disconnected }, 100*time.Millisecond, pollAt)
}

func TestIdentityChangeResetsState(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.transport.frame(matchFoundFrame(8))
	h.waitView(t, "found", func(v View) bool { return v.Match == MatchFound })

	require.NoError(t, h.session.Connect(context.Background(), 43))
	v := h.session.View()
	assert.Equal(t, int64(43), v.UserID)
	assert.Equal(t, MatchNone, v.Match)
	assert.Nil(t, v.CurrentMatch)
	assert.Equal(t, []int64{42, 43}, h.transport.Connects())
	assert.Equal(t, 1, h.transport.Disconnects())

	require.NoError(t, h.session.Connect(context.Background(), 43))
	assert.Len(t, h.transport.Connects(), 2, "same identity is a no-op")
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t)
	views, cancel := h.session.Subscribe()
	defer cancel()

	first := <-views
	assert.Equal(t, Disconnected, first.Connection)

	h.connect(t)
	require.Eventually(t, func() bool {
		select {
		case v := <-views:
			return v.Connection == Connected
		default:
			return false
		}
	}, waitFor, pollAt)
}

func TestCloseStopsEverything(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.toActive(t, 4)
	h.transport.frame(`{"type":"submission_invalid","message":"nope"}`)
	h.waitView(t, "error", func(v View) bool { return v.LastError == "nope" })

	views, _ := h.session.Subscribe()
	h.session.Close()

	assert.Equal(t, 1, h.transport.Disconnects())
	assert.Equal(t, Disconnected, h.session.View().Connection)
	require.ErrorIs(t, h.session.JoinQueue(context.Background()), ErrClosed)

	for range views {
	}

	// timers were stopped; advancing must not panic or deliver anything
	h.clock.Advance(time.Minute)
	assert.Equal(t, "nope", h.session.View().LastError)
}
