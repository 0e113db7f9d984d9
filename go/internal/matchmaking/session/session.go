package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/gateway"
	"github.com/mcdev12/codeduel/go/internal/matchmaking/notify"
	"github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"
)

// Transport is the realtime channel the session drives. *gateway.Client implements it.
type Transport interface {
	Connect(ctx context.Context, userID int64) error
	Disconnect()
	Send(cmd protocol.Command) error
	Events() <-chan gateway.Event
}

// Config holds the session loop settings and its collaborators
type Config struct {
	HeartbeatInterval time.Duration // ping cadence while connected
	DisplayTick       time.Duration // republish cadence while a match is active

	Clock    clockwork.Clock
	Notifier notify.Notifier
	Router   notify.Router
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		DisplayTick:       100 * time.Millisecond,
	}
}

// Session owns the protocol state for one user-facing matchmaking attempt.
//
// A single goroutine receives transport events, commands and timer
// expirations, applies them to State in arrival order and publishes a View
// after each one. Nothing else touches State.
type Session struct {
	id        string
	config    Config
	clock     clockwork.Clock
	transport Transport
	notifier  notify.Notifier
	router    notify.Router

	inbox chan inboxMsg
	fired chan timerFired
	done  chan struct{}
	stop  context.CancelFunc

	// loop-owned
	state         State
	wantConnected bool
	heartbeat     clockwork.Ticker
	display       clockwork.Ticker
	timers        map[uint64]clockwork.Timer
	nextTimer     uint64

	snapMu   sync.RWMutex
	snapshot State

	subsMu  sync.Mutex
	subs    map[int]chan View
	nextSub int
}

type inboxMsg interface{ isInboxMsg() }

type connectReq struct {
	ctx    context.Context
	userID int64
	reply  chan error
}

type disconnectReq struct{ reply chan error }

type commandReq struct {
	kind    commandKind
	matchID int64
	reply   chan error
}

type clearErrorReq struct{ reply chan error }

type stateReq struct{ reply chan State }

func (connectReq) isInboxMsg()    {}
func (disconnectReq) isInboxMsg() {}
func (commandReq) isInboxMsg()    {}
func (clearErrorReq) isInboxMsg() {}
func (stateReq) isInboxMsg()      {}

// timer payloads
type timerFired struct {
	id  uint64
	due interface{}
}

type clearErrorDue struct{ gen uint64 }
type clearNoticeDue struct{ gen uint64 }
type achievementDue struct {
	matchID     int64
	achievement protocol.Achievement
}
type navigationDue struct{ matchID int64 }

// New creates a session and starts its loop. The loop stops when ctx is
// cancelled or Close is called.
func New(ctx context.Context, transport Transport, config Config) *Session {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Notifier == nil {
		config.Notifier = notify.LogNotifier{}
	}
	if config.Router == nil {
		config.Router = notify.LogRouter{}
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if config.DisplayTick <= 0 {
		config.DisplayTick = DefaultConfig().DisplayTick
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        uuid.New().String(),
		config:    config,
		clock:     config.Clock,
		transport: transport,
		notifier:  config.Notifier,
		router:    config.Router,
		inbox:     make(chan inboxMsg, 64),
		fired:     make(chan timerFired, 64),
		done:      make(chan struct{}),
		stop:      cancel,
		timers:    make(map[uint64]clockwork.Timer),
		subs:      make(map[int]chan View),
	}

	go s.loop(loopCtx)
	return s
}

// ID identifies the session in logs
func (s *Session) ID() string { return s.id }

// Connect opens the realtime channel for userID. A non-positive identity
// tears the channel down and returns gateway.ErrNoIdentity.
func (s *Session) Connect(ctx context.Context, userID int64) error {
	return s.request(ctx, func(reply chan error) inboxMsg {
		return connectReq{ctx: ctx, userID: userID, reply: reply}
	})
}

// Disconnect closes the realtime channel and cancels any pending reconnection
func (s *Session) Disconnect(ctx context.Context) error {
	return s.request(ctx, func(reply chan error) inboxMsg {
		return disconnectReq{reply: reply}
	})
}

// JoinQueue asks the server to enter the matchmaking queue
func (s *Session) JoinQueue(ctx context.Context) error {
	return s.command(ctx, cmdJoinQueue, 0)
}

// LeaveQueue asks the server to remove the user from the queue
func (s *Session) LeaveQueue(ctx context.Context) error {
	return s.command(ctx, cmdLeaveQueue, 0)
}

// SubmitSolution submits the current match. The locally derived elapsed time
// is attached as a hint; the server's own clock is authoritative.
func (s *Session) SubmitSolution(ctx context.Context, matchID int64) error {
	return s.command(ctx, cmdSubmitSolution, matchID)
}

// ResignMatch forfeits the current match
func (s *Session) ResignMatch(ctx context.Context, matchID int64) error {
	return s.command(ctx, cmdResignMatch, matchID)
}

// ClearError dismisses the current error
func (s *Session) ClearError(ctx context.Context) error {
	return s.request(ctx, func(reply chan error) inboxMsg {
		return clearErrorReq{reply: reply}
	})
}

// View returns the latest state with the clock derived at the current time
func (s *Session) View() View {
	s.snapMu.RLock()
	st := s.snapshot
	s.snapMu.RUnlock()
	return st.ViewAt(s.clock.Now())
}

// State returns the loop's current state, waiting for every earlier message
// to be processed first
func (s *Session) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case s.inbox <- stateReq{reply: reply}:
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-s.done:
		return State{}, ErrClosed
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-s.done:
		return State{}, ErrClosed
	}
}

// Subscribe returns a channel carrying the latest View after every change.
// Slow readers only miss intermediate views. The channel is closed by the
// returned cancel func or when the session closes.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	ch <- s.View()

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs == nil {
		close(ch)
		s.subsMu.Unlock()
		return ch, func() {}
	}
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Done is closed once the loop has stopped
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the loop, cancels every pending timer and ticker and closes the
// transport. It returns after the loop has exited.
func (s *Session) Close() {
	s.stop()
	<-s.done
}

func (s *Session) command(ctx context.Context, kind commandKind, matchID int64) error {
	return s.request(ctx, func(reply chan error) inboxMsg {
		return commandReq{kind: kind, matchID: matchID, reply: reply}
	})
}

func (s *Session) request(ctx context.Context, build func(reply chan error) inboxMsg) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- build(reply):
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	defer s.shutdown()

	log.Debug().Str("session_id", s.id).Msg("session loop started")
	events := s.transport.Events()

	for {
		var reply func()

		select {
		case <-ctx.Done():
			return

		case msg := <-s.inbox:
			reply = s.handleInbox(msg)

		case tf := <-s.fired:
			delete(s.timers, tf.id)
			s.handleDue(tf.due)

		case ev, ok := <-events:
			if !ok {
				log.Warn().Str("session_id", s.id).Msg("transport event stream closed")
				events = nil
				continue
			}
			s.handleTransport(ev)

		case <-tickerChan(s.heartbeat):
			s.sendHeartbeat()

		case <-tickerChan(s.display):
			// state unchanged; subscribers get a fresh clock
		}

		s.syncTickers()
		s.publish()

		// callers observe the published view once they get their reply
		if reply != nil {
			reply()
		}
	}
}

func (s *Session) handleInbox(msg inboxMsg) func() {
	switch m := msg.(type) {
	case connectReq:
		err := s.connect(m.ctx, m.userID)
		return func() { m.reply <- err }

	case disconnectReq:
		s.disconnect("user disconnected")
		return func() { m.reply <- nil }

	case commandReq:
		err := s.send(m.kind, m.matchID)
		return func() { m.reply <- err }

	case clearErrorReq:
		s.state = ClearError(s.state)
		return func() { m.reply <- nil }

	case stateReq:
		st := s.state
		return func() { m.reply <- st }
	}
	return nil
}

func (s *Session) connect(ctx context.Context, userID int64) error {
	if userID <= 0 {
		s.disconnect("no identity")
		return gateway.ErrNoIdentity
	}

	if s.wantConnected && s.state.UserID == userID {
		return nil
	}
	if s.state.UserID != 0 && s.state.UserID != userID {
		// A different identity never inherits the previous user's match
		s.disconnect("identity changed")
		s.cancelTimers()
		s.state = State{ConnectionSeq: s.state.ConnectionSeq}
	}

	s.state.UserID = userID
	s.wantConnected = true
	if err := s.transport.Connect(ctx, userID); err != nil {
		s.wantConnected = false
		log.Error().Err(err).Str("session_id", s.id).Int64("user_id", userID).Msg("failed to start transport")
		return err
	}

	log.Info().Str("session_id", s.id).Int64("user_id", userID).Msg("session connecting")
	return nil
}

func (s *Session) disconnect(reason string) {
	if !s.wantConnected && s.state.Connection == Disconnected {
		return
	}
	s.wantConnected = false
	s.transport.Disconnect()
	s.drainEvents()
	s.state = OnClosed(s.state)

	log.Info().
		Str("session_id", s.id).
		Int64("user_id", s.state.UserID).
		Str("reason", reason).
		Msg("session disconnected")
}

// drainEvents drops events the transport emitted before it was told to stop
func (s *Session) drainEvents() {
	for {
		select {
		case <-s.transport.Events():
		default:
			return
		}
	}
}

func (s *Session) send(kind commandKind, matchID int64) error {
	elapsed := ClockAt(s.state, s.clock.Now()).ElapsedSeconds

	cmd, err := buildCommand(s.state, kind, matchID, elapsed)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", s.id).
			Int64("user_id", s.state.UserID).
			Msg("command rejected")
		return err
	}

	if err := s.transport.Send(cmd); err != nil {
		if errors.Is(err, gateway.ErrNotConnected) {
			return ErrNotConnected
		}
		return err
	}

	log.Debug().
		Str("session_id", s.id).
		Str("type", string(cmd.Type)).
		Int64("match_id", cmd.MatchID).
		Msg("command sent")
	return nil
}

func (s *Session) sendHeartbeat() {
	if s.state.Connection != Connected {
		return
	}
	if err := s.transport.Send(protocol.Ping()); err != nil {
		log.Warn().Err(err).Str("session_id", s.id).Msg("failed to send heartbeat")
	}
}

func (s *Session) handleTransport(ev gateway.Event) {
	if !s.wantConnected {
		log.Debug().Str("session_id", s.id).Stringer("event", ev.Type).Msg("ignoring event from stopped transport")
		return
	}

	switch ev.Type {
	case gateway.EventConnecting:
		s.state = OnConnecting(s.state)

	case gateway.EventOpened:
		s.state = OnOpened(s.state)
		log.Info().
			Str("session_id", s.id).
			Str("connection_id", ev.ConnectionID).
			Int64("user_id", s.state.UserID).
			Msg("matchmaking connection open")

	case gateway.EventClosed:
		s.state = OnClosed(s.state)
		if !ev.Reconnecting {
			s.wantConnected = false
		}
		log.Info().
			Str("session_id", s.id).
			Int("code", ev.Code).
			Bool("reconnecting", ev.Reconnecting).
			Msg("matchmaking connection closed")

	case gateway.EventError:
		s.state = OnTransportError(s.state)

	case gateway.EventMessage:
		s.handleFrame(ev)
	}
}

func (s *Session) handleFrame(ev gateway.Event) {
	msg, err := protocol.Decode(ev.Data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Info().Str("session_id", s.id).Str("type", string(msg.Type)).Msg("ignoring unknown message type")
		} else {
			log.Warn().Err(err).Str("session_id", s.id).Str("connection_id", ev.ConnectionID).Msg("dropping malformed message")
		}
		return
	}

	next, effects, err := Apply(s.state, msg, s.clock.Now())
	if err != nil {
		log.Debug().Err(err).Str("session_id", s.id).Str("type", string(msg.Type)).Msg("message ignored")
		return
	}

	if next.Match != s.state.Match {
		logger := log.Info().
			Str("session_id", s.id).
			Stringer("from", s.state.Match).
			Stringer("to", next.Match)
		if next.CurrentMatch != nil {
			logger = logger.Int64("match_id", next.CurrentMatch.ID)
		}
		logger.Msg("match phase changed")
	}

	s.state = next
	s.runEffects(effects)
}

func (s *Session) runEffects(effects []Effect) {
	userID := s.state.UserID

	for _, e := range effects {
		switch e := e.(type) {
		case ClearErrorAfter:
			s.after(e.Delay, clearErrorDue{gen: e.Gen})

		case ClearNoticeAfter:
			s.after(e.Delay, clearNoticeDue{gen: e.Gen})

		case ShowAdvisory:
			s.notifier.Advisory(userID, notify.Advisory{
				Kind:    string(e.Notice.Kind),
				Title:   e.Notice.Title,
				Message: e.Notice.Message,
				Display: e.Display,
			})

		case MatchFinished:
			s.notifier.MatchCompleted(userID, protocol.MatchCompleted{
				MatchID:              e.Result.MatchID,
				Result:               e.Result.Result,
				EloChange:            e.Result.EloChange,
				AchievementsUnlocked: e.Result.Achievements,
			})

		case AnnounceAchievements:
			for i, a := range e.Achievements {
				if i == 0 {
					s.notifier.AchievementUnlocked(userID, e.MatchID, a)
					continue
				}
				s.after(time.Duration(i)*e.Stagger, achievementDue{matchID: e.MatchID, achievement: a})
			}

		case NavigateToResult:
			s.after(e.Delay, navigationDue{matchID: e.MatchID})
		}
	}
}

func (s *Session) handleDue(due interface{}) {
	switch d := due.(type) {
	case clearErrorDue:
		if s.state.errorGen == d.gen {
			s.state = ClearError(s.state)
		}

	case clearNoticeDue:
		if s.state.noticeGen == d.gen {
			s.state.Notice = nil
		}

	case achievementDue:
		s.notifier.AchievementUnlocked(s.state.UserID, d.matchID, d.achievement)

	case navigationDue:
		// A newer match supersedes the pending navigation
		if s.state.CurrentMatch == nil || s.state.CurrentMatch.ID != d.matchID {
			return
		}
		s.router.ShowResult(d.matchID)
	}
}

// after schedules due to be handled by the loop once d has elapsed
func (s *Session) after(d time.Duration, due interface{}) {
	s.nextTimer++
	id := s.nextTimer
	tf := timerFired{id: id, due: due}

	s.timers[id] = s.clock.AfterFunc(d, func() {
		select {
		case s.fired <- tf:
		default:
			go func() {
				select {
				case s.fired <- tf:
				case <-s.done:
				}
			}()
		}
	})
}

func (s *Session) cancelTimers() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// syncTickers runs the heartbeat only while connected and the display tick
// only while a match is active
func (s *Session) syncTickers() {
	connected := s.state.Connection == Connected
	if connected && s.heartbeat == nil {
		s.heartbeat = s.clock.NewTicker(s.config.HeartbeatInterval)
	} else if !connected && s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}

	active := s.state.Match == MatchActive
	if active && s.display == nil {
		s.display = s.clock.NewTicker(s.config.DisplayTick)
	} else if !active && s.display != nil {
		s.display.Stop()
		s.display = nil
	}
}

func tickerChan(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func (s *Session) publish() {
	s.snapMu.Lock()
	s.snapshot = s.state
	s.snapMu.Unlock()

	v := s.state.ViewAt(s.clock.Now())

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			// replace the unread view with the latest one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (s *Session) shutdown() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	if s.display != nil {
		s.display.Stop()
		s.display = nil
	}
	s.cancelTimers()

	s.wantConnected = false
	s.transport.Disconnect()
	s.state = OnClosed(s.state)
	s.publish()

	s.subsMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subs = nil
	s.subsMu.Unlock()

	log.Debug().Str("session_id", s.id).Msg("session loop stopped")
}
