package service

import (
	"context"
	"sync"
	"time"

	"whatsflow/internal/clock"
	"whatsflow/internal/metrics"
	"whatsflow/internal/model"
	"whatsflow/internal/transport"

	"go.uber.org/zap"
)

type notificationKind int

const (
	notifyStateChanged notificationKind = iota
	notifyPairing
	notifyConnected
	notifyDisconnected
	notifyLoggedOut
	notifyImportReady
	notifyMessage
)

// notification is what a supervisor reports to the manager. Handlers run
// on the supervisor goroutine and must not block.
type notification struct {
	kind      notificationKind
	session   model.Session
	cause     string
	retryIn   time.Duration
	message   model.InboundMessage
	transport transport.Transport
}

type supervisorDeps struct {
	factory   transport.Factory
	policy    *ReconnectPolicy
	pairing   *PairingController
	clock     clock.Clock
	settle    time.Duration
	opTimeout time.Duration
	purge     func(ctx context.Context, instanceID string) error
	notify    func(notification)
}

// commands handled by the supervisor loop
type (
	connectCmd struct {
		reply chan struct{}
	}
	disconnectCmd struct {
		logout bool
		reply  chan struct{}
	}
	stopCmd struct {
		logout bool
		purge  bool
		reply  chan struct{}
	}
	retryFired struct {
		seq uint64
	}
	pairingExpired struct {
		seq uint64
	}
	importSettled struct {
		seq uint64
	}
	transportOpened struct {
		gen uint64
		tr  transport.Transport
		err error
	}
	connectDone struct {
		gen uint64
		err error
	}
	transportEvent struct {
		gen uint64
		evt transport.Event
	}
	heartbeatCmd  struct{}
	heartbeatDone struct {
		gen uint64
		err error
	}
)

const inboxSize = 64

// Supervisor owns one session. Every state change happens on its loop
// goroutine; readers get copies through Snapshot.
type Supervisor struct {
	id   string
	deps *supervisorDeps
	log  *zap.Logger

	mu      sync.RWMutex
	session model.Session
	live    transport.Transport // non-nil only while connected

	inbox chan interface{}
	done  chan struct{}

	// loop-owned
	tr           transport.Transport
	gen          uint64
	retired      chan struct{} // closed when gen is retired
	retryTimer   clock.Timer
	retrySeq     uint64
	pairingTimer clock.Timer
	pairingSeq   uint64
	settleTimer  clock.Timer
	settleSeq    uint64
}

func newSupervisor(sess model.Session, deps *supervisorDeps) *Supervisor {
	s := &Supervisor{
		id:      sess.InstanceID,
		deps:    deps,
		log:     zap.L().With(zap.String("instance_id", sess.InstanceID)),
		session: sess,
		inbox:   make(chan interface{}, inboxSize),
		done:    make(chan struct{}),
		retired: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Supervisor) ID() string { return s.id }

// Snapshot returns a copy of the session record.
func (s *Supervisor) Snapshot() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// Connect asks the supervisor to establish the session. It returns once the
// request is accepted, not when the connection is up.
func (s *Supervisor) Connect() error {
	reply := make(chan struct{})
	if !s.post(connectCmd{reply: reply}) {
		return ErrUnknownInstance
	}
	return s.wait(reply)
}

// Disconnect tears the connection down. With logout the device is also
// unlinked and its credentials purged.
func (s *Supervisor) Disconnect(logout bool) error {
	reply := make(chan struct{})
	if !s.post(disconnectCmd{logout: logout, reply: reply}) {
		return ErrUnknownInstance
	}
	return s.wait(reply)
}

// Stop tears down like Disconnect and ends the loop. Pending timers are
// cancelled before Stop returns.
func (s *Supervisor) Stop(logout, purge bool) {
	reply := make(chan struct{})
	if s.post(stopCmd{logout: logout, purge: purge, reply: reply}) {
		_ = s.wait(reply)
	}
	<-s.done
}

// Heartbeat requests a liveness ping. Dropped when the inbox is busy.
func (s *Supervisor) Heartbeat() {
	select {
	case s.inbox <- heartbeatCmd{}:
	default:
	}
}

func (s *Supervisor) connectedTransport() (transport.Transport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.State != model.StateConnected || s.live == nil {
		return nil, ErrNotConnected
	}
	return s.live, nil
}

func (s *Supervisor) post(cmd interface{}) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- cmd:
		return true
	case <-s.done:
		return false
	}
}

// postFrom delivers a report from one transport generation. It gives up
// once that generation is retired, so a transport dispatching events under
// its own lock never waits on a loop that is busy closing it.
func (s *Supervisor) postFrom(retired <-chan struct{}, cmd interface{}) bool {
	select {
	case <-retired:
		return false
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- cmd:
		return true
	case <-retired:
		return false
	case <-s.done:
		return false
	}
}

func (s *Supervisor) wait(reply chan struct{}) error {
	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrUnknownInstance
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	for cmd := range s.inbox {
		if s.handle(cmd) {
			return
		}
	}
}

func (s *Supervisor) handle(cmd interface{}) (stop bool) {
	switch c := cmd.(type) {
	case connectCmd:
		s.requestConnect()
		close(c.reply)

	case disconnectCmd:
		s.disconnect(c.logout)
		close(c.reply)

	case stopCmd:
		s.teardown(c.logout, c.purge)
		close(c.reply)
		return true

	case retryFired:
		if c.seq != s.retrySeq || s.retryTimer == nil {
			return false
		}
		s.retryTimer = nil
		s.log.Info("reconnecting")
		s.startConnect()

	case pairingExpired:
		s.onPairingExpired(c.seq)

	case importSettled:
		if c.seq != s.settleSeq || s.settleTimer == nil {
			return false
		}
		s.settleTimer = nil
		if s.session.State == model.StateConnected && s.tr != nil {
			s.emit(notification{kind: notifyImportReady, session: s.Snapshot(), transport: s.tr})
		}

	case transportOpened:
		if c.gen != s.gen {
			if c.tr != nil {
				c.tr.Close()
			}
			return false
		}
		if c.err != nil {
			s.onInitError(c.err)
			return false
		}
		s.tr = c.tr

	case connectDone:
		if c.gen == s.gen && c.err != nil {
			s.onInitError(c.err)
		}

	case transportEvent:
		if c.gen != s.gen {
			return false
		}
		s.onTransportEvent(c.evt)

	case heartbeatCmd:
		if s.session.State == model.StateConnected {
			s.beat()
		}

	case heartbeatDone:
		if c.gen != s.gen || s.session.State != model.StateConnected {
			return false
		}
		if c.err != nil {
			s.log.Warn("heartbeat failed", zap.Error(c.err))
			return false
		}
		now := s.deps.clock.Now()
		s.update(func(sess *model.Session) { sess.LastSeen = &now })
	}
	return false
}

func (s *Supervisor) requestConnect() {
	switch s.session.State {
	case model.StateConnected, model.StateConnecting, model.StateAwaitingPairing:
		return
	}
	s.startConnect()
}

func (s *Supervisor) startConnect() {
	s.cancelRetry()
	s.cancelPairing()
	s.cancelSettle()
	s.closeTransport()
	gen, retired := s.gen, s.retired

	s.update(func(sess *model.Session) {
		sess.State = model.StateConnecting
		sess.Pairing = nil
		sess.User = nil
		sess.RetryAt = nil
	})

	handler := func(evt transport.Event) {
		s.postFrom(retired, transportEvent{gen: gen, evt: evt})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.deps.opTimeout)
		defer cancel()

		tr, err := s.deps.factory.Open(ctx, s.id, handler)
		if !s.postFrom(retired, transportOpened{gen: gen, tr: tr, err: err}) {
			if tr != nil {
				tr.Close()
			}
			return
		}
		if err != nil {
			return
		}
		s.postFrom(retired, connectDone{gen: gen, err: tr.Connect(ctx)})
	}()
}

// detachTransport retires the current generation and hands back its
// transport, if any. Events still in flight from it are dropped and its
// handler stops waiting for inbox space.
func (s *Supervisor) detachTransport() transport.Transport {
	s.gen++
	close(s.retired)
	s.retired = make(chan struct{})
	s.setLive(nil)
	tr := s.tr
	s.tr = nil
	return tr
}

func (s *Supervisor) closeTransport() {
	if tr := s.detachTransport(); tr != nil {
		tr.Close()
	}
}

func (s *Supervisor) onInitError(err error) {
	s.log.Warn("transport failed to start", zap.Error(err))
	s.cancelPairing()
	s.closeTransport()
	s.update(func(sess *model.Session) {
		sess.State = model.StateDisconnected
		sess.Pairing = nil
		sess.User = nil
	})
	s.scheduleRetry(s.deps.policy.InitErrorDelay(), "init_error")
}

func (s *Supervisor) onTransportEvent(evt transport.Event) {
	switch e := evt.(type) {
	case transport.PairingRequired:
		s.onPairingRequired(e)
	case transport.Established:
		s.onEstablished(e)
	case transport.Closed:
		s.onClosed(e)
	case transport.MessageReceived:
		metrics.MessagesReceived.Inc()
		s.emit(notification{kind: notifyMessage, session: s.Snapshot(), message: e.Message})
	}
}

func (s *Supervisor) onPairingRequired(e transport.PairingRequired) {
	if st := s.session.State; st != model.StateConnecting && st != model.StateAwaitingPairing {
		s.log.Debug("pairing code ignored", zap.String("state", string(st)))
		return
	}

	now := s.deps.clock.Now()
	var challenge model.PairingChallenge
	s.update(func(sess *model.Session) {
		challenge = s.deps.pairing.Issue(sess, e.Code, e.Timeout, now)
		sess.State = model.StateAwaitingPairing
	})

	s.cancelPairing()
	seq := s.pairingSeq
	s.pairingTimer = s.deps.clock.AfterFunc(challenge.ExpiresAt.Sub(now), func() {
		s.post(pairingExpired{seq: seq})
	})

	s.emit(notification{kind: notifyPairing, session: s.Snapshot()})
}

func (s *Supervisor) onPairingExpired(seq uint64) {
	if seq != s.pairingSeq || s.pairingTimer == nil {
		return
	}
	s.pairingTimer = nil
	if s.session.State != model.StateAwaitingPairing {
		return
	}

	s.update(func(sess *model.Session) {
		sess.State = model.StateConnecting
		sess.Pairing = nil
	})

	if tr := s.tr; tr != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.deps.opTimeout)
			defer cancel()
			if err := tr.RefreshPairing(ctx); err != nil {
				s.log.Warn("pairing refresh failed", zap.Error(err))
			}
		}()
	}
}

func (s *Supervisor) onEstablished(e transport.Established) {
	s.cancelPairing()
	s.cancelRetry()

	now := s.deps.clock.Now()
	user := e.User
	s.update(func(sess *model.Session) {
		sess.State = model.StateConnected
		sess.Pairing = nil
		sess.User = &user
		sess.LastSeen = &now
		sess.RetryAt = nil
	})
	s.setLive(s.tr)

	if tr := s.tr; tr != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.deps.opTimeout)
			defer cancel()
			if err := tr.PersistCredentials(ctx); err != nil {
				s.log.Warn("failed to persist credentials", zap.Error(err))
			}
		}()
		s.beat()
	}

	s.log.Info("connected", zap.String("user", user.ID))
	s.emit(notification{kind: notifyConnected, session: s.Snapshot()})

	s.cancelSettle()
	seq := s.settleSeq
	s.settleTimer = s.deps.clock.AfterFunc(s.deps.settle, func() {
		s.post(importSettled{seq: seq})
	})
}

func (s *Supervisor) onClosed(e transport.Closed) {
	s.cancelPairing()
	s.cancelSettle()
	s.closeTransport()

	decision := s.deps.policy.Decide(e.Cause)
	log := s.log.With(zap.String("cause", string(e.Cause)), zap.String("detail", e.Detail))

	if decision.GiveUp() {
		s.cancelRetry()
		s.update(func(sess *model.Session) {
			sess.State = model.StateLoggedOut
			sess.Pairing = nil
			sess.User = nil
			sess.RetryAt = nil
		})
		log.Warn("logged out remotely, credentials purged")
		s.purgeCredentials()
		s.emit(notification{kind: notifyLoggedOut, session: s.Snapshot(), cause: string(e.Cause)})
		return
	}

	s.update(func(sess *model.Session) {
		sess.State = model.StateConnecting
		sess.Pairing = nil
		sess.User = nil
	})
	s.scheduleRetry(decision.Delay, string(e.Cause))
	log.Info("connection closed, retry scheduled", zap.Duration("retry_in", decision.Delay))
	s.emit(notification{
		kind:    notifyDisconnected,
		session: s.Snapshot(),
		cause:   string(e.Cause),
		retryIn: decision.Delay,
	})
}

func (s *Supervisor) disconnect(logout bool) {
	wasIdle := s.session.State == model.StateDisconnected
	s.teardown(logout, logout)

	if wasIdle && !logout {
		return
	}
	reason := "manual"
	if logout {
		reason = "logout"
	}
	s.emit(notification{kind: notifyDisconnected, session: s.Snapshot(), cause: reason})
}

// teardown cancels every timer, closes the transport and parks the session
// in Disconnected.
func (s *Supervisor) teardown(logout, purge bool) {
	s.cancelRetry()
	s.cancelPairing()
	s.cancelSettle()

	connected := s.session.State == model.StateConnected
	if tr := s.detachTransport(); tr != nil {
		if logout && connected {
			ctx, cancel := context.WithTimeout(context.Background(), s.deps.opTimeout)
			if err := tr.Logout(ctx); err != nil {
				s.log.Warn("logout failed", zap.Error(err))
			}
			cancel()
		}
		tr.Close()
	}

	if purge {
		s.purgeCredentials()
	}

	s.update(func(sess *model.Session) {
		sess.State = model.StateDisconnected
		sess.Pairing = nil
		sess.User = nil
		sess.RetryAt = nil
	})
}

func (s *Supervisor) purgeCredentials() {
	if s.deps.purge == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.opTimeout)
	defer cancel()
	if err := s.deps.purge(ctx, s.id); err != nil {
		s.log.Error("failed to purge credentials", zap.Error(err))
	}
}

// beat sends a presence update and reports back to the loop.
func (s *Supervisor) beat() {
	tr, gen, retired := s.tr, s.gen, s.retired
	if tr == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.deps.opTimeout)
		defer cancel()
		s.postFrom(retired, heartbeatDone{gen: gen, err: tr.SendPresence(ctx)})
	}()
}

// scheduleRetry arms the single reconnection timer, replacing any prior one.
func (s *Supervisor) scheduleRetry(delay time.Duration, cause string) {
	s.cancelRetry()
	seq := s.retrySeq
	at := s.deps.clock.Now().Add(delay)
	s.retryTimer = s.deps.clock.AfterFunc(delay, func() {
		s.post(retryFired{seq: seq})
	})
	s.update(func(sess *model.Session) { sess.RetryAt = &at })
	metrics.ReconnectsScheduled.WithLabelValues(cause).Inc()
}

func (s *Supervisor) cancelRetry() {
	s.retrySeq++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Supervisor) cancelPairing() {
	s.pairingSeq++
	if s.pairingTimer != nil {
		s.pairingTimer.Stop()
		s.pairingTimer = nil
	}
}

func (s *Supervisor) cancelSettle() {
	s.settleSeq++
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
}

func (s *Supervisor) setLive(tr transport.Transport) {
	s.mu.Lock()
	s.live = tr
	s.mu.Unlock()
}

// update applies fn to the session under the write lock and reports a
// state change when there was one.
func (s *Supervisor) update(fn func(*model.Session)) {
	s.mu.Lock()
	prev := s.session.State
	fn(&s.session)
	next := s.session.State
	snap := s.session.Clone()
	s.mu.Unlock()

	if prev != next {
		metrics.StateTransitions.WithLabelValues(string(next)).Inc()
		s.log.Debug("state changed", zap.String("from", string(prev)), zap.String("state", string(next)))
		s.emit(notification{kind: notifyStateChanged, session: snap})
	}
}

func (s *Supervisor) emit(n notification) {
	if s.deps.notify != nil {
		s.deps.notify(n)
	}
}
