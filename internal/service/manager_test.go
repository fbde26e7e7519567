package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsflow/config"
	"whatsflow/internal/clock"
	"whatsflow/internal/model"
	"whatsflow/internal/transport"
	"whatsflow/internal/transport/transporttest"
	"whatsflow/internal/ws"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	messages     []model.InboundMessage
	imports      map[string][]model.Chat
	forgotten    []string
}

func (n *recordingNotifier) Connected(instanceID string, user model.User, at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = append(n.connected, instanceID)
}

func (n *recordingNotifier) Disconnected(instanceID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = append(n.disconnected, instanceID+":"+reason)
}

func (n *recordingNotifier) MessageReceived(instanceID string, msg model.InboundMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) ImportChats(ctx context.Context, instanceID string, user *model.User, chats []model.Chat) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.imports == nil {
		n.imports = make(map[string][]model.Chat)
	}
	n.imports[instanceID] = append(n.imports[instanceID], chats...)
	return nil
}

func (n *recordingNotifier) Forget(instanceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.forgotten = append(n.forgotten, instanceID)
}

func (n *recordingNotifier) snapshot() (connected, disconnected []string, messages []model.InboundMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.connected...),
		append([]string(nil), n.disconnected...),
		append([]model.InboundMessage(nil), n.messages...)
}

func (n *recordingNotifier) imported(instanceID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.imports[instanceID])
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ws.WsEvent
}

func (p *recordingPublisher) Publish(evt ws.WsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == name {
			n++
		}
	}
	return n
}

type memoryCatalog struct {
	mu    sync.Mutex
	items []model.Instance
}

func (c *memoryCatalog) Save(inst model.Instance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, inst)
	return nil
}

func (c *memoryCatalog) Delete(instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.items[:0]
	for _, inst := range c.items {
		if inst.ID != instanceID {
			kept = append(kept, inst)
		}
	}
	c.items = kept
	return nil
}

func (c *memoryCatalog) List() ([]model.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Instance(nil), c.items...), nil
}

type fixture struct {
	m        *Manager
	factory  *transporttest.Factory
	clock    *clock.Manual
	notifier *recordingNotifier
	realtime *recordingPublisher
	catalog  *memoryCatalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	f := &fixture{
		factory:  transporttest.NewFactory(),
		clock:    clock.NewManual(epoch),
		notifier: &recordingNotifier{},
		realtime: &recordingPublisher{},
		catalog:  &memoryCatalog{},
	}
	m, err := NewManager(Options{
		Factory:  f.factory,
		Policy:   NewReconnectPolicy(cfg.Reconnect),
		Pairing:  NewPairingController(cfg.Session.PairingValidity),
		Notifier: f.notifier,
		Realtime: f.realtime,
		Catalog:  f.catalog,
		Clock:    f.clock,
		Config: ManagerConfig{
			ImportSettle:       5 * time.Second,
			ImportWorkers:      2,
			OperationTimeout:   time.Second,
			DefaultCountryCode: "55",
			AutoConnect:        true,
		},
	})
	require.NoError(t, err)
	f.m = m
	t.Cleanup(m.Shutdown)
	return f
}

func (f *fixture) create(t *testing.T, id string) {
	t.Helper()
	_, created, err := f.m.CreateInstance(id, id)
	require.NoError(t, err)
	require.True(t, created)
}

// transport waits for the n-th transport of id to be handed to the loop.
func (f *fixture) transport(t *testing.T, id string, n int) *transporttest.Transport {
	t.Helper()
	require.Eventually(t, func() bool {
		tr := f.factory.Last(id)
		return f.factory.Opened(id) == n && tr != nil && tr.Connects() == 1
	}, waitFor, tick)
	return f.factory.Last(id)
}

func (f *fixture) waitState(t *testing.T, id string, state model.State) model.StatusView {
	t.Helper()
	var st model.StatusView
	require.Eventually(t, func() bool {
		var err error
		st, err = f.m.Status(id)
		return err == nil && st.State == state
	}, waitFor, tick, "waiting for %s to reach %s", id, state)
	return st
}

func (f *fixture) connected(t *testing.T, id string) *transporttest.Transport {
	t.Helper()
	require.NoError(t, f.m.Connect(id))
	tr := f.transport(t, id, 1)
	tr.Establish(model.User{ID: "5511999999999@s.whatsapp.net", Name: "Sales Bot", Phone: "5511999999999"})
	f.waitState(t, id, model.StateConnected)
	return tr
}

func TestSalesInstancePairsAndConnects(t *testing.T) {
	f := newFixture(t)

	st, created, err := f.m.CreateInstance("Sales", "sales")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.StateDisconnected, st.State)
	assert.False(t, st.Connected)

	require.NoError(t, f.m.Connect("sales"))
	st, err = f.m.Status("sales")
	require.NoError(t, err)
	assert.Equal(t, model.StateConnecting, st.State)
	assert.True(t, st.Connecting)

	tr := f.transport(t, "sales", 1)
	tr.RequirePairing("2@abc")
	st = f.waitState(t, "sales", model.StateAwaitingPairing)
	assert.True(t, st.HasQR)

	view := f.m.PairingChallenge("sales")
	require.NotNil(t, view.Challenge)
	assert.Equal(t, "2@abc", view.Challenge.Token)
	assert.Equal(t, 60*time.Second, view.ExpiresIn)
	assert.False(t, view.Connected)
	assert.Equal(t, 1, f.realtime.count(ws.EventQRGenerated))

	tr.Establish(model.User{ID: "5511999999999@s.whatsapp.net", Name: "Sales Bot", Phone: "5511999999999"})
	st = f.waitState(t, "sales", model.StateConnected)
	assert.True(t, st.Connected)
	assert.False(t, st.HasQR)
	require.NotNil(t, st.User)
	assert.Equal(t, "Sales Bot", st.User.Name)
	require.NotNil(t, st.LastSeen)

	view = f.m.PairingChallenge("sales")
	assert.Nil(t, view.Challenge)
	assert.True(t, view.Connected)

	require.Eventually(t, func() bool {
		connected, _, _ := f.notifier.snapshot()
		return len(connected) == 1 && connected[0] == "sales"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return tr.Persisted() == 1 }, waitFor, tick)
	assert.True(t, f.factory.HasCredentials(context.Background(), "sales"))

	h := f.m.Health()
	assert.Equal(t, 1, h.Total)
	assert.Equal(t, 1, h.Connected)
	assert.Equal(t, 0, h.Connecting)
}

func TestCreateInstance(t *testing.T) {
	f := newFixture(t)

	st, created, err := f.m.CreateInstance("", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, st.InstanceID)
	assert.Equal(t, st.InstanceID, st.Name)

	_, created, err = f.m.CreateInstance("Other name", st.InstanceID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, f.m.Instances(), 1)

	_, _, err = f.m.CreateInstance("bad", "has space")
	assert.ErrorIs(t, err, ErrInvalidInstanceID)

	items, err := f.catalog.List()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestConnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")

	require.NoError(t, f.m.Connect("sales"))
	require.NoError(t, f.m.Connect("sales"))
	tr := f.transport(t, "sales", 1)

	tr.RequirePairing("2@abc")
	f.waitState(t, "sales", model.StateAwaitingPairing)
	require.NoError(t, f.m.Connect("sales"))

	tr.Establish(model.User{ID: "1@s.whatsapp.net"})
	f.waitState(t, "sales", model.StateConnected)
	require.NoError(t, f.m.Connect("sales"))

	assert.Never(t, func() bool { return f.factory.Opened("sales") > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, 1, tr.Connects())
}

func TestRemoteLogoutPurgesAndNeverRetries(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	tr := f.connected(t, "sales")
	require.Eventually(t, func() bool { return f.factory.HasCredentials(context.Background(), "sales") }, waitFor, tick)

	tr.Drop(transport.CauseLoggedOut)
	st := f.waitState(t, "sales", model.StateLoggedOut)
	assert.Nil(t, st.User)
	assert.Nil(t, st.RetryAt)

	require.Eventually(t, func() bool { return f.factory.Purges("sales") == 1 }, waitFor, tick)
	assert.False(t, f.factory.HasCredentials(context.Background(), "sales"))
	assert.True(t, tr.Closed())
	assert.Equal(t, 0, f.clock.Pending())

	f.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return f.factory.Opened("sales") > 1 }, 50*time.Millisecond, tick)

	require.Eventually(t, func() bool {
		_, disconnected, _ := f.notifier.snapshot()
		return len(disconnected) == 1 && disconnected[0] == "sales:logged_out"
	}, waitFor, tick)

	// a fresh connect from LoggedOut starts over with a new pairing
	require.NoError(t, f.m.Connect("sales"))
	f.transport(t, "sales", 2)
}

func TestConnectionLostSchedulesSingleRetry(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	tr := f.connected(t, "sales")

	tr.Drop(transport.CauseConnectionLost)
	f.waitState(t, "sales", model.StateConnecting)
	var st model.StatusView
	require.Eventually(t, func() bool {
		st, _ = f.m.Status("sales")
		return st.RetryAt != nil
	}, waitFor, tick)
	assert.Equal(t, epoch.Add(15*time.Second), *st.RetryAt)
	assert.Equal(t, 1, f.clock.Pending())
	assert.True(t, tr.Closed())

	_, err := f.m.SendMessage(context.Background(), "sales", "5511988887777", model.Content{Type: model.ContentText, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)

	f.clock.Advance(14 * time.Second)
	assert.Never(t, func() bool { return f.factory.Opened("sales") > 1 }, 50*time.Millisecond, tick)

	f.clock.Advance(time.Second)
	next := f.transport(t, "sales", 2)
	assert.NotSame(t, tr, next)

	f.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return f.factory.Opened("sales") > 2 }, 50*time.Millisecond, tick)

	require.Eventually(t, func() bool {
		_, disconnected, _ := f.notifier.snapshot()
		return len(disconnected) == 1 && disconnected[0] == "sales:connection_lost"
	}, waitFor, tick)
}

func TestStaleEventsFromClosedTransportAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	old := f.connected(t, "sales")

	old.Drop(transport.CauseRestartRequired)
	f.waitState(t, "sales", model.StateConnecting)
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, waitFor, tick)
	f.clock.Advance(5 * time.Second)
	f.transport(t, "sales", 2)

	old.Establish(model.User{ID: "ghost@s.whatsapp.net"})
	assert.Never(t, func() bool {
		st, _ := f.m.Status("sales")
		return st.State == model.StateConnected
	}, 50*time.Millisecond, tick)
}

func TestDeleteCancelsPendingRetry(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	tr := f.connected(t, "sales")

	tr.Drop(transport.CauseConnectionLost)
	require.Eventually(t, func() bool {
		st, _ := f.m.Status("sales")
		return st.RetryAt != nil
	}, waitFor, tick)

	require.NoError(t, f.m.DeleteInstance("sales"))
	_, err := f.m.Status("sales")
	assert.ErrorIs(t, err, ErrUnknownInstance)
	assert.Equal(t, 0, f.clock.Pending())
	assert.Equal(t, 1, f.factory.Purges("sales"))
	assert.Equal(t, 1, f.realtime.count(ws.EventInstanceDeleted))

	f.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return f.factory.Opened("sales") > 1 }, 50*time.Millisecond, tick)

	f.notifier.mu.Lock()
	assert.Equal(t, []string{"sales"}, f.notifier.forgotten)
	f.notifier.mu.Unlock()

	items, err := f.catalog.List()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteConnectedInstanceLogsOut(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	tr := f.connected(t, "sales")

	require.NoError(t, f.m.DeleteInstance("sales"))
	assert.True(t, tr.LoggedOut())
	assert.True(t, tr.Closed())
	assert.Equal(t, 1, f.factory.Purges("sales"))
	assert.ErrorIs(t, f.m.DeleteInstance("sales"), ErrUnknownInstance)
}

func TestDisconnect(t *testing.T) {
	t.Run("keeps credentials", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "sales")
		tr := f.connected(t, "sales")

		require.NoError(t, f.m.Disconnect("sales", false))
		st, err := f.m.Status("sales")
		require.NoError(t, err)
		assert.Equal(t, model.StateDisconnected, st.State)
		assert.Nil(t, st.User)
		assert.True(t, tr.Closed())
		assert.False(t, tr.LoggedOut())
		assert.Equal(t, 0, f.factory.Purges("sales"))

		_, disconnected, _ := f.notifier.snapshot()
		assert.Equal(t, []string{"sales:manual"}, disconnected)
	})

	t.Run("logout purges", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "sales")
		tr := f.connected(t, "sales")

		require.NoError(t, f.m.Disconnect("sales", true))
		assert.True(t, tr.LoggedOut())
		assert.Equal(t, 1, f.factory.Purges("sales"))

		_, disconnected, _ := f.notifier.snapshot()
		assert.Equal(t, []string{"sales:logout"}, disconnected)
	})

	t.Run("idle instance stays quiet", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "sales")

		require.NoError(t, f.m.Disconnect("sales", false))
		_, disconnected, _ := f.notifier.snapshot()
		assert.Empty(t, disconnected)
	})

	t.Run("cancels retry", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "sales")
		tr := f.connected(t, "sales")
		tr.Drop(transport.CauseTimedOut)
		require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, waitFor, tick)

		require.NoError(t, f.m.Disconnect("sales", false))
		assert.Equal(t, 0, f.clock.Pending())
		f.clock.Advance(time.Hour)
		assert.Never(t, func() bool { return f.factory.Opened("sales") > 1 }, 50*time.Millisecond, tick)
	})
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")

	_, err := f.m.SendMessage(context.Background(), "sales", "5511988887777", model.Content{Type: model.ContentText, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, f.factory.Opened("sales"))

	tr := f.connected(t, "sales")

	res, err := f.m.SendMessage(context.Background(), "sales", "+55 (11) 98888-7777", model.Content{Type: model.ContentText, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "sales-1", res.MessageID)
	assert.Equal(t, "5511988887777@s.whatsapp.net", res.To)

	res, err = f.m.SendMessage(context.Background(), "sales", "011988887777", model.Content{Type: model.ContentText, Text: "local"})
	require.NoError(t, err)
	assert.Equal(t, "5511988887777@s.whatsapp.net", res.To)

	_, err = f.m.SendMessage(context.Background(), "sales", "abc", model.Content{Type: model.ContentText, Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = f.m.SendMessage(context.Background(), "sales", "5511988887777", model.Content{Type: "video"})
	assert.ErrorIs(t, err, ErrUnsupportedContent)

	_, err = f.m.SendMessage(context.Background(), "sales", "5511988887777", model.Content{Type: model.ContentText})
	assert.ErrorIs(t, err, ErrUnsupportedContent)

	tr.FailSends(errors.New("socket gone"))
	_, err = f.m.SendMessage(context.Background(), "sales", "5511988887777", model.Content{Type: model.ContentText, Text: "hi"})
	assert.Error(t, err)

	assert.Len(t, tr.Sent(), 2)

	require.NoError(t, f.m.Disconnect("sales", false))
	_, err = f.m.SendMessage(context.Background(), "sales", "5511988887777", model.Content{Type: model.ContentText, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Len(t, tr.Sent(), 2)
}

func TestUnknownInstance(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.m.Connect("ghost"), ErrUnknownInstance)
	assert.ErrorIs(t, f.m.Disconnect("ghost", false), ErrUnknownInstance)
	assert.ErrorIs(t, f.m.DeleteInstance("ghost"), ErrUnknownInstance)
	_, err := f.m.Status("ghost")
	assert.ErrorIs(t, err, ErrUnknownInstance)
	_, err = f.m.SendMessage(context.Background(), "ghost", "5511988887777", model.Content{Type: model.ContentText, Text: "hi"})
	assert.ErrorIs(t, err, ErrUnknownInstance)
	_, err = f.m.ListChats(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownInstance)

	view := f.m.PairingChallenge("ghost")
	assert.Nil(t, view.Challenge)
	assert.False(t, view.Connected)
	assert.Equal(t, 0, f.factory.Opened("ghost"))
}

func TestInstancesAreIsolated(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	f.create(t, "b")
	ta := f.connected(t, "a")
	tb := f.connected(t, "b")

	ta.Drop(transport.CauseConnectionLost)
	f.waitState(t, "a", model.StateConnecting)

	st, err := f.m.Status("b")
	require.NoError(t, err)
	assert.Equal(t, model.StateConnected, st.State)

	tb.Receive(model.InboundMessage{ID: "m1", From: "5511911112222", Text: "hello", Type: "text"})
	require.Eventually(t, func() bool {
		_, _, messages := f.notifier.snapshot()
		return len(messages) == 1 && messages[0].ID == "m1"
	}, waitFor, tick)
	assert.Equal(t, 1, f.realtime.count(ws.EventMessageReceived))

	all := f.m.StatusAll()
	require.Len(t, all, 2)
	assert.Equal(t, model.StateConnecting, all["a"].State)
	assert.Equal(t, model.StateConnected, all["b"].State)

	h := f.m.Health()
	assert.Equal(t, 2, h.Total)
	assert.Equal(t, 1, h.Connected)
	assert.Equal(t, 1, h.Connecting)
}

func TestInitErrorParksDisconnectedWithRetry(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	f.factory.FailConnect("sales", errors.New("dial failed"))

	require.NoError(t, f.m.Connect("sales"))
	f.waitState(t, "sales", model.StateDisconnected)
	var st model.StatusView
	require.Eventually(t, func() bool {
		st, _ = f.m.Status("sales")
		return st.RetryAt != nil
	}, waitFor, tick)
	assert.Equal(t, epoch.Add(15*time.Second), *st.RetryAt)
	assert.True(t, f.factory.Last("sales").Closed())

	f.clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return f.factory.Opened("sales") == 2 }, waitFor, tick)
}

func TestOpenFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	f.factory.FailOpen("sales", errors.New("store locked"))

	require.NoError(t, f.m.Connect("sales"))
	f.waitState(t, "sales", model.StateDisconnected)
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, waitFor, tick)

	// an explicit connect replaces the pending retry
	f.factory.FailOpen("sales", nil)
	require.NoError(t, f.m.Connect("sales"))
	f.transport(t, "sales", 1)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestPairingExpiryRefreshesInPlace(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	require.NoError(t, f.m.Connect("sales"))
	tr := f.transport(t, "sales", 1)

	tr.RequirePairing("2@first")
	f.waitState(t, "sales", model.StateAwaitingPairing)

	f.clock.Advance(60 * time.Second)
	st := f.waitState(t, "sales", model.StateConnecting)
	assert.False(t, st.HasQR)
	assert.Nil(t, st.RetryAt)
	require.Eventually(t, func() bool { return tr.Refreshes() == 1 }, waitFor, tick)
	assert.Nil(t, f.m.PairingChallenge("sales").Challenge)

	tr.RequirePairing("2@second")
	f.waitState(t, "sales", model.StateAwaitingPairing)
	view := f.m.PairingChallenge("sales")
	require.NotNil(t, view.Challenge)
	assert.Equal(t, "2@second", view.Challenge.Token)
	assert.Equal(t, 1, f.factory.Opened("sales"))
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	tr := f.connected(t, "sales")
	require.Eventually(t, func() bool { return tr.Presences() == 1 }, waitFor, tick)

	f.clock.Advance(30 * time.Second)
	f.m.Heartbeat()
	require.Eventually(t, func() bool {
		st, _ := f.m.Status("sales")
		return tr.Presences() == 2 && st.LastSeen != nil && st.LastSeen.Equal(epoch.Add(30*time.Second))
	}, waitFor, tick)

	// failed pings leave the session connected
	tr.FailPresence(errors.New("timeout"))
	f.clock.Advance(30 * time.Second)
	f.m.Heartbeat()
	require.Eventually(t, func() bool { return tr.Presences() == 3 }, waitFor, tick)
	st, err := f.m.Status("sales")
	require.NoError(t, err)
	assert.Equal(t, model.StateConnected, st.State)
	assert.True(t, st.LastSeen.Equal(epoch.Add(30*time.Second)))
}

func TestChatImportAfterSettle(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	f.factory.SetChats("sales", []model.Chat{
		{ID: "5511911112222@s.whatsapp.net", Name: "Ana", Phone: "5511911112222"},
		{ID: "123-456@g.us", Name: "Team", IsGroup: true},
	})
	f.connected(t, "sales")

	assert.Equal(t, 0, f.notifier.imported("sales"))
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return f.notifier.imported("sales") == 2 }, waitFor, tick)

	chats, err := f.m.ListChats(context.Background(), "sales")
	require.NoError(t, err)
	assert.Len(t, chats, 2)
}

func TestRestoreReconnectsInstancesWithCredentials(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.catalog.Save(model.Instance{ID: "a", Name: "A", CreatedAt: epoch}))
	require.NoError(t, f.catalog.Save(model.Instance{ID: "b", Name: "B", CreatedAt: epoch.Add(time.Second)}))
	f.factory.SetCredentials("a", true)

	require.NoError(t, f.m.Restore(context.Background()))
	list := f.m.Instances()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].InstanceID)
	assert.Equal(t, "B", list[1].Name)

	f.transport(t, "a", 1)
	assert.Never(t, func() bool { return f.factory.Opened("b") > 0 }, 50*time.Millisecond, tick)

	st, err := f.m.Status("b")
	require.NoError(t, err)
	assert.Equal(t, model.StateDisconnected, st.State)
}

func TestShutdownKeepsCredentials(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sales")
	tr := f.connected(t, "sales")

	f.m.Shutdown()
	assert.True(t, tr.Closed())
	assert.False(t, tr.LoggedOut())
	assert.Equal(t, 0, f.factory.Purges("sales"))
	assert.ErrorIs(t, f.m.Connect("sales"), ErrUnknownInstance)
}
