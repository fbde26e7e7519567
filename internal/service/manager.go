package service

import (
	"context"
	"fmt"
	"time"

	"whatsflow/internal/clock"
	"whatsflow/internal/helper"
	"whatsflow/internal/metrics"
	"whatsflow/internal/model"
	"whatsflow/internal/transport"
	"whatsflow/internal/ws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier delivers lifecycle events to the backend consumer. The
// fire-and-forget methods must return without waiting on the network.
type Notifier interface {
	Connected(instanceID string, user model.User, at time.Time)
	Disconnected(instanceID, reason string)
	MessageReceived(instanceID string, msg model.InboundMessage)
	ImportChats(ctx context.Context, instanceID string, user *model.User, chats []model.Chat) error
	Forget(instanceID string)
}

// Catalog persists which instances exist so they survive restarts.
type Catalog interface {
	Save(inst model.Instance) error
	Delete(instanceID string) error
	List() ([]model.Instance, error)
}

type ManagerConfig struct {
	ImportSettle       time.Duration
	ImportWorkers      int
	OperationTimeout   time.Duration
	DefaultCountryCode string
	AutoConnect        bool
	HeartbeatInterval  time.Duration
}

type Options struct {
	Factory  transport.Factory
	Store    Store
	Policy   *ReconnectPolicy
	Pairing  *PairingController
	Notifier Notifier
	Realtime ws.RealtimePublisher
	Catalog  Catalog
	Clock    clock.Clock
	Config   ManagerConfig
}

// Manager supervises every instance.
type Manager struct {
	store    Store
	factory  transport.Factory
	pairing  *PairingController
	notifier Notifier
	realtime ws.RealtimePublisher
	catalog  Catalog
	clock    clock.Clock
	cfg      ManagerConfig

	deps      *supervisorDeps
	importer  *ChatImporter
	heartbeat *Heartbeat
	startedAt time.Time
}

// HealthView is the aggregate served by /health.
type HealthView struct {
	Total      int           `json:"total"`
	Connected  int           `json:"connected"`
	Connecting int           `json:"connecting"`
	Uptime     time.Duration `json:"-"`
	// chat imports currently running
	Importing int `json:"importing"`
}

// PairingView is the QR poll answer for one instance.
type PairingView struct {
	InstanceID string
	Challenge  *model.PairingChallenge
	ExpiresIn  time.Duration
	Connected  bool
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("transport factory is required")
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Pairing == nil {
		opts.Pairing = NewPairingController(60 * time.Second)
	}
	if opts.Policy == nil {
		return nil, fmt.Errorf("reconnect policy is required")
	}
	if opts.Config.OperationTimeout <= 0 {
		opts.Config.OperationTimeout = 30 * time.Second
	}

	m := &Manager{
		store:     opts.Store,
		factory:   opts.Factory,
		pairing:   opts.Pairing,
		notifier:  opts.Notifier,
		realtime:  opts.Realtime,
		catalog:   opts.Catalog,
		clock:     opts.Clock,
		cfg:       opts.Config,
		startedAt: opts.Clock.Now(),
	}

	if m.notifier != nil {
		workers := opts.Config.ImportWorkers
		if workers < 1 {
			workers = 1
		}
		importer, err := NewChatImporter(workers, m.notifier)
		if err != nil {
			return nil, fmt.Errorf("create chat importer: %w", err)
		}
		m.importer = importer
	}

	m.deps = &supervisorDeps{
		factory:   opts.Factory,
		policy:    opts.Policy,
		pairing:   opts.Pairing,
		clock:     opts.Clock,
		settle:    opts.Config.ImportSettle,
		opTimeout: opts.Config.OperationTimeout,
		purge:     opts.Factory.Purge,
		notify:    m.dispatch,
	}
	return m, nil
}

// CreateInstance registers a new instance in Disconnected. An empty id gets
// a generated one; an id that already exists returns its status with
// created=false.
func (m *Manager) CreateInstance(name, instanceID string) (status model.StatusView, created bool, err error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	} else if !helper.ValidInstanceID(instanceID) {
		return model.StatusView{}, false, ErrInvalidInstanceID
	}
	if existing, ok := m.store.Get(instanceID); ok {
		return existing.Snapshot().Status(), false, nil
	}
	if name == "" {
		name = instanceID
	}

	inst := model.Instance{ID: instanceID, Name: name, CreatedAt: m.clock.Now().UTC()}
	sup, inserted := m.register(inst)
	if !inserted {
		return sup.Snapshot().Status(), false, nil
	}

	if m.catalog != nil {
		if err := m.catalog.Save(inst); err != nil {
			zap.L().Warn("failed to persist instance", zap.String("instance_id", instanceID), zap.Error(err))
		}
	}

	zap.L().Info("instance created", zap.String("instance_id", instanceID), zap.String("name", name))
	snap := sup.Snapshot()
	m.publishStatus(snap)
	return snap.Status(), true, nil
}

func (m *Manager) register(inst model.Instance) (*Supervisor, bool) {
	sup := newSupervisor(model.Session{
		InstanceID: inst.ID,
		Name:       inst.Name,
		State:      model.StateDisconnected,
		CreatedAt:  inst.CreatedAt,
	}, m.deps)

	actual, inserted := m.store.Put(sup)
	if !inserted {
		sup.Stop(false, false)
	}
	return actual, inserted
}

func (m *Manager) lookup(instanceID string) (*Supervisor, error) {
	sup, ok := m.store.Get(instanceID)
	if !ok {
		return nil, ErrUnknownInstance
	}
	return sup, nil
}

// Connect starts establishment. It is a no-op for sessions that are already
// connected or on their way.
func (m *Manager) Connect(instanceID string) error {
	sup, err := m.lookup(instanceID)
	if err != nil {
		return err
	}
	return sup.Connect()
}

// Disconnect closes the session and cancels pending retries. logout also
// unlinks the device and purges its credentials.
func (m *Manager) Disconnect(instanceID string, logout bool) error {
	sup, err := m.lookup(instanceID)
	if err != nil {
		return err
	}
	return sup.Disconnect(logout)
}

// DeleteInstance logs out when possible, cancels timers, purges credentials
// and forgets the instance.
func (m *Manager) DeleteInstance(instanceID string) error {
	sup, err := m.lookup(instanceID)
	if err != nil {
		return err
	}

	sup.Stop(true, true)
	m.store.Remove(instanceID)

	if m.notifier != nil {
		m.notifier.Forget(instanceID)
	}
	if m.catalog != nil {
		if err := m.catalog.Delete(instanceID); err != nil {
			zap.L().Warn("failed to remove instance from catalog", zap.String("instance_id", instanceID), zap.Error(err))
		}
	}
	if m.realtime != nil {
		m.realtime.Publish(ws.WsEvent{
			Event:     ws.EventInstanceDeleted,
			Timestamp: m.clock.Now().UTC(),
			Data:      ws.InstanceDeletedData{InstanceID: instanceID},
		})
	}

	zap.L().Info("instance deleted", zap.String("instance_id", instanceID))
	return nil
}

func (m *Manager) Status(instanceID string) (model.StatusView, error) {
	sup, err := m.lookup(instanceID)
	if err != nil {
		return model.StatusView{}, err
	}
	return sup.Snapshot().Status(), nil
}

func (m *Manager) StatusAll() map[string]model.StatusView {
	result := make(map[string]model.StatusView)
	for _, sup := range m.store.List() {
		result[sup.ID()] = sup.Snapshot().Status()
	}
	return result
}

// Instances lists every instance in creation order.
func (m *Manager) Instances() []model.StatusView {
	list := m.store.List()
	result := make([]model.StatusView, 0, len(list))
	for _, sup := range list {
		result = append(result, sup.Snapshot().Status())
	}
	return result
}

// PairingChallenge never fails: an unknown instance or one without a
// pending challenge simply has no challenge.
func (m *Manager) PairingChallenge(instanceID string) PairingView {
	view := PairingView{InstanceID: instanceID}
	sup, ok := m.store.Get(instanceID)
	if !ok {
		return view
	}
	snap := sup.Snapshot()
	view.Connected = snap.State == model.StateConnected
	view.Challenge = m.pairing.Get(snap)
	view.ExpiresIn = m.pairing.ExpiresIn(view.Challenge, m.clock.Now())
	return view
}

func (m *Manager) SendMessage(ctx context.Context, instanceID, to string, content model.Content) (model.SendResult, error) {
	sup, err := m.lookup(instanceID)
	if err != nil {
		return model.SendResult{}, err
	}
	tr, err := sup.connectedTransport()
	if err != nil {
		return model.SendResult{}, err
	}

	jid, err := helper.NormalizeRecipient(to, m.cfg.DefaultCountryCode)
	if err != nil {
		return model.SendResult{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}
	if err := validateContent(content); err != nil {
		return model.SendResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	result, err := tr.SendMessage(ctx, jid, content)
	if err != nil {
		metrics.MessagesSent.WithLabelValues("error").Inc()
		return model.SendResult{}, fmt.Errorf("send message: %w", err)
	}
	metrics.MessagesSent.WithLabelValues("ok").Inc()
	return result, nil
}

func validateContent(content model.Content) error {
	switch content.Type {
	case model.ContentText, "":
		if content.Text == "" {
			return fmt.Errorf("%w: empty text", ErrUnsupportedContent)
		}
	case model.ContentImage:
		if len(content.Image) == 0 {
			return fmt.Errorf("%w: missing image data", ErrUnsupportedContent)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrUnsupportedContent, content.Type)
	}
	return nil
}

// ListChats returns the contacts and groups of a connected instance.
func (m *Manager) ListChats(ctx context.Context, instanceID string) ([]model.Chat, error) {
	sup, err := m.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	tr, err := sup.connectedTransport()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()
	return tr.FetchChats(ctx)
}

func (m *Manager) Health() HealthView {
	var h HealthView
	counts := map[model.State]int{}
	for _, sup := range m.store.List() {
		st := sup.Snapshot().State
		counts[st]++
		h.Total++
		switch st {
		case model.StateConnected:
			h.Connected++
		case model.StateConnecting, model.StateAwaitingPairing:
			h.Connecting++
		}
	}
	for _, st := range []model.State{
		model.StateDisconnected, model.StateConnecting, model.StateAwaitingPairing,
		model.StateConnected, model.StateLoggedOut,
	} {
		metrics.Instances.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	h.Uptime = m.clock.Now().Sub(m.startedAt)
	if m.importer != nil {
		h.Importing = m.importer.Running()
	}
	return h
}

// Restore re-registers catalogued instances and, when auto-connect is on,
// reconnects the ones that still hold credentials.
func (m *Manager) Restore(ctx context.Context) error {
	if m.catalog == nil {
		return nil
	}
	instances, err := m.catalog.List()
	if err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}

	restored, reconnecting := 0, 0
	for _, inst := range instances {
		sup, inserted := m.register(inst)
		if !inserted {
			continue
		}
		restored++
		if m.cfg.AutoConnect && m.factory.HasCredentials(ctx, inst.ID) {
			if err := sup.Connect(); err != nil {
				zap.L().Warn("auto-connect failed", zap.String("instance_id", inst.ID), zap.Error(err))
				continue
			}
			reconnecting++
		}
	}

	zap.L().Info("instances restored", zap.Int("restored", restored), zap.Int("reconnecting", reconnecting))
	return nil
}

// StartHeartbeat schedules the periodic presence ping for connected sessions.
func (m *Manager) StartHeartbeat() error {
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Minute
	}
	m.heartbeat = NewHeartbeat(interval, m.Heartbeat)
	return m.heartbeat.Start()
}

// Heartbeat pings every session once.
func (m *Manager) Heartbeat() {
	for _, sup := range m.store.List() {
		sup.Heartbeat()
	}
}

// Shutdown stops every session without logging out; credentials stay so
// the next start can reconnect.
func (m *Manager) Shutdown() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
	}
	for _, sup := range m.store.List() {
		sup.Stop(false, false)
	}
	if m.importer != nil {
		m.importer.Release()
	}
}

// dispatch runs on the supervisor goroutine.
func (m *Manager) dispatch(n notification) {
	id := n.session.InstanceID

	switch n.kind {
	case notifyStateChanged:
		m.publishStatus(n.session)

	case notifyPairing:
		if m.realtime != nil && n.session.Pairing != nil {
			m.realtime.Publish(ws.WsEvent{
				Event:     ws.EventQRGenerated,
				Timestamp: m.clock.Now().UTC(),
				Data: ws.QRGeneratedData{
					InstanceID: id,
					QR:         n.session.Pairing.Token,
					ExpiresAt:  n.session.Pairing.ExpiresAt,
				},
			})
		}

	case notifyConnected:
		if m.notifier != nil && n.session.User != nil {
			at := m.clock.Now()
			if n.session.LastSeen != nil {
				at = *n.session.LastSeen
			}
			m.notifier.Connected(id, *n.session.User, at)
		}

	case notifyDisconnected:
		if m.notifier != nil {
			m.notifier.Disconnected(id, n.cause)
		}

	case notifyLoggedOut:
		if m.notifier != nil {
			m.notifier.Disconnected(id, n.cause)
		}

	case notifyImportReady:
		if m.importer != nil && n.transport != nil {
			_ = m.importer.Submit(id, n.session.User, n.transport)
		}

	case notifyMessage:
		if m.notifier != nil {
			m.notifier.MessageReceived(id, n.message)
		}
		if m.realtime != nil {
			m.realtime.Publish(ws.WsEvent{
				Event:     ws.EventMessageReceived,
				Timestamp: m.clock.Now().UTC(),
				Data:      ws.MessageReceivedData{InstanceID: id, Message: n.message},
			})
		}
	}
}

func (m *Manager) publishStatus(sess model.Session) {
	if m.realtime == nil {
		return
	}
	data := ws.InstanceStatusChangedData{
		InstanceID:  sess.InstanceID,
		State:       sess.State,
		IsConnected: sess.State == model.StateConnected,
		RetryAt:     sess.RetryAt,
	}
	if sess.User != nil {
		data.PhoneNumber = sess.User.Phone
	}
	m.realtime.Publish(ws.WsEvent{
		Event:     ws.EventInstanceStatusChanged,
		Timestamp: m.clock.Now().UTC(),
		Data:      data,
	})
}
