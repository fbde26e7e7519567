// Package transporttest provides an in-memory transport whose events are
// driven by the test.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsflow/internal/model"
	"whatsflow/internal/transport"

	"go.mau.fi/whatsmeow/types"
)

var ErrClosed = errors.New("transport closed")

type Sent struct {
	To      types.JID
	Content model.Content
}

// Factory hands out scripted transports and records credential operations.
type Factory struct {
	mu         sync.Mutex
	opened     map[string][]*Transport
	creds      map[string]bool
	purged     map[string]int
	openErr    map[string]error
	connectErr map[string]error
	chats      map[string][]model.Chat
}

var _ transport.Factory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{
		opened:     make(map[string][]*Transport),
		creds:      make(map[string]bool),
		purged:     make(map[string]int),
		openErr:    make(map[string]error),
		connectErr: make(map[string]error),
		chats:      make(map[string][]model.Chat),
	}
}

func (f *Factory) Open(ctx context.Context, instanceID string, handler transport.Handler) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[instanceID]; err != nil {
		return nil, err
	}
	t := &Transport{
		id:         instanceID,
		factory:    f,
		handler:    handler,
		connectErr: f.connectErr[instanceID],
		chats:      f.chats[instanceID],
	}
	f.opened[instanceID] = append(f.opened[instanceID], t)
	return t, nil
}

func (f *Factory) HasCredentials(ctx context.Context, instanceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[instanceID]
}

func (f *Factory) Purge(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creds, instanceID)
	f.purged[instanceID]++
	return nil
}

func (f *Factory) SetCredentials(instanceID string, present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[instanceID] = present
}

// FailOpen makes every later Open for the instance fail with err (nil clears it).
func (f *Factory) FailOpen(instanceID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr[instanceID] = err
}

// FailConnect makes Connect of transports opened later fail with err.
func (f *Factory) FailConnect(instanceID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr[instanceID] = err
}

// SetChats seeds what FetchChats returns for transports opened later.
func (f *Factory) SetChats(instanceID string, chats []model.Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[instanceID] = chats
}

// Opened returns how many transports were opened for the instance.
func (f *Factory) Opened(instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened[instanceID])
}

// Last returns the most recently opened transport, or nil.
func (f *Factory) Last(instanceID string) *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.opened[instanceID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Purges returns how many times credentials were purged for the instance.
func (f *Factory) Purges(instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purged[instanceID]
}

// Transport is a scripted connection. Tests push events with the helper
// methods and inspect what the session layer asked of it.
type Transport struct {
	id      string
	factory *Factory
	handler transport.Handler

	mu          sync.Mutex
	connectErr  error
	connects    int
	refreshes   int
	presences   int
	persisted   int
	sent        []Sent
	chats       []model.Chat
	closed      bool
	loggedOut   bool
	sendErr     error
	presenceErr error
	seq         int
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return t.connectErr
}

func (t *Transport) RefreshPairing(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshes++
	return nil
}

func (t *Transport) SendMessage(ctx context.Context, to types.JID, content model.Content) (model.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return model.SendResult{}, ErrClosed
	}
	if t.sendErr != nil {
		return model.SendResult{}, t.sendErr
	}
	t.seq++
	t.sent = append(t.sent, Sent{To: to, Content: content})
	return model.SendResult{
		MessageID: fmt.Sprintf("%s-%d", t.id, t.seq),
		Timestamp: time.Unix(1700000000, 0).UTC(),
		To:        to.String(),
	}, nil
}

func (t *Transport) SendPresence(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presences++
	return t.presenceErr
}

func (t *Transport) PersistCredentials(ctx context.Context) error {
	t.mu.Lock()
	t.persisted++
	t.mu.Unlock()
	t.factory.SetCredentials(t.id, true)
	return nil
}

func (t *Transport) FetchChats(ctx context.Context) ([]model.Chat, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Chat(nil), t.chats...), nil
}

func (t *Transport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loggedOut = true
	return nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// Emit delivers an event as if the connection produced it.
func (t *Transport) Emit(evt transport.Event) {
	t.handler(evt)
}

func (t *Transport) RequirePairing(code string) {
	t.Emit(transport.PairingRequired{Code: code, Timeout: 60 * time.Second})
}

func (t *Transport) Establish(user model.User) {
	t.Emit(transport.Established{User: user})
}

func (t *Transport) Drop(cause transport.Cause) {
	t.Emit(transport.Closed{Cause: cause, Detail: string(cause)})
}

func (t *Transport) Receive(msg model.InboundMessage) {
	t.Emit(transport.MessageReceived{Message: msg})
}

func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

func (t *Transport) FailPresence(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presenceErr = err
}

func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *Transport) Refreshes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshes
}

func (t *Transport) Presences() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presences
}

func (t *Transport) Persisted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persisted
}

func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) LoggedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loggedOut
}
