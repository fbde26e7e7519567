package transport

import (
	"context"
	"fmt"
	"sync"

	"whatsflow/internal/helper"
	"whatsflow/internal/model"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// DeviceStore holds whatsmeow device records keyed by instance id.
type DeviceStore interface {
	// Device returns the stored device for the instance or a fresh one.
	Device(ctx context.Context, instanceID string) (*store.Device, error)
	// Bind records which JID an instance paired as.
	Bind(ctx context.Context, instanceID string, jid types.JID) error
	HasCredentials(ctx context.Context, instanceID string) bool
	Purge(ctx context.Context, instanceID string) error
	Release(instanceID string)
}

// WhatsmeowFactory opens whatsmeow clients on top of a DeviceStore.
type WhatsmeowFactory struct {
	devices DeviceStore
	log     waLog.Logger
}

func NewWhatsmeowFactory(devices DeviceStore, log waLog.Logger, deviceName string) *WhatsmeowFactory {
	if deviceName != "" {
		store.DeviceProps.Os = proto.String(deviceName)
	}
	return &WhatsmeowFactory{devices: devices, log: log}
}

func (f *WhatsmeowFactory) Open(ctx context.Context, instanceID string, handler Handler) (Transport, error) {
	device, err := f.devices.Device(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, f.log.Sub(instanceID))
	// reconnection is decided by the session supervisor, including the
	// restart the server asks for right after pairing
	client.EnableAutoReconnect = false
	client.DisableLoginAutoReconnect = true

	life, cancel := context.WithCancel(context.Background())
	t := &whatsmeowTransport{
		instanceID: instanceID,
		client:     client,
		devices:    f.devices,
		handler:    handler,
		life:       life,
		cancel:     cancel,
	}
	t.handlerID = client.AddEventHandler(t.handleEvent)
	return t, nil
}

func (f *WhatsmeowFactory) HasCredentials(ctx context.Context, instanceID string) bool {
	return f.devices.HasCredentials(ctx, instanceID)
}

func (f *WhatsmeowFactory) Purge(ctx context.Context, instanceID string) error {
	return f.devices.Purge(ctx, instanceID)
}

type whatsmeowTransport struct {
	instanceID string
	client     *whatsmeow.Client
	devices    DeviceStore
	handler    Handler
	handlerID  uint32

	life   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pairing bool
	closed  bool
}

func (t *whatsmeowTransport) emit(evt Event) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		t.handler(evt)
	}
}

func (t *whatsmeowTransport) Connect(ctx context.Context) error {
	if t.client.Store.ID == nil {
		// the QR channel has to exist before Connect
		qrChan, err := t.client.GetQRChannel(t.life)
		if err != nil {
			return fmt.Errorf("open pairing channel: %w", err)
		}
		t.mu.Lock()
		t.pairing = true
		t.mu.Unlock()
		go t.watchPairing(qrChan)
	}

	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (t *whatsmeowTransport) watchPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	defer func() {
		t.mu.Lock()
		t.pairing = false
		t.mu.Unlock()
	}()

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			t.emit(PairingRequired{Code: evt.Code, Timeout: evt.Timeout})
		case whatsmeow.QRChannelSuccess.Event:
			zap.L().Info("pairing accepted", zap.String("instance_id", t.instanceID))
		case whatsmeow.QRChannelTimeout.Event:
			t.emit(Closed{Cause: CauseTimedOut, Detail: "pairing window exhausted"})
		case "error":
			t.emit(Closed{Cause: CauseUnknown, Detail: fmt.Sprintf("pairing error: %v", evt.Error)})
		default:
			t.emit(Closed{Cause: CauseUnknown, Detail: evt.Event})
		}
	}
}

func (t *whatsmeowTransport) RefreshPairing(ctx context.Context) error {
	t.mu.Lock()
	active := t.pairing
	t.mu.Unlock()

	// whatsmeow rotates codes on its own while the channel is open
	if active || t.client.Store.ID != nil {
		return nil
	}
	t.client.Disconnect()
	return t.Connect(ctx)
}

func (t *whatsmeowTransport) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		if t.client.Store.ID == nil {
			return
		}
		jid := *t.client.Store.ID
		if err := t.devices.Bind(t.life, t.instanceID, jid); err != nil {
			zap.L().Warn("failed to bind device", zap.String("instance_id", t.instanceID), zap.Error(err))
		}
		t.emit(Established{User: model.User{
			ID:    jid.ToNonAD().String(),
			Name:  t.client.Store.PushName,
			Phone: helper.ExtractPhoneFromJID(jid.String()),
		}})

	case *events.PairSuccess:
		zap.L().Info("paired", zap.String("instance_id", t.instanceID), zap.String("jid", evt.ID.String()))

	case *events.LoggedOut:
		t.emit(Closed{Cause: CauseLoggedOut, Detail: evt.Reason.String()})

	case *events.StreamReplaced:
		t.emit(Closed{Cause: CauseConnectionReplaced, Detail: "stream replaced"})

	case *events.ConnectFailure:
		t.emit(Closed{Cause: CauseConnectionClosed, Detail: fmt.Sprintf("%s: %s", evt.Reason, evt.Message)})

	case *events.ManualLoginReconnect:
		t.emit(Closed{Cause: CauseRestartRequired, Detail: "stream error 515"})

	case *events.StreamError:
		zap.L().Warn("stream error", zap.String("instance_id", t.instanceID), zap.String("code", evt.Code))

	case *events.TemporaryBan:
		t.emit(Closed{Cause: CauseUnknown, Detail: evt.String()})

	case *events.Disconnected:
		t.emit(Closed{Cause: CauseConnectionLost, Detail: "connection lost"})

	case *events.KeepAliveTimeout:
		zap.L().Debug("keepalive timeout",
			zap.String("instance_id", t.instanceID),
			zap.Int("error_count", evt.ErrorCount))

	case *events.Message:
		if evt.Info.IsFromMe {
			return
		}
		t.emit(MessageReceived{Message: inboundFromEvent(t.client, evt)})
	}
}

func inboundFromEvent(client *whatsmeow.Client, evt *events.Message) model.InboundMessage {
	msg := model.InboundMessage{
		ID:        evt.Info.ID,
		From:      evt.Info.Chat.String(),
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
		Type:      "text",
	}

	switch {
	case evt.Message.GetConversation() != "":
		msg.Text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		msg.Text = evt.Message.GetExtendedTextMessage().GetText()
	case evt.Message.GetImageMessage() != nil:
		msg.Type = "media"
		msg.Text = evt.Message.GetImageMessage().GetCaption()
		if msg.Text == "" {
			msg.Text = "[image]"
		}
	default:
		msg.Type = "media"
		msg.Text = "[media]"
	}

	if contact, err := client.Store.Contacts.GetContact(context.Background(), evt.Info.Sender); err == nil && contact.Found {
		msg.ContactName = contact.FullName
	}
	if msg.ContactName == "" {
		msg.ContactName = msg.PushName
	}
	return msg
}

func (t *whatsmeowTransport) SendMessage(ctx context.Context, to types.JID, content model.Content) (model.SendResult, error) {
	var msg *waE2E.Message

	switch content.Type {
	case model.ContentText, "":
		msg = &waE2E.Message{Conversation: proto.String(content.Text)}

	case model.ContentImage:
		uploaded, err := t.client.Upload(ctx, content.Image, whatsmeow.MediaImage)
		if err != nil {
			return model.SendResult{}, fmt.Errorf("upload image: %w", err)
		}
		thumb, err := helper.Thumbnail(content.Image)
		if err != nil {
			zap.L().Warn("thumbnail skipped", zap.String("instance_id", t.instanceID), zap.Error(err))
		}
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String(helper.ImageMimeType(content.Image)),
			Caption:       proto.String(content.Caption),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
			JPEGThumbnail: thumb,
		}}

	default:
		return model.SendResult{}, fmt.Errorf("unsupported content type %q", content.Type)
	}

	resp, err := t.client.SendMessage(ctx, to, msg)
	if err != nil {
		return model.SendResult{}, err
	}
	return model.SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp, To: to.String()}, nil
}

func (t *whatsmeowTransport) SendPresence(ctx context.Context) error {
	return t.client.SendPresence(ctx, types.PresenceAvailable)
}

func (t *whatsmeowTransport) PersistCredentials(ctx context.Context) error {
	if t.client.Store.ID == nil {
		return nil
	}
	return t.client.Store.Save(ctx)
}

func (t *whatsmeowTransport) FetchChats(ctx context.Context) ([]model.Chat, error) {
	contacts, err := t.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}

	chats := make([]model.Chat, 0, len(contacts))
	for jid, contact := range contacts {
		name := contact.FullName
		if name == "" {
			if contact.BusinessName != "" {
				name = contact.BusinessName
			} else if contact.PushName != "" {
				name = contact.PushName
			} else {
				name = jid.User
			}
		}
		chats = append(chats, model.Chat{ID: jid.String(), Name: name, Phone: helper.ExtractPhoneFromJID(jid.String())})
	}

	groups, err := t.client.GetJoinedGroups(ctx)
	if err != nil {
		zap.L().Warn("failed to list groups", zap.String("instance_id", t.instanceID), zap.Error(err))
		return chats, nil
	}
	for _, g := range groups {
		chats = append(chats, model.Chat{ID: g.JID.String(), Name: g.GroupName.Name, IsGroup: true})
	}
	return chats, nil
}

func (t *whatsmeowTransport) Logout(ctx context.Context) error {
	return t.client.Logout(ctx)
}

func (t *whatsmeowTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.client.RemoveEventHandler(t.handlerID)
	t.cancel()
	t.client.Disconnect()
	t.devices.Release(t.instanceID)
}
