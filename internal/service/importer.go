package service

import (
	"context"
	"time"

	"whatsflow/internal/model"
	"whatsflow/internal/transport"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const importTimeout = 10 * time.Minute

type chatSink interface {
	ImportChats(ctx context.Context, instanceID string, user *model.User, chats []model.Chat) error
}

// ChatImporter pushes the conversation list of a freshly connected instance
// to the backend. Imports are best-effort: failures are logged and dropped.
type ChatImporter struct {
	pool *ants.Pool
	sink chatSink
}

func NewChatImporter(workers int, sink chatSink) (*ChatImporter, error) {
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &ChatImporter{pool: pool, sink: sink}, nil
}

// Submit queues an import without waiting. When every worker is busy the
// import is skipped.
func (i *ChatImporter) Submit(instanceID string, user *model.User, tr transport.Transport) error {
	err := i.pool.Submit(func() {
		i.run(instanceID, user, tr)
	})
	if err != nil {
		zap.L().Warn("chat import skipped", zap.String("instance_id", instanceID), zap.Error(err))
	}
	return err
}

func (i *ChatImporter) run(instanceID string, user *model.User, tr transport.Transport) {
	log := zap.L().With(zap.String("instance_id", instanceID))

	ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
	defer cancel()

	chats, err := tr.FetchChats(ctx)
	if err != nil {
		log.Warn("chat import: fetch failed", zap.Error(err))
		return
	}
	if len(chats) == 0 {
		log.Debug("chat import: nothing to import")
		return
	}

	if err := i.sink.ImportChats(ctx, instanceID, user, chats); err != nil {
		log.Warn("chat import failed", zap.Int("chats", len(chats)), zap.Error(err))
		return
	}
	log.Info("chat import finished", zap.Int("chats", len(chats)))
}

// Running reports busy workers.
func (i *ChatImporter) Running() int {
	return i.pool.Running()
}

func (i *ChatImporter) Release() {
	i.pool.Release()
}
