package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"
)

const sessionFile = "session.db"

type sqliteEntry struct {
	db        *sql.DB
	container *sqlstore.Container
}

// SQLiteDeviceStore keeps one sqlite file per instance under
// <dir>/<instanceID>/session.db, so purging an instance is removing its dir.
type SQLiteDeviceStore struct {
	dir string
	log waLog.Logger

	mu   sync.Mutex
	open map[string]*sqliteEntry
}

func NewSQLiteDeviceStore(dir string, log waLog.Logger) (*SQLiteDeviceStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create auth dir")
	}
	return &SQLiteDeviceStore{dir: dir, log: log, open: make(map[string]*sqliteEntry)}, nil
}

func (s *SQLiteDeviceStore) instanceDir(instanceID string) string {
	return filepath.Join(s.dir, instanceID)
}

func (s *SQLiteDeviceStore) container(ctx context.Context, instanceID string) (*sqlstore.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.open[instanceID]; ok {
		return e.container, nil
	}

	dir := s.instanceDir(instanceID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create session dir")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", filepath.Join(dir, sessionFile))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open session db")
	}
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, "sqlite", s.log)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "upgrade session db")
	}
	s.open[instanceID] = &sqliteEntry{db: db, container: container}
	return container, nil
}

func (s *SQLiteDeviceStore) Device(ctx context.Context, instanceID string) (*store.Device, error) {
	container, err := s.container(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load device")
	}
	return device, nil
}

// Bind is a no-op: the directory already identifies the device.
func (s *SQLiteDeviceStore) Bind(ctx context.Context, instanceID string, jid types.JID) error {
	return nil
}

func (s *SQLiteDeviceStore) HasCredentials(ctx context.Context, instanceID string) bool {
	if _, err := os.Stat(filepath.Join(s.instanceDir(instanceID), sessionFile)); err != nil {
		return false
	}
	device, err := s.Device(ctx, instanceID)
	if err != nil {
		return false
	}
	return device.ID != nil
}

func (s *SQLiteDeviceStore) Purge(ctx context.Context, instanceID string) error {
	s.Release(instanceID)
	if err := os.RemoveAll(s.instanceDir(instanceID)); err != nil {
		return errors.Wrapf(err, "remove session dir of %s", instanceID)
	}
	return nil
}

// Release closes the instance's database handle; it reopens on next use.
func (s *SQLiteDeviceStore) Release(instanceID string) {
	s.mu.Lock()
	e, ok := s.open[instanceID]
	delete(s.open, instanceID)
	s.mu.Unlock()

	if ok {
		if err := e.db.Close(); err != nil && s.log != nil {
			s.log.Warnf("close session db of %s: %v", instanceID, err)
		}
	}
}

func (s *SQLiteDeviceStore) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Release(id)
	}
	return nil
}
