package database

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const routingSchema = `CREATE TABLE IF NOT EXISTS whatsflow_device_routing (
	instance_id TEXT PRIMARY KEY,
	jid         TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresDeviceStore keeps every device in one shared whatsmeow container
// and maps instance ids to the JID they paired as.
type PostgresDeviceStore struct {
	db        *sql.DB
	container *sqlstore.Container
}

func NewPostgresDeviceStore(ctx context.Context, databaseURL string, log waLog.Logger) (*PostgresDeviceStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open device db")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping device db")
	}

	container := sqlstore.NewWithDB(db, "postgres", log)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "upgrade device db")
	}
	if _, err := db.ExecContext(ctx, routingSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create routing table")
	}
	return &PostgresDeviceStore{db: db, container: container}, nil
}

func (p *PostgresDeviceStore) lookup(ctx context.Context, instanceID string) (*store.Device, error) {
	var raw string
	err := p.db.QueryRowContext(ctx,
		`SELECT jid FROM whatsflow_device_routing WHERE instance_id = $1`, instanceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query routing")
	}

	jid, err := types.ParseJID(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse routed jid %q", raw)
	}
	device, err := p.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, errors.Wrap(err, "load device")
	}
	return device, nil
}

func (p *PostgresDeviceStore) Device(ctx context.Context, instanceID string) (*store.Device, error) {
	device, err := p.lookup(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		device = p.container.NewDevice()
	}
	return device, nil
}

func (p *PostgresDeviceStore) Bind(ctx context.Context, instanceID string, jid types.JID) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO whatsflow_device_routing (instance_id, jid, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (instance_id) DO UPDATE SET jid = EXCLUDED.jid, updated_at = now()`,
		instanceID, jid.String())
	return errors.Wrapf(err, "bind %s", instanceID)
}

func (p *PostgresDeviceStore) HasCredentials(ctx context.Context, instanceID string) bool {
	device, err := p.lookup(ctx, instanceID)
	return err == nil && device != nil && device.ID != nil
}

func (p *PostgresDeviceStore) Purge(ctx context.Context, instanceID string) error {
	device, err := p.lookup(ctx, instanceID)
	if err != nil {
		return err
	}
	if device != nil {
		if err := p.container.DeleteDevice(ctx, device); err != nil {
			return errors.Wrapf(err, "delete device of %s", instanceID)
		}
	}
	_, err = p.db.ExecContext(ctx, `DELETE FROM whatsflow_device_routing WHERE instance_id = $1`, instanceID)
	return errors.Wrapf(err, "delete routing of %s", instanceID)
}

// Release is a no-op; the shared pool stays open.
func (p *PostgresDeviceStore) Release(instanceID string) {}

func (p *PostgresDeviceStore) Close() error {
	return p.db.Close()
}
