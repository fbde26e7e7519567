package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsflow/internal/model"
)

func TestCatalogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "catalog.db")
	c, err := OpenCatalog(path)
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, c.Save(model.Instance{ID: "support", Name: "Support", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, c.Save(model.Instance{ID: "sales", Name: "Sales", CreatedAt: base}))
	require.NoError(t, c.Save(model.Instance{ID: "sales", Name: "Sales Team", CreatedAt: base}))

	list, err := c.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sales", list[0].ID)
	assert.Equal(t, "Sales Team", list[0].Name)
	assert.Equal(t, "support", list[1].ID)

	require.NoError(t, c.Delete("sales"))
	require.NoError(t, c.Delete("missing"))
	require.NoError(t, c.Close())

	// survives reopening
	c, err = OpenCatalog(path)
	require.NoError(t, err)
	defer c.Close()
	list, err = c.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].CreatedAt.Equal(base.Add(time.Minute)))
}

func TestSQLiteDeviceStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewSQLiteDeviceStore(dir, waLog.Noop)
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.HasCredentials(ctx, "sales"))
	_, err = os.Stat(filepath.Join(dir, "sales"))
	assert.True(t, os.IsNotExist(err), "checking credentials must not create the session dir")

	device, err := s.Device(ctx, "sales")
	require.NoError(t, err)
	assert.Nil(t, device.ID)
	assert.FileExists(t, filepath.Join(dir, "sales", sessionFile))
	assert.False(t, s.HasCredentials(ctx, "sales"))

	s.Release("sales")
	device, err = s.Device(ctx, "sales")
	require.NoError(t, err)
	assert.Nil(t, device.ID)

	require.NoError(t, s.Purge(ctx, "sales"))
	assert.NoDirExists(t, filepath.Join(dir, "sales"))
	require.NoError(t, s.Purge(ctx, "sales"))
}
