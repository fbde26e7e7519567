package database

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"whatsflow/internal/model"
)

var instancesBucket = []byte("instances")

// Catalog is the durable list of instances, kept in a bbolt file.
type Catalog struct {
	db *bolt.DB
}

func OpenCatalog(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create catalog dir")
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open catalog %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(instancesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init catalog")
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Save(inst model.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return errors.Wrap(err, "encode instance")
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(instancesBucket).Put([]byte(inst.ID), data)
	})
	return errors.Wrapf(err, "save instance %s", inst.ID)
}

func (c *Catalog) Delete(instanceID string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(instancesBucket).Delete([]byte(instanceID))
	})
	return errors.Wrapf(err, "delete instance %s", instanceID)
}

// List returns every instance ordered by creation time.
func (c *Catalog) List() ([]model.Instance, error) {
	var result []model.Instance
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(instancesBucket).ForEach(func(k, v []byte) error {
			var inst model.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return errors.Wrapf(err, "decode instance %s", k)
			}
			result = append(result, inst)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "list instances")
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
