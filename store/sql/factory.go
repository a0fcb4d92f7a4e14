// Package sqlstore is the standalone relational implementation of the
// identity state contracts: the KV StateBackend plus the durable magic
// link, device, and event stores, all over one bun database.
package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-identity/device"
	"github.com/goliatone/go-identity/events"
	"github.com/goliatone/go-identity/magiclink"
)

type RepositoryFactory struct {
	db *bun.DB

	backend        *Backend
	magicLinkStore *MagicLinkStore
	deviceStore    *DeviceStore
	eventStore     *EventStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.backend != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) Backend() *Backend {
	if f == nil {
		return nil
	}
	return f.backend
}

func (f *RepositoryFactory) MagicLinkStore() magiclink.Store {
	if f == nil {
		return nil
	}
	return f.magicLinkStore
}

func (f *RepositoryFactory) DeviceStore() device.EntityStore {
	if f == nil {
		return nil
	}
	return f.deviceStore
}

func (f *RepositoryFactory) EventStore() events.Store {
	if f == nil {
		return nil
	}
	return f.eventStore
}

func (f *RepositoryFactory) initStores() error {
	backend, err := NewBackend(f.db)
	if err != nil {
		return err
	}
	magicLinkStore, err := NewMagicLinkStore(f.db)
	if err != nil {
		return err
	}
	deviceStore, err := NewDeviceStore(f.db)
	if err != nil {
		return err
	}
	eventStore, err := NewEventStore(f.db)
	if err != nil {
		return err
	}

	f.backend = backend
	f.magicLinkStore = magicLinkStore
	f.deviceStore = deviceStore
	f.eventStore = eventStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
