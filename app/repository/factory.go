package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages the shared Store instance used by request handlers.
type Factory struct {
	db    *gorm.DB
	store Store
	once  sync.Once
}

// NewFactory creates a new repository factory.
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

// NewFactoryWithStore wraps an existing store. Tests use it to install
// fakes behind the global factory.
func NewFactoryWithStore(store Store) *Factory {
	return &Factory{store: store}
}

// GetStore returns a singleton Store instance.
func (f *Factory) GetStore() Store {
	f.once.Do(func() {
		if f.store == nil {
			f.store = NewStore(f.db)
		}
	})
	return f.store
}

var (
	globalFactory   *Factory
	globalFactoryMu sync.Mutex
)

// SetGlobalFactory installs the process-wide factory during boot.
func SetGlobalFactory(f *Factory) {
	globalFactoryMu.Lock()
	defer globalFactoryMu.Unlock()
	globalFactory = f
}

// GetGlobalFactory returns the process-wide factory.
func GetGlobalFactory() *Factory {
	globalFactoryMu.Lock()
	defer globalFactoryMu.Unlock()
	return globalFactory
}
