package lode

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/FadeVT/Frostband/iox"
)

// ArchivePrefix is the store prefix archive bundles land under.
const ArchivePrefix = "archives"

// Mirror copies local archive bundles into a store. Store initialization
// is deferred to the first call.
type Mirror struct {
	factory lode.StoreFactory

	once     sync.Once
	store    lode.Store
	storeErr error
}

// NewMirror returns a mirror writing through factory.
func NewMirror(factory lode.StoreFactory) *Mirror {
	return &Mirror{factory: factory}
}

func (m *Mirror) getStore() (lode.Store, error) {
	m.once.Do(func() {
		m.store, m.storeErr = m.factory()
	})
	return m.store, m.storeErr
}

// Key returns the store path for a bundle file name.
func Key(name string) string {
	return path.Join(ArchivePrefix, name)
}

// Put uploads the file at localPath under its base name, replacing any
// existing object. It returns the store key.
func (m *Mirror) Put(ctx context.Context, localPath string) (string, error) {
	name := filepath.Base(localPath)
	if name == "." || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	store, err := m.getStore()
	if err != nil {
		return "", WrapInitError(err, ArchivePrefix)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(f)

	key := Key(name)
	if err := store.Put(ctx, key, f); err != nil {
		return "", WrapWriteError(err, key)
	}
	return key, nil
}
