package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"wherd.dev/eggbot/internal/configfile"
)

// openStore loads the module store name from the data directory.
func (b *Bot) openStore(name string) (*configfile.File, error) {
	store := configfile.New()
	path := filepath.Join(b.config.DataDir, name)
	if err := store.Load(path); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	b.mutex.Lock()
	b.stores = append(b.stores, store)
	b.mutex.Unlock()

	log.Debugf("Loaded store %s", path)
	return store, nil
}

// saveStores flushes every store with unsaved changes.
func (b *Bot) saveStores() error {
	b.mutex.RLock()
	stores := append([]*configfile.File(nil), b.stores...)
	b.mutex.RUnlock()

	var firstErr error
	for _, store := range stores {
		if !store.Dirty() {
			continue
		}
		if err := store.Save(); err != nil {
			log.Errorf("Failed to save %s: %v", store.Path(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *Bot) autoSaveData(ctx context.Context) {
	if b.config.AutoSaveInterval <= 0 {
		return
	}

	ticker := time.NewTicker(b.config.AutoSaveEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.saveStores(); err != nil {
				log.Errorf("Auto-save failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Shutting down auto-save routine")
			return
		}
	}
}
