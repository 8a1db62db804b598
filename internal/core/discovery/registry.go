package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/colonyops/tether/pkg/atomicfile"
)

const registryVersion = 1

// lockTimeout bounds how long any single registry operation may wait on
// the cross-process file lock.
const lockTimeout = 5 * time.Second

type registryFile struct {
	Version   int              `json:"version"`
	Instances map[string]Entry `json:"instances"`
}

// Registry is the cross-process instance registry. Every mutation happens
// under a file lock shared by all daemons on the machine, with a
// read-modify-write of the whole document.
type Registry struct {
	log        zerolog.Logger
	path       string
	staleAfter time.Duration
	lock       *flock.Flock
}

// NewRegistry creates a registry over the shared file at path.
func NewRegistry(log zerolog.Logger, path string, staleAfter time.Duration) *Registry {
	return &Registry{
		log:        log.With().Str("component", "discovery").Logger(),
		path:       path,
		staleAfter: staleAfter,
		lock:       flock.New(path + ".lock"),
	}
}

// withLock runs fn over the current document under the file lock. If fn
// reports the document dirty it is rewritten atomically before the lock
// releases.
func (r *Registry) withLock(fn func(doc *registryFile) (bool, error)) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	ok, err := r.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !ok {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	defer r.lock.Unlock()

	doc := registryFile{Version: registryVersion, Instances: map[string]Entry{}}
	if err := atomicfile.ReadJSON(r.path, &doc); err != nil && !os.IsNotExist(err) {
		// A corrupt registry is recoverable: instances re-assert themselves.
		r.log.Warn().Err(err).Msg("registry unreadable; starting fresh")
		doc = registryFile{Version: registryVersion, Instances: map[string]Entry{}}
	}
	if doc.Instances == nil {
		doc.Instances = map[string]Entry{}
	}

	dirty, err := fn(&doc)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	doc.Version = registryVersion
	if err := atomicfile.WriteJSON(r.path, doc); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

// Upsert advertises or refreshes an instance.
func (r *Registry) Upsert(e Entry) error {
	e.LastSeen = time.Now()
	return r.withLock(func(doc *registryFile) (bool, error) {
		doc.Instances[e.InstanceID] = e
		return true, nil
	})
}

// Remove withdraws an instance's advertisement.
func (r *Registry) Remove(instanceID string) error {
	return r.withLock(func(doc *registryFile) (bool, error) {
		if _, ok := doc.Instances[instanceID]; !ok {
			return false, nil
		}
		delete(doc.Instances, instanceID)
		return true, nil
	})
}

// List returns live instances sorted by project name, pruning dead ones
// from the shared file as a side effect.
//
// Pruning is liveness-first: a dead pid goes immediately no matter how
// fresh its heartbeat, a live pid stays no matter how stale, and the
// staleness threshold only decides the inconclusive cases.
func (r *Registry) List() ([]Entry, error) {
	var out []Entry
	err := r.withLock(func(doc *registryFile) (bool, error) {
		dirty := false
		for id, e := range doc.Instances {
			keep := false
			switch probePID(e.PID) {
			case pidAlive:
				keep = true
			case pidDead:
				r.log.Debug().Str("instance", id).Int("pid", e.PID).Msg("pruning dead instance")
			case pidUnknown:
				keep = time.Since(e.LastSeen) < r.staleAfter
				if !keep {
					r.log.Debug().Str("instance", id).Msg("pruning stale instance")
				}
			}

			if keep {
				out = append(out, e)
			} else {
				delete(doc.Instances, id)
				dirty = true
			}
		}
		return dirty, nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ProjectName < out[j].ProjectName })
	return out, nil
}

// Lookup finds one live instance by id, with the same pruning as List.
func (r *Registry) Lookup(instanceID string) (Entry, bool, error) {
	entries, err := r.List()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.InstanceID == instanceID {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Keep maintains this instance's advertisement until ctx is cancelled:
// periodic heartbeats refresh LastSeen, and a file watcher re-asserts the
// entry if another process rewrites the registry without it. The entry is
// withdrawn on exit.
func (r *Registry) Keep(ctx context.Context, e Entry, heartbeat time.Duration) error {
	if err := r.Upsert(e); err != nil {
		return err
	}
	r.log.Info().Str("instance", e.InstanceID).Int("port", e.Port).Msg("instance registered")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch registry dir: %w", err)
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.Remove(e.InstanceID); err != nil {
				r.log.Warn().Err(err).Msg("deregister failed")
			}
			return nil

		case <-ticker.C:
			if err := r.Upsert(e); err != nil {
				r.log.Warn().Err(err).Msg("heartbeat failed")
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if err := r.reassert(e); err != nil {
				r.log.Warn().Err(err).Msg("re-assert failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("registry watcher error")
		}
	}
}

// reassert re-adds our entry only if another writer dropped it.
func (r *Registry) reassert(e Entry) error {
	return r.withLock(func(doc *registryFile) (bool, error) {
		if _, ok := doc.Instances[e.InstanceID]; ok {
			return false, nil
		}
		r.log.Info().Str("instance", e.InstanceID).Msg("registry entry lost; re-asserting")
		e.LastSeen = time.Now()
		doc.Instances[e.InstanceID] = e
		return true, nil
	})
}
