package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/sanonone/cigraph/pkg/cmdb"
	"github.com/sanonone/cigraph/pkg/persistence"
)

// FileStore is a Backend kept in memory and journaled to disk. It serves
// standalone deployments that have no CMDB profile endpoint.
type FileStore struct {
	mu       sync.RWMutex
	journal  *persistence.Journal
	profiles map[int]cmdb.FilterProfile
	nextID   int
}

// OpenFileStore replays the journal at path.
func OpenFileStore(path string) (*FileStore, error) {
	j, err := persistence.OpenJournal(path)
	if err != nil {
		return nil, err
	}
	fs := &FileStore{journal: j, profiles: make(map[int]cmdb.FilterProfile), nextID: 1}

	n, err := j.Replay(fs.apply)
	if err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("replay profile journal: %w", err)
	}
	slog.Info("Profile journal replayed", "path", path, "frames", n, "profiles", len(fs.profiles))
	return fs, nil
}

func (fs *FileStore) apply(f persistence.Frame) error {
	switch f.Op {
	case persistence.OpPut:
		var p cmdb.FilterProfile
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return err
		}
		fs.profiles[p.PublicID] = p
		if p.PublicID >= fs.nextID {
			fs.nextID = p.PublicID + 1
		}
	case persistence.OpDelete:
		id, err := strconv.Atoi(string(f.Payload))
		if err != nil {
			return err
		}
		delete(fs.profiles, id)
		// Deleted ids are never reused.
		if id >= fs.nextID {
			fs.nextID = id + 1
		}
	}
	return nil
}

func (fs *FileStore) put(p cmdb.FilterProfile) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := fs.journal.Append(persistence.OpPut, payload); err != nil {
		return err
	}
	fs.profiles[p.PublicID] = p
	return nil
}

func (fs *FileStore) ListProfiles(_ context.Context) ([]cmdb.FilterProfile, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]cmdb.FilterProfile, 0, len(fs.profiles))
	for _, p := range fs.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicID < out[j].PublicID })
	return out, nil
}

func (fs *FileStore) CreateProfile(_ context.Context, p cmdb.FilterProfile) (cmdb.FilterProfile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p.PublicID = fs.nextID
	if err := fs.put(p); err != nil {
		return cmdb.FilterProfile{}, err
	}
	fs.nextID++
	return p, nil
}

func (fs *FileStore) UpdateProfile(_ context.Context, publicID int, p cmdb.FilterProfile) (cmdb.FilterProfile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.profiles[publicID]; !ok {
		return cmdb.FilterProfile{}, ErrNotFound
	}
	p.PublicID = publicID
	if err := fs.put(p); err != nil {
		return cmdb.FilterProfile{}, err
	}
	return p, nil
}

func (fs *FileStore) DeleteProfile(_ context.Context, publicID int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.profiles[publicID]; !ok {
		return ErrNotFound
	}
	if err := fs.journal.Append(persistence.OpDelete, []byte(strconv.Itoa(publicID))); err != nil {
		return err
	}
	delete(fs.profiles, publicID)
	return nil
}

// Compact rewrites the journal with one put per live profile. The highest
// id ever issued is preserved through a trailing delete marker when it no
// longer belongs to a live profile.
func (fs *FileStore) Compact() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ids := make([]int, 0, len(fs.profiles))
	for id := range fs.profiles {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	frames := make([]persistence.Frame, 0, len(ids)+1)
	for _, id := range ids {
		payload, err := json.Marshal(fs.profiles[id])
		if err != nil {
			return err
		}
		frames = append(frames, persistence.Frame{Op: persistence.OpPut, Payload: payload})
	}
	last := fs.nextID - 1
	if _, live := fs.profiles[last]; last > 0 && !live {
		frames = append(frames, persistence.Frame{Op: persistence.OpDelete, Payload: []byte(strconv.Itoa(last))})
	}

	if err := fs.journal.Compact(frames); err != nil {
		return fmt.Errorf("compact profile journal: %w", err)
	}
	slog.Info("Profile journal compacted", "path", fs.journal.Path(), "profiles", len(ids))
	return nil
}

func (fs *FileStore) Close() error {
	return fs.journal.Close()
}
