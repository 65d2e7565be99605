package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/scene"
	"github.com/stagelink/x32mgr/internal/session"
)

// Origin says where a catalog entry lives.
type Origin string

const (
	OriginDevice Origin = "device"
	OriginLocal  Origin = "local"
	OriginBoth   Origin = "both"
)

// Entry is one row of the merged catalog: a console slot, a local file, or
// both when their names match case-insensitively.
type Entry struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Slot     int       `json:"slot"` // -1 for file-only entries
	Origin   Origin    `json:"origin"`
	Notes    string    `json:"notes,omitempty"`
	HasLocal bool      `json:"has_local_backup"`
	Filename string    `json:"filename,omitempty"`
	ModTime  time.Time `json:"modified_at,omitempty"`
}

// FileInfo describes one file in the sandbox for the backup listing.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_at"`
}

const (
	// cacheTTL memoizes List results to collapse bursts of concurrent calls.
	cacheTTL = time.Second

	slotCount = 100
)

// listPolicy paces the 200-request slot header sweep.
var listPolicy = session.SweepPolicy{
	PerRequestTimeout: 500 * time.Millisecond,
	MaxAttempts:       2,
	InflightWindow:    4,
	InterSendGap:      time.Millisecond,
	ProgressEvery:     50,
}

// Store merges the console's 100 scene slots with the .scn/.bak files in one
// sandbox directory. Every filename passes the sanitizer; file writes and
// deletes take a per-file advisory lock; a directory watcher invalidates the
// catalog cache and announces mutations on the event bus.
type Store struct {
	dir     string
	session *session.Session
	bus     *events.Bus

	exporter *scene.Exporter
	importer *scene.Importer

	mu      sync.Mutex
	cache   []Entry
	cacheAt time.Time

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// New opens a store rooted at dir, creating it if needed. The session may be
// nil, in which case the catalog contains local files only.
func New(dir string, sess *session.Session, bus *events.Bus) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scene dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve scene dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	s := &Store{
		dir:     abs,
		session: sess,
		bus:     bus,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if sess != nil {
		s.exporter = &scene.Exporter{Session: sess, Bus: bus}
		s.importer = &scene.Importer{Session: sess, Bus: bus}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch scene dir: %w", err)
	}
	if err := watcher.Add(abs); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch scene dir: %w", err)
	}
	s.watcher = watcher
	go s.watch()

	logger.Info("scene store opened", "dir", abs)
	return s, nil
}

// watch turns filesystem activity in the sandbox into cache invalidations.
func (s *Store) watch() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.invalidate()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("scene dir watcher error", logger.KeyError, err.Error())
		}
	}
}

// invalidate drops the catalog cache and announces the mutation.
func (s *Store) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.cacheAt = time.Time{}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.KindSceneListInvalidated, nil)
	}
}

// Close stops the watcher. Files on disk are left as they are.
func (s *Store) Close() error {
	close(s.stop)
	err := s.watcher.Close()
	<-s.done
	return err
}

// Dir returns the canonical sandbox root.
func (s *Store) Dir() string { return s.dir }

// List returns the merged catalog: device slots 0..99 plus local files,
// merged by case-insensitive name. Results are memoized for up to a second.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	if s.cache != nil && time.Since(s.cacheAt) <= cacheTTL {
		out := make([]Entry, len(s.cache))
		copy(out, s.cache)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	slots, err := s.deviceSlots(ctx)
	if err != nil {
		return nil, err
	}
	files, err := s.localFiles()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]FileInfo, len(files))
	for _, f := range files {
		byName[mergeKey(f.Name)] = f
	}

	entries := make([]Entry, 0, len(slots)+len(files))
	for i, sl := range slots {
		// Empty slots stay off the catalog.
		if sl.name == "" {
			continue
		}
		e := Entry{
			ID:     "device-" + strconv.Itoa(i),
			Name:   sl.name,
			Slot:   i,
			Origin: OriginDevice,
			Notes:  sl.notes,
		}
		if f, ok := byName[mergeKey(sl.name)]; ok {
			e.Origin = OriginBoth
			e.HasLocal = true
			e.Filename = f.Name
			e.ModTime = f.ModTime
			delete(byName, mergeKey(sl.name))
		}
		entries = append(entries, e)
	}

	rest := make([]Entry, 0, len(byName))
	for _, f := range byName {
		rest = append(rest, Entry{
			ID:       "local-" + f.Name,
			Name:     strings.TrimSuffix(f.Name, filepath.Ext(f.Name)),
			Slot:     -1,
			Origin:   OriginLocal,
			HasLocal: true,
			Filename: f.Name,
			ModTime:  f.ModTime,
		})
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Filename < rest[j].Filename })
	entries = append(entries, rest...)

	s.mu.Lock()
	s.cache = entries
	s.cacheAt = time.Now()
	s.mu.Unlock()

	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

type slotHeader struct {
	name  string
	notes string
}

// deviceSlots queries every slot's name and notes through the correlator.
// Without a session the console side of the catalog is simply empty.
func (s *Store) deviceSlots(ctx context.Context) ([slotCount]slotHeader, error) {
	var slots [slotCount]slotHeader
	if s.session == nil {
		return slots, nil
	}

	addrs := make([]string, 0, 2*slotCount)
	for i := 0; i < slotCount; i++ {
		addrs = append(addrs,
			fmt.Sprintf("/-show/showfile/scene/%03d/name", i),
			fmt.Sprintf("/-show/showfile/scene/%03d/notes", i),
		)
	}

	results, err := s.session.Sweep(ctx, addrs, listPolicy, nil)
	if err != nil {
		return slots, fmt.Errorf("enumerate device slots: %w", err)
	}

	for i, r := range results {
		if r.Missing || len(r.Args) == 0 {
			continue
		}
		slot := i / 2
		if i%2 == 0 {
			slots[slot].name = r.Args[0].Str
		} else {
			slots[slot].notes = r.Args[0].Str
		}
	}
	return slots, nil
}

// localFiles lists the .scn and .bak files in the sandbox.
func (s *Store) localFiles() ([]FileInfo, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read scene dir: %w", err)
	}

	var out []FileInfo
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".scn" && ext != ".bak" {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:    d.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListFiles returns the sandbox file listing for the backup surface.
func (s *Store) ListFiles() ([]FileInfo, error) {
	return s.localFiles()
}

// Get returns the catalog entry with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Save writes a new header-only scene file named after the scene. No console
// state changes; the file is a placeholder a later backup fills in.
func (s *Store) Save(name, notes string) (string, error) {
	filename := name
	if filepath.Ext(filename) == "" {
		filename += ".scn"
	}

	firmware := "4.08"
	if s.session != nil {
		if info, ok := s.session.Identity(); ok {
			firmware = info.Firmware
		}
	}

	data := scene.Write(scene.Header{
		Firmware: firmware,
		Name:     name,
		Note:     notes,
	}, nil)

	return s.SaveFile(filename, data)
}

// SaveFile writes raw file bytes under the sandbox, holding the per-file
// advisory lock for the duration of the write.
func (s *Store) SaveFile(name string, data []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}

	if err := s.withLock(path, func() error {
		return os.WriteFile(path, data, 0o644)
	}); err != nil {
		return "", err
	}

	logger.Info("scene file written",
		logger.KeyFilename, filepath.Base(path),
		"bytes", len(data),
	)
	s.invalidate()
	return filepath.Base(path), nil
}

// ReadFile returns the bytes of a sandbox file.
func (s *Store) ReadFile(name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read scene file: %w", err)
	}
	return data, nil
}

// DeleteFile removes a sandbox file under its advisory lock.
func (s *Store) DeleteFile(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := s.withLock(path, func() error {
		return os.Remove(path)
	}); err != nil {
		return err
	}

	logger.Info("scene file deleted", logger.KeyFilename, filepath.Base(path))
	s.invalidate()
	return nil
}

// Delete removes the local file behind an entry. Device slots cannot be
// erased; deleting a merged entry removes only the file half.
func (s *Store) Delete(ctx context.Context, id string) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !e.HasLocal {
		return fmt.Errorf("%w: %s has no local file", ErrUnsupported, id)
	}
	return s.DeleteFile(e.Filename)
}

// Load applies an entry to the console: a recall command for device slots, a
// full import for local files.
func (s *Store) Load(ctx context.Context, id string) error {
	if s.session == nil {
		return fmt.Errorf("%w: no console session", ErrUnsupported)
	}

	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if e.Slot >= 0 {
		return s.session.Recall(e.Slot)
	}

	data, err := s.ReadFile(e.Filename)
	if err != nil {
		return err
	}
	res, err := s.importer.Import(ctx, data, nil)
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.KindSceneLoaded, events.SceneLoaded{Slot: -1, Source: "file"})
	}
	if res.LoadUncertain {
		logger.Warn("scene load unconfirmed", logger.KeySceneID, id)
	}
	return nil
}

// Backup captures a device slot into a local scene file via the exporter.
// The file takes the slot's name, or scene_NNN.scn when the slot is unnamed.
func (s *Store) Backup(ctx context.Context, id string) (string, error) {
	if s.session == nil {
		return "", fmt.Errorf("%w: no console session", ErrUnsupported)
	}

	e, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if e.Slot < 0 {
		return "", fmt.Errorf("%w: %s is not a device slot", ErrUnsupported, id)
	}

	res, err := s.exporter.ExportScene(ctx, scene.Meta{Name: e.Name, Note: e.Notes}, nil)
	if err != nil {
		return "", err
	}

	filename := e.Name
	if filename == "" {
		filename = fmt.Sprintf("scene_%03d", e.Slot)
	}
	if _, serr := SanitizeFilename(filename); serr != nil {
		filename = fmt.Sprintf("scene_%03d", e.Slot)
	}
	return s.SaveFile(filename+".scn", res.Bytes)
}

// withLock runs fn while holding the advisory lock for path. The lock is
// best-effort protection against concurrent writers in this process group,
// not a general concurrency primitive.
func (s *Store) withLock(path string, fn func() error) error {
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", filepath.Base(path), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBusy, filepath.Base(path))
	}
	defer func() {
		_ = fl.Unlock()
		_ = os.Remove(fl.Path())
	}()
	return fn()
}

// mergeKey normalizes a slot or file name for case-insensitive merging.
func mergeKey(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
}
