package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/osc"
	"github.com/stagelink/x32mgr/internal/scene"
	"github.com/stagelink/x32mgr/internal/session"
)

func init() {
	// The slot sweep pacing is tuned for a real console; the mock answers
	// synchronously.
	listPolicy.InterSendGap = 10 * time.Microsecond
	listPolicy.PerRequestTimeout = 100 * time.Millisecond
}

func newTestStore(t *testing.T) (*Store, *session.MockTransport, *events.Bus) {
	t.Helper()

	mock := session.NewMockTransport()
	bus := events.NewBus(events.DefaultQueueDepth)
	sess := session.New(mock, bus, session.Config{})
	require.NoError(t, sess.Open(context.Background()))

	st, err := New(t.TempDir(), sess, bus)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = st.Close()
		_ = sess.Close()
		bus.Close()
	})
	return st, mock, bus
}

func TestListEnumeratesDeviceSlots(t *testing.T) {
	st, _, _ := newTestStore(t)

	entries, err := st.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3, "empty slots stay off the catalog")

	assert.Equal(t, "device-0", entries[0].ID)
	assert.Equal(t, "Init", entries[0].Name)
	assert.Equal(t, "Boot scene", entries[0].Notes)
	assert.Equal(t, OriginDevice, entries[0].Origin)

	assert.Equal(t, "device-2", entries[2].ID)
	assert.Equal(t, "Main Show", entries[2].Name)
}

func TestListMergesLocalFileWithSlotByName(t *testing.T) {
	st, _, _ := newTestStore(t)

	// Case-insensitive match against slot 2 "Main Show".
	require.NoError(t, os.WriteFile(
		filepath.Join(st.Dir(), "main show.scn"),
		[]byte("#4.08# \"main show\" \"\" 0 0\n"), 0o644))

	entries, err := st.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3, "merged entry must not appear twice")

	e := entries[2]
	assert.Equal(t, "device-2", e.ID)
	assert.Equal(t, OriginBoth, e.Origin)
	assert.True(t, e.HasLocal)
	assert.Equal(t, "main show.scn", e.Filename)
}

func TestListIncludesUnmatchedLocalFiles(t *testing.T) {
	st, _, _ := newTestStore(t)

	require.NoError(t, os.WriteFile(
		filepath.Join(st.Dir(), "archive.scn"), []byte("#4.08# \"archive\" \"\" 0 0\n"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(st.Dir(), "notes.txt"), []byte("ignored"), 0o644))

	entries, err := st.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)

	last := entries[3]
	assert.Equal(t, "local-archive.scn", last.ID)
	assert.Equal(t, "archive", last.Name)
	assert.Equal(t, -1, last.Slot)
	assert.Equal(t, OriginLocal, last.Origin)
}

func TestListServesFromCacheWithinWindow(t *testing.T) {
	st, mock, _ := newTestStore(t)

	first, err := st.List(context.Background())
	require.NoError(t, err)

	// The console goes deaf; a cached list still answers.
	mock.DropFunc = func(string, int) bool { return true }

	second, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSaveWritesHeaderOnlyFile(t *testing.T) {
	st, _, _ := newTestStore(t)

	name, err := st.Save("Rehearsal", "Tuesday run")
	require.NoError(t, err)
	assert.Equal(t, "Rehearsal.scn", name)

	data, err := st.ReadFile(name)
	require.NoError(t, err)

	h, recs, err := scene.Read(data)
	require.NoError(t, err)
	assert.Equal(t, "Rehearsal", h.Name)
	assert.Equal(t, "Tuesday run", h.Note)
	assert.Equal(t, "4.08", h.Firmware, "firmware comes from the live identity")
	assert.Empty(t, recs)
}

func TestSaveRejectsEscapingFilename(t *testing.T) {
	st, _, _ := newTestStore(t)

	_, err := st.SaveFile("../evil.scn", []byte("x"))
	assert.ErrorIs(t, err, ErrPathEscape)

	_, err = st.SaveFile("a/../../b.scn", []byte("x"))
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestDeleteSemantics(t *testing.T) {
	st, _, _ := newTestStore(t)

	name, err := st.Save("Disposable", "")
	require.NoError(t, err)

	// Local entry deletes its file.
	require.NoError(t, st.Delete(context.Background(), "local-"+name))
	_, err = st.ReadFile(name)
	assert.ErrorIs(t, err, ErrNotFound)

	// Device slots cannot be erased.
	err = st.Delete(context.Background(), "device-1")
	assert.ErrorIs(t, err, ErrUnsupported)

	// Unknown ids miss.
	err = st.Delete(context.Background(), "device-999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadDeviceSlotRecalls(t *testing.T) {
	st, mock, _ := newTestStore(t)

	require.NoError(t, st.Load(context.Background(), "device-1"))

	sent := mock.Sent()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, "/-action/goscene", last.Address)
	require.Len(t, last.Args, 1)
	assert.Equal(t, osc.Int(1), last.Args[0])
}

func TestLoadLocalFileImports(t *testing.T) {
	st, mock, _ := newTestStore(t)

	data := []byte("#4.08# \"Quick\" \"\" 0 0\n/ch/01/mix/on 1\n/ch/01/mix/fader 0.5\n")
	name, err := st.SaveFile("quick.scn", data)
	require.NoError(t, err)

	st.importer.Pace = time.Microsecond
	require.NoError(t, st.Load(context.Background(), "local-"+name))

	var addrs []string
	for _, m := range mock.Sent() {
		addrs = append(addrs, m.Address)
	}
	assert.Contains(t, addrs, "/ch/01/mix/on")
	assert.Contains(t, addrs, "/ch/01/mix/fader")
}

func TestBackupCapturesSlotToFile(t *testing.T) {
	st, _, _ := newTestStore(t)

	st.exporter.Policy = session.SweepPolicy{
		PerRequestTimeout: 100 * time.Millisecond,
		InflightWindow:    4,
		InterSendGap:      time.Microsecond,
	}

	name, err := st.Backup(context.Background(), "device-2")
	require.NoError(t, err)
	assert.Equal(t, "Main Show.scn", name)

	data, err := st.ReadFile(name)
	require.NoError(t, err)

	h, recs, err := scene.Read(data)
	require.NoError(t, err)
	assert.Equal(t, "Main Show", h.Name)
	assert.Equal(t, "House mix", h.Note)
	assert.Len(t, recs, scene.SceneManifest().Total())
}

func TestMutationInvalidatesCacheAndNotifies(t *testing.T) {
	st, _, bus := newTestStore(t)

	sub := bus.Subscribe(events.KindSceneListInvalidated)
	defer bus.Unsubscribe(sub)

	_, err := st.Save("Fresh", "")
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, events.KindSceneListInvalidated, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no scene_list_invalidated event after save")
	}

	entries, err := st.List(context.Background())
	require.NoError(t, err)

	found := false
	for _, e := range entries {
		if e.Filename == "Fresh.scn" {
			found = true
		}
	}
	assert.True(t, found, "new file visible after invalidation")
}

func TestWatcherNoticesExternalWrites(t *testing.T) {
	st, _, bus := newTestStore(t)

	// Prime the cache.
	_, err := st.List(context.Background())
	require.NoError(t, err)

	sub := bus.Subscribe(events.KindSceneListInvalidated)
	defer bus.Unsubscribe(sub)

	require.NoError(t, os.WriteFile(
		filepath.Join(st.Dir(), "external.scn"), []byte("#4.08# \"external\" \"\" 0 0\n"), 0o644))

	select {
	case <-sub.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the external write")
	}
}
