package libio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xnko/libio/internal/task"
)

func TestFileCreateDeleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "created.txt")

	require.NoError(t, FileCreate(path, 0o644))
	info, err := PathInfoGet(path)
	require.NoError(t, err)
	require.True(t, info.Exists)
	require.False(t, info.IsDir)

	require.NoError(t, FileDelete(path))
	info, err = PathInfoGet(path)
	require.NoError(t, err)
	require.False(t, info.Exists)
}

func TestPathInfoGetMissingIsNotAnError(t *testing.T) {
	info, err := PathInfoGet(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.False(t, info.Exists)
}

func TestDirCreateEnumDelete(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "sub")
	require.NoError(t, DirCreate(dir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y"), 0o644))

	names, err := DirEnum(dir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	require.NoError(t, os.Remove(filepath.Join(dir, "b.txt")))
	require.NoError(t, DirDelete(dir))
}

func TestPathInfoSetChangesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode.txt")
	require.NoError(t, FileCreate(path, 0o644))
	require.NoError(t, PathInfoSet(path, 0o600))

	info, err := PathInfoGet(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode.Perm())
}

func TestDirListenObservesCreate(t *testing.T) {
	dir := t.TempDir()
	eventsCh := make(chan []DirEvent, 1)

	go Run(RunOptions{}, func(rt *Runtime, mainTask *task.Task) {
		w, err := rt.DirListen(dir)
		require.NoError(t, err)

		rt.Spawn(func(self *task.Task) {
			evs, err := w.Wait(self)
			require.NoError(t, err)
			eventsCh <- evs
			w.Close()
			rt.Stop()
		})

		rt.Spawn(func(self *task.Task) {
			rt.Sleep(self, 20)
			_ = os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644)
		})
	})

	select {
	case evs := <-eventsCh:
		require.NotEmpty(t, evs)
		found := false
		for _, e := range evs {
			if e.Name == "new.txt" && e.Created {
				found = true
			}
		}
		require.True(t, found)
	case <-time.After(3 * time.Second):
		t.Fatal("directory watch never observed the create")
	}
}
