package libio

import (
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xnko/libio/internal/backend/epollio"
	"github.com/xnko/libio/internal/looprt"
	"github.com/xnko/libio/internal/task"
)

// PathInfo reports a path's filesystem metadata in one round trip instead
// of separate stat fields: existence, kind, size, permissions, and
// modification time.
type PathInfo struct {
	Exists  bool
	IsDir   bool
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// PathInfoGet stats path synchronously. Use Runtime.StatFile instead when
// called from inside a task's entry function, to avoid blocking the loop
// thread.
func PathInfoGet(path string) (PathInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PathInfo{}, nil
		}
		return PathInfo{}, WrapError("path.info_get", err)
	}
	return PathInfo{
		Exists:  true,
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
	}, nil
}

// PathInfoSet applies mode (permission bits) to path.
func PathInfoSet(path string, mode os.FileMode) error {
	if err := os.Chmod(path, mode); err != nil {
		return WrapError("path.info_set", err)
	}
	return nil
}

// FileCreate creates an empty file at path with the given permissions,
// failing if it already exists.
func FileCreate(path string, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return WrapError("path.file_create", err)
	}
	return f.Close()
}

// FileDelete removes the file at path.
func FileDelete(path string) error {
	if err := os.Remove(path); err != nil {
		return WrapError("path.file_delete", err)
	}
	return nil
}

// DirCreate creates a directory at path with the given permissions.
func DirCreate(path string, perm os.FileMode) error {
	if err := os.Mkdir(path, perm); err != nil {
		return WrapError("path.dir_create", err)
	}
	return nil
}

// DirDelete removes the directory at path, which must be empty.
func DirDelete(path string) error {
	if err := os.Remove(path); err != nil {
		return WrapError("path.dir_delete", err)
	}
	return nil
}

// DirEnum lists the names of path's immediate children.
func DirEnum(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, WrapError("path.dir_enum", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// DirEvent describes one change observed by a DirWatcher.
type DirEvent struct {
	Name     string
	Created  bool
	Removed  bool
	Modified bool
}

// DirWatcher watches a directory for entry creation/removal/modification
// using inotify, delivered through the owning loop the same way any other
// readiness-backed wait is.
type DirWatcher struct {
	loop *looprt.Loop
	fd   int
	wd   int
}

// DirListen starts watching path for changes.
func (rt *Runtime) DirListen(path string) (*DirWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, WrapError("path.dir_listen", err)
	}
	mask := uint32(unix.IN_CREATE | unix.IN_DELETE | unix.IN_MODIFY | unix.IN_MOVED_FROM | unix.IN_MOVED_TO)
	wd, err := unix.InotifyAddWatch(fd, path, mask)
	if err != nil {
		unix.Close(fd)
		return nil, WrapError("path.dir_listen", err)
	}
	rt.loop.Retain()
	return &DirWatcher{loop: rt.loop, fd: fd, wd: wd}, nil
}

// Wait suspends the calling task until the next batch of directory changes
// is available, then decodes and returns them.
func (w *DirWatcher) Wait(t *task.Task) ([]DirEvent, error) {
	if _, err := w.loop.AwaitIO(t, w.fd, epollio.In, 0); err != nil {
		return nil, WrapError("path.dir_wait", err)
	}

	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))
	n, err := unix.Read(w.fd, buf)
	if err != nil {
		return nil, WrapError("path.dir_wait", err)
	}

	var events []DirEvent
	off := 0
	for off+unix.SizeofInotifyEvent <= n {
		raw := (*unix.InotifyEvent)(unsafePointer(&buf[off]))
		nameStart := off + unix.SizeofInotifyEvent
		nameEnd := nameStart + int(raw.Len)
		name := ""
		if raw.Len > 0 && nameEnd <= n {
			name = cString(buf[nameStart:nameEnd])
		}
		ev := DirEvent{Name: name}
		switch {
		case raw.Mask&unix.IN_CREATE != 0, raw.Mask&unix.IN_MOVED_TO != 0:
			ev.Created = true
		case raw.Mask&unix.IN_DELETE != 0, raw.Mask&unix.IN_MOVED_FROM != 0:
			ev.Removed = true
		case raw.Mask&unix.IN_MODIFY != 0:
			ev.Modified = true
		}
		events = append(events, ev)
		off = nameEnd
	}
	return events, nil
}

// Close stops watching and releases the inotify fd.
func (w *DirWatcher) Close() error {
	defer w.loop.Release()
	unix.InotifyRmWatch(w.fd, uint32(w.wd))
	return unix.Close(w.fd)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func unsafePointer(p *byte) unsafe.Pointer {
	return unsafe.Pointer(p)
}
