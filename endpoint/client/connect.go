package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/wirerealm/wlcore/wire"
)

// maxSocketPathLen matches struct sockaddr_un's sun_path on typical Linux
// systems (spec §6).
const maxSocketPathLen = 108

var (
	// ErrRuntimeDirNotSet: XDG_RUNTIME_DIR is required and absent.
	ErrRuntimeDirNotSet = errors.New("client: XDG_RUNTIME_DIR is not set")
	// ErrNameTooLong: the resolved socket path (plus its trailing NUL)
	// doesn't fit in a sockaddr_un.
	ErrNameTooLong = errors.New("client: socket path too long")
)

// socketPath resolves $XDG_RUNTIME_DIR/<name>, where name defaults to
// $WAYLAND_DISPLAY and then to "wayland-0" (spec §6).
func socketPath() (string, error) {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", ErrRuntimeDirNotSet
	}
	name := os.Getenv("WAYLAND_DISPLAY")
	if name == "" {
		name = "wayland-0"
	}
	var path string
	if filepath.IsAbs(name) {
		path = name
	} else {
		path = filepath.Join(runtimeDir, name)
	}
	if len(path)+1 > maxSocketPathLen {
		return "", fmt.Errorf("%w: %q is %d bytes", ErrNameTooLong, path, len(path))
	}
	return path, nil
}

// dialTransport opens the underlying wire.Conn for Connect: either by
// inheriting WAYLAND_SOCKET (a pre-connected fd, cleared from the
// environment and set close-on-exec after consumption) or by dialing the
// runtime-directory socket.
func dialTransport(capacity int, onReadiness wire.ReadinessFunc) (*wire.Conn, error) {
	if s := os.Getenv("WAYLAND_SOCKET"); s != "" {
		fd, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("client: invalid WAYLAND_SOCKET %q: %w", s, err)
		}
		os.Unsetenv("WAYLAND_SOCKET")
		if _, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); errno != 0 {
			return nil, fmt.Errorf("client: set close-on-exec on inherited fd %d: %w", fd, errno)
		}
		return wire.FromFD(fd, capacity, onReadiness)
	}

	path, err := socketPath()
	if err != nil {
		return nil, err
	}
	return wire.Dial(path, capacity, onReadiness)
}
