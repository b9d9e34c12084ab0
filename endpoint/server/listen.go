package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/wirerealm/wlcore/wire"
)

// maxSocketPathLen matches struct sockaddr_un's sun_path on typical Linux
// systems (spec §6), the same limit the client enforces when dialing.
const maxSocketPathLen = 108

// ErrNameTooLong: the resolved socket path (plus its trailing NUL) doesn't
// fit in a sockaddr_un.
var ErrNameTooLong = errors.New("server: socket path too long")

// resolveSocketPath resolves $XDG_RUNTIME_DIR/name, falling back to the
// current directory with a warning if XDG_RUNTIME_DIR is unset (spec §6:
// "server falls back to '.' with a warning" — unlike the client, for which
// a missing runtime directory is fatal).
func (s *Display) resolveSocketPath(name string) (string, error) {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		s.logger.Warn("server: XDG_RUNTIME_DIR not set, falling back to the current directory")
		runtimeDir = "."
	}
	path := filepath.Join(runtimeDir, name)
	if len(path)+1 > maxSocketPathLen {
		return "", fmt.Errorf("%w: %q is %d bytes", ErrNameTooLong, path, len(path))
	}
	return path, nil
}

// AddSocket binds a listening local socket named name under the runtime
// directory (spec §4.7). Any stale socket file left behind by a previous,
// uncleanly terminated instance is removed first.
func (s *Display) AddSocket(name string) error {
	path, err := s.resolveSocketPath(name)
	if err != nil {
		return err
	}
	_ = os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("server: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("server: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("server: listen %s: %w", path, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("server: set nonblocking: %w", err)
	}

	s.listenerFD = fd
	s.socketPath = path
	return nil
}

// ListenerFD exposes the listening socket's descriptor for an external
// readiness source to poll, firing Accept on readability.
func (s *Display) ListenerFD() int { return s.listenerFD }

// Accept accepts one pending connection and wraps it as a Client. It
// returns wire.ErrWouldBlock if no connection is currently pending.
func (s *Display) Accept() (*Client, error) {
	fd, _, err := unix.Accept4(s.listenerFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil, wire.ErrWouldBlock
		}
		return nil, fmt.Errorf("server: accept: %w", err)
	}
	conn, err := wire.FromFD(fd, s.ringCapacity, nil)
	if err != nil {
		return nil, err
	}
	c := s.clientCreate(conn)
	s.clients = append(s.clients, c)
	return c, nil
}

// CloseListener stops accepting new connections, removing the socket file.
func (s *Display) CloseListener() error {
	if s.listenerFD == 0 {
		return nil
	}
	err := unix.Close(s.listenerFD)
	s.listenerFD = 0
	if s.socketPath != "" {
		_ = os.Remove(s.socketPath)
	}
	return err
}
