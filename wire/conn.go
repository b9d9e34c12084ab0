// Package wire implements the connection: one stream socket, its inbound
// and outbound ring buffers, and non-blocking drain/send with ancillary
// file-descriptor passing (spec §4.2).
//
// Grounded on the teacher's bus_manager.go (which already imports
// golang.org/x/sys/unix and wraps a single transport with a logger field
// and a readiness/error surface) and the other_examples Wayland display
// file's Sendmsg/Recvmsg/SCM_RIGHTS idiom, generalized from a one-shot
// blocking helper to a stateful non-blocking connection with back-pressure.
package wire

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/wirerealm/wlcore/internal/ring"
)

// DefaultCapacity is the typical fixed ring-buffer capacity (spec §4.1).
const DefaultCapacity = 4096

// State is the connection's lifecycle (spec §4.8).
type State int

const (
	StateOpen State = iota
	StateDraining
	StateClosing
	StateDead
)

// ErrWouldBlock signals that Send could not buffer a message because the
// outbound ring has no room even after a flush attempt.
var ErrWouldBlock = errors.New("wire: would block")

// ReadinessFunc is called whenever the connection's readable/writable
// interest bits change, so the owning endpoint can re-register its poll
// interest (spec §4.2).
type ReadinessFunc func(readable, writable bool)

// Conn owns one stream socket and its two ring buffers.
type Conn struct {
	fd     int
	file   *os.File // keeps the duplicated fd's finalizer from closing it early
	state  State
	logger *slog.Logger
	Debug  bool

	in      *ring.Bytes
	inFDs   *ring.FDs
	inRead  int64 // cumulative bytes ever read from the socket

	out      *ring.Bytes
	outFDs   *ring.FDs
	outSent  int64 // cumulative bytes ever sent on the socket
	outWritten int64 // cumulative bytes ever appended to the outbound ring

	readable, writable bool
	onReadiness        ReadinessFunc
}

// newConn wraps an already-connected, already-owned fd.
func newConn(fd int, capacity int, onReadiness ReadinessFunc) (*Conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("wire: set nonblocking: %w", err)
	}
	c := &Conn{
		fd:          fd,
		file:        os.NewFile(uintptr(fd), "wire-conn"),
		state:       StateOpen,
		logger:      slog.Default(),
		in:          ring.NewBytes(capacity),
		inFDs:       ring.NewFDs(16),
		out:         ring.NewBytes(capacity),
		outFDs:      ring.NewFDs(16),
		onReadiness: onReadiness,
	}
	c.setInterest(true, false)
	return c, nil
}

// Dial connects to the local stream socket at path and wraps it.
func Dial(path string, capacity int, onReadiness ReadinessFunc) (*Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", path, err)
	}
	return fromNetConn(conn, capacity, onReadiness)
}

// FromFD wraps a pre-connected file descriptor (the WAYLAND_SOCKET case,
// spec §6), taking ownership of it.
func FromFD(fd int, capacity int, onReadiness ReadinessFunc) (*Conn, error) {
	return newConn(fd, capacity, onReadiness)
}

// fromNetConn extracts the raw fd from a net.UnixConn so drain/send can
// issue unix.Recvmsg/Sendmsg directly instead of going through the
// runtime netpoller — the core does its own non-blocking bookkeeping
// (spec §4.2's back-pressure contract is expressed through ErrWouldBlock,
// not goroutine blocking).
func fromNetConn(conn net.Conn, capacity int, onReadiness ReadinessFunc) (*Conn, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("wire: expected a unix socket, got %T", conn)
	}
	file, err := uc.File()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wire: extract fd: %w", err)
	}
	_ = conn.Close() // the duplicated fd in file keeps the socket alive
	fd, err := unix.Dup(int(file.Fd()))
	_ = file.Close()
	if err != nil {
		return nil, fmt.Errorf("wire: dup fd: %w", err)
	}
	c, err := newConn(fd, capacity, onReadiness)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return c, nil
}

// SetLogger overrides the connection's logger.
func (c *Conn) SetLogger(logger *slog.Logger) { c.logger = logger }

// State reports the connection's current lifecycle state.
func (c *Conn) State() State { return c.state }

// FD returns the underlying socket descriptor, for registration with an
// external event-loop readiness source (out of scope per spec §1).
func (c *Conn) FD() int { return c.fd }

func (c *Conn) setInterest(readable, writable bool) {
	if readable == c.readable && writable == c.writable {
		return
	}
	c.readable, c.writable = readable, writable
	if c.onReadiness != nil {
		c.onReadiness(readable, writable)
	}
}

func (c *Conn) fail(err error) error {
	c.state = StateDead
	c.setInterest(false, false)
	return err
}

// Inbound exposes the inbound byte ring for the dispatcher to peek/consume.
func (c *Conn) Inbound() *ring.Bytes { return c.in }

// PopInboundFD pops the next file descriptor received on this connection,
// in arrival order.
func (c *Conn) PopInboundFD() (int, bool) { return c.inFDs.Pop() }

// Drain performs one non-blocking read and/or write depending on which of
// readableReady/writableReady the caller's readiness source reported.
// Partial I/O is normal; it returns the number of bytes now buffered on
// the inbound side, or a negative-returning error for anything but
// EAGAIN/EINTR (spec §4.2).
func (c *Conn) Drain(readableReady, writableReady bool) (int, error) {
	if c.state == StateDead {
		return 0, fmt.Errorf("wire: connection is dead")
	}
	if readableReady {
		if err := c.drainRead(); err != nil {
			return 0, c.fail(err)
		}
	}
	if writableReady || c.out.Occupied() > 0 {
		if err := c.drainWrite(); err != nil {
			return 0, c.fail(err)
		}
	}
	return c.in.Occupied(), nil
}

func (c *Conn) drainRead() error {
	buf := make([]byte, c.in.Space())
	if len(buf) == 0 {
		return nil
	}
	oob := make([]byte, unix.CmsgSpace(16*4))
	for {
		n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				c.setInterest(true, c.writable)
				return nil
			}
			return fmt.Errorf("wire: recvmsg: %w", err)
		}
		if n == 0 {
			c.state = StateDraining
			return fmt.Errorf("wire: peer closed connection")
		}
		fds, err := parseRights(oob[:oobn])
		if err != nil {
			return err
		}
		offset := c.inRead
		c.in.Write(buf[:n])
		for _, fd := range fds {
			c.inFDs.Push(fd, offset)
		}
		c.inRead += int64(n)
		if c.Debug {
			c.logger.Debug("wire: drained read", "bytes", n, "fds", len(fds))
		}
		return nil
	}
}

func (c *Conn) drainWrite() error {
	for c.out.Occupied() > 0 {
		n := c.out.Occupied()
		chunk := make([]byte, n)
		_ = c.out.Copy(chunk, n)

		rights := c.pendingRights(n)

		wrote, err := unix.SendmsgN(c.fd, chunk, rights, nil, 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				c.setInterest(c.readable, true)
				return nil
			}
			return fmt.Errorf("wire: sendmsg: %w", err)
		}
		if wrote == 0 {
			c.setInterest(c.readable, true)
			return nil
		}
		c.out.Consume(wrote)
		// Only drop the fds that actually rode along: a descriptor whose
		// offset falls short of outSent+wrote traveled with this syscall;
		// anything beyond a partial write stays queued for the next one.
		c.dropSentFDs(c.outSent + int64(wrote))
		c.outSent += int64(wrote)
		if wrote < n {
			c.setInterest(c.readable, true)
			return nil
		}
	}
	c.setInterest(c.readable, false)
	return nil
}

// pendingRights builds the SCM_RIGHTS control message for every fd whose
// recorded offset falls within the next n bytes about to be sent. It does
// not remove them from the queue — dropSentFDs does that once the
// syscall confirms how many bytes actually went out.
func (c *Conn) pendingRights(n int) []byte {
	var fds []int
	limit := c.outSent + int64(n)
	for i := 0; ; i++ {
		entry, ok := c.outFDs.At(i)
		if !ok || entry.Offset >= limit {
			break
		}
		fds = append(fds, entry.FD)
	}
	if len(fds) == 0 {
		return nil
	}
	return unix.UnixRights(fds...)
}

// dropSentFDs removes queued fds whose offset is below sentUpTo — the
// descriptors that just traveled with a confirmed sendmsg.
func (c *Conn) dropSentFDs(sentUpTo int64) {
	for {
		entry, ok := c.outFDs.Peek()
		if !ok || entry.Offset >= sentUpTo {
			return
		}
		if fd, ok := c.outFDs.Pop(); ok {
			_ = unix.Close(fd)
		}
	}
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("wire: parse control message: %w", err)
	}
	var fds []int
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		got, err := unix.ParseUnixRights(&scm)
		if err != nil {
			return nil, fmt.Errorf("wire: parse unix rights: %w", err)
		}
		fds = append(fds, got...)
	}
	return fds, nil
}

// Send appends a full message to the outbound ring. If there isn't room,
// it attempts a non-blocking flush first; if that still isn't enough it
// sets writable interest and fails with ErrWouldBlock (spec §4.2). Each
// descriptor in fds is duplicated before it is queued; the caller keeps
// ownership of its own copies.
func (c *Conn) Send(msg []byte, fds []int) error {
	if c.state == StateDead {
		return fmt.Errorf("wire: connection is dead")
	}
	if len(msg) > c.out.Space() {
		if err := c.drainWrite(); err != nil {
			return c.fail(err)
		}
	}
	if len(msg) > c.out.Space() {
		c.setInterest(c.readable, true)
		return ErrWouldBlock
	}
	dups := make([]int, 0, len(fds))
	for _, fd := range fds {
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			for _, d := range dups {
				_ = unix.Close(d)
			}
			return fmt.Errorf("wire: dup fd %d: %w", fd, err)
		}
		dups = append(dups, dup)
	}
	offset := c.outWritten
	n := c.out.Write(msg)
	c.outWritten += int64(n)
	for _, fd := range dups {
		c.outFDs.Push(fd, offset)
	}
	if c.Debug {
		c.logger.Debug("wire: queued send", "bytes", len(msg), "fds", len(fds))
	}
	return nil
}

// Close releases the socket. Any queued-but-unsent outbound fds are
// closed to avoid leaking them into the void.
func (c *Conn) Close() error {
	if c.state == StateDead && c.file == nil {
		return nil
	}
	c.state = StateDead
	c.outFDs.DrainClose(func(fd int) error { return unix.Close(fd) })
	c.inFDs.DrainClose(func(fd int) error { return unix.Close(fd) })
	if c.file != nil {
		err := c.file.Close()
		c.file = nil
		return err
	}
	return nil
}
