// Command wlcored runs the server endpoint: it listens on a local socket,
// advertises no globals by itself (an embedding application adds its own
// via server.Display.AddGlobal before the loop starts), and drives the
// accept/dispatch loop with unix.Poll since the event-loop primitive
// itself is out of scope (spec §1).
//
// Grounded on the teacher's cmd/canopen/main.go: flag-parsed options, a
// single constructed top-level object, and a hand-rolled poll loop in
// place of canopen's timer-driven background/main period split.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/wirerealm/wlcore/config"
	"github.com/wirerealm/wlcore/endpoint/server"
	"github.com/wirerealm/wlcore/introspect"
	"github.com/wirerealm/wlcore/maintain"
	"github.com/wirerealm/wlcore/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a wlcored.ini file (defaults are used if unset)")
	sweepSpec := flag.String("sweep", "@every 30s", "cron expression for the dead-client reaper")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("wlcored: load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	d := server.New(cfg.RingCapacity, logger)
	d.SetRangeGrant(cfg.RangeSize, cfg.LowWatermark)
	if err := d.AddSocket(cfg.SocketName); err != nil {
		logger.Error("wlcored: add socket", "err", err)
		os.Exit(1)
	}
	defer d.CloseListener()

	sched := maintain.New(d, logger)
	if err := sched.Start(*sweepSpec); err != nil {
		logger.Error("wlcored: start maintenance scheduler", "err", err)
		os.Exit(1)
	}

	var introspectSrv *introspect.Server
	if cfg.HTTPAddr != "" {
		introspectSrv = introspect.New(d, sched, cfg.HTTPAddr)
		go func() {
			if err := introspectSrv.ListenAndServe(); err != nil {
				logger.Error("wlcored: introspect server", "err", err)
			}
		}()
	}

	logger.Info("wlcored: listening", "socket", cfg.SocketName)
	if err := run(d, sched, logger); err != nil {
		logger.Error("wlcored: run loop", "err", err)
		os.Exit(1)
	}
}

// run drives the event loop: poll the listener and every connected
// client's fd, accepting new connections and dispatching ready ones, and
// drain any maintenance task the scheduler has enqueued.
const pollTimeoutMillis = 250

func run(d *server.Display, sched *maintain.Scheduler, logger *slog.Logger) error {
	for {
		fds := []unix.PollFd{{Fd: int32(d.ListenerFD()), Events: unix.POLLIN}}
		clients := d.Clients()
		for _, c := range clients {
			fds = append(fds, unix.PollFd{Fd: int32(c.FD()), Events: unix.POLLIN | unix.POLLOUT})
		}

		n, err := unix.Poll(fds, pollTimeoutMillis)
		if err != nil && err != unix.EINTR {
			return fmt.Errorf("poll: %w", err)
		}

		select {
		case task := <-sched.Tasks():
			task()
		default:
		}

		if n <= 0 {
			continue
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			if _, err := d.Accept(); err != nil && err != wire.ErrWouldBlock {
				logger.Warn("wlcored: accept", "err", err)
			}
		}
		for i, c := range clients {
			ev := fds[i+1].Revents
			if ev == 0 {
				continue
			}
			if _, err := c.Iterate(ev&unix.POLLIN != 0, ev&unix.POLLOUT != 0); err != nil {
				logger.Warn("wlcored: client iterate", "fd", c.FD(), "err", err)
			}
		}
	}
}
