// Command wlcat is a one-shot debug client: it connects to the local
// socket, performs a round-trip to flush the initial burst of global
// events, and prints every global the server currently advertises.
//
// Grounded on the teacher's cmd/sdo_client/main.go: connect, perform a
// handful of synchronous operations, print results, exit — no
// long-running loop.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/wirerealm/wlcore/endpoint/client"
	"github.com/wirerealm/wlcore/wire"
)

func main() {
	display := flag.String("display", "", "WAYLAND_DISPLAY override (defaults to the environment)")
	flag.Parse()
	if *display != "" {
		os.Setenv("WAYLAND_DISPLAY", *display)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	d, err := client.Connect(wire.DefaultCapacity, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wlcat: connect: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	if _, err := d.Roundtrip(); err != nil {
		fmt.Fprintf(os.Stderr, "wlcat: roundtrip: %v\n", err)
		os.Exit(1)
	}

	key, err := d.ListenGlobals(func(g client.Global, removed bool) {
		if removed {
			return
		}
		fmt.Printf("%d: %s v%d\n", g.Name, g.Interface, g.Version)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "wlcat: listen globals: %v\n", err)
		os.Exit(1)
	}
	defer d.UnlistenGlobals(key)
}
