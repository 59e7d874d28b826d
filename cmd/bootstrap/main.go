// Command bootstrap starts the first participant of a fresh overlay.
// It stores and serves values but has nobody to bootstrap against;
// other participants use it as their initial peer.
//
// Usage: bootstrap PORT
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/nmxmxh/kadstore"
	"github.com/nmxmxh/kadstore/kaderror"
	"github.com/nmxmxh/kadstore/utils"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <PORT>\n", os.Args[0])
		os.Exit(1)
	}

	port, err := strconv.ParseUint(os.Args[1], 10, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	cfg := kadstore.DefaultConfig()
	cfg.ListenIPv4 = kadstore.NewEndpoint("0.0.0.0", uint16(port))
	cfg.ListenIPv6 = kadstore.NewEndpoint("::", uint16(port))
	cfg.Logger = utils.DefaultLogger("bootstrap")

	session, err := kadstore.NewSessionWithConfig(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() {
		done <- session.Run()
	}()

	fmt.Println("Press enter to exit")
	bufio.NewReader(os.Stdin).ReadString('\n')

	session.Abort()

	if err := <-done; !errors.Is(err, kaderror.RunAborted) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
