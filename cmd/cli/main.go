// Command cli joins an overlay through a known peer and exposes the
// store on stdin.
//
// Usage: cli PORT HOST:PORT
//
// Commands:
//
//	save KEY VALUE
//	load KEY
//	help
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/kadstore"
	"github.com/nmxmxh/kadstore/kaderror"
)

const interactiveHelp = `Available commands:
	save KEY VALUE   publish VALUE under KEY
	load KEY         retrieve the value published under KEY
	help             print this message
`

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <PORT> <INITIAL_PEER>\n", os.Args[0])
		os.Exit(1)
	}

	port, err := strconv.ParseUint(os.Args[1], 10, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	initialPeer, err := kadstore.ParseEndpoint(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid initial peer %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	session, err := kadstore.NewSession(initialPeer,
		kadstore.NewEndpoint("0.0.0.0", uint16(port)),
		kadstore.NewEndpoint("::", uint16(port)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer session.Close()

	var group errgroup.Group
	group.Go(session.Run)

	fmt.Println(`Enter "help" to see available actions`)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}

		switch tokens[0] {
		case "save":
			if len(tokens) != 3 {
				fmt.Print(interactiveHelp)
				continue
			}
			save(session, tokens[1], tokens[2])
		case "load":
			if len(tokens) != 2 {
				fmt.Print(interactiveHelp)
				continue
			}
			load(session, tokens[1])
		default:
			fmt.Print(interactiveHelp)
		}
	}

	session.Abort()

	if err := group.Wait(); !errors.Is(err, kaderror.RunAborted) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func save(session *kadstore.Session, key, value string) {
	session.AsyncSave([]byte(key), []byte(value), func(err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save %q: %v\n", key, err)
			return
		}
		fmt.Printf("Saved %q\n", key)
	})
}

func load(session *kadstore.Session, key string) {
	session.AsyncLoad([]byte(key), func(data []byte, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load %q: %v\n", key, err)
			return
		}
		fmt.Printf("Loaded %q as %q\n", key, data)
	})
}
