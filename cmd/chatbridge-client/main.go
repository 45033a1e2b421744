// Package main provides a small command line client for a running chatbridge
// broker. It speaks the broker's one-request-per-connection protocol and is
// mostly useful for poking at a broker by hand.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/entrhq/chatbridge/pkg/client"
)

func main() {
	var (
		host = flag.String("host", "localhost", "Broker host")
		port = flag.Int("port", 8110, "Broker port")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "chatbridge-client - talk to a running chatbridge broker\n\n")
		fmt.Fprintf(os.Stderr, "Usage: chatbridge-client [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  create                 Open a session, print its id\n")
		fmt.Fprintf(os.Stderr, "  post <id> <message>    Send a message into a session\n")
		fmt.Fprintf(os.Stderr, "  get <id>               Print the newest reply, if any\n")
		fmt.Fprintf(os.Stderr, "  shutdown <id>          Close a session\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(*host, *port)
	if err := dispatch(c, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(c *client.Client, args []string) error {
	switch cmd, rest := args[0], args[1:]; cmd {
	case "create":
		id, err := c.Create()
		if err != nil {
			return describe(err)
		}
		fmt.Println(id)
		return nil

	case "post":
		if len(rest) < 2 {
			return errors.New("post needs a session id and a message")
		}
		if err := c.Post(rest[0], strings.Join(rest[1:], " ")); err != nil {
			return describe(err)
		}
		return nil

	case "get":
		if len(rest) != 1 {
			return errors.New("get needs a session id")
		}
		reply, ok, err := c.Get(rest[0])
		if err != nil {
			return describe(err)
		}
		if !ok {
			fmt.Println("(no reply yet)")
			return nil
		}
		fmt.Println(reply)
		return nil

	case "shutdown":
		if len(rest) != 1 {
			return errors.New("shutdown needs a session id")
		}
		if err := c.Shutdown(rest[0]); err != nil {
			return describe(err)
		}
		fmt.Println("session closed")
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// describe turns protocol-level sentinel errors into friendlier messages.
func describe(err error) error {
	switch {
	case errors.Is(err, client.ErrBusy):
		return errors.New("broker is at capacity, try again later")
	case errors.Is(err, client.ErrUnknownSession):
		return errors.New("no such session")
	case errors.Is(err, client.ErrBadRequest):
		return errors.New("the broker rejected the request as malformed")
	default:
		return err
	}
}
