package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"miren.dev/mrpc"
	"miren.dev/mrpc/grpctransport"
	"miren.dev/mrpc/quictransport"
)

type CallCommand struct{}

func (c *CallCommand) Synopsis() string {
	return "Send one echo call to an mrpc server"
}

func (c *CallCommand) Help() string {
	return strings.TrimSpace(`
Usage: mrpcd call [options] PAYLOAD

  Sends one echo request to a running server and prints the reply.

Options:
  --addr ADDR           Server address (default "localhost:4455")
  --transport SCHEME    Transport scheme: quic or grpc (default "quic")
  --timeout DURATION    Call timeout (default 10s)
`)
}

func (c *CallCommand) Run(args []string) int {
	fs := pflag.NewFlagSet("call", pflag.ContinueOnError)

	addr := fs.String("addr", "localhost:4455", "server address")
	transport := fs.String("transport", "quic", "transport scheme")
	timeout := fs.Duration("timeout", 10*time.Second, "call timeout")

	err := fs.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	payload := strings.Join(fs.Args(), " ")

	err = c.call(*transport, *addr, *timeout, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		return 1
	}

	return 0
}

func (c *CallCommand) call(transport, addr string, timeout time.Duration, payload string) error {
	var (
		ct  mrpc.ClientTransport
		err error
	)

	switch transport {
	case "quic":
		ct, err = quictransport.Dial(addr)
	case "grpc":
		ct, err = grpctransport.Dial(addr)
	default:
		return fmt.Errorf("unknown transport: %s", transport)
	}

	if err != nil {
		return err
	}

	defer ct.Close()

	client := mrpc.NewClient(ct, nil)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var resp EchoResponse

	err = client.Call(ctx, EchoInterest, &EchoRequest{Payload: payload}, &resp)
	if err != nil {
		return err
	}

	fmt.Printf("%s (served by %s)\n", resp.Payload, resp.ServedBy)

	return nil
}
