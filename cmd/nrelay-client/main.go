// Command nrelay-client runs the client side of one tunnel: it
// authenticates a control channel against the relay and, for every
// OpenTunnelRequest it receives, dials a data connection back and pumps
// it against a local service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/macqgoye/NRelay/internal/cmdutil"
	"github.com/macqgoye/NRelay/relayclient"
)

func main() {
	os.Exit(run(os.Stdout, os.Stderr))
}

func run(stdout, stderr io.Writer) int {
	serverAddr := cmdutil.EnvString("SERVER_ADDR", "")
	token := cmdutil.EnvString("TUNNEL_TOKEN", "")
	localAddr := cmdutil.EnvString("LOCAL_ADDR", "127.0.0.1")
	localPort, err := cmdutil.EnvInt("LOCAL_PORT", 0)
	if err != nil {
		fmt.Fprintf(stderr, "invalid LOCAL_PORT: %v\n", err)
		return 2
	}
	if serverAddr == "" || token == "" || localPort == 0 {
		fmt.Fprintln(stderr, "SERVER_ADDR, TUNNEL_TOKEN, and LOCAL_PORT must all be set")
		return 2
	}

	cfg := relayclient.DefaultConfig()
	cfg.ServerAddr = serverAddr
	cfg.Token = token
	cfg.LocalAddr = localAddr
	cfg.LocalPort = uint16(localPort)

	cli, err := relayclient.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "relayclient.New: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	fmt.Fprintf(stdout, "connecting to %s for local target %s:%d\n", serverAddr, localAddr, localPort)
	if err := cli.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "client run: %v\n", err)
		return 1
	}
	return 0
}
