// Command a314d demonstrates the engine end-to-end over a real TCP
// connection, standing in for the shared-memory ComArea this protocol
// was designed for. It accepts one peer connection, wires a Bridge to
// it, and runs the protocol engine against the resulting mailbox until
// the process is asked to stop.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/a314x/a314mux"
	"github.com/a314x/a314mux/transport"
)

func main() {
	app := cli.NewApp()
	app.Name = "a314d"
	app.Usage = "run the A314 stream-multiplexing engine over a TCP bridge"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to a YAML config file"},
		cli.StringFlag{Name: "listen, l", Usage: "override the listen address"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("a314d exited with an error")
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if l := c.String("listen"); l != "" {
		cfg.Listen = l
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logrus.New()
	logger.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	logger.WithField("addr", cfg.Listen).Info("a314d listening for a peer connection")

	conn, err := acceptOne(ctx, ln)
	if err != nil {
		return err
	}
	defer conn.Close()

	var psk []byte
	if cfg.PSK != "" {
		psk = []byte(cfg.PSK)
	}

	com := a314mux.NewComArea()
	bridge, err := transport.New(com, conn, transport.Options{Compress: cfg.Compress, PSK: psk})
	if err != nil {
		return err
	}

	engineConfig := a314mux.DefaultConfig()
	engineConfig.Logger = logger
	engine := a314mux.NewEngine(com, engineConfig)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(bridge.Run)

	err = g.Wait()
	return multierr.Append(err, engine.Close())
}

func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
