// Command bridge implements the host/join UDP video-audio bridge: a single
// executable exposing discover, host, and join verbs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/ndibridge/loopback"
	"github.com/zsiec/ndibridge/orchestrator"
)

var version = "dev"

const discoverWindow = 10 * time.Second

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "discover":
		err = runDiscover(os.Args[2:])
	case "host":
		err = runHost(os.Args[2:])
	case "join":
		err = runJoin(os.Args[2:])
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version":
		fmt.Println(version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: bridge <command> [flags]

commands:
  discover                 enumerate local sources and exit
  host --target HOST:PORT  run the sender
  join                     run the receiver

global:
  --help, -h               show this message
  --version                print the build version`)
}

func shutdownContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()
	return ctx, cancel
}

func runDiscover(args []string) error {
	if err := parseDiscoverFlags(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoverWindow)
	defer cancel()

	capture := loopback.NewSyntheticCapture(1920, 1080, 30, 48000, 2)
	if err := capture.Initialize(); err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	sources, err := capture.Discover(ctx, discoverWindow)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	for i, s := range sources {
		fmt.Printf("[%d] %s\n", i, s.Name)
	}
	if len(sources) == 0 {
		return errors.New("discover: no sources found")
	}
	return nil
}

func runHost(args []string) error {
	cfg, err := parseHostFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := shutdownContext()
	defer cancel()

	capture := loopback.NewSyntheticCapture(1920, 1080, 30, 48000, 2)
	rawEncoder := loopback.NewEncoder()

	sender := orchestrator.NewSender(capture, rawEncoder, orchestrator.SenderConfig{
		Target:     cfg.target,
		LocalPort:  cfg.port,
		BitrateBPS: int(cfg.bitrateMbp * 1_000_000),
		SourceName: cfg.source,
		Exclude:    cfg.exclude,
		Auto:       cfg.auto,
	}, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sender.Run(ctx) })
	return g.Wait()
}

func runJoin(args []string) error {
	cfg, err := parseJoinFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := shutdownContext()
	defer cancel()

	output := loopback.NewDiscardOutput()
	receiver := orchestrator.NewReceiver(loopback.NewDecoderFactory(), output, orchestrator.ReceiverConfig{
		Port:     cfg.port,
		BufferMS: cfg.bufferMS,
	}, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return receiver.Run(ctx) })
	return g.Wait()
}
