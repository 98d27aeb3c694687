package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/zsiec/ndibridge/wire"
)

// stringSliceFlag implements flag.Value for a repeatable flag.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ", ") }

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

type hostConfig struct {
	target     string
	port       int
	bitrateMbp float64
	source     string
	exclude    []string
	auto       bool
}

func parseHostFlags(args []string) (*hostConfig, error) {
	fs := flag.NewFlagSet("host", flag.ContinueOnError)
	cfg := &hostConfig{}
	var exclude stringSliceFlag

	fs.StringVar(&cfg.target, "target", "", "destination host:port to send to (required)")
	fs.IntVar(&cfg.port, "port", wire.DefaultPort, "local UDP port to bind")
	fs.Float64Var(&cfg.bitrateMbp, "bitrate", 8, "target video bitrate in Mbps")
	fs.StringVar(&cfg.source, "source", "", "exact/partial source name to select")
	fs.Var(&exclude, "exclude", "source name substring to exclude (repeatable)")
	fs.BoolVar(&cfg.auto, "auto", false, "skip the interactive source prompt")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.target == "" {
		return nil, errors.New("host: --target is required")
	}
	cfg.exclude = exclude
	return cfg, nil
}

type joinConfig struct {
	port     int
	name     string
	bufferMS int
}

func parseJoinFlags(args []string) (*joinConfig, error) {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	cfg := &joinConfig{}

	fs.IntVar(&cfg.port, "port", wire.DefaultPort, "UDP port to listen on")
	fs.StringVar(&cfg.name, "name", "Bridge", "published output source name (unused: the built-in discard output publishes no source)")
	fs.IntVar(&cfg.bufferMS, "buffer", 0, "presentation delay in milliseconds (0 = real-time)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.bufferMS < 0 {
		return nil, fmt.Errorf("join: --buffer must be >= 0, got %d", cfg.bufferMS)
	}
	return cfg, nil
}

func parseDiscoverFlags(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	return fs.Parse(args)
}
