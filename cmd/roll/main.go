// Package main provides the roll command-line tool.
//
//	roll [-seed N] [-min|-max] [-v] [-presets file] [-record] <expr|@preset>
//
// Arguments are joined with spaces, so "roll 2d6 + 3" needs no quoting.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dicenotation/internal/config"
	"github.com/cory-johannsen/dicenotation/internal/dice"
	"github.com/cory-johannsen/dicenotation/internal/observability"
	"github.com/cory-johannsen/dicenotation/internal/preset"
	"github.com/cory-johannsen/dicenotation/internal/storage/postgres"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	seed       uint64
	seeded     bool
	min, max   bool
	verbose    bool
	presets    string
	record     bool
	configPath string
	text       string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("roll", flag.ContinueOnError)
	fs.SetOutput(stderr)
	seed := fs.Int64("seed", -1, "seed for a reproducible roll (default: crypto source)")
	fs.BoolVar(&opts.min, "min", false, "print the lowest total (every die shows 1)")
	fs.BoolVar(&opts.max, "max", false, "print the highest total (every die shows its top face)")
	fs.BoolVar(&opts.verbose, "v", false, "print every die and enable debug logging")
	fs.StringVar(&opts.presets, "presets", "", "preset YAML file or directory for @name lookups")
	fs.BoolVar(&opts.record, "record", false, "save the roll to the history database")
	fs.StringVar(&opts.configPath, "config", "", "configuration file for -record (default: environment only)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: roll [flags] <expression|@preset>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if *seed >= 0 {
		opts.seed, opts.seeded = uint64(*seed), true
	}
	opts.text = strings.TrimSpace(strings.Join(fs.Args(), " "))
	switch {
	case opts.text == "":
		fs.Usage()
		return opts, errors.New("missing expression")
	case opts.min && opts.max:
		return opts, errors.New("-min and -max are mutually exclusive")
	case opts.record && (opts.min || opts.max):
		return opts, errors.New("-record cannot be combined with -min or -max")
	}
	return opts, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "roll: %v\n", err)
		return exitUsage
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger, err := observability.NewLogger(config.LoggingConfig{Level: level, Format: "console"}, "roll")
	if err != nil {
		fmt.Fprintf(stderr, "roll: initializing logger: %v\n", err)
		return exitError
	}
	defer func() { _ = logger.Sync() }()

	expr, err := resolve(opts)
	if err != nil {
		fmt.Fprintf(stderr, "roll: %v\n", err)
		return exitError
	}

	src := sourceFor(opts)
	res, err := dice.NewLoggedRoller(src, logger).Roll(expr)
	if err != nil {
		fmt.Fprintf(stderr, "roll: %v\n", err)
		return exitError
	}

	if opts.verbose {
		fmt.Fprintln(stdout, res.String())
	} else {
		fmt.Fprintln(stdout, res.Total())
	}

	if opts.record {
		if err := record(opts, res, logger); err != nil {
			fmt.Fprintf(stderr, "roll: %v\n", err)
			return exitError
		}
	}
	return exitOK
}

func resolve(opts options) (*dice.Expression, error) {
	name, isPreset := strings.CutPrefix(opts.text, "@")
	if !isPreset {
		return dice.Parse(opts.text)
	}
	if opts.presets == "" {
		return nil, fmt.Errorf("preset %q requested but -presets was not given", name)
	}
	lib, err := preset.Load(opts.presets)
	if err != nil {
		return nil, err
	}
	return lib.Expression(name)
}

func sourceFor(opts options) dice.Source {
	switch {
	case opts.min:
		return dice.MinSource
	case opts.max:
		return dice.MaxSource
	case opts.seeded:
		return dice.NewSeededSource(opts.seed)
	default:
		return dice.DefaultSource()
	}
}

func record(opts options, res dice.Result, logger *zap.Logger) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening roll history: %w", err)
	}
	defer pool.Close()

	rec, err := pool.Rolls().Record(ctx, postgres.RecordInput{
		Input:   opts.text,
		Result:  res,
		Session: "cli",
	})
	if err != nil {
		return err
	}
	logger.Debug("roll recorded", zap.String("id", rec.ID.String()))
	return nil
}
