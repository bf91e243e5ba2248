// consent-replay runs a scripted sequence of consent-manager and widget
// actions through the consent pipeline on a virtual clock, or on the
// wall-clock event loop with --realtime, and prints the resulting event
// log, receipts and queue state as JSON.
//
// Receipts can be kept in a local file (--receipt-file) or in the shared
// Redis slot (--redis-url). With --kafka-brokers every event-log append is
// also published to Kafka, which lets a downstream consumer observe the
// exact sequence a tag-management runtime would have drained.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"klarogeo/internal/consent/replay"
	"klarogeo/internal/datalayer"
	"klarogeo/internal/datalayer/kafkasink"
	"klarogeo/internal/platform/config"
	"klarogeo/internal/platform/kafka/producer"
	"klarogeo/internal/platform/logger"
	redisclient "klarogeo/internal/platform/redis"
	"klarogeo/internal/receipt/slot"
)

const brokerPingTimeout = 5 * time.Second

type options struct {
	script      string
	config      string
	brokers     string
	topic       string
	session     string
	redisURL    string
	receiptFile string
	output      string
	debug       bool
	realtime    bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("consent-replay", pflag.ContinueOnError)
	flagSet.StringVar(&opts.script, "script", "", "path to the replay script (YAML)")
	flagSet.StringVar(&opts.config, "config", "", "consent config file replacing the script's config section")
	flagSet.StringVar(&opts.brokers, "kafka-brokers", "", "comma-separated Kafka brokers to publish event-log appends to")
	flagSet.StringVar(&opts.topic, "kafka-topic", producer.DefaultTopic, "Kafka topic for event-log appends")
	flagSet.StringVar(&opts.session, "session", "", "session id attached to published records")
	flagSet.StringVar(&opts.redisURL, "redis-url", "", "keep receipts in the Redis slot at this URL")
	flagSet.StringVar(&opts.receiptFile, "receipt-file", "", "keep receipts in this local file")
	flagSet.StringVarP(&opts.output, "output", "o", "", "write the result here instead of stdout")
	flagSet.BoolVar(&opts.debug, "debug", false, "log pipeline debug output to stderr")
	flagSet.BoolVar(&opts.realtime, "realtime", false, "run on the wall-clock event loop; advance steps sleep")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.script == "" {
		return fmt.Errorf("--script is required")
	}
	if opts.redisURL != "" && opts.receiptFile != "" {
		return fmt.Errorf("--redis-url and --receipt-file are mutually exclusive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := logger.NewDebugTo(os.Stderr, opts.debug)

	script, err := replay.Load(opts.script)
	if err != nil {
		return err
	}
	if opts.config != "" {
		cfg, err := config.LoadConsent(opts.config)
		if err != nil {
			return err
		}
		script.Config = cfg
	}

	replayOpts := replay.Options{Logger: log, Realtime: opts.realtime}

	switch {
	case opts.redisURL != "":
		rdb, err := redisclient.New(config.RedisConfig{URL: opts.redisURL, DialTimeout: 5 * time.Second}, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer rdb.Close() //nolint:errcheck // process exits right after
		replayOpts.Slot = slot.NewRedis(rdb.Client, script.Config.Receipts.Key())
	case opts.receiptFile != "":
		replayOpts.Slot = slot.NewFile(opts.receiptFile)
	}

	if opts.brokers != "" {
		prodCfg := producer.DefaultConfig()
		prodCfg.Brokers = opts.brokers
		prodCfg.ClientID = "klaro-geo-replay"
		prod, err := producer.New(prodCfg, log.With("component", "kafka"))
		if err != nil {
			return err
		}
		defer prod.Close() //nolint:errcheck // Close only logs flush failures

		pingCtx, cancel := context.WithTimeout(ctx, brokerPingTimeout)
		err = prod.Health(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("kafka brokers unreachable: %w", err)
		}

		sink := kafkasink.New(prod, opts.topic, opts.session, log.With("component", "kafkasink"))
		replayOpts.Attach = func(l *datalayer.Log) func() { return sink.Attach(l) }
		log.Info("publishing event log", "topic", opts.topic, "brokers", opts.brokers)
	}

	res, err := replay.Run(ctx, script, replayOpts)
	if err != nil {
		return err
	}
	log.Debug("replay finished",
		"events", len(res.Log),
		"receipts", len(res.Receipts),
		"confirmed", res.Confirmed,
		"buffered", res.Buffered,
	)
	return writeResult(res, opts.output, stdout)
}

func writeResult(res *replay.Result, path string, stdout io.Writer) error {
	out := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `consent-replay: run a consent script through the event pipeline.

The script lists early events pushed before the pipeline exists and a
sequence of steps, each holding exactly one action:

  install, hydrate, set, save, modal_save, notify, toggle_purpose,
  push, advance, show

Time only moves on "advance" steps. With --realtime the script runs on
the production event loop and each advance step waits for real.

Usage:
  consent-replay --script session.yaml [flags]

Flags:
`)
	flagSet.PrintDefaults()
}
