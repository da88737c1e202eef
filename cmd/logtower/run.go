package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/drblury/logtower"
)

// clientFactory builds the CloudWatch Logs client. Tests replace it.
var clientFactory = logtower.DefaultClientFactory

// maxLineSize bounds how much of a single input line is kept. The rest of
// a longer line is discarded and the kept prefix is shipped; the handler then
// truncates it to max_message_size.
const maxLineSize = 1024 * 1024

type options struct {
	configPath  string
	group       string
	stream      string
	source      string
	region      string
	endpoint    string
	interval    time.Duration
	retention   int
	metrics     bool
	metricsPort int
	verbose     bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("logtower", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "YAML handler configuration file")
	flagSet.StringVarP(&opts.group, "group", "g", "", "log group name")
	flagSet.StringVarP(&opts.stream, "stream", "s", "", "log stream name template")
	flagSet.StringVar(&opts.source, "source", "logtower", "value of the {logger_name} placeholder")
	flagSet.StringVar(&opts.region, "region", "", "AWS region")
	flagSet.StringVar(&opts.endpoint, "endpoint", "", "custom CloudWatch Logs endpoint, e.g. LocalStack")
	flagSet.DurationVar(&opts.interval, "interval", 0, "maximum time a line waits before its batch is sent")
	flagSet.IntVar(&opts.retention, "retention-days", 0, "retention policy applied to the log group")
	flagSet.BoolVar(&opts.metrics, "metrics", false, "serve Prometheus metrics and /status")
	flagSet.IntVar(&opts.metricsPort, "metrics-port", 0, "port for --metrics")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log handler diagnostics at debug level")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	cfg, err := buildConfig(flagSet, opts)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := logtower.NewSlogServiceLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	h, err := logtower.TryNewHandler(cfg, logger, ctx, logtower.HandlerDependencies{
		ClientFactory: clientFactory(),
		Hooks:         logtower.LoggingHooks(logger),
	})
	if err != nil {
		return err
	}

	if h.Conf.MetricsEnabled {
		serveMetrics(ctx, h, logger)
	}

	readErr := ship(ctx, h, opts.source, flagSet.Args(), stdin)

	// Close with a fresh context so a signal still drains the queues.
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*h.Conf.SendInterval)
	defer cancel()
	if err := h.CloseContext(closeCtx); err != nil {
		return fmt.Errorf("close handler: %w", err)
	}
	return readErr
}

// buildConfig loads the optional file and applies flags that were set on
// the command line on top of it.
func buildConfig(flagSet *pflag.FlagSet, opts options) (*logtower.Config, error) {
	cfg := &logtower.Config{}
	if opts.configPath != "" {
		loaded, err := logtower.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagSet.Changed("group") {
		cfg.LogGroupName, cfg.LogGroup = opts.group, ""
	}
	if flagSet.Changed("stream") {
		cfg.LogStreamName, cfg.StreamName = opts.stream, ""
	}
	if flagSet.Changed("region") {
		cfg.AWSRegion = opts.region
	}
	if flagSet.Changed("endpoint") {
		cfg.AWSEndpoint = opts.endpoint
	}
	if flagSet.Changed("interval") {
		cfg.SendInterval = opts.interval
	}
	if flagSet.Changed("retention-days") {
		cfg.LogGroupRetentionDays = opts.retention
	}
	if flagSet.Changed("metrics") {
		cfg.MetricsEnabled = opts.metrics
	}
	if flagSet.Changed("metrics-port") {
		cfg.MetricsPort = opts.metricsPort
	}
	return cfg, logtower.ValidateConfig(cfg)
}

// ship emits every line of the named files, or of stdin when there are
// none, until the input ends or ctx is cancelled.
func ship(ctx context.Context, h *logtower.Handler, source string, files []string, stdin io.Reader) error {
	if len(files) == 0 {
		return shipReader(ctx, h, source, stdin)
	}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		err = shipReader(ctx, h, source, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func shipReader(ctx context.Context, h *logtower.Handler, source string, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		errc <- readLines(r, maxLineSize, func(line string) bool {
			select {
			case lines <- line:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			if line == "" {
				continue
			}
			// Dropped lines are already reported through the handler logger.
			_ = h.Emit(logtower.Record{Source: source, Message: line})
		}
	}
}

// readLines calls fn with every line of r, without its line ending, until
// r is exhausted or fn returns false. Lines are cut to limit bytes.
func readLines(r io.Reader, limit int, fn func(string) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if room := limit - len(line); room > 0 {
			line = append(line, chunk[:min(len(chunk), room)]...)
		}
		if isPrefix {
			continue
		}
		if !fn(string(line)) {
			return nil
		}
		line = line[:0]
	}
}

func serveMetrics(ctx context.Context, h *logtower.Handler, logger logtower.ServiceLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/status", h.StatusHandler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", h.Conf.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Starting HTTP server", logtower.LogFields{"address": srv.Addr})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start HTTP server", err, logtower.LogFields{"address": srv.Addr})
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `logtower ships log lines to Amazon CloudWatch Logs.

Each non-empty line read from the given files, or from stdin when no file
is named, becomes one log event. Lines are batched per stream and sent in
the background; everything read is delivered before logtower exits on end
of input, SIGINT or SIGTERM.

Usage:
  logtower [flags] [file...]

Examples:
  # Ship a service's output
  my-service 2>&1 | logtower --group my-service --stream '{machine_name}/{strftime:%%Y-%%m-%%d}'

  # Use a configuration file and LocalStack
  logtower --config logtower.yaml --endpoint http://localhost:4566 app.log

Flags:
%s`, flagSet.FlagUsages())
}
