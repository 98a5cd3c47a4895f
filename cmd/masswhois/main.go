package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	mw "github.com/nkonev/masswhois"
)

type options struct {
	concurrency  int
	server       string
	ipVersion    string
	infile       string
	outfile      string
	noInferTypes bool
	noInferServers bool
	availability bool
	configFile   string
	dataDir      string
	logLevel     string
	metricsAddr  string
}

// fileConfig is the optional TOML overlay for options that are cumbersome
// to type every invocation on the command line.
type fileConfig struct {
	Concurrency  int    `toml:"concurrency"`
	Server       string `toml:"server"`
	IPVersion    string `toml:"ip_version"`
	DataDir      string `toml:"data_dir"`
	LogLevel     string `toml:"log_level"`
	MetricsAddr  string `toml:"metrics_addr"`
	Availability bool   `toml:"availability"`
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "masswhois [OPTIONS] [OBJECT]...",
		Short: "High-concurrency batch WHOIS client",
		Long: `High-concurrency batch WHOIS client.

Looks up domains, IP addresses and AS numbers against the appropriate
WHOIS server, following referrals across servers, with a fixed pool of
concurrent TCP conversations and a caching DNS resolver for server
hostnames that have no statically known address.`,
		Example:      `  masswhois -c 50 example.com 8.8.8.8 15169`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt, args)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opt.concurrency, "concurrency", "c", 5, "number of concurrent lookups")
	flags.StringVarP(&opt.server, "server", "s", "", "WHOIS server to use when inference is disabled or fails")
	flags.StringVar(&opt.ipVersion, "ip", "4", "IP version support: 4, 6, 4,6 or 6,4 (preferred family first)")
	flags.StringVarP(&opt.infile, "infile", "i", "-", "read queries from this file, one per line ('-' for stdin)")
	flags.StringVarP(&opt.outfile, "outfile", "o", "-", "write results to this file ('-' for stdout)")
	flags.BoolVar(&opt.noInferTypes, "no-infer-types", false, "do not infer whether a query is a domain, IP or AS number")
	flags.BoolVar(&opt.noInferServers, "no-infer-servers", false, "do not infer which server to query, always use --server")
	flags.BoolVar(&opt.availability, "availability", false, "classify and stop at availability instead of always chasing referrals")
	flags.StringVarP(&opt.configFile, "config", "f", "", "optional TOML file overlaying these flags")
	flags.StringVarP(&opt.dataDir, "data-dir", "d", "", "directory of routing data files overriding the built-in defaults")
	flags.StringVarP(&opt.logLevel, "log-level", "l", "warn", "log level: trace, debug, info, warn, error")
	flags.StringVar(&opt.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")

	if err := cmd.Execute(); err != nil {
		os.Exit(2)
	}
}

func run(opt options, args []string) error {
	if opt.configFile != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(opt.configFile, &fc); err != nil {
			return fmt.Errorf("reading config %s: %w", opt.configFile, err)
		}
		applyFileConfig(&opt, fc)
	}

	level, err := logrus.ParseLevel(opt.logLevel)
	if err != nil {
		return mw.ConfigError{Source: "--log-level", Detail: err.Error()}
	}
	mw.Log.SetLevel(level)

	ipConfig, err := mw.ParseIPPreference(opt.ipVersion)
	if err != nil {
		return err
	}

	var db *mw.QueryDatabase
	if opt.dataDir != "" {
		db, err = mw.LoadQueryDatabaseFromDir(opt.dataDir)
	} else {
		db, err = mw.LoadDefaultQueryDatabase()
	}
	if err != nil {
		return fmt.Errorf("loading routing data: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := mw.NewMetrics(reg)
	var metricsSrv *http.Server
	if opt.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: opt.metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				mw.Log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	resolver, err := mw.NewResolver(ipConfig, "/etc/resolv.conf", metrics)
	if err != nil {
		return fmt.Errorf("starting resolver: %w", err)
	}
	defer resolver.Close()

	supplier, closeSupplier, err := buildSupplier(opt, args)
	if err != nil {
		return err
	}
	defer closeSupplier()

	handler, closeHandler, err := buildHandler(opt)
	if err != nil {
		return err
	}
	defer closeHandler()

	dispatcher := mw.NewDispatcher(mw.DispatcherConfig{
		Concurrency:         opt.concurrency,
		IPConfig:            ipConfig,
		InferTypes:          !opt.noInferTypes,
		InferServers:        !opt.noInferServers,
		AvailabilityEnabled: opt.availability,
		ExplicitServer:      opt.server,
	}, db, resolver, supplier, handler, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		mw.Log.Info("shutting down")
		cancel()
	}()

	if err := dispatcher.Run(ctx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	if metricsSrv != nil {
		metricsSrv.Close()
	}
	return nil
}

func applyFileConfig(opt *options, fc fileConfig) {
	if fc.Concurrency > 0 {
		opt.concurrency = fc.Concurrency
	}
	if fc.Server != "" {
		opt.server = fc.Server
	}
	if fc.IPVersion != "" {
		opt.ipVersion = fc.IPVersion
	}
	if fc.DataDir != "" {
		opt.dataDir = fc.DataDir
	}
	if fc.LogLevel != "" {
		opt.logLevel = fc.LogLevel
	}
	if fc.MetricsAddr != "" {
		opt.metricsAddr = fc.MetricsAddr
	}
	if fc.Availability {
		opt.availability = true
	}
}

func buildSupplier(opt options, args []string) (mw.QuerySupplier, func(), error) {
	if len(args) > 0 {
		return mw.NewArgsQuerySupplier(args), func() {}, nil
	}

	if opt.infile == "" || opt.infile == "-" {
		return mw.NewLineQuerySupplier(os.Stdin), func() {}, nil
	}
	f, err := os.Open(opt.infile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", opt.infile, err)
	}
	return mw.NewLineQuerySupplier(f), func() { f.Close() }, nil
}

func buildHandler(opt options) (mw.Handler, func(), error) {
	var w io.Writer
	closeFn := func() {}
	isStdout := opt.outfile == "" || opt.outfile == "-"

	if isStdout {
		w = os.Stdout
	} else {
		f, err := os.Create(opt.outfile)
		if err != nil {
			return nil, nil, fmt.Errorf("creating %s: %w", opt.outfile, err)
		}
		w = f
		closeFn = func() { f.Close() }
	}

	// Writing binary framing to an interactive terminal is rarely what the
	// operator wants, so stdout defaults to the readable format; any real
	// output file gets the compact binary format.
	if isStdout {
		return mw.NewReadableHandler(w), closeFn, nil
	}
	return mw.NewBinaryHandler(w), closeFn, nil
}
