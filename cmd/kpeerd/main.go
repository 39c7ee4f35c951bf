package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/pion/logging"

	"github.com/stn81/kpeer"
)

// Version of the binary, set by the build.
var Version string = "dev"

// Options contains the flag options
type Options struct {
	Verbose   []bool `short:"v" long:"verbose" description:"Show verbose logging."`
	Version   bool   `long:"version" description:"Print version and exit."`
	Config    string `short:"c" long:"config" description:"Path to a TOML config file."`
	Transport string `long:"transport" description:"Transport to use, overrides the config." choice:"tcp" choice:"ws" choice:"gorilla"`

	Serve struct {
		Addr string `long:"addr" description:"Address to listen on, overrides the config."`
	} `command:"serve" description:"Accept peers and answer their pings."`

	Ping struct {
		Count    int           `short:"n" long:"count" description:"Number of pings to send." default:"4"`
		Parallel int           `short:"p" long:"parallel" description:"Number of concurrent peers." default:"1"`
		Timeout  time.Duration `long:"timeout" description:"Per ping timeout, overrides the config."`
		Notice   string        `long:"notice" description:"Text sent to the server before pinging."`
		Args     struct {
			Addr string `positional-arg-name:"addr" description:"Address of the kpeerd server."`
		} `positional-args:"yes"`
	} `command:"ping" description:"Ping a kpeerd server."`
}

func exit(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

func loggerFactory(verbosity int) logging.LoggerFactory {
	levels := []logging.LogLevel{
		logging.LogLevelWarn,
		logging.LogLevelInfo,
		logging.LogLevelDebug,
		logging.LogLevelTrace,
	}
	if verbosity >= len(levels) {
		verbosity = len(levels) - 1
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = levels[verbosity]
	return lf
}

func main() {
	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	parser.SubcommandsOptional = true
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		exit(1, "")
	}

	if options.Version {
		fmt.Println(Version)
		return
	}
	if parser.Active == nil {
		parser.WriteHelp(os.Stderr)
		exit(1, "\nmissing command\n")
	}

	conf := defaultPeerConfig()
	if options.Config != "" {
		var err error
		if conf, err = loadPeerConfig(options.Config); err != nil {
			exit(2, "%s\n", err)
		}
	}
	if options.Transport != "" {
		conf.Transport = options.Transport
	}

	lf := loggerFactory(len(options.Verbose))
	log := lf.NewLogger("kpeerd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch parser.Active.Name {
	case "serve":
		if options.Serve.Addr != "" {
			conf.Addr = options.Serve.Addr
		}
		err = serve(ctx, conf, lf)
	case "ping":
		opts := pingOptions{
			Addr:     options.Ping.Args.Addr,
			Count:    options.Ping.Count,
			Parallel: options.Ping.Parallel,
			Notice:   options.Ping.Notice,
		}
		if opts.Addr == "" {
			opts.Addr = conf.Addr
		}
		if options.Ping.Timeout > 0 {
			conf.CallTimeout = options.Ping.Timeout
		}
		err = ping(ctx, conf, opts, lf)
	}
	if err != nil {
		log.Errorf("%s failed: %v", parser.Active.Name, err)
		stop()
		exit(3, "")
	}
}

func serve(ctx context.Context, conf peerConfig, lf logging.LoggerFactory) error {
	srv, err := newServer(ctx, conf, lf)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	lf.NewLogger("kpeerd").Infof("serving %s on %s", conf.Transport, conf.Addr)
	if err = srv.ListenAndServe(conf.Addr); errors.Is(err, kpeer.ErrServerClosed) {
		return nil
	}
	return err
}

func ping(ctx context.Context, conf peerConfig, opts pingOptions, lf logging.LoggerFactory) error {
	rtts, err := runPing(ctx, conf, opts, lf)
	for i, rtt := range rtts {
		fmt.Printf("reply %d from %s: time=%v\n", i+1, opts.Addr, rtt)
	}
	fmt.Printf("%d/%d replies\n", len(rtts), opts.Count)
	return err
}
