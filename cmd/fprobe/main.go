// Command fprobe is a parallel ICMP reachability prober: given a set of
// host names, addresses, CIDR prefixes or address ranges, it sends ICMP
// Echo (or Timestamp) requests to every target and reports per-target
// and aggregate reachability/latency statistics. It is the CLI glue
// around package engine.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/digineo/go-ping/clock"
	"github.com/digineo/go-ping/engine"
	"github.com/digineo/go-ping/report"
	"github.com/digineo/go-ping/socketmux"
	"github.com/digineo/go-ping/target"
)

// Exit codes.
const (
	exitOK             = 0
	exitUnreachable    = 1
	exitResolveFailure = 2
	exitUsage          = 3
	exitSystemFailure  = 4
)

type options struct {
	mode  string // "default", "count", "loop"
	count int

	interval       time.Duration
	perHostPeriod  time.Duration
	timeout        time.Duration
	retries        int
	backoffFactor  float64
	reportInterval time.Duration

	payloadSize   uint
	randomPayload bool
	icmpTimestamp bool
	checkSource   bool

	ttl          int
	tos          int
	dontFragment bool
	fwmark       uint
	bindIface    string

	bind4, bind6 string
	ipv6         bool

	minReachable  int
	fastReachable bool

	generate   string
	targetFile string

	verbose bool
	quiet   bool
	tui     bool
	progress bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("fprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := options{
		interval:      10 * time.Millisecond,
		perHostPeriod: time.Second,
		timeout:       500 * time.Millisecond,
		retries:       3,
		backoffFactor: 1.5,
		bind4:         "0.0.0.0",
	}

	fs.StringVar(&opts.mode, "mode", "default", `probing mode: "default" (retry+backoff), "count" or "loop"`)
	fs.IntVar(&opts.count, "count", 1, "probes per target in count mode")
	fs.DurationVar(&opts.interval, "period", opts.interval, "minimum gap between any two sends")
	fs.DurationVar(&opts.perHostPeriod, "per-host-period", opts.perHostPeriod, "gap between successive sends to one target (count/loop)")
	fs.DurationVar(&opts.timeout, "timeout", opts.timeout, "per-probe initial timeout")
	fs.IntVar(&opts.retries, "retries", opts.retries, "default-mode retry limit")
	fs.Float64Var(&opts.backoffFactor, "backoff", opts.backoffFactor, "default-mode timeout backoff multiplier")
	fs.DurationVar(&opts.reportInterval, "report-interval", 0, "emit interval stats every this period (0 disables)")

	fs.UintVar(&opts.payloadSize, "size", 0, "ICMP payload size in bytes")
	fs.BoolVar(&opts.randomPayload, "random-payload", false, "fill the payload with random bytes")
	fs.BoolVar(&opts.icmpTimestamp, "icmp-timestamp", false, "use ICMP Timestamp requests instead of Echo (v4 only)")
	fs.BoolVar(&opts.checkSource, "check-source", false, "discard replies whose source address doesn't match the target")

	fs.IntVar(&opts.ttl, "ttl", 0, "outgoing IP TTL (0 = system default)")
	fs.IntVar(&opts.tos, "tos", 0, "outgoing IP TOS/traffic class")
	fs.BoolVar(&opts.dontFragment, "dont-fragment", false, "set the don't-fragment bit")
	fs.UintVar(&opts.fwmark, "fwmark", 0, "SO_MARK value to set on the socket")
	fs.StringVar(&opts.bindIface, "bind-iface", "", "bind the socket to this interface (SO_BINDTODEVICE)")

	fs.StringVar(&opts.bind4, "bind4", opts.bind4, "local IPv4 bind address")
	fs.StringVar(&opts.bind6, "bind6", "", "local IPv6 bind address")
	fs.BoolVar(&opts.ipv6, "6", false, "resolve targets as IPv6")

	fs.IntVar(&opts.minReachable, "min-reachable", 0, "number of distinct targets that must reply; with -fast-reachable, exit as soon as that many have")
	fs.BoolVar(&opts.fastReachable, "fast-reachable", false, "enable early exit once min-reachable is satisfied")

	fs.StringVar(&opts.generate, "generate", "", "CIDR prefix to expand into targets")
	fs.StringVar(&opts.targetFile, "file", "", "read target names from this file (\"-\" for stdin)")

	fs.BoolVar(&opts.verbose, "verbose", false, "print every probe outcome, not just summaries")
	fs.BoolVar(&opts.quiet, "quiet", false, "suppress per-probe output; summaries only")
	fs.BoolVar(&opts.tui, "tui", false, "show a live dashboard instead of line-oriented output")
	fs.BoolVar(&opts.progress, "progress", false, "show a progress bar instead of per-probe output")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	names, err := collectNames(fs.Args(), opts)
	if err != nil {
		fmt.Fprintln(stderr, "fprobe:", err)
		return exitUsage
	}
	if len(names) == 0 {
		fmt.Fprintln(stderr, "fprobe: no targets given")
		return exitUsage
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		fmt.Fprintln(stderr, "fprobe:", err)
		return exitUsage
	}

	network := "ip4"
	bind4, bind6 := opts.bind4, ""
	if opts.ipv6 {
		network = "ip6"
		bind4, bind6 = "", orDefault(opts.bind6, "::")
	} else if opts.bind6 != "" {
		bind6 = opts.bind6
	}

	sock, err := socketmux.Open(bind4, bind6)
	if err != nil {
		fmt.Fprintln(stderr, "fprobe: opening socket:", err)
		return exitSystemFailure
	}
	defer sock.Close()

	if so, ok := interface{}(sock).(interface{ SetOption(socketmux.Option) error }); ok {
		opt := socketmux.Option{BindIface: opts.bindIface}
		if opts.ttl > 0 {
			opt.TTL = &opts.ttl
		}
		if opts.tos > 0 {
			opt.TOS = &opts.tos
		}
		if opts.dontFragment {
			v := true
			opt.DontFragment = &v
		}
		if opts.fwmark > 0 {
			m := uint32(opts.fwmark)
			opt.FWMark = &m
		}
		if err := so.SetOption(opt); err != nil {
			fmt.Fprintln(stderr, "fprobe: applying socket options:", err)
			if opts.bindIface != "" {
				return exitUnreachable
			}
			return exitUsage
		}
	}

	resolver := target.NewResolver(network)
	noAddress := 0
	targets := target.Resolve(names, resolver, func(name string, err error) {
		noAddress++
		fmt.Fprintf(stderr, "fprobe: %s: %v\n", name, err)
	})

	interruptCh := make(chan os.Signal, 1)
	quitCh := make(chan os.Signal, 1)
	signal.Notify(interruptCh, os.Interrupt, syscall.SIGTERM)
	signal.Notify(quitCh, syscall.SIGQUIT)

	e := engine.New(cfg, clock.Monotonic{}, sock, nil)
	for i := 0; i < noAddress; i++ {
		e.AddUnresolved()
	}
	for _, tg := range targets {
		e.AddHost(tg.Name, tg.Addr)
	}

	go func() {
		for range interruptCh {
			e.RequestFinish()
		}
	}()
	go func() {
		for range quitCh {
			e.RequestStatusSnapshot()
		}
	}()

	rep := buildReporter(opts, e, stdout)
	e.SetReporter(rep)

	summary := e.Run()

	switch {
	case noAddress > 0:
		return exitResolveFailure
	case cfg.MinReachable > 0 && !summary.ReachableMet:
		return exitUnreachable
	case summary.Unreachable > 0:
		return exitUnreachable
	default:
		return exitOK
	}
}

// collectNames merges positional host arguments with -generate and
// -file expansions into one stream of target names.
func collectNames(positional []string, opts options) ([]string, error) {
	names := append([]string(nil), positional...)

	if opts.generate != "" {
		expanded, err := expandGenerate(opts.generate)
		if err != nil {
			return nil, err
		}
		names = append(names, expanded...)
	}

	if opts.targetFile != "" {
		fileNames, err := target.ReadNamesFile(opts.targetFile)
		if err != nil {
			return nil, err
		}
		names = append(names, fileNames...)
	}

	return names, nil
}

func expandGenerate(expr string) ([]string, error) {
	var ips []net.IP
	var err error

	if _, _, cidrErr := net.ParseCIDR(expr); cidrErr == nil {
		ips, err = target.ExpandCIDR(expr)
	} else {
		return nil, fmt.Errorf("generate: %q is not a CIDR prefix", expr)
	}
	if err != nil {
		return nil, err
	}

	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = ip.String()
	}
	return out, nil
}

func buildConfig(opts options) (engine.Config, error) {
	cfg := engine.Config{
		IntervalNS:        opts.interval.Nanoseconds(),
		PerHostIntervalNS: opts.perHostPeriod.Nanoseconds(),
		InitialTimeoutNS:  opts.timeout.Nanoseconds(),
		Retries:           opts.retries,
		BackoffFactor:     opts.backoffFactor,
		Count:             opts.count,
		PayloadSize:       uint16(opts.payloadSize),
		RandomPayload:     opts.randomPayload,
		ICMPTimestamp:     opts.icmpTimestamp,
		CheckSource:       opts.checkSource,
		ReportIntervalNS:  opts.reportInterval.Nanoseconds(),
		MinReachable:      opts.minReachable,
		FastReachable:     opts.fastReachable,
		RetentionSlackNS:  int64(time.Second),
	}

	switch opts.mode {
	case "default":
		cfg.Mode = engine.ModeDefault
	case "count":
		cfg.Mode = engine.ModeCount
	case "loop":
		cfg.Mode = engine.ModeLoop
	default:
		return cfg, fmt.Errorf("unknown -mode %q", opts.mode)
	}

	if opts.payloadSize > 65507 {
		return cfg, fmt.Errorf("-size exceeds the 65507 byte maximum")
	}
	if opts.backoffFactor < 1.0 || opts.backoffFactor > 5.0 {
		return cfg, fmt.Errorf("-backoff must be between 1.0 and 5.0")
	}

	return cfg, nil
}

func buildReporter(opts options, e *engine.Engine, stdout *os.File) engine.Reporter {
	switch {
	case opts.tui:
		ui := report.NewTUI(e.Hosts(), 64)
		go func() {
			if err := ui.Run(); err != nil {
				log.Printf("tui: %v", err)
			}
		}()
		return ui
	case opts.progress:
		total := len(e.Hosts())
		if opts.mode == "count" {
			total *= opts.count
		}
		return report.NewProgress(total)
	default:
		return report.NewLine(stdout, e.Hosts(), opts.verbose, opts.quiet)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
