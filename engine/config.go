package engine

// Mode selects how many probes a host receives and how its timeouts are
// handled.
type Mode int

const (
	// ModeDefault probes a host until a reply arrives or retries+1
	// timeouts occur, backing off current_timeout_ns on each retry.
	ModeDefault Mode = iota
	// ModeCount sends exactly Config.Count probes to each host.
	ModeCount
	// ModeLoop sends probes indefinitely until interrupted.
	ModeLoop
)

// Config collects every tunable option the engine accepts.
type Config struct {
	Mode Mode

	IntervalNS        int64 // minimum gap between any two sends (global)
	PerHostIntervalNS int64 // gap between successive sends to one host (count/loop)
	InitialTimeoutNS  int64 // per-host current_timeout_ns at start

	Retries       int     // default-mode retry limit (total attempts = retries+1)
	BackoffFactor float64 // multiplier on current_timeout_ns per retry, default mode only

	Count int // ModeCount: probes per host

	PayloadSize   uint16
	RandomPayload bool

	ICMPTimestamp bool // switch to ICMP Timestamp (type 13), v4 only
	CheckSource   bool // discard replies whose source != target

	ReportIntervalNS int64 // emit interval stats every this period

	MinReachable  int  // early-exit criteria
	FastReachable bool

	// RetentionSlackNS is added to the worst-case timeout when sizing
	// the seqmap's retention window, so a slot outlives the longest
	// plausible pending reply.
	RetentionSlackNS int64
}

// trials returns how many RespTimes slots a host needs under this mode,
// or 0 when trials are unbounded (loop mode never finishes counting).
func (c Config) trials() int {
	switch c.Mode {
	case ModeCount:
		return c.Count
	case ModeLoop:
		return 0
	default:
		return c.Retries + 1
	}
}

// slotCount returns the size of a host's preallocated event arenas.
func (c Config) slotCount() int {
	switch c.Mode {
	case ModeCount:
		if c.Count < 1 {
			return 1
		}
		return c.Count
	case ModeLoop:
		if c.PerHostIntervalNS <= 0 {
			return 1
		}
		n := 1 + int((c.InitialTimeoutNS+c.PerHostIntervalNS-1)/c.PerHostIntervalNS)
		if n < 1 {
			n = 1
		}
		return n
	default:
		return 1
	}
}
