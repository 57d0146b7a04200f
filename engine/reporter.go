package engine

import "github.com/digineo/go-ping/host"

// ResultKind classifies one resolved probe for the Reporter.
type ResultKind int

const (
	ResultAlive ResultKind = iota
	ResultTimeout
	ResultSendError
	ResultDuplicate
	ResultOtherICMP
)

// Result is the outcome handed to Reporter.OnProbeResult.
type Result struct {
	Kind ResultKind

	RTTNS int64 // valid for ResultAlive/ResultDuplicate

	// OtherICMPKind and OtherICMPSource are valid for ResultOtherICMP.
	OtherICMPKind   string
	OtherICMPSource string

	// Timestamp fields, valid for ResultAlive when the probe used
	// Config.ICMPTimestamp.
	Originate, Receive, Transmit uint32
}

// Summary is handed to Reporter.OnFinish once the loop exits.
type Summary struct {
	Hosts         []*host.Host
	Unreachable   int
	NoAddress     int
	MinReachable  int
	ReachableMet  bool
}

// Reporter consumes probe-result, interval-tick and finish callbacks.
// Rendering (line-oriented, TUI, progress bar, ...) lives entirely
// outside the engine, in package report.
type Reporter interface {
	OnProbeResult(h *host.Host, pingIndex int, result Result)
	OnIntervalTick(nowNS int64)
	OnFinish(summary Summary)
}

// NopReporter discards every callback; useful as an embeddable default
// and in tests that only care about the engine's Host state afterward.
type NopReporter struct{}

func (NopReporter) OnProbeResult(*host.Host, int, Result) {}
func (NopReporter) OnIntervalTick(int64)                  {}
func (NopReporter) OnFinish(Summary)                      {}
