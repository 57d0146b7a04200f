// Package report implements the engine.Reporter consumers: a
// line-oriented default/quiet/verbose renderer in the style of fping's
// print_per_system_stats, a tview/tcell dashboard, and a cheggaaa/pb
// progress bar.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/digineo/go-ping/engine"
	"github.com/digineo/go-ping/host"
)

// Line is a synchronous, fping-style text Reporter. It writes
// probe-by-probe lines to Out (verbose/quiet control what gets
// written) and a final per-host summary line to Out at OnFinish.
type Line struct {
	Out     io.Writer
	Verbose bool
	Quiet   bool

	maxNameLen int
}

var _ engine.Reporter = (*Line)(nil)

// NewLine creates a Line reporter that pads host names to the longest
// name among hosts, as print_per_system_stats's "%-*s" does.
func NewLine(out io.Writer, hosts []*host.Host, verbose, quiet bool) *Line {
	l := &Line{Out: out, Verbose: verbose, Quiet: quiet}
	for _, h := range hosts {
		if n := len(h.DisplayName); n > l.maxNameLen {
			l.maxNameLen = n
		}
	}
	return l
}

// OnProbeResult implements engine.Reporter.
func (l *Line) OnProbeResult(h *host.Host, pingIndex int, result engine.Result) {
	if l.Quiet {
		return
	}

	switch result.Kind {
	case engine.ResultAlive:
		if l.Verbose {
			fmt.Fprintf(l.Out, "%s : [%d] %s\n", h.DisplayName, pingIndex, formatRTT(result.RTTNS))
		} else {
			fmt.Fprintf(l.Out, "%s is alive (%s)\n", h.DisplayName, formatRTT(result.RTTNS))
		}
	case engine.ResultTimeout:
		if l.Verbose {
			fmt.Fprintf(l.Out, "%s : [%d] timed out\n", h.DisplayName, pingIndex)
		} else if isLastAttempt(h) {
			fmt.Fprintf(l.Out, "%s is unreachable\n", h.DisplayName)
		}
	case engine.ResultSendError:
		fmt.Fprintf(l.Out, "%s : [%d] send failed\n", h.DisplayName, pingIndex)
	case engine.ResultDuplicate:
		if l.Verbose {
			fmt.Fprintf(l.Out, "%s : [%d] duplicate (%s)\n", h.DisplayName, pingIndex, formatRTT(result.RTTNS))
		}
	case engine.ResultOtherICMP:
		fmt.Fprintf(l.Out, "%s : [%d] %s from %s\n", h.DisplayName, pingIndex, result.OtherICMPKind, result.OtherICMPSource)
	}
}

// isLastAttempt reports whether h has exhausted its retry budget, so
// "is unreachable" prints exactly once per host (after its last retry).
// Ping index can't be used for this in default mode, where every retry
// reuses ping index 0; the completed-attempt count against the total
// number of trials tells us instead, and holds in count mode too.
func isLastAttempt(h *host.Host) bool {
	return len(h.RespTimes) > 0 && h.Sent >= int64(len(h.RespTimes))
}

// OnIntervalTick implements engine.Reporter. The line reporter prints
// nothing on interval ticks, so neither report_interval_ns nor a
// status-snapshot signal produces output with it.
func (l *Line) OnIntervalTick(nowNS int64) {}

// OnFinish prints the final per-host summary line, in the exact format
// of print_per_system_stats: "xmt/rcv/%loss = s/r/l%, min/avg/max = a/b/c"
// for the common case, or "%return" when the unique-reply count exceeds
// the send count.
func (l *Line) OnFinish(summary engine.Summary) {
	for _, h := range summary.Hosts {
		fmt.Fprintf(l.Out, "%-*s :", l.maxNameLen, h.DisplayName)

		sent, recv := h.Sent, h.RecvUnique
		if recv <= sent {
			lossPct := int64(0)
			if sent > 0 {
				lossPct = (sent - recv) * 100 / sent
			}
			fmt.Fprintf(l.Out, " xmt/rcv/%%loss = %d/%d/%d%%", sent, recv, lossPct)
		} else {
			returnPct := int64(0)
			if sent > 0 {
				returnPct = (recv * 100) / sent
			}
			fmt.Fprintf(l.Out, " xmt/rcv/%%return = %d/%d/%d%%", sent, recv, returnPct)
		}

		if recv > 0 {
			fmt.Fprintf(l.Out, ", min/avg/max = %s/%s/%s",
				formatRTT(h.MinRTTNS), formatRTT(h.MeanRTTNS()), formatRTT(h.MaxRTTNS))
		}

		fmt.Fprint(l.Out, "\n")
	}
}

// formatRTT renders a nanosecond duration the way fping's sprint_tm does:
// milliseconds with two decimal places.
func formatRTT(ns int64) string {
	return fmt.Sprintf("%.2f", float64(ns)/float64(time.Millisecond))
}
