// Package engine implements the probing engine: the event-driven
// send/receive loop, per-host retransmission and timeout state machine,
// sequence-to-host correlation, and interval/period/timeout scheduling.
// It is the core this whole repository exists to build; every other
// package here is a leaf it depends on or a collaborator it reports
// through.
package engine

import (
	"net"
	"os"
	"sync/atomic"

	"github.com/digineo/go-logwrap"
	"github.com/digineo/go-ping/clock"
	"github.com/digineo/go-ping/host"
	"github.com/digineo/go-ping/icmpcodec"
	"github.com/digineo/go-ping/queue"
	"github.com/digineo/go-ping/seqmap"
	"github.com/digineo/go-ping/socketmux"
)

var log = &logwrap.Instance{}

// SetLogger allows updating the Logger. For details, see
// "github.com/digineo/go-logwrap".Instance.SetLogger.
var SetLogger = log.SetLogger

// Socket is the narrow transmit/receive capability the engine needs;
// *socketmux.Mux satisfies it. Defined as an interface here so tests can
// substitute a fake.
type Socket interface {
	SendTo(addr *net.IPAddr, packet []byte) error
	Wait(nowNS, deadlineNS int64) (socketmux.Datagram, socketmux.Status, error)
}

// Engine drives the single-threaded, cooperative main loop. All state is
// owned by the loop; the only thread-safe surface is the pair of atomic
// flags signal handlers may set.
type Engine struct {
	cfg   Config
	clock clock.Source
	sock  Socket
	rep   Reporter

	id  uint16
	seq *seqmap.Map

	pingQ, timeoutQ queue.Queue
	hosts           []*host.Host

	lastSendNS   int64
	nextReportNS int64

	finishRequested atomic.Bool
	statusSnapshot  atomic.Bool

	noAddress    int
	reachableSet map[int]bool
}

// New creates an Engine. clk is typically clock.Monotonic{}; tests pass
// a *clock.Fake instead. sock is typically a *socketmux.Mux.
func New(cfg Config, clk clock.Source, sock Socket, rep Reporter) *Engine {
	if rep == nil {
		rep = NopReporter{}
	}

	retention := cfg.InitialTimeoutNS*4 + cfg.RetentionSlackNS
	if retention <= 0 {
		retention = 1
	}

	// Size the seqmap for the worst case of one send every IntervalNS
	// outstanding for the retention window, rounded up to a power of
	// two: it must exceed the maximum product of send rate and max
	// timeout, or in-flight probes alias each other before they're
	// answered.
	size := 1024
	if cfg.IntervalNS > 0 {
		size = int(retention/cfg.IntervalNS) + 16
	}

	return &Engine{
		cfg:          cfg,
		clock:        clk,
		sock:         sock,
		rep:          rep,
		id:           uint16(os.Getpid()),
		seq:          seqmap.New(size, retention),
		reachableSet: make(map[int]bool),
	}
}

// AddHost ingests one target, allocating its event arenas and
// scheduling its first send event at the current time with ping index
// 0.
func (e *Engine) AddHost(displayName string, addr net.IPAddr) *host.Host {
	idx := len(e.hosts)
	h := host.New(idx, displayName, addr, e.cfg.InitialTimeoutNS, e.cfg.slotCount(), e.cfg.trials())

	size := e.cfg.PayloadSize
	if size == 0 && !e.cfg.ICMPTimestamp {
		size = icmpcodec.DefaultPayloadSize
	}
	h.Payload.Resize(size)
	if e.cfg.RandomPayload {
		h.Payload.Randomize()
	}

	e.hosts = append(e.hosts, h)

	ev := h.SendEvent(0)
	ev.TimeNS = e.clock.Now()
	e.pingQ.Enqueue(ev)

	return h
}

// AddUnresolved counts a target that failed DNS resolution toward the
// unresolved-address total. It does not create a Host.
func (e *Engine) AddUnresolved() {
	e.noAddress++
}

// RequestFinish is the async-signal-safe handler for SIGINT: it only
// stores an atomic flag, checked once per loop iteration.
func (e *Engine) RequestFinish() {
	e.finishRequested.Store(true)
}

// RequestStatusSnapshot is the async-signal-safe handler for SIGQUIT.
func (e *Engine) RequestStatusSnapshot() {
	e.statusSnapshot.Store(true)
}

// Hosts returns the host table in ingestion order.
func (e *Engine) Hosts() []*host.Host {
	return e.hosts
}

// SetReporter replaces the engine's Reporter. Callers typically build
// the Reporter after AddHost has populated the host table (e.g. a TUI
// sized to the final host count), so this is a separate step from New.
func (e *Engine) SetReporter(rep Reporter) {
	if rep == nil {
		rep = NopReporter{}
	}
	e.rep = rep
}

// Run drives the main loop until both queues are empty or
// finishRequested is set, then returns the final Summary.
func (e *Engine) Run() Summary {
	if e.cfg.ReportIntervalNS > 0 {
		e.nextReportNS = e.clock.Now() + e.cfg.ReportIntervalNS
	}

	for {
		now := e.clock.Now()

		if t, ok := e.timeoutQ.PeekHeadTime(); ok && t <= now {
			ev := e.timeoutQ.DequeueHead()
			e.handleTimeout(ev, now)
			continue
		}

		if t, ok := e.pingQ.PeekHeadTime(); ok && t <= now {
			if now-e.lastSendNS >= e.cfg.IntervalNS {
				ev := e.pingQ.DequeueHead()
				e.handleSend(ev, now)
			}
		}

		waitNS, runnable := e.computeWait(now)
		if !runnable {
			break
		}
		if e.finishRequested.Load() {
			break
		}
		if waitNS < 0 {
			waitNS = 0
		}

		dg, status, err := e.sock.Wait(now, now+waitNS)
		if err != nil {
			log.Errorf("socket wait failed: %v", err)
		} else if status == socketmux.Ready {
			e.handleDatagram(dg)
			for {
				n := e.clock.Now()
				dg2, st2, err2 := e.sock.Wait(n, n)
				if err2 != nil || st2 != socketmux.Ready {
					break
				}
				e.handleDatagram(dg2)
			}
		}

		if e.statusSnapshot.Swap(false) {
			e.rep.OnIntervalTick(e.clock.Now())
		}
		if e.finishRequested.Load() {
			break
		}

		if e.cfg.ReportIntervalNS > 0 {
			now = e.clock.Now()
			if now >= e.nextReportNS {
				e.rep.OnIntervalTick(now)
				for now >= e.nextReportNS {
					e.nextReportNS += e.cfg.ReportIntervalNS
				}
				for _, h := range e.hosts {
					h.ResetInterval()
				}
			}
		}
	}

	return e.buildSummary()
}

// computeWait determines how long the loop may block on the socket: the
// wait is clamped so the loop wakes precisely when the next send
// becomes legal, and both queues empty means nothing is left to do.
func (e *Engine) computeWait(now int64) (int64, bool) {
	haveDeadline := false
	var wait int64

	if t, ok := e.pingQ.PeekHeadTime(); ok {
		w := t - now
		if w < 0 {
			w = 0
		}
		if w < e.cfg.IntervalNS {
			shortfall := e.cfg.IntervalNS - (now - e.lastSendNS)
			if shortfall > w {
				w = shortfall
			}
		}
		wait, haveDeadline = w, true
	}

	if t, ok := e.timeoutQ.PeekHeadTime(); ok {
		w := t - now
		if w < 0 {
			w = 0
		}
		if !haveDeadline || w < wait {
			wait, haveDeadline = w, true
		}
	}

	if e.cfg.ReportIntervalNS > 0 {
		w := e.nextReportNS - now
		if !haveDeadline || w < wait {
			wait, haveDeadline = w, true
		}
	}

	if !haveDeadline {
		return 0, false
	}
	return wait, true
}

// handleSend transmits the due probe and, in count/loop mode, schedules
// the host's next send.
func (e *Engine) handleSend(ev *queue.Event, now int64) {
	h := e.hosts[ev.HostIndex]
	idx := ev.PingIndex

	e.send(h, idx, now)

	if e.cfg.Mode == ModeLoop || (e.cfg.Mode == ModeCount && idx+1 < e.cfg.Count) {
		next := h.SendEvent(idx + 1)
		if next.Queued() {
			return // a failed send already scheduled it
		}
		next.TimeNS = ev.TimeNS + e.cfg.PerHostIntervalNS
		e.pingQ.Enqueue(next)
	}
}

// send transmits one probe and schedules its timeout event.
func (e *Engine) send(h *host.Host, idx int, now int64) {
	seq := e.seq.Add(h.Index, idx, now)
	h.SetSeq(idx, seq)

	kind := icmpcodec.KindEcho
	if e.cfg.ICMPTimestamp {
		kind = icmpcodec.KindTimestamp
	}

	packet, err := icmpcodec.EncodeRequest(kind, h.IsV4, e.id, seq, h.Payload)
	if err != nil {
		log.Errorf("%s: encode failed: %v", h.DisplayName, err)
		h.Sent++
		h.IntervalSent++
		h.SetOutcome(idx, host.Error)
		e.rep.OnProbeResult(h, idx, Result{Kind: ResultSendError})
		if e.cfg.Mode != ModeDefault {
			e.scheduleNextCountOrLoopOnError(h, idx, now)
		}
		return
	}

	if err := e.sock.SendTo(&h.Addr, packet); err != nil {
		if !isHostDown(err) {
			log.Errorf("%s: send failed: %v", h.DisplayName, err)
			h.Sent++
			h.IntervalSent++
			h.SetOutcome(idx, host.Error)
			e.rep.OnProbeResult(h, idx, Result{Kind: ResultSendError})
		}
		if e.cfg.Mode != ModeDefault {
			e.scheduleNextCountOrLoopOnError(h, idx, now)
		}
		e.lastSendNS = now
		h.LastSendNS = now
		return
	}

	tev := h.TimeoutEvent(idx)
	tev.TimeNS = now + h.CurrentTimeoutNS
	e.timeoutQ.Enqueue(tev)
	h.SetOutcome(idx, host.Waiting)

	e.lastSendNS = now
	h.LastSendNS = now
}

// scheduleNextCountOrLoopOnError keeps count/loop mode's per-host cadence
// alive even when one send() call failed.
func (e *Engine) scheduleNextCountOrLoopOnError(h *host.Host, idx int, now int64) {
	if e.cfg.Mode == ModeLoop || (e.cfg.Mode == ModeCount && idx+1 < e.cfg.Count) {
		next := h.SendEvent(idx + 1)
		next.TimeNS = now + e.cfg.PerHostIntervalNS
		e.pingQ.Enqueue(next)
	}
}

func isHostDown(err error) bool {
	// EHOSTDOWN/ENETUNREACH-class errors are sometimes treated as
	// benign by fping-style tools; Go's net.OpError does not expose the
	// errno portably, so conservatively treat nothing as host-down here
	// and always surface the failure.
	return false
}

// handleTimeout fires when a probe's timeout deadline elapses with no
// reply: it clears the correlation entry and, in default mode, retries
// with a backed-off timeout until the retry budget is exhausted.
func (e *Engine) handleTimeout(ev *queue.Event, now int64) {
	h := e.hosts[ev.HostIndex]
	idx := ev.PingIndex

	e.seq.Clear(h.Seq(idx))

	h.Sent++
	h.IntervalSent++
	h.SetOutcome(idx, host.Timeout)
	e.rep.OnProbeResult(h, idx, Result{Kind: ResultTimeout})

	if e.cfg.Mode == ModeDefault && h.Sent < int64(e.cfg.Retries+1) {
		h.CurrentTimeoutNS = int64(float64(h.CurrentTimeoutNS) * e.cfg.BackoffFactor)
		e.send(h, idx, now)
	}
}

// handleDatagram decodes one received datagram and correlates it back
// to the probe that caused it.
func (e *Engine) handleDatagram(dg socketmux.Datagram) {
	var decoded icmpcodec.Decoded
	var err error

	kind := icmpcodec.KindEcho
	if e.cfg.ICMPTimestamp {
		kind = icmpcodec.KindTimestamp
	}

	if dg.Proto == icmpcodec.ProtocolICMP {
		decoded, err = icmpcodec.DecodeV4(dg.Data, kind)
	} else {
		decoded, err = icmpcodec.DecodeV6(dg.Data)
	}
	if err != nil {
		log.Infof("discarding unparseable datagram from %v: %v", dg.Src, err)
		return
	}

	if decoded.ID != e.id {
		return // unmatched id: discard silently
	}

	entry, ok := e.seq.Fetch(decoded.Seq, dg.RecvTS)
	if !ok {
		return // unknown/expired seq: discard silently
	}

	h := e.hosts[entry.HostIndex]
	idx := entry.PingIndex

	if e.cfg.CheckSource && !h.Addr.IP.Equal(addrIP(dg.Src)) {
		return
	}

	if decoded.Class == icmpcodec.ClassOtherICMP {
		h.OtherICMP++
		e.rep.OnProbeResult(h, idx, Result{
			Kind:            ResultOtherICMP,
			OtherICMPKind:   decoded.OtherICMPType,
			OtherICMPSource: addrString(dg.Src),
		})
		// The outstanding probe is left pending; it is allowed to time
		// out normally.
		return
	}

	rtt := entry.RTT(dg.RecvTS)
	if rtt > h.CurrentTimeoutNS {
		return // late reply: discard silently
	}

	if h.Outcome(idx).IsRTT() {
		// duplicate: a finite RTT is already recorded for this index
		h.RecordDuplicate()
		e.rep.OnProbeResult(h, idx, Result{Kind: ResultDuplicate, RTTNS: rtt})
		return
	}

	e.timeoutQ.Remove(h.TimeoutEvent(idx))
	// The seqmap slot is deliberately left valid so a later duplicate
	// reply still Fetches it instead of being dropped as an unknown
	// sequence number; it ages out on its own via the retention window.

	h.Sent++
	h.IntervalSent++
	h.RecordReply(rtt)
	h.SetOutcome(idx, host.Outcome(rtt))

	e.rep.OnProbeResult(h, idx, Result{
		Kind:      ResultAlive,
		RTTNS:     rtt,
		Originate: decoded.Originate,
		Receive:   decoded.Receive,
		Transmit:  decoded.Transmit,
	})

	e.checkFastReachable(h)
}

func (e *Engine) checkFastReachable(h *host.Host) {
	if e.cfg.MinReachable == 0 || !e.cfg.FastReachable {
		return
	}
	if h.RecvUnique != 1 {
		return // only the first reply for this host marks it newly reachable
	}
	if e.reachableSet[h.Index] {
		return
	}
	e.reachableSet[h.Index] = true
	if len(e.reachableSet) >= e.cfg.MinReachable {
		e.finishRequested.Store(true)
	}
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPAddr:
		return v.IP
	case *net.UDPAddr:
		return v.IP
	default:
		return nil
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func (e *Engine) buildSummary() Summary {
	unreachable := 0
	for _, h := range e.hosts {
		if !h.HasReceived() {
			unreachable++
		}
	}

	reachable := len(e.hosts) - unreachable
	summary := Summary{
		Hosts:        e.hosts,
		Unreachable:  unreachable,
		NoAddress:    e.noAddress,
		MinReachable: e.cfg.MinReachable,
		ReachableMet: e.cfg.MinReachable > 0 && reachable >= e.cfg.MinReachable,
	}
	e.rep.OnFinish(summary)
	return summary
}
