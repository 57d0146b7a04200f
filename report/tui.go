package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/digineo/go-ping/engine"
	"github.com/digineo/go-ping/host"
	"github.com/digineo/go-ping/icmpcodec"
	"github.com/digineo/go-ping/socketmux"
)

// TUI is a live dashboard Reporter: a single scrolling table showing
// every host the engine drives, fed by engine.Reporter callbacks, plus a
// log panel beneath it showing the most recent redirected package log
// lines.
type TUI struct {
	app     *tview.Application
	table   *tview.Table
	logView *tview.TextView
	hosts   []*host.Host
	history []*History
	logs    *LogCapture

	rowOf map[int]int
}

var _ engine.Reporter = (*TUI)(nil)

// NewTUI builds the dashboard for the given hosts, with historySize
// entries of rolling RTT history retained per host for the stddev/median
// columns. Log output from icmpcodec, socketmux and engine is redirected
// into a retained LogCapture for the duration of the dashboard, instead
// of going to the terminal and clobbering the live-redrawn table.
func NewTUI(hosts []*host.Host, historySize int) *TUI {
	logs := NewLogCapture(5)
	logger := NewLogger(logs)
	icmpcodec.SetLogger(logger)
	socketmux.SetLogger(logger)
	engine.SetLogger(logger)

	ui := &TUI{
		app:     tview.NewApplication(),
		table:   tview.NewTable().SetBorders(false).SetFixed(2, 0),
		logView: tview.NewTextView().SetDynamicColors(false).SetWrap(false),
		hosts:   hosts,
		history: make([]*History, len(hosts)),
		logs:    logs,
		rowOf:   make(map[int]int, len(hosts)),
	}

	ui.table.SetTitle(" fprobe (press [q] to exit) ")
	ui.logView.SetTitle(" log ").SetBorder(true)

	headers := []string{"host", "address", "sent", "loss", "last", "best", "worst", "mean", "stddev"}
	for c, label := range headers {
		align := tview.AlignRight
		if c < 2 {
			align = tview.AlignLeft
		}
		ui.table.SetCell(0, c, tview.NewTableCell(label).SetAlign(align))
	}

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			ui.app.Stop()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' {
				ui.app.Stop()
				return nil
			}
		}
		return event
	})

	for i, h := range hosts {
		ui.history[i] = NewHistory(historySize)
		ui.rowOf[h.Index] = i + 2

		row := i + 2
		ui.table.SetCell(row, 0, tview.NewTableCell(h.DisplayName).SetAlign(tview.AlignLeft))
		ui.table.SetCell(row, 1, tview.NewTableCell(h.Addr.IP.String()).SetAlign(tview.AlignLeft))
		for c := 2; c < len(headers); c++ {
			ui.table.SetCell(row, c, tview.NewTableCell("n/a").SetAlign(tview.AlignRight))
		}
	}

	return ui
}

// Run starts the tview event loop; it blocks until the user quits.
func (ui *TUI) Run() error {
	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.table, 0, 4, true).
		AddItem(ui.logView, 7, 0, false)
	ui.app.SetRoot(layout, true).SetFocus(ui.table)
	return ui.app.Run()
}

// Stop exits the tview event loop, e.g. after engine.Run returns.
func (ui *TUI) Stop() {
	ui.app.Stop()
}

// OnProbeResult implements engine.Reporter: it folds one outcome into
// that host's rolling History. The table itself is only redrawn on
// OnIntervalTick, decoupling redraw rate from probe rate.
func (ui *TUI) OnProbeResult(h *host.Host, pingIndex int, result engine.Result) {
	row, ok := ui.rowOf[h.Index]
	if !ok {
		return
	}
	hist := ui.history[row-2]

	switch result.Kind {
	case engine.ResultAlive:
		hist.AddResult(result.RTTNS, false)
	case engine.ResultTimeout, engine.ResultSendError:
		hist.AddResult(0, true)
	}
}

// OnIntervalTick redraws every row from its accumulated History and
// refreshes the log panel from the redirected LogCapture.
func (ui *TUI) OnIntervalTick(nowNS int64) {
	ui.logView.SetText(strings.Join(ui.logs.Messages(), "\n"))

	for i, h := range ui.hosts {
		m := ui.history[i].Compute()
		row := i + 2

		if m == nil {
			continue
		}

		lossPct := 0.0
		if m.PacketsSent > 0 {
			lossPct = 100 * float64(m.PacketsLost) / float64(m.PacketsSent)
		}

		hist := ui.history[i]
		hist.mu.RLock()
		last := hist.results[(hist.position+len(hist.results)-1)%len(hist.results)]
		hist.mu.RUnlock()
		lastText := "n/a"
		if !last.lost {
			lastText = ts(time.Duration(last.rttNS))
		}

		ui.table.GetCell(row, 2).SetText(fmt.Sprintf("%d", m.PacketsSent))
		ui.table.GetCell(row, 3).SetText(fmt.Sprintf("%0.2f%%", lossPct))
		ui.table.GetCell(row, 4).SetText(lastText)
		ui.table.GetCell(row, 5).SetText(ts(m.Best))
		ui.table.GetCell(row, 6).SetText(ts(m.Worst))
		ui.table.GetCell(row, 7).SetText(ts(m.Mean))
		ui.table.GetCell(row, 8).SetText(m.StdDev.String())
	}
	ui.app.Draw()
}

// OnFinish stops the dashboard once the engine loop exits.
func (ui *TUI) OnFinish(summary engine.Summary) {
	ui.app.Stop()
}

const tsDividend = float64(time.Millisecond) / float64(time.Nanosecond)

// ts formats a duration as milliseconds with two decimals for the common
// sub-second case, and the default String form otherwise.
func ts(dur time.Duration) string {
	if 10*time.Microsecond < dur && dur < time.Second {
		return fmt.Sprintf("%0.2fms", float64(dur.Nanoseconds())/tsDividend)
	}
	return dur.String()
}
