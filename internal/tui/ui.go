package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/streamsup/internal/cliutil"
	"github.com/Paintersrp/streamsup/internal/events"
)

const (
	tableTitle          = "Members"
	logsTitle           = "Logs"
	filterPageName      = "filter"
	errorPageName       = "error"
	defaultLogRetention = 500
	maxMessageWidth     = 80
)

var columns = []string{"MEMBER", "STATE", "ALIVE", "GEN", "RESTARTS", "AGE", "MESSAGE"}

const (
	colName = iota
	colState
	colAlive
)

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxLogs sets the maximum number of log entries retained for each member.
func WithMaxLogs(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxLogs = n
		}
	}
}

// WithRestart binds the 'r' key to restarting the selected member.
func WithRestart(fn func(member string) error) Option {
	return func(u *UI) {
		u.restart = fn
	}
}

// UI is an interactive dashboard over the runner event stream.
type UI struct {
	app    *tview.Application
	pages  *tview.Pages
	table  *tview.Table
	logs   *tview.TextView
	events chan events.Event

	members map[string]*memberState
	restart func(string) error

	visible     []string
	selected    string
	logsJSON    bool
	filter      string
	filterExpr  *regexp.Regexp
	logsFocused bool
	maxLogs     int

	mu sync.RWMutex

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type memberState struct {
	name       string
	firstSeen  time.Time
	lastEvent  time.Time
	state      events.Type
	alive      bool
	generation int
	restarts   int
	message    string

	logs []cliutil.LogRecord
}

// New constructs a UI configured with the supplied options.
func New(opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	logs := tview.NewTextView().SetDynamicColors(false).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 1, true).
		AddItem(logs, 0, 3, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:     app,
		pages:   pages,
		table:   table,
		logs:    logs,
		events:  make(chan events.Event, 256),
		members: make(map[string]*memberState),
		maxLogs: defaultLogRetention,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectionChangedFunc(ui.selectionChanged)

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	return ui
}

// EventSink exposes the channel where runner events should be delivered.
func (u *UI) EventSink() chan<- events.Event {
	return u.events
}

// CloseEvents releases the event channel, allowing internal goroutines to exit cleanly.
func (u *UI) CloseEvents() {
	u.closeOnce.Do(func() {
		close(u.events)
	})
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the tview application and processes incoming events until Stop
// is invoked or ctx is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()
	release := context.AfterFunc(ctx, u.Stop)
	defer release()

	select {
	case <-u.done:
		return nil
	default:
	}
	err := u.app.Run()
	cancel()
	u.wg.Wait()
	u.Stop()
	return err
}

// Stop terminates the application loop. It is safe to call more than once.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-u.events:
			if !ok {
				return
			}
			u.applyEvent(evt)
			u.queueRefresh(true)
		case <-ticker.C:
			u.queueRefresh(false)
		}
	}
}

// handleKey only acts while the table or log pane has focus so overlays keep
// their own keys.
func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	focus := u.app.GetFocus()
	if focus != nil && focus != u.table && focus != u.logs {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'j', 'J':
			u.toggleJSON()
			return nil
		case 'r', 'R':
			u.restartSelected()
			return nil
		}
	}
	return event
}

func (u *UI) toggleFocus() {
	if u.logsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.logs)
	}
	u.logsFocused = !u.logsFocused
}

func (u *UI) toggleJSON() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.logsJSON = !u.logsJSON
	u.renderLogsLocked()
}

func (u *UI) restartSelected() {
	u.mu.RLock()
	name := u.selected
	u.mu.RUnlock()
	if u.restart == nil || name == "" {
		return
	}
	go func() {
		if err := u.restart(name); err != nil {
			u.app.QueueUpdateDraw(func() {
				u.showErrorModal(fmt.Sprintf("Restart %s failed: %v", name, err))
			})
		}
	}()
}

// showFilterPrompt opens a one line regex prompt over the dashboard. Enter
// applies, Escape dismisses.
func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel(" filter /").
		SetText(current)
	input.SetBorder(true).SetTitle("Filter members (regex)")
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			u.applyFilter(input.GetText())
		}
		u.pages.RemovePage(filterPageName)
		u.app.SetFocus(u.table)
	})

	overlay := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(input, 3, 0, true)
	u.pages.AddPage(filterPageName, overlay, true, true)
	u.app.SetFocus(input)
}

// applyFilter runs on the application goroutine, so it redraws in place
// rather than queueing.
func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	var re *regexp.Regexp
	if expr != "" {
		var err error
		re, err = regexp.Compile(expr)
		if err != nil {
			u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
			return
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.filter = expr
	u.filterExpr = re
	u.refreshTableLocked()
	u.renderLogsLocked()
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) {
			u.pages.RemovePage(errorPageName)
			u.app.SetFocus(u.table)
		})
	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(errorPageName, modal, true, true)
	u.app.SetFocus(modal)
}

func (u *UI) applyEvent(evt events.Event) {
	if evt.Member == "" {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	state := u.members[evt.Member]
	if state == nil {
		state = &memberState{name: evt.Member, firstSeen: evt.Timestamp}
		u.members[evt.Member] = state
	}
	state.lastEvent = evt.Timestamp

	if evt.Type == events.TypeLog {
		state.logs = append(state.logs, cliutil.NewLogRecord(evt))
		if len(state.logs) > u.maxLogs {
			trim := len(state.logs) - u.maxLogs
			state.logs = append([]cliutil.LogRecord(nil), state.logs[trim:]...)
		}
		return
	}

	if evt.Type == events.TypeWriteError {
		// Write failures repeat per chunk; they only refresh the message.
		state.message = formatEventMessage(evt)
		return
	}

	state.state = evt.Type
	if evt.Generation > state.generation {
		state.generation = evt.Generation
	}
	switch evt.Type {
	case events.TypeStarted:
		state.alive = true
	case events.TypeExited, events.TypeStopped, events.TypeLaunchFailed:
		state.alive = false
	case events.TypeRestarting:
		state.restarts++
	}
	state.message = formatEventMessage(evt)
}

func (u *UI) queueRefresh(updateLogs bool) {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if updateLogs {
			u.renderLogsLocked()
		}
	})
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()
	for col, header := range columns {
		u.table.SetCell(0, col, tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	u.visible = u.visible[:0]
	for name := range u.members {
		if u.filterExpr == nil || u.filterExpr.MatchString(name) {
			u.visible = append(u.visible, name)
		}
	}
	sort.Strings(u.visible)

	title := tableTitle
	if u.filter != "" {
		title += " /" + u.filter + "/"
	}
	u.table.SetTitle(title)

	now := time.Now()
	for i, name := range u.visible {
		state := u.members[name]
		for col, value := range state.row(now) {
			cell := tview.NewTableCell(value)
			switch {
			case col == colName:
				cell.SetReference(name)
			case col == colAlive && !state.alive:
				cell.SetTextColor(tcell.ColorRed)
			}
			u.table.SetCell(i+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
}

// row renders the table columns for one member.
func (m *memberState) row(now time.Time) []string {
	age := "-"
	if !m.firstSeen.IsZero() {
		age = now.Sub(m.firstSeen).Truncate(time.Second).String()
	}
	alive := "No"
	if m.alive {
		alive = "Yes"
	}
	message := m.message
	if len(message) > maxMessageWidth {
		message = message[:maxMessageWidth-3] + "..."
	}
	return []string{
		m.name,
		formatState(m.state),
		alive,
		strconv.Itoa(m.generation),
		strconv.Itoa(m.restarts),
		age,
		message,
	}
}

func (u *UI) renderLogsLocked() {
	u.logs.Clear()
	var state *memberState
	if u.selected != "" {
		state = u.members[u.selected]
	}
	if state == nil {
		u.logs.SetTitle(logsTitle)
		return
	}

	u.logs.SetTitle(fmt.Sprintf("%s (%s)", logsTitle, state.name))
	for _, record := range state.logs {
		if u.logsJSON {
			data, err := json.Marshal(record)
			if err != nil {
				fmt.Fprintf(u.logs, "{\"error\":%q}\n", err.Error())
				continue
			}
			fmt.Fprintf(u.logs, "%s\n", data)
			continue
		}
		fmt.Fprintln(u.logs, formatLogLine(record))
	}
	u.logs.ScrollToEnd()
}

func (u *UI) ensureSelectionLocked() {
	if len(u.visible) == 0 {
		u.selected = ""
		return
	}

	idx := -1
	for i, name := range u.visible {
		if name == u.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		u.selected = u.visible[0]
	}
	// Select fires the change callback, which takes u.mu.
	u.table.SetSelectionChangedFunc(nil)
	u.table.Select(idx+1, 0)
	u.table.SetSelectionChangedFunc(u.selectionChanged)
}

func (u *UI) selectionChanged(row, _ int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.syncSelection(row)
	u.renderLogsLocked()
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

func formatLogLine(record cliutil.LogRecord) string {
	return fmt.Sprintf("%s %-5s [%s] %s",
		record.Timestamp.Format("15:04:05.000"),
		strings.ToUpper(record.Level),
		record.Source,
		record.Message)
}

func formatEventMessage(evt events.Event) string {
	msg := evt.Message
	if evt.Err != nil {
		errText := evt.Err.Error()
		switch {
		case msg == "":
			msg = errText
		case !strings.Contains(msg, errText):
			msg = msg + ": " + errText
		}
	}
	if evt.Reason != "" {
		if msg == "" {
			return evt.Reason
		}
		msg = fmt.Sprintf("%s (%s)", msg, evt.Reason)
	}
	return cliutil.RedactSecrets(msg)
}

func formatState(t events.Type) string {
	if t == "" {
		return "-"
	}
	s := strings.ReplaceAll(string(t), "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}
