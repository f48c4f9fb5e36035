package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/devrun/internal/cliutil"
	"github.com/Paintersrp/devrun/internal/engine"
	"github.com/Paintersrp/devrun/internal/project"
)

const (
	tableTitle            = "Projects"
	outputTitle           = "Output"
	filterPageName        = "filter"
	defaultEventRetention = 500
	keyHelp               = "r run  s stop  c clear  j events  / filter  enter focus  q quit"
)

// Controller is the supervisor surface the UI drives.
type Controller interface {
	Run(context.Context, project.Project)
	Stop(project.ID)
	ClearOutput(project.ID)
	Status(project.ID) engine.Status
	Output(project.ID) []string
}

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxEvents sets the number of event records retained per project for
// the events view.
func WithMaxEvents(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxEvents = n
		}
	}
}

// UI coordinates the interactive project interface backed by tview.
type UI struct {
	app    *tview.Application
	pages  *tview.Pages
	table  *tview.Table
	output *tview.TextView
	footer *tview.TextView
	events chan engine.Event

	ctrl     Controller
	projects []project.Project
	states   map[project.ID]*projectState

	visible       []project.ID
	selected      project.ID
	showEvents    bool
	filter        string
	filterExpr    *regexp.Regexp
	outputFocused bool
	selecting     bool
	maxEvents     int

	// redraw schedules fn on the UI goroutine.
	redraw func(fn func())
	now    func() time.Time

	mu sync.RWMutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	runCtx   context.Context

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type projectState struct {
	lastEvent time.Time
	message   string
	records   []cliutil.LogRecord
}

// New constructs a UI listing projects and driving ctrl.
func New(projects []project.Project, ctrl Controller, opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	output := tview.NewTextView().SetDynamicColors(false).SetWrap(false)
	output.SetBorder(true).SetTitle(outputTitle)

	footer := tview.NewTextView().SetText(keyHelp)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 2, true).
		AddItem(output, 0, 3, false).
		AddItem(footer, 1, 0, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:       app,
		pages:     pages,
		table:     table,
		output:    output,
		footer:    footer,
		events:    make(chan engine.Event, 256),
		ctrl:      ctrl,
		projects:  append([]project.Project(nil), projects...),
		states:    make(map[project.ID]*projectState),
		maxEvents: defaultEventRetention,
		now:       time.Now,
		runCtx:    context.Background(),
		done:      make(chan struct{}),
	}
	ui.redraw = func(fn func()) { app.QueueUpdateDraw(fn) }

	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectionChangedFunc(func(row, column int) {
		// Select calls back synchronously while refreshTableLocked holds mu.
		if ui.selecting {
			return
		}
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderOutputLocked()
	})

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.renderOutputLocked()
	ui.mu.Unlock()

	return ui
}

// EventSink exposes the channel where supervisor events should be delivered.
func (u *UI) EventSink() chan<- engine.Event {
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
// is invoked or the provided context is cancelled. Projects launched from the
// UI inherit ctx.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.runCtx = ctx
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()

	u.cancelMu.Lock()
	cancel = u.cancel
	u.cancel = nil
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	u.wg.Wait()
	u.Stop()

	return err
}

// Stop terminates the application loop and releases resources.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
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
		case <-ticker.C:
			u.queueRefresh(false)
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.pages.HasPage(filterPageName) {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyUp, tcell.KeyDown:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'r', 'R':
			u.runSelected()
			return nil
		case 's', 'S':
			u.stopSelected()
			return nil
		case 'c', 'C':
			u.clearSelected()
			return nil
		case 'j', 'J':
			u.toggleEvents()
			return nil
		}
	}
	return event
}

func (u *UI) selectedProject() (project.Project, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, p := range u.projects {
		if p.ID == u.selected {
			return p, true
		}
	}
	return project.Project{}, false
}

// runSelected and stopSelected call into the supervisor off the UI goroutine;
// both block on process spawn or the kill pass.
func (u *UI) runSelected() {
	p, ok := u.selectedProject()
	if !ok {
		return
	}
	u.cancelMu.Lock()
	ctx := u.runCtx
	u.cancelMu.Unlock()
	go func() {
		u.ctrl.Run(ctx, p)
		u.queueRefresh(true)
	}()
}

func (u *UI) stopSelected() {
	p, ok := u.selectedProject()
	if !ok {
		return
	}
	go func() {
		u.ctrl.Stop(p.ID)
		u.queueRefresh(true)
	}()
}

func (u *UI) clearSelected() {
	p, ok := u.selectedProject()
	if !ok {
		return
	}
	u.ctrl.ClearOutput(p.ID)
	u.mu.Lock()
	if st := u.states[p.ID]; st != nil {
		st.records = nil
	}
	u.refreshTableLocked()
	u.renderOutputLocked()
	u.mu.Unlock()
}

func (u *UI) toggleFocus() {
	if u.outputFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.output)
	}
	u.outputFocused = !u.outputFocused
}

func (u *UI) toggleEvents() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.showEvents = !u.showEvents
	u.renderOutputLocked()
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		}).
		AddButton("Cancel", func() {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	form.SetBorder(true).SetTitle("Filter Projects")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		u.mu.Lock()
		u.filter = ""
		u.filterExpr = nil
		u.mu.Unlock()
		u.queueRefresh(true)
		return
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
		return
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh(true)
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

func (u *UI) applyEvent(evt engine.Event) {
	u.mu.Lock()
	u.applyEventLocked(evt)
	updateOutput := evt.Project == u.selected
	u.mu.Unlock()

	u.queueRefresh(updateOutput)
}

func (u *UI) applyEventLocked(evt engine.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = u.now()
	}
	state := u.states[evt.Project]
	if state == nil {
		state = &projectState{}
		u.states[evt.Project] = state
	}
	state.lastEvent = evt.Timestamp
	if evt.Type != engine.EventTypeLog {
		state.message = formatEventMessage(evt)
	}
	state.records = append(state.records, cliutil.NewLogRecord(evt))
	if len(state.records) > u.maxEvents {
		trim := len(state.records) - u.maxEvents
		state.records = append([]cliutil.LogRecord(nil), state.records[trim:]...)
	}
}

func (u *UI) queueRefresh(updateOutput bool) {
	u.redraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if updateOutput {
			u.renderOutputLocked()
		}
	})
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()

	headers := []string{"NAME", "TYPE", "STATE", "URL", "COMMAND", "UPTIME"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	visible := make([]project.ID, 0, len(u.projects))
	now := u.now()
	for _, p := range u.projects {
		if u.filterExpr != nil && !u.filterExpr.MatchString(p.Name) {
			continue
		}
		visible = append(visible, p.ID)
		st := u.ctrl.Status(p.ID)

		uptime := "-"
		if d := st.Uptime(now); d > 0 {
			uptime = units.HumanDuration(d)
		}
		url := st.Endpoint
		if url == "" {
			url = "-"
		}
		command := st.Command
		if command == "" {
			command = "-"
		}
		if len(command) > 60 {
			command = command[:57] + "..."
		}

		row := len(visible)
		values := []string{
			p.Name,
			p.Type.Label(),
			formatState(st),
			url,
			command,
			uptime,
		}
		for col, value := range values {
			cell := tview.NewTableCell(tview.Escape(value)).SetTextColor(stateColor(st.State, col))
			if col == 0 {
				cell = cell.SetReference(p.ID)
			}
			u.table.SetCell(row, col, cell)
		}
	}
	u.visible = visible

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", tableTitle, u.filter))
	} else {
		u.table.SetTitle(tableTitle)
	}

	u.ensureSelectionLocked()
}

func (u *UI) renderOutputLocked() {
	u.output.Clear()
	if u.selected == "" {
		u.output.SetTitle(outputTitle)
		u.footer.SetText(keyHelp)
		return
	}
	name := string(u.selected)
	for _, p := range u.projects {
		if p.ID == u.selected {
			name = p.Name
			break
		}
	}

	footer := keyHelp
	if st := u.states[u.selected]; st != nil && st.message != "" {
		footer = st.message + "  |  " + keyHelp
	}
	u.footer.SetText(footer)

	if u.showEvents {
		u.output.SetTitle(fmt.Sprintf("Events (%s)", name))
		if st := u.states[u.selected]; st != nil {
			for _, record := range st.records {
				data, err := json.Marshal(record)
				if err != nil {
					fmt.Fprintf(u.output, "{\"error\":%q}\n", err.Error())
					continue
				}
				fmt.Fprintf(u.output, "%s\n", data)
			}
		}
		u.output.ScrollToEnd()
		return
	}

	u.output.SetTitle(fmt.Sprintf("%s (%s)", outputTitle, name))
	for _, line := range u.ctrl.Output(u.selected) {
		fmt.Fprintln(u.output, line)
	}
	u.output.ScrollToEnd()
}

func (u *UI) ensureSelectionLocked() {
	if len(u.visible) == 0 {
		u.selected = ""
		u.selecting = true
		u.table.Select(0, 0)
		u.selecting = false
		return
	}

	idx := -1
	for i, id := range u.visible {
		if id == u.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		u.selected = u.visible[0]
	}
	u.selecting = true
	u.table.Select(idx+1, 0)
	u.selecting = false
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

func formatState(st engine.Status) string {
	s := st.State.String()
	if st.State == engine.StateExited && st.ExitCode != nil {
		s = fmt.Sprintf("%s (%d)", s, *st.ExitCode)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func stateColor(state engine.State, col int) tcell.Color {
	if col != 2 {
		return tview.Styles.PrimaryTextColor
	}
	switch state {
	case engine.StateRunning:
		return tcell.ColorGreen
	case engine.StateStarting, engine.StateStopping:
		return tcell.ColorYellow
	case engine.StateExited:
		return tcell.ColorRed
	default:
		return tview.Styles.SecondaryTextColor
	}
}

// formatEventMessage renders a lifecycle event for the status line.
func formatEventMessage(evt engine.Event) string {
	message := evt.Message
	if evt.Err != nil {
		if message != "" {
			message = message + ": " + evt.Err.Error()
		} else {
			message = evt.Err.Error()
		}
	}
	if evt.Reason != "" {
		if message != "" {
			return fmt.Sprintf("%s (%s)", message, evt.Reason)
		}
		return evt.Reason
	}
	return message
}
