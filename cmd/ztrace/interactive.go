package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/tracehost/config"
	"github.com/wippyai/tracehost/loader"
	"github.com/wippyai/tracehost/render"
	"github.com/wippyai/tracehost/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// Rows reserved below the canvas for the status and help lines.
const chromeRows = 2

// DOM key codes for keys the guest understands beyond printable characters.
var keyCodes = map[tea.KeyType]uint32{
	tea.KeyBackspace: 8,
	tea.KeyTab:       9,
	tea.KeyEnter:     13,
	tea.KeySpace:     32,
	tea.KeyPgUp:      33,
	tea.KeyPgDown:    34,
	tea.KeyEnd:       35,
	tea.KeyHome:      36,
	tea.KeyLeft:      37,
	tea.KeyUp:        38,
	tea.KeyRight:     39,
	tea.KeyDown:      40,
	tea.KeyDelete:    46,
}

// DOM mouse button numbers.
const (
	buttonLeft   = 0
	buttonMiddle = 1
	buttonRight  = 2
)

// wheelDelta is the scroll distance of one wheel notch in guest pixels.
const wheelDelta = 100

type viewMode int

const (
	modeCanvas viewMode = iota
	modePicker
	modeURL
)

type tickMsg time.Time

type interactiveModel struct {
	ctx      context.Context
	err      error
	cfg      *config.Config
	rt       *runtime.Runtime
	drv      *runtime.Driver
	canvas   *render.Canvas
	logger   *zap.Logger
	wantPick *atomic.Bool
	picker   filepicker.Model
	url      textinput.Model
	notice   string
	mode     viewMode
	width    int
	height   int
}

func newInteractiveModel(ctx context.Context, cfg *config.Config, rt *runtime.Runtime, canvas *render.Canvas, wantPick *atomic.Bool, logger *zap.Logger) *interactiveModel {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".json", ".gz", ".br"}
	fp.AutoHeight = false
	if wd, err := os.Getwd(); err == nil {
		fp.CurrentDirectory = wd
	}

	url := textinput.New()
	url.Placeholder = "https://example.com/trace.json.gz"
	url.Prompt = "URL: "
	url.Width = 60

	return &interactiveModel{
		ctx:      ctx,
		cfg:      cfg,
		rt:       rt,
		drv:      runtime.NewDriver(rt.Primary(), cfg.Display.FrameRate),
		canvas:   canvas,
		logger:   logger,
		wantPick: wantPick,
		picker:   fp,
		url:      url,
	}
}

func (m *interactiveModel) tick() tea.Cmd {
	return tea.Tick(m.drv.Interval(), func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.tick()
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, m.frame(time.Time(msg))

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		rows := max(msg.Height-chromeRows, 1)
		m.canvas.Resize(msg.Width*render.CellWidth, rows*render.CellHeight)
		w, h := m.canvas.Size()
		m.drv.Post(runtime.ResizeEvent{Width: uint32(w), Height: uint32(h)})
		m.picker.SetHeight(max(msg.Height-6, 3))

	case tea.FocusMsg:
		m.drv.Post(runtime.FocusEvent{Focused: true})

	case tea.BlurMsg:
		m.drv.Post(runtime.FocusEvent{Focused: false})

	case tea.MouseMsg:
		if m.mode == modeCanvas {
			m.postMouse(msg)
		}

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case modePicker:
			return m.updatePicker(msg)
		case modeURL:
			return m.updateURL(msg)
		}
		return m.updateCanvas(msg)

	default:
		if m.mode == modePicker {
			var cmd tea.Cmd
			m.picker, cmd = m.picker.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

// frame runs one driver frame and schedules the next one.
func (m *interactiveModel) frame(now time.Time) tea.Cmd {
	if m.err != nil {
		return nil
	}
	if err := m.drv.Frame(m.ctx, now); err != nil {
		m.err = err
		return nil
	}
	if m.wantPick.Swap(false) && m.mode == modeCanvas {
		return tea.Batch(m.openPicker(), m.tick())
	}
	return m.tick()
}

func (m *interactiveModel) updateCanvas(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "o":
		return m, m.openPicker()
	case "u":
		m.mode = modeURL
		m.url.SetValue("")
		return m, m.url.Focus()
	case "esc":
		m.drv.Post(runtime.CancelLoadEvent{})
		return m, nil
	}
	if code, ok := keyCode(msg); ok {
		// Terminals report presses only.
		m.drv.Post(runtime.KeyEvent{Key: code, Down: true})
		m.drv.Post(runtime.KeyEvent{Key: code, Down: false})
	}
	return m, nil
}

func (m *interactiveModel) openPicker() tea.Cmd {
	m.mode = modePicker
	return m.picker.Init()
}

func (m *interactiveModel) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		m.mode = modeCanvas
		return m, nil
	}
	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	if ok, path := m.picker.DidSelectFile(msg); ok {
		m.mode = modeCanvas
		m.load(path)
	}
	return m, cmd
}

func (m *interactiveModel) updateURL(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeCanvas
		m.url.Blur()
		return m, nil
	case "enter":
		m.mode = modeCanvas
		m.url.Blur()
		if target := strings.TrimSpace(m.url.Value()); target != "" {
			m.load(target)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.url, cmd = m.url.Update(msg)
	return m, cmd
}

// load opens target and queues it for the guest.
func (m *interactiveModel) load(target string) {
	src, err := openSource(m.ctx, m.cfg, target)
	if err != nil {
		m.notice = fmt.Sprintf("open %s: %v", target, err)
		m.logger.Warn("open source", zap.String("target", target), zap.Error(err))
		return
	}
	m.notice = ""
	m.drv.Post(runtime.LoadEvent{Source: src})
}

func (m *interactiveModel) postMouse(msg tea.MouseMsg) {
	x := float32(msg.X*render.CellWidth + render.CellWidth/2)
	y := float32(msg.Y*render.CellHeight + render.CellHeight/2)

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.drv.Post(runtime.MouseWheelEvent{DY: -wheelDelta})
		return
	case tea.MouseButtonWheelDown:
		m.drv.Post(runtime.MouseWheelEvent{DY: wheelDelta})
		return
	case tea.MouseButtonWheelLeft:
		m.drv.Post(runtime.MouseWheelEvent{DX: -wheelDelta})
		return
	case tea.MouseButtonWheelRight:
		m.drv.Post(runtime.MouseWheelEvent{DX: wheelDelta})
		return
	}

	m.drv.Post(runtime.MousePosEvent{X: x, Y: y})
	button, ok := mouseButton(msg.Button)
	if !ok {
		return
	}
	switch msg.Action {
	case tea.MouseActionPress:
		m.drv.Post(runtime.MouseButtonEvent{Button: button, Down: true})
	case tea.MouseActionRelease:
		m.drv.Post(runtime.MouseButtonEvent{Button: button, Down: false})
	}
}

func mouseButton(b tea.MouseButton) (uint32, bool) {
	switch b {
	case tea.MouseButtonLeft:
		return buttonLeft, true
	case tea.MouseButtonMiddle:
		return buttonMiddle, true
	case tea.MouseButtonRight:
		return buttonRight, true
	}
	return 0, false
}

// keyCode maps a key press to a DOM key code. Letters map to their
// upper-case code as browsers report them.
func keyCode(msg tea.KeyMsg) (uint32, bool) {
	if code, ok := keyCodes[msg.Type]; ok {
		return code, true
	}
	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 {
		return 0, false
	}
	r := msg.Runes[0]
	if r >= 'a' && r <= 'z' {
		r -= 'a' - 'A'
	}
	return uint32(r), true
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Guest aborted: %v\n\nPress ctrl+c to quit.", m.err))
	}

	var b strings.Builder
	switch m.mode {
	case modePicker:
		b.WriteString(titleStyle.Render("Open trace"))
		b.WriteString("\n\n")
		b.WriteString(m.picker.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter select • esc back"))
		return b.String()
	case modeURL:
		b.WriteString(titleStyle.Render("Open URL"))
		b.WriteString("\n\n")
		b.WriteString(m.url.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter load • esc back"))
		return b.String()
	}

	b.WriteString(m.canvas.View())
	b.WriteString("\n")
	b.WriteString(m.status())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("o open file • u open url • esc cancel load • q quit"))
	return b.String()
}

func (m *interactiveModel) status() string {
	if m.notice != "" {
		return errorStyle.Render(m.notice)
	}
	p := m.drv.Instance().Loader().Progress()
	status := fmt.Sprintf("frame %d", m.drv.Frames())
	switch {
	case p.State.Active():
		status += fmt.Sprintf(" • loading %s: %s", p.Name, formatBytes(p.Logical))
		if p.Total > 0 {
			status += fmt.Sprintf(" (%d%% read)", p.Underlying*100/p.Total)
		}
	case p.State == loader.StateDone:
		status += fmt.Sprintf(" • %s: %s", p.Name, formatBytes(p.Logical))
	case p.Err != nil:
		return errorStyle.Render(fmt.Sprintf("%s • %s: %v", status, p.Name, p.Err))
	}
	if n := m.rt.Spawner().Running(); n > 0 {
		status += fmt.Sprintf(" • %d workers", n)
	}
	return statusStyle.Render(status)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func runInteractive(ctx context.Context, cfg *config.Config, logger *zap.Logger, target string) (err error) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("interactive mode needs a terminal")
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return fmt.Errorf("terminal size: %w", err)
	}

	canvas := render.NewCanvasCells(cols, max(rows-chromeRows, 1))
	width, height := canvas.Size()

	var wantPick atomic.Bool
	rt, err := startRuntime(ctx, cfg, logger, canvas, width, height,
		runtime.WithFilePicker(func() { wantPick.Store(true) }))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	m := newInteractiveModel(ctx, cfg, rt, canvas, &wantPick, logger)
	if target != "" {
		m.load(target)
	}

	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseAllMotion(),
		tea.WithReportFocus())
	if _, err := p.Run(); err != nil {
		return err
	}
	return m.err
}
