package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/runtime"
	"github.com/wippyai/wasm-bridge/table"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateBrowse modelState = iota
	stateFilter
	stateInputArgs
	stateShowResult
)

type listKind int

const (
	listImports listKind = iota
	listExports
)

// entry is one line in the browser.
type entry struct {
	name   string
	detail string
	sig    string
}

type interactiveModel struct {
	err      error
	cfg      *Config
	rt       *runtime.Runtime
	module   *runtime.Module
	store    *loader.Store
	filename string
	output   string
	imports  []entry
	exports  []entry
	filter   textinput.Model
	args     textinput.Model
	selected int
	list     listKind
	state    modelState
}

func newInteractiveModel(cfg *Config, filename string) *interactiveModel {
	filter := textinput.New()
	filter.Prompt = "/"
	filter.Placeholder = "filter"
	filter.Width = 40

	args := textinput.New()
	args.Prompt = "args: "
	args.Placeholder = "space separated"
	args.Width = 60

	return &interactiveModel{
		cfg:      cfg,
		filename: filename,
		filter:   filter,
		args:     args,
		state:    stateBrowse,
	}
}

type loadedMsg struct {
	err     error
	rt      *runtime.Runtime
	mod     *runtime.Module
	store   *loader.Store
	imports []entry
	exports []entry
}

type runResultMsg struct {
	err    error
	output string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *interactiveModel) loadModule() tea.Msg {
	ctx := context.Background()

	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}

	rt, err := runtime.New(ctx, runtime.Config{Engine: m.cfg.EngineConfig(), Logger: engine.Logger()})
	if err != nil {
		return loadedMsg{err: err}
	}

	mod, err := rt.Compile(ctx, data)
	if err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}

	store, err := openStore(m.cfg, engine.Logger())
	if err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}

	art := mod.Artifact()
	var imports []entry
	for _, r := range importRows(art, table.Default()) {
		detail := r.Capability
		if r.Key != "-" {
			detail = r.Partition + "/" + r.Capability + " #" + r.Key
		}
		imports = append(imports, entry{name: r.Module + "." + r.Name, detail: detail, sig: r.Sig})
	}
	var exports []entry
	for _, e := range sortedExports(art) {
		sig := ""
		if e.Kind == api.ExternTypeFunc {
			sig = e.Signature().String()
		}
		exports = append(exports, entry{name: e.Name, detail: api.ExternTypeName(e.Kind), sig: sig})
	}

	return loadedMsg{rt: rt, mod: mod, store: store, imports: imports, exports: exports}
}

func (m *interactiveModel) visible() []entry {
	src := m.imports
	if m.list == listExports {
		src = m.exports
	}
	q := strings.ToLower(m.filter.Value())
	if q == "" {
		return src
	}
	var out []entry
	for _, e := range src {
		if strings.Contains(strings.ToLower(e.name+" "+e.detail), q) {
			out = append(out, e)
		}
	}
	return out
}

func (m *interactiveModel) close() {
	ctx := context.Background()
	if m.store != nil {
		m.store.Close()
	}
	if m.rt != nil {
		m.rt.Close(ctx)
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.close()
			return m, tea.Quit
		}
		switch m.state {
		case stateFilter, stateInputArgs:
			return m.updateInput(msg)
		}

		switch msg.String() {
		case "q":
			m.close()
			return m, tea.Quit

		case "up", "k":
			if m.state == stateBrowse && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateBrowse && m.selected < len(m.visible())-1 {
				m.selected++
			}

		case "tab":
			if m.state == stateBrowse {
				m.list = 1 - m.list
				m.selected = 0
			}

		case "/":
			if m.state == stateBrowse {
				m.state = stateFilter
				m.filter.Focus()
			}

		case "r":
			if m.state == stateBrowse && m.module != nil {
				m.state = stateInputArgs
				m.args.Focus()
			}

		case "enter", "esc":
			if m.state == stateShowResult {
				m.state = stateBrowse
				m.output = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.module = msg.mod
		m.store = msg.store
		m.imports = msg.imports
		m.exports = msg.exports

	case runResultMsg:
		m.output = msg.output
		m.err = msg.err
		m.state = stateShowResult
	}

	return m, nil
}

func (m *interactiveModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if m.state == stateInputArgs {
			m.args.Blur()
			return m, m.runMain
		}
		m.filter.Blur()
		m.state = stateBrowse
		m.selected = 0
		return m, nil
	case "esc":
		if m.state == stateFilter {
			m.filter.SetValue("")
			m.filter.Blur()
		} else {
			m.args.Blur()
		}
		m.state = stateBrowse
		m.selected = 0
		return m, nil
	}

	var cmd tea.Cmd
	if m.state == stateFilter {
		m.filter, cmd = m.filter.Update(msg)
		m.selected = 0
	} else {
		m.args, cmd = m.args.Update(msg)
	}
	return m, cmd
}

// lockedBuffer collects guest output written from the event loop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runMain instantiates a fresh instance, since main runs once per instance.
func (m *interactiveModel) runMain() tea.Msg {
	ctx := context.Background()
	if d, err := m.cfg.TimeoutDuration(); err == nil && d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	opts, err := instanceOptions(m.cfg, m.store)
	if err != nil {
		return runResultMsg{err: err}
	}
	out := &lockedBuffer{}
	opts.Stdout = out

	inst, err := m.module.Instantiate(ctx, nil, opts)
	if err != nil {
		return runResultMsg{err: err}
	}
	defer inst.Close(ctx)

	err = inst.InvokeMain(ctx, strings.Fields(m.args.Value())...)
	return runResultMsg{output: out.String(), err: err}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.module == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Bridge"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateBrowse, stateFilter:
		if m.list == listImports {
			b.WriteString(selectedStyle.Render(" Imports ") + "  Exports\n")
		} else {
			b.WriteString(" Imports  " + selectedStyle.Render(" Exports ") + "\n")
		}
		if m.state == stateFilter || m.filter.Value() != "" {
			b.WriteString(m.filter.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		for i, e := range m.visible() {
			line := funcStyle.Render(e.name) + "  " + e.detail
			if e.sig != "" {
				line += "  " + typeStyle.Render(e.sig)
			}
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> ") + line)
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • tab imports/exports • / filter • r run main • q quit"))

	case stateInputArgs:
		b.WriteString(fmt.Sprintf("Running %s\n\n", funcStyle.Render("main")))
		b.WriteString(m.args.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter run • esc back"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Output of %s:\n\n", funcStyle.Render("main")))
		if m.output != "" {
			b.WriteString(resultStyle.Render(m.output))
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render("main completed"))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(cfg *Config, filename string) error {
	p := tea.NewProgram(newInteractiveModel(cfg, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
