package loop

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/bmad-assist/bmad-assist/internal/phase"
)

// StepAction is the operator's decision at a debug breakpoint.
type StepAction int

const (
	// StepContinue runs the next phase.
	StepContinue StepAction = iota
	// StepQuit stops the loop cleanly.
	StepQuit
	// StepPrompt sends a free-form prompt to the master provider first.
	StepPrompt
)

// Stepper is consulted before each phase in debug mode.
type Stepper interface {
	// Step returns the action and, for StepPrompt, the prompt text.
	Step(ctx context.Context, next phase.Phase) (StepAction, string)
}

// TTYStepper reads single keys from the terminal in raw mode. The [i] key
// opens a multi-line prompt editor whose buffer survives across entries.
type TTYStepper struct {
	// buffer preserves the interactive prompt between [i] entries.
	buffer string
}

// NewTTYStepper returns a stepper, or nil when stdin is not a terminal.
func NewTTYStepper() *TTYStepper {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil
	}
	return &TTYStepper{}
}

var stepStyle = lipgloss.NewStyle().Bold(true)

// Step implements Stepper.
func (s *TTYStepper) Step(ctx context.Context, next phase.Phase) (StepAction, string) {
	fmt.Printf("%s  [n]ext / [i]nteractive / [q]uit: ", stepStyle.Render("next phase "+string(next)))

	key, err := readKey()
	fmt.Println()
	if err != nil {
		return StepContinue, ""
	}
	switch key {
	case 'q', 'Q', 3: // 3 is Ctrl+C
		return StepQuit, ""
	case 'i', 'I':
		prompt, ok := s.editPrompt()
		if !ok || strings.TrimSpace(prompt) == "" {
			return StepContinue, ""
		}
		return StepPrompt, prompt
	default:
		return StepContinue, ""
	}
}

// readKey reads one byte from the TTY in raw mode.
func readKey() (byte, error) {
	fd := int(os.Stdin.Fd())
	old, err := term.MakeRaw(fd)
	if err != nil {
		return 0, err
	}
	defer term.Restore(fd, old)

	var buf [1]byte
	if _, err := os.Stdin.Read(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// editPrompt runs the multi-line prompt editor, seeded with the preserved
// buffer. Esc sends, Ctrl+U clears, Ctrl+C abandons the entry.
func (s *TTYStepper) editPrompt() (string, bool) {
	model := newPromptModel(s.buffer)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return "", false
	}
	m, ok := final.(promptModel)
	if !ok {
		return "", false
	}
	s.buffer = m.input.Value()
	return s.buffer, m.send
}

type promptModel struct {
	input textarea.Model
	send  bool
}

func newPromptModel(initial string) promptModel {
	input := textarea.New()
	input.Placeholder = "Prompt for the master provider (Esc to send, Ctrl+U to clear)"
	input.SetValue(initial)
	input.Focus()
	return promptModel{input: input}
}

func (m promptModel) Init() tea.Cmd { return textarea.Blink }

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEsc:
			m.send = true
			return m, tea.Quit
		case tea.KeyCtrlC:
			m.send = false
			return m, tea.Quit
		case tea.KeyCtrlU:
			m.input.SetValue("")
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	return m.input.View() + "\n(Esc sends, Ctrl+U clears, Ctrl+C cancels)\n"
}
