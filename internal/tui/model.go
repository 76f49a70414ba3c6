// Package tui is a terminal front end for the story session built with bubbletea.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/models"
	"github.com/myrjola/storyweaver/internal/story"
)

const (
	title        = "GenAI Story Weaver"
	endingBanner = "The End of Your Journey!"
	defaultWidth = 80
)

// Session is the part of [story.Session] the TUI drives.
type Session interface {
	StartNewStory(ctx context.Context) (<-chan models.State, error)
	SelectChoice(ctx context.Context, choice string) (<-chan models.State, error)
	Subscribe() (<-chan models.State, func())
}

// Model is the root bubbletea model for the story TUI.
type Model struct {
	ctx         context.Context
	session     Session
	states      <-chan models.State
	unsubscribe func()

	state    models.State
	selected int
	notice   string
	width    int
	quitting bool
}

// New creates a Model subscribed to session. Call Close when the program exits.
func New(ctx context.Context, session Session) Model {
	states, unsubscribe := session.Subscribe()
	return Model{
		ctx:         ctx,
		session:     session,
		states:      states,
		unsubscribe: unsubscribe,
		state: models.State{ //nolint:exhaustruct // replaced by the first published state.
			Phase:         models.PhaseIdle,
			NarrativeText: story.WelcomeText,
			Choices:       []string{},
		},
		selected: 0,
		notice:   "",
		width:    defaultWidth,
		quitting: false,
	}
}

// Close ends the session subscription.
func (m Model) Close() {
	m.unsubscribe()
}

// Init starts listening for states and launches the first story.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForStateCmd(m.states), startCmd(m.ctx, m.session))
}

// waitForStateCmd waits for the next published state.
func waitForStateCmd(states <-chan models.State) tea.Cmd {
	return func() tea.Msg {
		state, ok := <-states
		if !ok {
			return SubscriptionClosedMsg{}
		}
		return StateMsg{State: state}
	}
}

// startCmd starts a new story. The outcome arrives as a StateMsg.
func startCmd(ctx context.Context, session Session) tea.Cmd {
	return func() tea.Msg {
		if _, err := session.StartNewStory(ctx); err != nil {
			return CommandErrorMsg{Err: err}
		}
		return nil
	}
}

// chooseCmd selects a choice. The outcome arrives as a StateMsg.
func chooseCmd(ctx context.Context, session Session, choice string) tea.Cmd {
	return func() tea.Msg {
		if _, err := session.SelectChoice(ctx, choice); err != nil {
			return CommandErrorMsg{Err: err}
		}
		return nil
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case StateMsg:
		m.state = msg.State
		if m.selected >= len(m.state.Choices) {
			m.selected = 0
		}
		if m.state.IsBusy {
			m.notice = ""
		}
		return m, waitForStateCmd(m.states)

	case SubscriptionClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case CommandErrorMsg:
		m.notice = noticeFor(msg.Err)
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		m.quitting = true
		return m, tea.Quit

	case KeyNewStory, KeyNewUpper:
		return m, startCmd(m.ctx, m.session)

	case KeyUp, KeyK:
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeyDown, KeyJ:
		if m.selected < len(m.state.Choices)-1 {
			m.selected++
		}
		return m, nil

	case KeyEnter:
		return m.choose(m.selected)
	}

	// Digits pick a choice directly.
	if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		return m.choose(int(key[0] - '1'))
	}
	return m, nil
}

func (m Model) choose(index int) (tea.Model, tea.Cmd) {
	if !m.state.CanChoose() || index < 0 || index >= len(m.state.Choices) {
		return m, nil
	}
	m.selected = index
	return m, chooseCmd(m.ctx, m.session, m.state.Choices[index])
}

func noticeFor(err error) string {
	switch {
	case errors.Is(err, story.ErrBusy):
		return "Please wait, the next part of the story is still being written."
	case errors.Is(err, story.ErrConcluded):
		return "This story has concluded. Press n to start a new story."
	case errors.Is(err, story.ErrNotStarted):
		return "Press n to start a new story."
	default:
		return fmt.Sprintf("Something went wrong: %s", err.Error())
	}
}

// View renders the story.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	width := max(m.width-2, 20) //nolint:mnd // keep a small margin and a sane minimum.
	var b strings.Builder

	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n")
	if m.state.Genre != "" {
		b.WriteString(GenreStyle.Render(m.state.Genre))
		b.WriteString("\n")
	}
	b.WriteString(DividerStyle.Render(strings.Repeat("─", width)))
	b.WriteString("\n")

	narrative := NarrativeStyle.Width(width)
	if m.state.IsBusy {
		narrative = narrative.Inherit(BusyStyle)
	}
	b.WriteString(narrative.Render(m.state.NarrativeText))
	b.WriteString("\n")

	if m.state.ErrorMessage != "" {
		b.WriteString(ErrorTextStyle.Width(width).Render(m.state.ErrorMessage))
		b.WriteString("\n")
	}

	if m.state.CanChoose() {
		for i, choice := range m.state.Choices {
			line := fmt.Sprintf("%d. %s", i+1, choice)
			if i == m.selected {
				b.WriteString(SelectedStyle.Render("> " + line))
			} else {
				b.WriteString(ChoiceStyle.Render("  " + line))
			}
			b.WriteString("\n")
		}
	}

	if m.state.IsEnding && m.state.ErrorMessage == "" {
		b.WriteString(EndingStyle.Render(endingBanner))
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString(NoticeStyle.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.footer())
	return lipgloss.NewStyle().Padding(0, 1).Render(b.String())
}

func (m Model) footer() string {
	type binding struct{ key, desc string }
	bindings := []binding{{"n", "new story"}, {"q", "quit"}}
	if m.state.CanChoose() {
		bindings = append([]binding{{"↑/↓", "move"}, {"enter", "choose"}}, bindings...)
	}
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		parts = append(parts, FooterKeyStyle.Render(kb.key)+" "+FooterDescStyle.Render(kb.desc))
	}
	return strings.Join(parts, "  ")
}
