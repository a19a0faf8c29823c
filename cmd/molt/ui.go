// # cmd/molt/ui.go
package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"molt/internal/ledger"
	"molt/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	partialStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	completeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type item struct {
	title, desc string
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

type model struct {
	list       list.Model
	summary    Summary
	lastUpdate time.Time
}

type updateMsg struct {
	summary Summary
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v-4)
	case updateMsg:
		m.summary = msg.summary
		m.lastUpdate = time.Now()
		m.list.SetItems(itemsFrom(msg.summary))
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// itemsFrom lists everything that needs attention: failed units, and the
// rewrites that fell back inside partial ones.
func itemsFrom(summary Summary) []list.Item {
	items := []list.Item{}
	for _, fr := range summary.Results {
		switch fr.Result.Status {
		case pipeline.StatusFailed:
			items = append(items, item{
				title: "Failed: " + fr.Path,
				desc:  fmt.Sprint(fr.Result.Err),
			})
		case pipeline.StatusPartial:
			for _, e := range fr.Result.Ledger {
				if e.Outcome != ledger.OutcomeFellBack {
					continue
				}
				items = append(items, item{
					title: fmt.Sprintf("Fell back: %s:%s", fr.Path, e.Location),
					desc:  fmt.Sprintf("%s: %s", e.Family, e.Reason),
				})
			}
		}
	}
	return items
}

func (m model) View() string {
	status := statusStyle.Render(fmt.Sprintf("Last update: %v | %d files",
		m.lastUpdate.Format("15:04:05"), m.summary.Files))

	var counts string
	if m.summary.Partial == 0 && m.summary.Failed == 0 {
		counts = completeStyle.Render("✅ All units complete")
	} else {
		counts = fmt.Sprintf("%s | %s | %s",
			completeStyle.Render(fmt.Sprintf("%d complete", m.summary.Complete)),
			partialStyle.Render(fmt.Sprintf("%d partial", m.summary.Partial)),
			failedStyle.Render(fmt.Sprintf("%d failed", m.summary.Failed)))
	}

	header := fmt.Sprintf("%s\n%s | %s\n", titleStyle("Test Migration Monitor"), status, counts)
	return docStyle.Render(header + "\n" + m.list.View())
}

func initialModel(summary Summary) model {
	l := list.New(itemsFrom(summary), list.NewDefaultDelegate(), 0, 0)
	l.Title = "Units Needing Attention"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	return model{list: l, summary: summary, lastUpdate: time.Now()}
}

func (a *App) RunUI(summary Summary) error {
	m := initialModel(summary)
	p := tea.NewProgram(m, tea.WithAltScreen())
	a.teaProgram = p

	_, err := p.Run()
	return err
}
