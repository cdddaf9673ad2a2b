package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/lox/egta/internal/psro"
	"github.com/lox/egta/internal/strategy"
)

type styles struct {
	header lipgloss.Style
	label  lipgloss.Style
	role   lipgloss.Style
	good   lipgloss.Style
	warn   lipgloss.Style
	bad    lipgloss.Style
}

func newStyles(w io.Writer, noColor bool) styles {
	r := lipgloss.NewRenderer(w)
	if noColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("15")),
		label:  r.NewStyle().Width(14).Foreground(lipgloss.Color("12")),
		role:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		good:   r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("11")),
		bad:    r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

func (s styles) outcome(state psro.State) string {
	switch state {
	case psro.Converged:
		return s.good.Render(string(state))
	case psro.MaxRounds:
		return s.warn.Render(string(state))
	}
	return s.bad.Render(string(state))
}

// writeSummary renders where a run stopped: the outcome, the last game file
// and each role's equilibrium and tested deviation.
func writeSummary(w io.Writer, noColor bool, run string, res psro.Result) error {
	s := newStyles(w, noColor)
	var b strings.Builder

	line := func(label, value string) {
		b.WriteString(s.label.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	b.WriteString(s.header.Render("Run " + run))
	b.WriteByte('\n')
	line("outcome", s.outcome(res.State))
	line("round", fmt.Sprintf("%d", res.Round))
	line("epoch", fmt.Sprintf("%d", res.Epoch))
	if res.GamePath != "" {
		line("game", res.GamePath)
	}

	for _, role := range strategy.Roles {
		m := res.Equilibrium.For(role)
		if len(m) == 0 {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(s.role.Render(string(role)))
		b.WriteByte('\n')
		line("eq payoff", fmt.Sprintf("%.4f", res.EqPayoffs[role]))
		for _, name := range m.Support() {
			line("", fmt.Sprintf("%.4f  %s", m[name], name))
		}
		dev, ok := res.Deviations[role]
		if !ok {
			continue
		}
		verdict := s.warn.Render("not beneficial")
		if dev.Beneficial {
			verdict = s.good.Render("beneficial")
		}
		line("deviation", fmt.Sprintf("%s %.4f (%+.4f) %s", dev.Candidate.Name, dev.Value, dev.Gain(), verdict))
		if dev.Attempts > 0 {
			line("annealing", fmt.Sprintf("%d attempts, upper bound %.4f", dev.Attempts, dev.Upper))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
