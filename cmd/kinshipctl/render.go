package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kinship-app/kinship/internal/frontend/model"
	"github.com/kinship-app/kinship/internal/frontend/profile"
)

var (
	colorAccent = lipgloss.Color("#20B9B4")
	colorMuted  = lipgloss.Color("#2C4A54")
)

// styles are bound to one output so piped output stays plain.
type styles struct {
	title  lipgloss.Style
	muted  lipgloss.Style
	button lipgloss.Style
	inert  lipgloss.Style
	box    lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(colorAccent),
		muted:  r.NewStyle().Foreground(colorMuted),
		button: r.NewStyle().Bold(true),
		inert:  r.NewStyle().Foreground(colorMuted),
		box:    r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1),
	}
}

func imageLabel(u, def string) string {
	switch {
	case u == def:
		return "default"
	case strings.HasPrefix(u, "data:"):
		mime, _, _ := strings.Cut(strings.TrimPrefix(u, "data:"), ";")
		return "embedded " + mime
	default:
		return u
	}
}

func renderProfile(w io.Writer, st styles, v profile.View) {
	var b strings.Builder
	name := v.Name
	if name == "" {
		name = v.Username
	}
	fmt.Fprintln(&b, st.title.Render(name)+" "+st.muted.Render("@"+v.Username))
	if v.Headline != "" {
		fmt.Fprintln(&b, v.Headline)
	}
	if v.Location != "" {
		fmt.Fprintln(&b, st.muted.Render(v.Location))
	}
	fmt.Fprintln(&b, st.muted.Render("banner: "+imageLabel(v.BannerURL, profile.DefaultBanner)))
	fmt.Fprintln(&b, st.muted.Render("avatar: "+imageLabel(v.AvatarURL, profile.DefaultAvatar)))

	var buttons []string
	for _, a := range v.Actions {
		if a.Disabled {
			buttons = append(buttons, st.inert.Render("("+a.Label+")"))
		} else {
			buttons = append(buttons, st.button.Render("["+a.Label+"]"))
		}
	}
	b.WriteString(strings.Join(buttons, " "))
	fmt.Fprintln(w, st.box.Render(b.String()))
}

func renderRequests(w io.Writer, st styles, reqs []model.PendingRequest) {
	if len(reqs) == 0 {
		fmt.Fprintln(w, st.muted.Render("No pending connection requests"))
		return
	}
	for _, r := range reqs {
		name := r.Sender.Name
		if name == "" {
			name = r.Sender.Username
		}
		line := st.title.Render(name) + " " + st.muted.Render("@"+r.Sender.Username)
		if r.Sender.Headline != "" {
			line += "  " + r.Sender.Headline
		}
		fmt.Fprintf(w, "%s  %s\n", line, st.muted.Render(r.CreatedAt.Format("2006-01-02")))
	}
}
