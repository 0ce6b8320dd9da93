package commands

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/relay/internal/auth"
	"github.com/haasonsaas/relay/internal/rollout"
	"github.com/haasonsaas/relay/internal/skills"
	"github.com/haasonsaas/relay/internal/state"
	"github.com/haasonsaas/relay/internal/usage"
	"github.com/haasonsaas/relay/pkg/models"
)

// Deps is the runtime surface the builtin commands run against.
type Deps interface {
	AuthStatus() []auth.ProviderStatus
	OnboardingDone() bool
	CompleteOnboarding() error
	ForgetEverything() error

	ListModels() []models.ModelOption
	SelectModel(id string) (models.ModelOption, error)
	Selection() state.Selection

	UsageSnapshot() usage.Snapshot

	ListRollouts() ([]rollout.Loaded, error)
	LoadRollout(id string) (rollout.Loaded, error)

	ClearSession(sessionID string) error
	CompressSession(sessionID string) (beforeTokens, afterTokens int, err error)

	ListSkills() []*skills.Skill
	ToolNames() []string

	RequestShutdown()
}

// RegisterBuiltins installs the standard slash commands.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	builtins := []Command{
		{Name: "auth", Description: "Show provider credential status", Handler: authCmd(deps)},
		{Name: "onboarding", Description: "Show or complete onboarding", Handler: onboardingCmd(deps)},
		{Name: "forgeteverything", Description: "Reset all state, secrets, and sessions", Handler: forgetCmd(deps)},
		{Name: "model", Description: "Show or select the active model", Handler: modelCmd(deps)},
		{Name: "limits", Description: "Show tracked token usage", Handler: limitsCmd(deps)},
		{Name: "history", Description: "List or inspect saved rollouts", Handler: historyCmd(deps)},
		{Name: "clear", Description: "Clear the current session", Handler: clearCmd(deps)},
		{Name: "compression", Description: "Compress the current session history", Handler: compressionCmd(deps)},
		{Name: "skills", Description: "List discovered skills", Handler: skillsCmd(deps)},
		{Name: "tools", Description: "List registered tools", Handler: toolsCmd(deps)},
		{Name: "help", Description: "List available commands", Handler: helpCmd(reg)},
		{Name: "quit", Aliases: []string{"exit"}, Description: "Shut down the server", Handler: quitCmd(deps)},
	}
	for _, cmd := range builtins {
		if err := reg.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func authCmd(deps Deps) Handler {
	return func(Invocation) Result {
		status := deps.AuthStatus()
		var b strings.Builder
		for _, s := range status {
			line := fmt.Sprintf("%s: ", s.Provider.Title())
			switch {
			case !s.Connected:
				line += "not connected"
			case s.Account != "":
				line += "connected as " + s.Account
				if s.Plan != "" {
					line += " (" + s.Plan + ")"
				}
			default:
				line += "connected"
			}
			if s.Enabled {
				line += " [enabled]"
			}
			b.WriteString(line + "\n")
		}
		return Result{Text: strings.TrimRight(b.String(), "\n"), Data: status}
	}
}

func onboardingCmd(deps Deps) Handler {
	return func(inv Invocation) Result {
		if len(inv.Args) > 0 {
			if inv.Args[0] != "complete" {
				return Errorf("usage: /onboarding [complete]")
			}
			if err := deps.CompleteOnboarding(); err != nil {
				return Errorf("complete onboarding: %v", err)
			}
			return Result{Text: "onboarding complete"}
		}
		if deps.OnboardingDone() {
			return Result{Text: "onboarding already complete", Data: map[string]bool{"done": true}}
		}
		return Result{Text: "onboarding not complete; run /auth to connect a provider, then /onboarding complete", Data: map[string]bool{"done": false}}
	}
}

func forgetCmd(deps Deps) Handler {
	return func(Invocation) Result {
		if err := deps.ForgetEverything(); err != nil {
			return Errorf("reset failed: %v", err)
		}
		return Result{Text: "all state, secrets, and sessions forgotten"}
	}
}

func modelCmd(deps Deps) Handler {
	return func(inv Invocation) Result {
		if len(inv.Args) > 0 {
			opt, err := deps.SelectModel(strings.Join(inv.Args, " "))
			if err != nil {
				return Errorf("select model: %v", err)
			}
			return Result{Text: fmt.Sprintf("model set to %s (%s)", opt.Label, opt.Provider.Title()), Data: opt}
		}

		sel := deps.Selection()
		list := deps.ListModels()
		var b strings.Builder
		for _, opt := range list {
			marker := "  "
			if opt.ID == sel.ModelID {
				marker = "* "
			}
			fmt.Fprintf(&b, "%s%s - %s (%s)\n", marker, opt.ID, opt.Label, opt.Provider)
		}
		return Result{Text: strings.TrimRight(b.String(), "\n"), Data: list}
	}
}

func limitsCmd(deps Deps) Handler {
	return func(Invocation) Result {
		snap := deps.UsageSnapshot()
		if len(snap.Totals) == 0 {
			return Result{Text: "no usage recorded yet", Data: snap}
		}
		var b strings.Builder
		for _, t := range snap.Totals {
			fmt.Fprintf(&b, "%s/%s: %d requests, %d in / %d out tokens\n",
				t.Provider, t.Model, t.Requests, t.Usage.InputTokens, t.Usage.OutputTokens)
		}
		return Result{Text: strings.TrimRight(b.String(), "\n"), Data: snap}
	}
}

func historyCmd(deps Deps) Handler {
	return func(inv Invocation) Result {
		arg := "list"
		if len(inv.Args) > 0 {
			arg = inv.Args[0]
		}

		switch arg {
		case "list":
			loaded, err := deps.ListRollouts()
			if err != nil {
				return Errorf("list rollouts: %v", err)
			}
			if len(loaded) == 0 {
				return Result{Text: "no saved conversations"}
			}
			var b strings.Builder
			for _, l := range loaded {
				fmt.Fprintf(&b, "%s  %s  %d message(s)\n",
					l.Meta.ID, l.Meta.CreatedAt.Format("2006-01-02 15:04"), len(l.Messages))
			}
			return Result{Text: strings.TrimRight(b.String(), "\n"), Data: loaded}

		case "last":
			loaded, err := deps.ListRollouts()
			if err != nil {
				return Errorf("list rollouts: %v", err)
			}
			if len(loaded) == 0 {
				return Errorf("no saved conversations")
			}
			return Result{Text: renderRollout(loaded[0]), Data: loaded[0]}

		default:
			l, err := deps.LoadRollout(arg)
			if err != nil {
				return Errorf("load rollout %s: %v", arg, err)
			}
			return Result{Text: renderRollout(l), Data: l}
		}
	}
}

func renderRollout(l rollout.Loaded) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", l.Meta.ID, l.Meta.CreatedAt.Format("2006-01-02 15:04"))
	for _, msg := range l.Messages {
		text := msg.Text
		if len(text) > 120 {
			text = text[:120] + "…"
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func clearCmd(deps Deps) Handler {
	return func(inv Invocation) Result {
		if inv.SessionID == "" {
			return Errorf("/clear requires a session")
		}
		if err := deps.ClearSession(inv.SessionID); err != nil {
			return Errorf("clear session: %v", err)
		}
		return Result{Text: "session cleared"}
	}
}

func compressionCmd(deps Deps) Handler {
	return func(inv Invocation) Result {
		if inv.SessionID == "" {
			return Errorf("/compression requires a session")
		}
		before, after, err := deps.CompressSession(inv.SessionID)
		if err != nil {
			return Errorf("compress: %v", err)
		}
		return Result{
			Text: fmt.Sprintf("context compressed (~%d -> ~%d tokens)", before, after),
			Data: map[string]int{"before_tokens": before, "after_tokens": after},
		}
	}
}

func skillsCmd(deps Deps) Handler {
	return func(Invocation) Result {
		list := deps.ListSkills()
		if len(list) == 0 {
			return Result{Text: "no skills discovered"}
		}
		var b strings.Builder
		for _, s := range list {
			fmt.Fprintf(&b, "%s - %s\n", s.Name, s.Description)
		}
		return Result{Text: strings.TrimRight(b.String(), "\n"), Data: list}
	}
}

func toolsCmd(deps Deps) Handler {
	return func(Invocation) Result {
		names := deps.ToolNames()
		if len(names) == 0 {
			return Result{Text: "no tools registered"}
		}
		return Result{Text: strings.Join(names, "\n"), Data: names}
	}
}

func helpCmd(reg *Registry) Handler {
	return func(Invocation) Result {
		var b strings.Builder
		for _, cmd := range reg.List() {
			fmt.Fprintf(&b, "/%s - %s\n", cmd.Name, cmd.Description)
		}
		return Result{Text: strings.TrimRight(b.String(), "\n")}
	}
}

func quitCmd(deps Deps) Handler {
	return func(Invocation) Result {
		deps.RequestShutdown()
		return Result{Text: "shutting down"}
	}
}
