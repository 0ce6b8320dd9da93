package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/relay/internal/auth"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/state"
)

func buildSetKeyCmd() *cobra.Command {
	var (
		configPath string
		provider   string
	)

	cmd := &cobra.Command{
		Use:   "set-key [key]",
		Short: "Store an API key for the router or web search",
		Long: `Store an API key in the relay state directory. With no key argument the
command prompts without echoing.`,
		Example: `  relay set-key --provider router
  relay set-key --provider search sk-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			return runSetKey(configPath, provider, key)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	cmd.Flags().StringVarP(&provider, "provider", "p", "router", "Key target: router or search")
	return cmd
}

func runSetKey(configPath, provider, key string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != "router" && provider != "search" {
		return fmt.Errorf("unknown key target %q (want router or search)", provider)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if key == "" {
		read, err := promptSecret(fmt.Sprintf("%s API key: ", provider))
		if err != nil {
			return err
		}
		key = read
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key must not be empty")
	}

	store, err := state.NewStore(cfg.State.Dir)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
	service := auth.NewService(store, logger)

	switch provider {
	case "router":
		err = service.SetRouterKey(key)
	case "search":
		err = service.SetSearchKey(key)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s key saved\n", provider)
	return nil
}

// promptSecret reads a line without echo when stdin is a terminal, falling
// back to a plain read for pipes.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
