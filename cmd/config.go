package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"claude-local-proxy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the translation proxy configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for backend details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	color.Blue("%s configuration setup", AppName)
	color.Yellow("Follow the prompts to configure your local backend.")

	reader := bufio.NewReader(os.Stdin)

	backend := prompt(reader, "Backend (ollama or lmstudio) [ollama]")
	if backend == "" {
		backend = string(config.BackendOllama)
	}

	kind := config.BackendKind(backend)

	defaultURL := config.DefaultOllamaBaseURL
	if kind == config.BackendLMStudio {
		defaultURL = config.DefaultLMStudioBaseURL
	}

	baseURL := prompt(reader, fmt.Sprintf("Base URL [%s]", defaultURL))
	if baseURL == "" {
		baseURL = defaultURL
	}

	model := prompt(reader, "Default model [llama3.1:8b]")
	if model == "" {
		model = "llama3.1:8b"
	}

	proxyKey := prompt(reader, "Proxy API key (optional)")

	cfg := &config.Config{
		Host:    config.DefaultHost,
		Port:    config.DefaultPort,
		APIKey:  proxyKey,
		Backend: kind,
		Backends: map[config.BackendKind]config.Backend{
			kind: {
				BaseURL:      baseURL,
				DefaultModel: model,
				Models: config.RouteTable{
					{Pattern: "claude-3-5-haiku", Target: model},
					{Pattern: "claude-3-5-sonnet", Target: model},
					{Pattern: "claude-", Target: model},
				},
			},
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved to: %s", cfgMgr.GetPath())
	color.Cyan("Edit the models table to route client model names, then run: clp start")

	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'clp config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Backend", cfg.Backend)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	active := cfg.Active()
	fmt.Println("\nActive backend:")
	fmt.Printf("  %-15s: %s\n", "Base URL", active.BaseURL)
	fmt.Printf("  %-15s: %s\n", "Default Model", active.DefaultModel)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(active.APIKey))

	if len(active.Models) > 0 {
		fmt.Println("\nModel routes (checked in order):")
		for _, route := range active.Models {
			fmt.Printf("  %s -> %s\n", route.Pattern, route.Target)
		}
	}

	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found at %s", cfgMgr.GetPath())
	}

	if _, err := cfgMgr.Load(); err != nil {
		color.Red("Configuration invalid: %v", err)
		return err
	}

	color.Green("Configuration is valid")

	return nil
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	line, _ := reader.ReadString('\n')

	return strings.TrimSpace(line)
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
