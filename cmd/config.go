package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chatstack/llm-router/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the LLM router configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for provider details.`,
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

var knownProviders = []string{"openai", "anthropic", "gemini", "deepseek"}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("LLM Router Configuration Setup")
	color.Yellow("Enter API keys for the providers you use; leave blank to skip a provider.")

	reader := bufio.NewReader(os.Stdin)

	var providerEntries []config.Provider
	for _, name := range knownProviders {
		fmt.Printf("\n%s API Key (blank to skip): ", name)
		apiKey, _ := reader.ReadString('\n')
		apiKey = strings.TrimSpace(apiKey)
		if apiKey == "" {
			continue
		}
		providerEntries = append(providerEntries, config.Provider{
			Name:   name,
			APIKey: apiKey,
		})
	}

	fmt.Print("\nRouter API Key (optional, for authentication): ")
	routerAPIKey, _ := reader.ReadString('\n')
	routerAPIKey = strings.TrimSpace(routerAPIKey)

	cfg := &config.Config{
		Host:      config.DefaultHost,
		Port:      config.DefaultPort,
		APIKey:    routerAPIKey,
		Providers: providerEntries,
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the router with: %s start", AppName)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run '%s config init' to create one.", AppName)
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Storage Dir", cfg.StorageDir)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nProviders:")
	for _, provider := range cfg.Providers {
		fmt.Printf("  - Name: %s\n", provider.Name)
		fmt.Printf("    API Key: %s\n", maskString(provider.APIKey))
		if provider.BaseURL != "" {
			fmt.Printf("    Base URL: %s\n", provider.BaseURL)
		}
		fmt.Println()
	}

	if cfg.Vertex != nil {
		fmt.Println("Vertex:")
		fmt.Printf("  %-15s: %s\n", "Project ID", cfg.Vertex.ProjectID)
		fmt.Printf("  %-15s: %s\n", "Location", cfg.Vertex.Location)
		fmt.Printf("  %-15s: %s\n", "Credentials", cfg.Vertex.CredentialsFile)
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var problems []string

	if len(cfg.Providers) == 0 && cfg.Vertex == nil {
		problems = append(problems, "no providers configured")
	}

	for i, provider := range cfg.Providers {
		if provider.Name == "" {
			problems = append(problems, fmt.Sprintf("provider %d: name is required", i))
		}
		if provider.APIKey == "" {
			problems = append(problems, fmt.Sprintf("provider %d (%s): API key is empty; the environment fallback will be used", i, provider.Name))
		}
	}

	if cfg.Vertex != nil && cfg.Vertex.ProjectID == "" {
		problems = append(problems, "vertex: project_id is required")
	}

	if len(problems) > 0 {
		color.Red("Configuration validation failed:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
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
