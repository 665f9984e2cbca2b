package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/yui/internal/config"
	"github.com/stellarlinkco/yui/internal/dialog"
	"github.com/stellarlinkco/yui/internal/gateway"
)

var rootCmd = &cobra.Command{
	Use:   "yui",
	Short: "yui - conversational AI companion",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + scheduled jobs)",
	RunE:  runGateway,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Yui in single message or REPL mode",
	RunE:  runChat,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show yui status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(gatewayCmd, chatCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'yui onboard' or set YUI_API_KEY / GROQ_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(context.Background())
}

// ChatOptions allows injecting IO for testing.
type ChatOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// The REPL drives the orchestrator without any transport.
	cfg.Channels.Telegram.Enabled = false

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()
	const threadID = "cli:local"

	turn := func(text string) {
		printed := false
		st, err := gw.Turn(ctx, threadID, "local", text, nil)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return
		}
		for i := len(st.Messages) - 1; i >= 0; i-- {
			msg := st.Messages[i]
			if msg.Role == dialog.RoleUser {
				break
			}
			if msg.Role == dialog.RoleAssistant && strings.TrimSpace(msg.Content) != "" {
				fmt.Fprintln(stdout, msg.Content)
				printed = true
				break
			}
		}
		if !printed {
			fmt.Fprintln(stdout, "(no reply)")
		}
	}

	if messageFlag != "" {
		turn(messageFlag)
		return nil
	}

	fmt.Fprintln(stdout, "yui chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		turn(input)
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set YUI_API_KEY / GROQ_API_KEY environment variable")
	fmt.Println("  3. Run 'yui chat -m \"Hello\"' to test")
	fmt.Println("  4. Add a telegram token and run 'yui gateway'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Base URL: %s\n", cfg.Provider.BaseURL)
	fmt.Printf("API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Memory DB: %s\n", cfg.Memory.DBPath)
	fmt.Printf("Profile: %s\n", cfg.Profile.Path)
	if cfg.Tools.BraveAPIKey != "" {
		fmt.Println("Search: enabled")
	} else {
		fmt.Println("Search: disabled (no brave api key)")
	}
	return nil
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}
