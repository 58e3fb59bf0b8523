package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Credentials stores the bot token outside the environment
type Credentials struct {
	Discord DiscordCredential `yaml:"discord"`
}

// DiscordCredential stores the bot token
type DiscordCredential struct {
	Token string `yaml:"token"`
}

func createTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored bot token",
	}

	cmd.AddCommand(createTokenSetCmd())
	cmd.AddCommand(createTokenStatusCmd())
	cmd.AddCommand(createTokenClearCmd())

	return cmd
}

func createTokenSetCmd() *cobra.Command {
	var tokenFlag string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save the Discord bot token",
		Long: `Save the Discord bot token for later runs.

The token is stored in ~/.rolewarden/credentials with secure file
permissions. DISCORD_TOKEN in the environment always takes precedence.

EXAMPLES:
  # Interactive (prompts without echo)
  rolewarden token set

  # Non-interactive (for provisioning scripts)
  rolewarden token set --token $DISCORD_TOKEN
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenSet(tokenFlag)
		},
	}

	cmd.Flags().StringVar(&tokenFlag, "token", "", "bot token (prompts if not provided)")

	return cmd
}

func createTokenStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a token is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenStatus()
		},
	}
}

func createTokenClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenClear()
		},
	}
}

func runTokenSet(token string) error {
	if token == "" {
		fmt.Print("Enter bot token: ")

		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			byteToken, err := term.ReadPassword(stdinFd)
			fmt.Println()
			if err != nil {
				return fmt.Errorf("failed to read token: %w", err)
			}
			token = string(byteToken)
		} else {
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read token: %w", err)
			}
			token = strings.TrimSpace(line)
		}
	}

	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if err := writeCredentials(&Credentials{Discord: DiscordCredential{Token: token}}); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Printf("✅ Token saved (key: %s)\n", maskToken(token))
	fmt.Printf("   Stored in %s\n", credentialsFilePath())
	return nil
}

func runTokenStatus() error {
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No token stored")
			fmt.Println("\nRun 'rolewarden token set' to store one")
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if creds.Discord.Token == "" {
		fmt.Println("No token stored")
		return nil
	}

	fmt.Printf("Token stored: %s\n", maskToken(creds.Discord.Token))
	return nil
}

func runTokenClear() error {
	path := credentialsFilePath()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	fmt.Println("✅ Token cleared")
	return nil
}

// StoredToken returns the saved bot token, or "" when none is stored.
// Used as a fallback when DISCORD_TOKEN is not set.
func StoredToken() string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	return creds.Discord.Token
}

// Credential file helpers

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rolewarden"
	}
	return filepath.Join(home, ".rolewarden")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	dir := credentialsDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	return os.WriteFile(credentialsFilePath(), data, 0600) // Secure permissions
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
