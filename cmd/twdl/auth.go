package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"twdl/pkg/auth"
	"twdl/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Twitter sessions",
	Long: `Manage stored Twitter sessions securely.

Sessions are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (TWDL_COOKIE)

Never share your cookies or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [handle]",
	Short: "Store a Twitter session securely",
	Long: `Store a Twitter session securely in the system keychain or encrypted file.

You will be prompted for:
  - Twitter handle (if not provided)
  - Cookie header from a logged-in browser session
  - User Agent (optional, press Enter for default)

To get the cookie value:
1. Log into Twitter in your browser
2. Open Developer Tools (F12) and go to the Network tab
3. Reload, select any request to twitter.com or x.com
4. Copy the full value of the Cookie request header`,
	Example: `  # Interactive login
  twdl auth login

  # Login with handle
  twdl auth login myhandle`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [handle]",
	Short: "Remove a stored session",
	Long: `Remove a stored Twitter session.

If no handle is provided, all stored sessions are listed so you can
choose which to remove.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored sessions",
	Long:  `List all stored Twitter sessions with the cookie value masked.`,
	Run:   runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func runLogin(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize session manager: " + err.Error())
		os.Exit(1)
	}

	var handle string
	if len(args) > 0 {
		handle = args[0]
	}

	reader := bufio.NewReader(os.Stdin)

	if handle == "" {
		fmt.Print("Twitter handle: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			ui.PrintError("Failed to read handle: " + err.Error())
			os.Exit(1)
		}
		handle = strings.TrimSpace(strings.TrimPrefix(input, "@"))
	}

	if handle == "" {
		ui.PrintError("Handle is required")
		os.Exit(1)
	}

	if existing, _ := manager.Retrieve(handle); existing != nil {
		fmt.Printf("Session for '%s' already exists. Update it? (y/N): ", handle)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	var cookie string
	for {
		fmt.Print("Cookie header value (hidden as you type): ")
		cookie, err = readSecret()
		if err != nil {
			ui.PrintError("Failed to read cookie: " + err.Error())
			os.Exit(1)
		}

		if err := auth.ValidateCookie(cookie); err != nil {
			fmt.Println("\nThat doesn't look like a cookie header.")
			fmt.Println("It should contain name=value pairs separated by semicolons.")
			fmt.Print("Try again? (Y/n): ")
			retry, _ := reader.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(retry)) == "n" {
				os.Exit(1)
			}
			continue
		}
		break
	}

	fmt.Print("User Agent (press Enter to use default): ")
	userAgent, _ := reader.ReadString('\n')
	userAgent = strings.TrimSpace(userAgent)

	session := &auth.Session{
		Handle:       handle,
		Cookie:       cookie,
		UserAgent:    userAgent,
		LastModified: time.Now(),
	}

	if err := manager.Store(session); err != nil {
		ui.PrintError("Failed to store session: " + err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Session saved: " + handle)

	fmt.Println("\nYour session is encrypted and stored in:")
	if auth.IsKeyringAvailable() {
		fmt.Println("  - System keychain (primary)")
	}
	fmt.Println("  - Encrypted file (backup)")
	fmt.Println("\nDownload media from an archive:")
	fmt.Printf("  $ twdl download tweets.json --account %s\n", handle)
}

func runLogout(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize session manager: " + err.Error())
		os.Exit(1)
	}

	if len(args) > 0 {
		handle := args[0]
		if err := manager.Delete(handle); err != nil {
			ui.PrintError("Failed to remove session: " + err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("Session removed: " + handle)
		return
	}

	sessions, err := manager.List()
	if err != nil || len(sessions) == 0 {
		ui.PrintWarning("No stored sessions found")
		return
	}

	if len(sessions) == 1 {
		session := sessions[0]
		reader := bufio.NewReader(os.Stdin)
		fmt.Printf("Remove session '%s'? (y/N): ", session.Handle)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}

		if err := manager.Delete(session.Handle); err != nil {
			ui.PrintError("Failed to remove session: " + err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("Session removed: " + session.Handle)
		return
	}

	fmt.Println("Select session to remove:")
	for i, session := range sessions {
		fmt.Printf("  %d. %s\n", i+1, session.Handle)
	}
	fmt.Printf("  %d. Remove all sessions\n", len(sessions)+1)
	fmt.Printf("  0. Cancel\n\n")

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Choice: ")
	input, _ := reader.ReadString('\n')

	var choice int
	fmt.Sscanf(strings.TrimSpace(input), "%d", &choice)

	switch {
	case choice == 0:
		return
	case choice == len(sessions)+1:
		fmt.Print("Remove ALL sessions? This cannot be undone! (yes/N): ")
		confirm, _ := reader.ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			return
		}
		if err := manager.DeleteAll(); err != nil {
			ui.PrintError("Failed to remove all sessions: " + err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("All sessions removed")
	case choice > 0 && choice <= len(sessions):
		session := sessions[choice-1]
		if err := manager.Delete(session.Handle); err != nil {
			ui.PrintError("Failed to remove session: " + err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("Session removed: " + session.Handle)
	default:
		ui.PrintError("Invalid choice")
		os.Exit(1)
	}
}

func runList(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize session manager: " + err.Error())
		os.Exit(1)
	}

	sessions, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list sessions: " + err.Error())
		os.Exit(1)
	}

	if len(sessions) == 0 {
		ui.PrintInfo("No stored sessions", "Use 'twdl auth login' to add one")
		return
	}

	for i, session := range sessions {
		sanitized := auth.SanitizeSession(session)
		fmt.Printf("%d. Handle: %s\n", i+1, sanitized.Handle)
		fmt.Printf("   Cookie: %s\n", sanitized.Cookie)
		if sanitized.UserAgent != "" {
			fmt.Printf("   User Agent: %s\n", sanitized.UserAgent)
		}
		fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}
}

// readSecret reads a value from stdin without echoing
func readSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	// Fallback to regular input
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
