package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/fitreg/internal/config"
	"github.com/kalambet/fitreg/internal/profile"
	"github.com/kalambet/fitreg/internal/registration"
)

// --- users ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage registered users",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a user (or return the existing one for --external-id)",
	RunE: func(cmd *cobra.Command, args []string) error {
		externalID, _ := cmd.Flags().GetString("external-id")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		p, err := registerUser(cmd.Context(), client, externalID)
		if err != nil {
			return err
		}
		printSuccess("User %s at step %s", p.ID, p.RegistrationStep)
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		users, err := listUsers(cmd.Context(), client, limit, offset)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		for _, u := range users {
			fmt.Println(userLine(u))
		}
		return nil
	},
}

var usersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a user profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/users/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var p profile.Profile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a user and their dialogue history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete user %s and all their turns. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/users/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted user %s", args[0])
		return nil
	},
}

func init() {
	usersCreateCmd.Flags().String("external-id", "", "transport-specific user id")
	usersListCmd.Flags().Int("limit", 20, "maximum number of users to list")
	usersListCmd.Flags().Int("offset", 0, "number of users to skip")
	usersDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersShowCmd)
	usersCmd.AddCommand(usersDeleteCmd)
}

func registerUser(ctx context.Context, c *apiClient, externalID string) (profile.Profile, error) {
	resp, err := c.post(ctx, "/users", map[string]string{"external_id": externalID})
	if err != nil {
		return profile.Profile{}, err
	}
	var p profile.Profile
	if err := decodeJSON(resp, &p); err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}

func listUsers(ctx context.Context, c *apiClient, limit, offset int) ([]profile.Profile, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/users?limit=%d&offset=%d", limit, offset))
	if err != nil {
		return nil, err
	}
	var out struct {
		Users []profile.Profile `json:"users"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func userLine(p profile.Profile) string {
	ext := p.ExternalID
	if ext == "" {
		ext = "-"
	}
	known := 0
	for _, f := range profile.AllFields {
		if p.IsSet(f) {
			known++
		}
	}
	return fmt.Sprintf("%s  %-16s  %-16s  %d/%d fields",
		colorize(colorCyan, shortID(p.ID)),
		p.RegistrationStep,
		ext,
		known, len(profile.AllFields),
	)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run the registration dialogue interactively",
	Long: `Run the registration dialogue interactively.

Examples:
  fitreg chat                       # new anonymous user
  fitreg chat --external-id tg:42   # resume or start for tg:42
  fitreg chat --user 3f2a...        # resume an existing user`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		externalID, _ := cmd.Flags().GetString("external-id")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if userID == "" {
			p, err := registerUser(cmd.Context(), client, externalID)
			if err != nil {
				return err
			}
			userID = p.ID
		}
		printSuccess("Chatting as %s (type /edit to change answers, Ctrl-D to quit)", userID)
		return chatLoop(cmd.Context(), client, userID, os.Stdin, os.Stdout)
	},
}

func init() {
	chatCmd.Flags().String("user", "", "existing user id")
	chatCmd.Flags().String("external-id", "", "transport-specific user id")
	chatCmd.MarkFlagsMutuallyExclusive("user", "external-id")
}

// chatLoop relays lines from in as messages of userID until in is exhausted
// or the registration completes. "/edit" reopens a confirmed profile.
func chatLoop(ctx context.Context, c *apiClient, userID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "you> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			fmt.Fprint(out, "you> ")
			continue
		}

		var (
			res registration.Result
			err error
		)
		if text == "/edit" {
			res, err = beginEdit(ctx, c, userID)
		} else {
			res, err = sendMessage(ctx, c, userID, text)
		}
		if err != nil {
			return err
		}
		printReply(out, res.Response)
		if res.IsComplete {
			return nil
		}
		fmt.Fprint(out, "you> ")
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func sendMessage(ctx context.Context, c *apiClient, userID, text string) (registration.Result, error) {
	resp, err := c.post(ctx, "/users/"+url.PathEscape(userID)+"/messages", map[string]string{"text": text})
	if err != nil {
		return registration.Result{}, err
	}
	var res registration.Result
	if err := decodeJSON(resp, &res); err != nil {
		return registration.Result{}, err
	}
	return res, nil
}

func beginEdit(ctx context.Context, c *apiClient, userID string) (registration.Result, error) {
	resp, err := c.post(ctx, "/users/"+url.PathEscape(userID)+"/edit", nil)
	if err != nil {
		return registration.Result{}, err
	}
	var res registration.Result
	if err := decodeJSON(resp, &res); err != nil {
		return registration.Result{}, err
	}
	return res, nil
}

// --- say / edit ---

var sayCmd = &cobra.Command{
	Use:   "say <user-id> <text>",
	Short: "Send a single message for a user and print the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := sendMessage(cmd.Context(), client, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		printReply(os.Stdout, res.Response)
		printStatus("Step", "%s", res.Profile.RegistrationStep)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <user-id>",
	Short: "Reopen a confirmed or completed profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := beginEdit(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printReply(os.Stdout, res.Response)
		return nil
	},
}

// --- turns ---

var turnsCmd = &cobra.Command{
	Use:   "turns <user-id>",
	Short: "Show the dialogue history of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/users/%s/turns?limit=%d", url.PathEscape(args[0]), limit))
		if err != nil {
			return err
		}
		var out struct {
			Turns []profile.Turn `json:"turns"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if len(out.Turns) == 0 {
			fmt.Println("No turns found.")
			return nil
		}
		for _, t := range out.Turns {
			printTurn(os.Stdout, t)
		}
		return nil
	},
}

func init() {
	turnsCmd.Flags().Int("limit", 50, "maximum number of turns to show")
}

func printTurn(w io.Writer, t profile.Turn) {
	step := string(t.StepBefore)
	if t.StepAfter != t.StepBefore {
		step += " → " + string(t.StepAfter)
	}
	fmt.Fprintf(w, "%s  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), colorize(colorBold, step))
	if t.UserText != "" {
		fmt.Fprintf(w, "you> %s\n", t.UserText)
	}
	printReply(w, t.Reply)
	if len(t.Extracted) > 0 {
		names := make([]string, len(t.Extracted))
		for i, f := range t.Extracted {
			names[i] = string(f)
		}
		fmt.Fprintf(w, "     extracted: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintln(w)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		printStatus("Source", "%s", config.Location())
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
