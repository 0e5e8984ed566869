package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/asta/histd/internal/config"
	"github.com/asta/histd/internal/history"
)

// --- history ---

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"h"},
	Short:   "Browse and manage saved itineraries",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List one page of itineraries, newest first",
	Long: `List one page of itineraries, newest first.

Examples:
  histd history list
  histd history list --user 1 --page 2 --size 20
  histd history list --title 迪士尼 --from "2025-01-01 00:00:00"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		q := history.Query{}
		q.PageIndex, _ = flags.GetInt("page")
		q.PageSize, _ = flags.GetInt("size")
		q.Username, _ = flags.GetString("username")
		q.Title, _ = flags.GetString("title")
		q.StartTime, _ = flags.GetString("from")
		q.EndTime, _ = flags.GetString("to")
		if flags.Changed("user") {
			id, _ := flags.GetInt("user")
			q.UserID = history.UserID(id)
		}
		asJSON, _ := flags.GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listHistory(cmd.Context(), client, cmd.OutOrStdout(), q, asJSON)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one itinerary with its full content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showHistory(cmd.Context(), client, cmd.OutOrStdout(), args[0], asJSON)
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search <title>",
	Short: "Find itineraries whose title contains the text, ignoring case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return fetchRecords(cmd.Context(), client, cmd.OutOrStdout(), "/api/history/search?title="+url.QueryEscape(args[0]), asJSON)
	},
}

var historyUserCmd = &cobra.Command{
	Use:   "user <userId>",
	Short: "List every itinerary of one user, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return fetchRecords(cmd.Context(), client, cmd.OutOrStdout(), fmt.Sprintf("/api/history/user/%d", userID), asJSON)
	},
}

var historySaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save an itinerary",
	Long: `Save an itinerary. The content comes from --content or --file; use
--file - to read it from stdin.

Examples:
  histd history save --title "北京三日游" --file plan.md --user 1 --username alice
  generate-plan | histd history save --title "Weekend" --file -`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		rec := history.Record{}
		rec.Title, _ = flags.GetString("title")
		rec.Content, _ = flags.GetString("content")
		rec.Username, _ = flags.GetString("username")
		rec.ID, _ = flags.GetString("id")
		rec.CreatedAt, _ = flags.GetString("created-at")
		file, _ := flags.GetString("file")

		if rec.Title == "" {
			return errors.New("--title is required")
		}
		if file != "" && rec.Content != "" {
			return errors.New("use only one of --content or --file")
		}
		if file != "" {
			data, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			rec.Content = string(data)
		}
		if flags.Changed("user") {
			id, _ := flags.GetInt("user")
			rec.UserID = history.UserID(id)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		saved, err := saveHistory(cmd.Context(), client, rec)
		if err != nil {
			return err
		}
		printSuccess("Saved %s", saved.ID)
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one itinerary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := deleteHistory(cmd.Context(), client, args[0]); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every itinerary of a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("user") {
			return errors.New("--user is required")
		}
		userID, _ := cmd.Flags().GetInt("user")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes every itinerary of user %d. Re-run with --confirm to proceed.", userID)
			return errors.New("purge not confirmed")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := purgeUser(cmd.Context(), client, userID)
		if err != nil {
			return err
		}
		printSuccess("Deleted %s of user %d", countLabel(n, "itinerary", "itineraries"), userID)
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("user", 0, "only this user's itineraries")
	historyListCmd.Flags().String("username", "", "username substring")
	historyListCmd.Flags().String("title", "", "title substring")
	historyListCmd.Flags().String("from", "", "earliest createdAt, YYYY-MM-DD HH:MM:SS")
	historyListCmd.Flags().String("to", "", "latest createdAt, YYYY-MM-DD HH:MM:SS")
	historyListCmd.Flags().Int("page", 1, "1-based page index")
	historyListCmd.Flags().Int("size", 0, "page size (server default when 0)")

	historySaveCmd.Flags().String("title", "", "itinerary title")
	historySaveCmd.Flags().String("content", "", "itinerary text")
	historySaveCmd.Flags().String("file", "", "read the itinerary text from a file, - for stdin")
	historySaveCmd.Flags().Int("user", 0, "owner user id")
	historySaveCmd.Flags().String("username", "", "owner display name")
	historySaveCmd.Flags().String("id", "", "overwrite this existing id")
	historySaveCmd.Flags().String("created-at", "", "creation time, YYYY-MM-DD HH:MM:SS")

	historyPurgeCmd.Flags().Int("user", 0, "user whose itineraries are deleted")
	historyPurgeCmd.Flags().Bool("confirm", false, "confirm the deletion")

	for _, c := range []*cobra.Command{historyListCmd, historyShowCmd, historySearchCmd, historyUserCmd} {
		c.Flags().Bool("json", false, "print raw JSON")
	}

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historySearchCmd)
	historyCmd.AddCommand(historyUserCmd)
	historyCmd.AddCommand(historySaveCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyPurgeCmd)
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

func listHistory(ctx context.Context, client *apiClient, w io.Writer, q history.Query, asJSON bool) error {
	resp, err := client.post(ctx, "/api/history/page", q)
	if err != nil {
		return err
	}

	var page history.Page
	if err := decodeEnvelope(resp, &page); err != nil {
		return err
	}

	if asJSON {
		return printJSON(w, page)
	}
	if len(page.Records) == 0 {
		fmt.Fprintln(w, "No itineraries found.")
	} else {
		printRecords(w, page.Records)
	}
	fmt.Fprintf(w, "\nPage %d of %d (%s)\n", page.Current, page.Pages, countLabel(page.Total, "itinerary", "itineraries"))
	return nil
}

func showHistory(ctx context.Context, client *apiClient, w io.Writer, id string, asJSON bool) error {
	resp, err := client.get(ctx, "/api/history/"+url.PathEscape(id))
	if err != nil {
		return err
	}

	var rec history.Record
	if err := decodeEnvelope(resp, &rec); err != nil {
		return err
	}

	if asJSON {
		return printJSON(w, rec)
	}
	printRecord(w, rec)
	return nil
}

// fetchRecords GETs a path that returns a record list and prints it.
func fetchRecords(ctx context.Context, client *apiClient, w io.Writer, path string, asJSON bool) error {
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}

	var records []history.Record
	if err := decodeEnvelope(resp, &records); err != nil {
		return err
	}

	if asJSON {
		return printJSON(w, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No itineraries found.")
		return nil
	}
	printRecords(w, records)
	return nil
}

func saveHistory(ctx context.Context, client *apiClient, rec history.Record) (history.Record, error) {
	resp, err := client.post(ctx, "/api/history/save", rec)
	if err != nil {
		return history.Record{}, err
	}

	var saved history.Record
	if err := decodeEnvelope(resp, &saved); err != nil {
		return history.Record{}, err
	}
	return saved, nil
}

func deleteHistory(ctx context.Context, client *apiClient, id string) error {
	resp, err := client.delete(ctx, "/api/history/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, nil)
}

func purgeUser(ctx context.Context, client *apiClient, userID int) (int, error) {
	resp, err := client.delete(ctx, fmt.Sprintf("/api/history/user/%d", userID))
	if err != nil {
		return 0, err
	}

	var result struct {
		Deleted int `json:"deleted"`
	}
	if err := decodeEnvelope(resp, &result); err != nil {
		return 0, err
	}
	return result.Deleted, nil
}

func countLabel(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
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

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
