package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mentorchat/internal/chat"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the stored conversation with a peer",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().String("peer", "", "Identity of the chat partner")
	historyCmd.Flags().String("after", "", "Only print messages newer than this message id")
	historyCmd.Flags().Bool("raw", false, "Print the JSON response as received")
	_ = historyCmd.MarkFlagRequired("peer")
}

func historyURL(server, peer, after string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/history/" + peer
	if after != "" {
		u.Path += "/new"
		u.RawQuery = url.Values{"afterId": {after}}.Encode()
	}
	return u.String(), nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	token, err := tokenFlag(cmd)
	if err != nil {
		return err
	}
	server, _ := cmd.Flags().GetString("server")
	peer, _ := cmd.Flags().GetString("peer")
	after, _ := cmd.Flags().GetString("after")
	raw, _ := cmd.Flags().GetBool("raw")

	endpoint, err := historyURL(server, peer, after)
	if err != nil {
		return fmt.Errorf("invalid --server: %w", err)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if raw {
		fmt.Println(string(body))
		return nil
	}

	var records []chat.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	for _, r := range records {
		fmt.Printf("#%d [%s] %s: %s\n", r.ID, r.Timestamp.Local().Format(time.DateTime), r.SenderID, r.Text)
	}
	return nil
}
