package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/dns"
	"github.com/pairlink/pairlink/internal/server"
	"github.com/pairlink/pairlink/internal/ui"
)

var roomCmd = &cobra.Command{
	Use:   "room <room-id|url>",
	Short: "Show how many participants a room holds",
	Long: `Query a running rendezvous server for the occupancy of a room.

Examples:
  pairlink room ABCD1234
  pairlink room https://pairlink.example.com/r/ABCD1234`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, _, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		cfg, err := LoadConfig(config.Options{})
		if err != nil {
			return err
		}
		sp := ui.NewSimpleSpinner("Looking up room...")
		sp.Start()
		st, err := lookupRoom(cmd.Context(), cfg.HTTPBase(), roomID)
		sp.Stop()
		if err != nil {
			return err
		}
		fmt.Println(ui.RoomStatusView(roomID, st.Participants, st.IsFull))
		return nil
	},
}

func lookupRoom(ctx context.Context, base, roomID string) (server.RoomStatus, error) {
	var st server.RoomStatus

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/rooms/"+url.PathEscape(roomID), nil)
	if err != nil {
		return st, fmt.Errorf("build request: %w", err)
	}

	client := &http.Client{Transport: &http.Transport{DialContext: dns.DialContext}}
	resp, err := client.Do(req)
	if err != nil {
		return st, fmt.Errorf("query room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("query room: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode room status: %w", err)
	}
	return st, nil
}

func init() {
	rootCmd.AddCommand(roomCmd)
}
