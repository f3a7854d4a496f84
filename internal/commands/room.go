package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChilliRoger/den-day/internal/dns"
	"github.com/ChilliRoger/den-day/internal/party"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/ChilliRoger/den-day/internal/room"
	"github.com/ChilliRoger/den-day/internal/ui"
	"github.com/ChilliRoger/den-day/internal/version"
)

var roomCmd = &cobra.Command{
	Use:   "room <code|url>",
	Short: "Show who is at a party",
	Long: `Look up a party on the signaling server without joining it.

Examples:
  den-day room CAKE42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		stopSpinner := ui.RunConnectionSpinner("Looking up party...")
		info, err := fetchRoom(cmd.Context(), httpClient, cfg.HTTPBaseURL(), code)
		stopSpinner()
		if err != nil {
			return err
		}

		ui.RenderRoomSummary(info)
		ui.PrintInfo(cfg.RoomLink(info.RoomCode))
		return nil
	},
}

var httpClient = &http.Client{
	Timeout: 10 * time.Second,
	Transport: &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dns.DialContext,
	},
}

// fetchRoom asks the server for a room's public snapshot.
func fetchRoom(ctx context.Context, client *http.Client, baseURL, code string) (protocol.RoomInfo, error) {
	var info protocol.RoomInfo

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/room/"+url.PathEscape(code), nil)
	if err != nil {
		return info, &party.SessionError{Op: "look up room", Err: err}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return info, &party.SessionError{Op: "look up room", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return info, &party.SessionError{Op: "look up room", Code: protocol.CodeRoomNotFound, Err: room.ErrRoomNotFound}
	default:
		return info, &party.SessionError{Op: "look up room", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, &party.SessionError{Op: "decode room", Err: err}
	}
	return info, nil
}

func init() {
	rootCmd.AddCommand(roomCmd)
}
