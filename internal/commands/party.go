package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChilliRoger/den-day/internal/config"
	"github.com/ChilliRoger/den-day/internal/party"
	"github.com/ChilliRoger/den-day/internal/room"
	"github.com/ChilliRoger/den-day/internal/ui"
)

var (
	flagHostCode  string
	flagHostTopic string
)

var hostCmd = &cobra.Command{
	Use:     "host",
	Aliases: []string{"h"},
	Short:   "Start a birthday party",
	Long: `Create a party room and share its code or link with your guests.

Examples:
  den-day host --topic Sam
  den-day host --code CAKE42 --name Alex`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runParty(cmd.Context(), cfg, party.Options{
			Host:     true,
			RoomCode: flagHostCode,
			Topic:    flagHostTopic,
		})
	},
}

var joinCmd = &cobra.Command{
	Use:     "join <code|url>",
	Aliases: []string{"j"},
	Short:   "Join a birthday party",
	Long: `Join a party by room code or by the link the host shared.

Examples:
  den-day join CAKE42
  den-day join https://den-day.example.com/party/CAKE42`,
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
		return runParty(cmd.Context(), cfg, party.Options{RoomCode: code})
	},
}

func runParty(ctx context.Context, cfg *config.Config, opts party.Options) error {
	opts.Config = cfg
	opts.Log = slog.Default()

	sess, err := party.New(opts)
	if err != nil {
		return err
	}
	defer sess.Leave()

	stopSpinner := ui.RunConnectionSpinner("Joining the party...")
	err = sess.Start(ctx)
	stopSpinner()
	if err != nil {
		return err
	}

	code := sess.RoomCode()
	link := cfg.RoomLink(code)
	if opts.Host {
		ui.RenderRoomInfo(code, link, sess.Info().Topic)
	} else {
		info := sess.Info()
		ui.PrintSuccessf("Joined %s's party (%d here)", info.HostName, info.ParticipantCount)
	}
	fmt.Println()

	reason, err := ui.RunParty(sess, link)
	if err != nil {
		return err
	}
	if reason != "" {
		ui.PrintWarning(reason)
		return nil
	}
	ui.PrintSuccess("You left the party")
	return nil
}

// parseRoomInput accepts a bare room code or a party link.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room code cannot be empty")
	}

	code := input
	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		var err error
		if code, err = extractCodeFromURL(input); err != nil {
			return "", err
		}
	}

	code = strings.ToUpper(code)
	if !room.ValidCode(code) {
		return "", fmt.Errorf("%w: %q", room.ErrInvalidCode, input)
	}
	return code, nil
}

func extractCodeFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", &party.SessionError{Op: "parse URL", Err: err}
	}

	parts := strings.Split(strings.TrimSuffix(parsedURL.Path, "/"), "/")
	for i, part := range parts {
		if part == "party" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("could not find a room code in %s", urlStr)
}

func init() {
	rootCmd.AddCommand(hostCmd, joinCmd)

	hostCmd.Flags().StringVarP(&flagHostCode, "code", "c", "", "Room code to use instead of a random one")
	hostCmd.Flags().StringVar(&flagHostTopic, "topic", "", "Whose birthday it is")
}
