package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ChilliRoger/den-day/internal/config"
	"github.com/ChilliRoger/den-day/internal/party"
	"github.com/ChilliRoger/den-day/internal/ui"
	"github.com/ChilliRoger/den-day/internal/version"
)

var (
	flagServer   string
	flagWeb      string
	flagName     string
	flagCodec    string
	flagSTUN     []string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "den-day",
	Short: "Throw a birthday video party from your terminal",
	Long: `den-day connects everyone at a birthday party over peer-to-peer WebRTC video.
The host opens a room and shares its six-character code or link; guests join from
the terminal or the browser. Chat and the cake-cutting moment are shared with everyone.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(describe(err))
		stop()
		os.Exit(1)
	}
}

// describe adds a hint for the failures a user can do something about.
func describe(err error) string {
	switch {
	case errors.Is(err, party.ErrMediaUnavailable):
		return err.Error() + " (check that no other app is using your camera and microphone)"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	}
	return err.Error()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ServerURL:   flagServer,
		WebURL:      flagWeb,
		Name:        flagName,
		Codec:       flagCodec,
		STUNServers: flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelay,
	})
	if err != nil {
		return nil, &party.SessionError{Op: "load config", Err: err}
	}
	return cfg, nil
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&flagServer, "server", "", "Signaling server websocket URL")
	f.StringVar(&flagWeb, "web", "", "Web app URL used for party links")
	f.StringVarP(&flagName, "name", "n", "", "Your display name")
	f.StringVar(&flagCodec, "codec", "", "Signaling codec: msgpack or json")
	f.StringSliceVarP(&flagSTUN, "stun", "s", nil, "Custom STUN servers")
	f.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	f.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	f.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	f.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}
