package version

// Version is the current version of den-day.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/ChilliRoger/den-day/internal/version.Version=v1.0.0'"
var Version = "dev"

// UserAgent identifies the terminal client to the signaling server.
func UserAgent() string {
	return "den-day/" + Version
}
