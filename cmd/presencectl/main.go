/*
Package main is presencectl, a headless viewsync client.

It joins rooms through either transport realization, prints who is present and what they
say, and can follow another user's camera with a virtual one. The HTTP subcommands wrap
the server's room, upload and demo endpoints.
*/
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"viewsync/internal/client/identity"
	"viewsync/internal/pkg/logx"
)

// Transports selectable with --transport.
const (
	transportSocket = "socket"
	transportRelay  = "relay"
)

// Flag variables.
var (
	serverURL, transportName, relayKey string
	userName, identityFile             string
	verbose                            bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "presencectl",
	Short:         "Headless client for viewsync rooms.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Log lines go to stderr so stdout carries only room activity.
		logx.InitGlobalLoggerTo(os.Stderr, verbose)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&serverURL, "server", "s", "http://localhost:8080",
		"Base URL of the viewsync server.")
	flags.StringVarP(&transportName, "transport", "t", transportSocket,
		"Realtime transport: \"socket\" (server rooms) or \"relay\" (trigger endpoint + relay stream).")
	flags.StringVar(&relayKey, "relay-key", os.Getenv("RELAY_APP_KEY"),
		"Relay application key. Defaults to $RELAY_APP_KEY.")
	flags.StringVarP(&userName, "name", "n", "",
		"Display name for a new identity. Renames an existing one.")
	flags.StringVar(&identityFile, "identity-file", defaultIdentityFile(),
		"Session storage file for the identity. Set to \"\" to use a fresh identity every run.")
	flags.BoolVarP(&verbose, "verbose", "v", false,
		"Human-readable debug logging on stderr.")

	rootCmd.AddCommand(joinCmd, newRoomCmd, roomFileCmd, uploadCmd, keepaliveCmd)
}

func defaultIdentityFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "viewsync", "identity.json")
}

// identityStore returns the store selected by --identity-file. An empty path means no
// session storage.
func identityStore() *identity.Store {
	if identityFile == "" {
		return identity.NewStore(nil)
	}
	return identity.NewStore(identity.NewFileStorage(identityFile))
}
