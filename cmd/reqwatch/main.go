// Command reqwatch follows a project's changes over the WebSocket interface
// and re-prints the watched requirement whenever it is updated.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codeMaster/reqtrace/internal/client"
	"github.com/spf13/cobra"
)

var version = "dev"

var errDisconnected = errors.New("disconnected: reconnect attempts exhausted")

func main() {
	var (
		server      string
		project     string
		requirement string
		verbose     bool
	)
	rootCmd := &cobra.Command{
		Use:     "reqwatch",
		Short:   "Watch live changes of a project",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL, err := websocketURL(server)
			if err != nil {
				return err
			}
			logOut := io.Discard
			if verbose {
				logOut = os.Stderr
			}
			logger := slog.New(slog.NewTextHandler(logOut, nil))
			return watch(cmd.OutOrStdout(), wsURL, server, project, requirement, logger)
		},
	}
	rootCmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8080", "server base URL")
	rootCmd.Flags().StringVarP(&project, "project", "p", "", "project ID to watch")
	rootCmd.Flags().StringVarP(&requirement, "requirement", "r", "", "requirement ID to re-fetch on change")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log connection details to stderr")
	_ = rootCmd.MarkFlagRequired("project")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// websocketURL turns http(s)://host into ws(s)://host/ws.
func websocketURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

func watch(out io.Writer, wsURL, server, project, requirement string, logger *slog.Logger) error {
	p := &printer{out: out}
	done := make(chan error, 1)

	c := client.New(client.Options{
		URL:     wsURL,
		Name:    "reqwatch",
		Fetcher: client.NewAPI(server),
		Logger:  logger,
		OnState: func(s client.State) {
			p.state(s)
			if s == client.Disconnected {
				select {
				case done <- errDisconnected:
				default:
				}
			}
		},
		OnUpdate:      p.update,
		OnRequirement: p.requirement,
		OnMessage:     p.message,
	})
	if err := c.Watch(project, requirement); err != nil {
		return err
	}
	c.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	var err error
	select {
	case <-sig:
	case err = <-done:
	}
	c.Close()
	return err
}
