package main

import (
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/p2pchan/internal/config"
	"github.com/1ureka/p2pchan/internal/util"
)

// askConfig falls back to interactive prompts when no --role flag is given.
func askConfig(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Loopback — Negotiate both ends in this process",
			"Host     — Serve signaling and wait for a peer",
			"Join     — Connect to a host",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Host"):
		cfg.Role = config.RoleHost
	case strings.HasPrefix(role, "Join"):
		cfg.Role = config.RoleJoin
		cfg.WSURL = askURL(cfg.PIN)
	default:
		cfg.Role = config.RoleLoopback
	}
}

// askURL prompts for a WebSocket URL until a valid one is entered. A
// non-empty pin overrides the one in the URL.
func askURL(pin string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. wss://***.asse.devtunnels.ms/ws?pin=1234)").
			Show()

		wsURL, err := normalizeWSURL(raw, pin)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
