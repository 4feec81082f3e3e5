package main

import (
	"testing"
	"time"

	"github.com/1ureka/p2pchan/internal/config"
)

// TestNormalizeWSURL verifies scheme and path defaults and PIN handling.
func TestNormalizeWSURL(t *testing.T) {
	testCases := []struct {
		raw, pin string
		want     string
		wantErr  bool
	}{
		{raw: "example.devtunnels.ms", want: "wss://example.devtunnels.ms/ws"},
		{raw: "ws://localhost:8080", want: "ws://localhost:8080/ws"},
		{raw: "http://localhost:8080/ws", want: "ws://localhost:8080/ws"},
		{raw: "https://example.com/signal", want: "wss://example.com/signal"},
		{raw: "ws://localhost:8080/ws?pin=1111", want: "ws://localhost:8080/ws?pin=1111"},
		{raw: "ws://localhost:8080", pin: "4321", want: "ws://localhost:8080/ws?pin=4321"},
		{raw: "ws://localhost:8080/ws?pin=1111", pin: "4321", want: "ws://localhost:8080/ws?pin=4321"},
		{raw: "  ", wantErr: true},
		{raw: "ws://", wantErr: true},
	}

	for _, tc := range testCases {
		got, err := normalizeWSURL(tc.raw, tc.pin)
		if tc.wantErr {
			if err == nil {
				t.Errorf("normalizeWSURL(%q) = %q, want error", tc.raw, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("normalizeWSURL(%q, %q) = %q, %v; want %q", tc.raw, tc.pin, got, err, tc.want)
		}
	}
}

// TestParseFlags verifies flag binding onto the configuration.
func TestParseFlags(t *testing.T) {
	cfg, interactive, err := parseFlags([]string{
		"--role", "join",
		"--ws-url", "localhost:9000",
		"--pin", "0420",
		"--label", "chat",
		"--reply", "pong",
		"--pings", "5",
		"--ice", "stun:a.example:3478,stun:b.example:3478",
		"--rtt-timeout", "2s",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if interactive {
		t.Fatal("interactive with --role given")
	}

	switch {
	case cfg.Role != config.RoleJoin:
		t.Errorf("role = %q", cfg.Role)
	case cfg.WSURL != "wss://localhost:9000/ws?pin=0420":
		t.Errorf("ws url = %q", cfg.WSURL)
	case cfg.ChannelLabel != "chat" || cfg.Reply != "pong" || cfg.Pings != 5:
		t.Errorf("channel settings = %q %q %d", cfg.ChannelLabel, cfg.Reply, cfg.Pings)
	case len(cfg.ICEServers) != 2:
		t.Errorf("ice servers = %v", cfg.ICEServers)
	case cfg.RoundTripTimeout != 2*time.Second:
		t.Errorf("rtt timeout = %s", cfg.RoundTripTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// TestParseFlagsInteractive verifies that no role means prompting.
func TestParseFlagsInteractive(t *testing.T) {
	cfg, interactive, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if !interactive {
		t.Fatal("not interactive without --role")
	}
	if cfg.Pings != config.Default().Pings {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

// TestParseFlagsRejectsArgs verifies stray arguments are refused.
func TestParseFlagsRejectsArgs(t *testing.T) {
	if _, _, err := parseFlags([]string{"--role", "host", "extra"}); err == nil {
		t.Fatal("stray argument accepted")
	}
}
