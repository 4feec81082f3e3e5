// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Role represents the user's chosen run mode.
type Role string

const (
	// RoleLoopback negotiates both endpoints inside this process.
	RoleLoopback Role = "loopback"
	// RoleHost serves WebSocket signaling and initiates the negotiation.
	RoleHost Role = "host"
	// RoleJoin dials the host's signaling server and answers its offer.
	RoleJoin Role = "join"
)

// STUN servers for ICE candidate gathering. No TURN: the tool targets direct
// P2P connectivity.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config stores all parameters gathered from flags or interactive prompts.
type Config struct {
	Role Role

	ICEServers       []string // STUN/TURN URLs handed to the engine
	IncludeLoopback  bool     // gather loopback host candidates (same-machine runs)
	ChannelLabel     string   // label of the locally opened message channel
	Reply            string   // fixed payload the answering side replies with
	Greeting         string   // optional payload the answering side sends on open
	Pings            int      // number of round trips the initiating side performs
	NegotiateTimeout time.Duration
	RoundTripTimeout time.Duration
	StatsInterval    time.Duration

	WSAddr string // Host: listen address of the signaling server
	WSURL  string // Join: WebSocket URL to connect to
	PIN    string // Host: PIN required by the signaling server (generated when empty)
}

// Default returns the configuration used when no flag overrides a field.
func Default() Config {
	return Config{
		Role:             RoleLoopback,
		ICEServers:       append([]string(nil), DefaultICEServers...),
		ChannelLabel:     "hnefatafl",
		Reply:            "ping",
		Pings:            3,
		NegotiateTimeout: 30 * time.Second,
		RoundTripTimeout: 10 * time.Second,
		StatsInterval:    10 * time.Second,
		WSAddr:           ":0",
	}
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	switch c.Role {
	case RoleLoopback, RoleHost:
	case RoleJoin:
		if c.WSURL == "" {
			return errors.New("missing WebSocket URL for join role")
		}
	default:
		return fmt.Errorf("invalid role %q: must be loopback, host or join", c.Role)
	}

	if c.ChannelLabel == "" {
		return errors.New("channel label must not be empty")
	}
	if c.Reply == "" {
		return errors.New("reply payload must not be empty")
	}
	if c.Pings < 0 {
		return fmt.Errorf("invalid ping count %d", c.Pings)
	}
	if c.NegotiateTimeout <= 0 || c.RoundTripTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.StatsInterval <= 0 {
		return errors.New("stats interval must be positive")
	}
	return nil
}
