// p2pchan — CLI entry point.
//
// This tool negotiates a peer-to-peer message channel over WebRTC and runs a
// ping/reply round trip across it. Signaling runs either inside the process
// (loopback role) or over a WebSocket between a host and a joining peer.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (--role, --ws-addr, --ws-url, --pin, ...).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/p2pchan/internal/channel"
	"github.com/1ureka/p2pchan/internal/config"
	"github.com/1ureka/p2pchan/internal/coordinator"
	"github.com/1ureka/p2pchan/internal/engine"
	"github.com/1ureka/p2pchan/internal/negotiation"
	"github.com/1ureka/p2pchan/internal/signaling"
	"github.com/1ureka/p2pchan/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, interactive, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}

	pterm.Info.Println(fmt.Sprintf("p2pchan — v%s", version))
	pterm.Println()

	if interactive {
		askConfig(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("channel closed")
}

// parseFlags builds the configuration from args. interactive reports that no
// role was given and the remaining fields should be prompted for.
func parseFlags(args []string) (cfg config.Config, interactive bool, err error) {
	cfg = config.Default()

	var role string
	var debug, trace bool

	flagSet := pflag.NewFlagSet("p2pchan", pflag.ContinueOnError)
	flagSet.StringVar(&role, "role", "", "run mode: loopback, host or join (prompted when empty)")
	flagSet.StringVar(&cfg.WSAddr, "ws-addr", cfg.WSAddr, "host: signaling server listen address")
	flagSet.StringVar(&cfg.WSURL, "ws-url", "", "join: signaling server URL, e.g. wss://example.devtunnels.ms/ws?pin=1234")
	flagSet.StringVar(&cfg.PIN, "pin", "", "host: PIN required from the joining peer (generated when empty); join: PIN to present")
	flagSet.StringVar(&cfg.ChannelLabel, "label", cfg.ChannelLabel, "label of the message channel")
	flagSet.StringVar(&cfg.Reply, "reply", cfg.Reply, "payload the answering side replies with")
	flagSet.StringVar(&cfg.Greeting, "greeting", "", "payload the answering side sends once the channel opens")
	flagSet.IntVar(&cfg.Pings, "pings", cfg.Pings, "number of round trips the initiating side performs")
	flagSet.StringSliceVar(&cfg.ICEServers, "ice", cfg.ICEServers, "STUN/TURN server URLs")
	flagSet.BoolVar(&cfg.IncludeLoopback, "loopback-candidates", false, "gather loopback candidates (same-machine runs)")
	flagSet.DurationVar(&cfg.NegotiateTimeout, "negotiate-timeout", cfg.NegotiateTimeout, "limit for negotiation and channel open")
	flagSet.DurationVar(&cfg.RoundTripTimeout, "rtt-timeout", cfg.RoundTripTimeout, "limit for a single round trip")
	flagSet.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "interval of the statistics report")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	flagSet.BoolVar(&trace, "trace", false, "enable trace logging, including engine internals")

	if err := flagSet.Parse(args); err != nil {
		return cfg, false, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return cfg, false, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	switch {
	case trace:
		util.EnableTrace()
	case debug:
		util.EnableDebug()
	}

	if role == "" {
		return cfg, true, nil
	}
	cfg.Role = config.Role(role)

	if cfg.Role == config.RoleJoin && cfg.WSURL != "" {
		if cfg.WSURL, err = normalizeWSURL(cfg.WSURL, cfg.PIN); err != nil {
			return cfg, false, err
		}
	}
	return cfg, false, nil
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

func run(ctx context.Context, cfg config.Config) error {
	if cfg.Role == config.RoleLoopback {
		// Both ends live on this machine.
		cfg.IncludeLoopback = true
	}

	factory := engine.PionFactory(engine.PionConfig{
		ICEServers:      cfg.ICEServers,
		IncludeLoopback: cfg.IncludeLoopback,
	})

	// The initiating side only logs; the answering side replies.
	answering := channel.Options{
		Policy:   channel.ReplyPolicy{Reply: cfg.Reply},
		Greeting: cfg.Greeting,
	}

	registry := coordinator.NewRegistry(factory, channel.Options{})
	defer registry.Close()

	coord := coordinator.New(registry, factory, coordinator.Options{
		Label:  cfg.ChannelLabel,
		Local:  channel.Options{Policy: channel.LogPolicy{}},
		Remote: answering,
		OnFailure: func(err error) {
			util.LogDebug("failure reported: %v", err)
		},
	})

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	switch cfg.Role {
	case config.RoleLoopback:
		return runLoopback(ctx, cfg, coord)
	case config.RoleHost:
		return runHost(ctx, cfg, coord)
	case config.RoleJoin:
		return runJoin(ctx, cfg, coord)
	}
	return fmt.Errorf("invalid role %q", cfg.Role)
}

// runLoopback negotiates both endpoints in this process and pings across.
func runLoopback(ctx context.Context, cfg config.Config, coord *coordinator.Coordinator) error {
	nctx, cancel := context.WithTimeout(ctx, cfg.NegotiateTimeout)
	defer cancel()

	res, err := coord.StartNegotiation(nctx)
	if err != nil {
		return err
	}
	defer res.Close()

	if err := waitReady(nctx, res.Channel, res.Initiator); err != nil {
		return err
	}
	util.LogSuccess("P2P channel %q established in loopback", res.Channel.Label())

	return pingAll(ctx, cfg, res.Channel)
}

// runHost serves signaling, negotiates as initiator, then pings the joiner.
func runHost(ctx context.Context, cfg config.Config, coord *coordinator.Coordinator) error {
	pin := cfg.PIN
	if pin == "" {
		pin = signaling.GeneratePIN(4)
	}

	server := signaling.NewServer(pin)
	port, err := server.Start(cfg.WSAddr)
	if err != nil {
		return err
	}
	defer server.Close()

	printBanner(port, pin)

	tr, err := server.WaitForClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for peer: %w", err)
	}
	defer tr.Close()
	server.Close()

	nctx, cancel := context.WithTimeout(ctx, cfg.NegotiateTimeout)
	defer cancel()

	sess, ch, err := coord.Connect(nctx, tr)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := waitReady(nctx, ch, sess); err != nil {
		return err
	}
	// Signaling is no longer needed once the channel is up.
	tr.Close()
	util.LogSuccess("P2P channel %q established", ch.Label())

	if err := pingAll(ctx, cfg, ch); err != nil {
		return err
	}
	waitClosed(ctx, ch, sess)
	return nil
}

// runJoin dials the host, answers its offer and replies to its pings.
func runJoin(ctx context.Context, cfg config.Config, coord *coordinator.Coordinator) error {
	pterm.Println("Connecting to host...")
	tr, err := signaling.Dial(ctx, cfg.WSURL)
	if err != nil {
		return err
	}
	defer tr.Close()
	util.LogDebug("signaling connected: %s", cfg.WSURL)

	nctx, cancel := context.WithTimeout(ctx, cfg.NegotiateTimeout)
	defer cancel()

	sess, err := coord.AcceptNegotiation(nctx, tr)
	if err != nil {
		return err
	}
	defer sess.Close()

	ch, err := sess.WaitChannel(nctx, cfg.ChannelLabel)
	if err != nil {
		return fmt.Errorf("wait for channel %q: %w", cfg.ChannelLabel, err)
	}
	if err := waitReady(nctx, ch, sess); err != nil {
		return err
	}
	tr.Close()
	util.LogSuccess("P2P channel %q established, replying with %q", ch.Label(), cfg.Reply)

	waitClosed(ctx, ch, sess)
	return nil
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// waitReady blocks until ch is open.
func waitReady(ctx context.Context, ch *channel.Session, sess *negotiation.Session) error {
	select {
	case <-ch.Ready():
		return nil
	case <-ch.Done():
		return fmt.Errorf("channel %q closed before opening", ch.Label())
	case <-sess.Done():
		return fmt.Errorf("connection closed before channel %q opened", ch.Label())
	case <-ctx.Done():
		return fmt.Errorf("channel %q did not open: %w", ch.Label(), ctx.Err())
	}
}

// waitClosed blocks until the channel or session closes, or ctx ends.
func waitClosed(ctx context.Context, ch *channel.Session, sess *negotiation.Session) {
	select {
	case <-ch.Done():
	case <-sess.Done():
	case <-ctx.Done():
	}
}

// pingAll performs cfg.Pings round trips and reports how many were answered.
func pingAll(ctx context.Context, cfg config.Config, ch *channel.Session) error {
	answered := 0
	for i := 1; i <= cfg.Pings; i++ {
		rctx, cancel := context.WithTimeout(ctx, cfg.RoundTripTimeout)
		rtt, err := ch.RoundTrip(rctx, fmt.Sprintf("ping %d", i), cfg.Reply)
		cancel()
		if err != nil {
			util.LogWarning("ping %d/%d unanswered: %v", i, cfg.Pings, err)
			continue
		}
		answered++
		util.LogInfo("ping %d/%d answered in %s", i, cfg.Pings, rtt)
	}

	if answered < cfg.Pings {
		return fmt.Errorf("%d of %d pings answered", answered, cfg.Pings)
	}
	util.LogSuccess("all %d pings answered", cfg.Pings)
	return nil
}

func printBanner(port int, pin string) {
	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\n\nJoin with --role join --ws-url ws://<host>:%d/ws --pin %s",
			port, pin, port, pin))
	pterm.Println()
	pterm.Println("Waiting for peer...")
}

// normalizeWSURL validates a raw WebSocket URL, defaults the scheme and path
// and attaches pin as a query parameter when given.
func normalizeWSURL(raw, pin string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if pin != "" {
		q := u.Query()
		q.Set("pin", pin)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
