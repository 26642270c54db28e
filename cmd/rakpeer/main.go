// Rakpeer — CLI entry point.
//
// This tool runs the sample session protocol: a host accepts players, asks
// each for a name and answers with an edited copy; a client connects and
// plays along; query prints what a host publishes. Peers connect over
// WebRTC data channels after a WebSocket handshake, or over an in-process
// loopback network for local testing.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -address, -port, -password, -name, -transport, ...).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/rakpeer/internal/app"
	"github.com/1ureka/rakpeer/internal/config"
	"github.com/1ureka/rakpeer/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()

	role := flag.String("role", "", "Role: host, client or query")
	transport := flag.String("transport", string(cfg.Transport), "Transport: rtc or loopback")
	flag.StringVar(&cfg.Address, "address", "", "Bind address (host) or server address (client, query)")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Server port, 1~65535 (host: 0 picks a free one)")
	flag.StringVar(&cfg.Password, "password", "", "Connection password")
	flag.StringVar(&cfg.Name, "name", "Player", "Player name (client only)")
	flag.IntVar(&cfg.MaxConnections, "max", cfg.MaxConnections, "Maximum connections (host only)")
	flag.BoolVar(&cfg.Insecure, "insecure", false, "Admit peers without transport security (host only)")
	flag.IntVar(&cfg.Attempts, "attempts", cfg.Attempts, "Connection attempts (client only)")
	flag.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "Session tick interval")
	ice := flag.String("ice", "", "Comma-separated STUN/TURN URLs (default: public STUN servers)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Rakpeer — v%s", version))
	pterm.Println()

	cfg.Role = config.Role(*role)
	cfg.Transport = config.Transport(*transport)
	if *ice != "" {
		cfg.ICEServers = config.SplitList(*ice)
	}

	if *role == "" {
		// No -role flag → interactive mode.
		askConfig(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Role == config.RoleQuery {
		runQuery(ctx, cfg)
		return
	}

	if err := app.Run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runQuery prints the server info published by a host.
func runQuery(ctx context.Context, cfg config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	info, err := app.Query(ctx, cfg)
	if err != nil {
		util.LogError("query failed: %v", err)
		os.Exit(1)
	}

	password := "no"
	if info.Password {
		password = "yes"
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Server", "Players", "Max", "Password", "Version"},
		{info.Name, strconv.Itoa(len(info.Players)), strconv.Itoa(info.MaxConnections), password, strconv.Itoa(int(info.Version))},
	}).Render()

	for _, name := range info.Players {
		pterm.Println("  " + name)
	}
}

// askConfig fills cfg from interactive prompts when no -role flag is given.
func askConfig(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Host   — Accept players",
			"Client — Join a host",
			"Query  — Inspect a host",
			"Local  — Host and client in this process",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Host"):
		cfg.Role = config.RoleHost
		cfg.Port = askPort("Port to listen on (0 ~ 65535)", 0)
		cfg.Password = askText("Password (empty for none)")

	case strings.HasPrefix(role, "Client"):
		cfg.Role = config.RoleClient
		cfg.Address = askAddress()
		cfg.Port = askPort("Server port (1 ~ 65535)", 1)
		cfg.Password = askText("Password (empty for none)")
		if name := askText("Player name"); name != "" {
			cfg.Name = name
		}

	case strings.HasPrefix(role, "Query"):
		cfg.Role = config.RoleQuery
		cfg.Address = askAddress()
		cfg.Port = askPort("Server port (1 ~ 65535)", 1)

	default:
		cfg.Role = config.RoleHost
		cfg.Transport = config.TransportLoopback
		if name := askText("Player name"); name != "" {
			cfg.Name = name
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string, lowest int) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= lowest && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be %d ~ 65535", lowest)
		pterm.Println()
	}
}

// askAddress prompts for a server address until a non-empty one is entered.
func askAddress() string {
	for {
		if address := askText("Server address (IP or host name)"); address != "" {
			return address
		}
		util.LogWarning("invalid input: please enter an address")
		pterm.Println()
	}
}

func askText(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}
