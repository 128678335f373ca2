package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/n0madic/go-copilot-proxy/internal/auth"
	"github.com/n0madic/go-copilot-proxy/internal/config"
	"github.com/n0madic/go-copilot-proxy/internal/limits"
	"github.com/n0madic/go-copilot-proxy/internal/proxy"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: go-copilot-proxy <command> [flags]")
		fmt.Fprintln(os.Stderr, "Commands: login, serve, info")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "login":
		os.Exit(cmdLogin())
	case "serve":
		os.Exit(cmdServe())
	case "info":
		os.Exit(cmdInfo())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Commands: login, serve, info")
		os.Exit(1)
	}
}

func cmdLogin() int {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	noBrowser := fs.Bool("no-browser", false, "Do not open the browser automatically")
	accountType := fs.String("account-type", "", "Copilot account type (individual|business|enterprise)")
	fs.Parse(os.Args[2:])

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	af, err := auth.Login(ctx, config.ClientID(), func(userCode, verificationURI string) {
		fmt.Fprintf(os.Stderr, "Open %s and enter the code: %s\n", verificationURI, userCode)
		if !*noBrowser {
			openBrowser(verificationURI)
		}
		fmt.Fprintln(os.Stderr, "Waiting for approval...")
	})
	if err != nil {
		slog.Error("login failed", "error", err)
		return 1
	}

	if *accountType != "" {
		af.AccountType = strings.ToLower(strings.TrimSpace(*accountType))
	}
	if err := auth.WriteAuthFile(af); err != nil {
		slog.Error("unable to persist auth file", "error", err)
		return 1
	}
	fmt.Fprintln(os.Stderr, "Login successful; GitHub token saved.")
	return 0
}

func cmdServe() int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := config.DefaultFromEnv()

	configFile := fs.String("config", "", "Path to a YAML config file")
	host := fs.String("host", cfg.Host, "Bind host")
	port := fs.Int("port", cfg.Port, "Listen port")
	verbose := fs.Bool("verbose", cfg.Verbose, "Enable verbose logging")
	accountType := fs.String("account-type", cfg.AccountType, "Copilot account type (individual|business|enterprise)")
	fs.Parse(os.Args[2:])

	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			slog.Error("unable to load config", "error", err)
			return 1
		}
	}
	// Explicit flags win over both the environment and the config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "verbose":
			cfg.Verbose = *verbose
		case "account-type":
			cfg.AccountType = *accountType
		}
	})

	if cfg.Verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	srv := proxy.New(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("Copilot proxy starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"account_type", cfg.AccountType,
		"upstream", cfg.APIBase(),
	)
	if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

func cmdInfo() int {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output raw auth.json contents")
	fs.Parse(os.Args[2:])

	af, err := auth.ReadAuthFile()
	if *jsonOut {
		if err != nil {
			fmt.Println("{}")
		} else {
			data, _ := json.MarshalIndent(af, "", "  ")
			fmt.Println(string(data))
		}
		return 0
	}

	fmt.Println("\U0001F464 Account")
	switch {
	case auth.GitHubToken() == "":
		fmt.Println("  • Not signed in")
		fmt.Println("  • Run: go-copilot-proxy login")
	case err != nil:
		fmt.Println("  • Signed in via environment token")
	default:
		fmt.Println("  • Signed in with GitHub")
		if af.AccountType != "" {
			fmt.Printf("  • Account type: %s\n", af.AccountType)
		}
		if af.LastLogin != "" {
			fmt.Printf("  • Last login: %s\n", af.LastLogin)
		}
	}
	fmt.Println()
	printRateLimits()
	return 0
}

func printRateLimits() {
	fmt.Println("\U0001F4CA Rate Limits")

	stored := limits.LoadSnapshot()
	if stored == nil {
		fmt.Println("  No rate limit data available yet. Send a request through the proxy first.")
		fmt.Println()
		return
	}

	fmt.Printf("Last updated: %s\n", formatLocalDateTime(stored.CapturedAt))
	fmt.Println()

	w := stored.Window
	pct := w.UsedPercent()
	remaining := 100.0 - pct
	if remaining < 0 {
		remaining = 0
	}
	color := usageColor(pct)
	reset := "\033[0m"
	bar := renderProgressBar(pct)

	desc := "Request limit"
	if w.Resource != "" {
		desc = fmt.Sprintf("Request limit (%s)", w.Resource)
	}
	fmt.Printf("⚡ %s: %d of %d used\n", desc, w.Used, w.Limit)
	fmt.Printf("%s%s%s %s%5.1f%% used%s | %5.1f%% left\n", color, bar, reset, color, pct, reset, remaining)

	if resetAt := w.ResetAt(); resetAt != nil {
		fmt.Printf("    ⏳ Resets at: %s\n", formatLocalDateTime(*resetAt))
	}
	fmt.Println()
}

const barSegments = 30

func renderProgressBar(pct float64) string {
	ratio := pct / 100.0
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filledExact := ratio * float64(barSegments)
	filled := int(filledExact)
	partial := filledExact - float64(filled)
	hasPartial := partial > 0.5
	if hasPartial {
		filled++
	}
	if filled > barSegments {
		filled = barSegments
	}
	empty := barSegments - filled
	var bar string
	if hasPartial && filled > 0 {
		bar = strings.Repeat("█", filled-1) + "▓" + strings.Repeat("░", empty)
	} else {
		bar = strings.Repeat("█", filled) + strings.Repeat("░", empty)
	}
	return "[" + bar + "]"
}

func usageColor(pct float64) string {
	if pct >= 90 {
		return "\033[91m"
	} else if pct >= 75 {
		return "\033[93m"
	} else if pct >= 50 {
		return "\033[94m"
	}
	return "\033[92m"
}

func formatLocalDateTime(t time.Time) string {
	local := t.Local()
	tz := local.Format("MST")
	return fmt.Sprintf("%s %s", local.Format("Jan 02, 2006 15:04"), tz)
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return
	}
	if err := cmd.Start(); err != nil {
		slog.Warn("failed to open browser", "error", err)
	}
}
