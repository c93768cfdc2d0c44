package main

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/card-scanner/internal/cardscan"
	"github.com/zombor/card-scanner/internal/geometry"
	"github.com/zombor/card-scanner/internal/scanning"
	"github.com/zombor/card-scanner/internal/stills"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// maxFrameLine bounds one JSON-lines frame in replay mode
const maxFrameLine = 1 << 20

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("card-scanner")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "card-scanner.db", "Database file path")
		layoutsPath = fs.StringLong("layouts", "", "YAML file of card layouts to load at startup (optional)")
		platformArg = fs.StringLong("platform", "ios", "Default camera platform: 'ios' or 'android'")
		sessionTTL  = fs.StringLong("session-ttl", "10m", "Discard scan sessions idle for this long")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		replayPath  = fs.StringLong("replay", "", "Replay a JSON-lines file of camera frames instead of serving ('-' for stdin)")
		layoutName  = fs.StringLong("layout", cardscan.ServicesCardSerialLayout, "Layout to replay frames against")
		debug       = fs.BoolLong("debug", "Enable debug logging")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CARD_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	platform, ok := geometry.ParsePlatform(*platformArg)
	if !ok {
		slog.Error("Invalid platform", "platform", *platformArg, "valid", "ios or android")
		os.Exit(1)
	}

	ttl, err := time.ParseDuration(*sessionTTL)
	if err != nil || ttl <= 0 {
		slog.Error("Invalid session TTL", "session_ttl", *sessionTTL)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := cardscan.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	service := cardscan.NewService(db, stills.NewZXing(), platform)
	if err := seedLayouts(service, *layoutsPath); err != nil {
		slog.Error("Failed to load layouts", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *replayPath != "" {
		if err := replay(ctx, service, *replayPath, *layoutName, os.Stdout); err != nil {
			slog.Error("Replay failed", "error", err)
			os.Exit(1)
		}
		return
	}

	basicAuth := cardscan.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := cardscan.NewServer(service, basicAuth)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	go expireSessions(ctx, service, ttl)

	addr := fmt.Sprintf(":%d", *port)
	if err := server.Run(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}

// seedLayouts stores the built-in layouts if missing, then the layouts file
// over them
func seedLayouts(service *cardscan.Service, path string) error {
	if err := service.SeedLayouts(cardscan.DefaultLayouts(), false); err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	layouts, err := cardscan.LoadLayouts(path)
	if err != nil {
		return err
	}
	slog.Info("Loaded layouts", "path", path, "count", len(layouts))
	return service.SeedLayouts(layouts, true)
}

// expireSessions drops idle sessions until ctx is done
func expireSessions(ctx context.Context, service *cardscan.Service, ttl time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := service.ExpireSessions(ttl); n > 0 {
				slog.Info("Expired idle scan sessions", "count", n)
			}
		}
	}
}

// replayLine is one line of replay output
type replayLine struct {
	Frame        int                  `json:"frame"`
	State        scanning.ScanState   `json:"state"`
	CoveredZones []int                `json:"covered_zones"`
	Completed    bool                 `json:"completed"`
	Completion   *cardscan.Completion `json:"completion,omitempty"`
}

// replay feeds recorded frames through a session and writes one JSON line
// per frame. It stops early once the card completes.
func replay(ctx context.Context, service *cardscan.Service, path, layout string, out io.Writer) error {
	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening replay file: %w", err)
		}
		defer f.Close()
		in = f
	}

	status, err := service.StartSession(layout, "")
	if err != nil {
		return err
	}
	defer service.EndSession(status.ID)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
	enc := json.NewEncoder(out)

	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n++

		var frame scanning.Frame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			return fmt.Errorf("parsing frame %d: %w", n, err)
		}
		report, err := service.ProcessFrame(ctx, status.ID, frame)
		if err != nil {
			return fmt.Errorf("processing frame %d: %w", n, err)
		}

		if err := enc.Encode(replayLine{
			Frame:        n,
			State:        report.State,
			CoveredZones: report.CoveredZones,
			Completed:    report.Completed,
			Completion:   report.Completion,
		}); err != nil {
			return fmt.Errorf("writing frame %d: %w", n, err)
		}
		if report.Completed {
			slog.Info("Card scan completed", "frames", n, "outcome", report.Completion.Outcome)
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading replay file: %w", err)
	}
	slog.Info("Replay finished without completing", "frames", n)
	return nil
}
