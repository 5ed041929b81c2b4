package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"

	"github.com/styleduel/styleduel/internal/config"
	"github.com/styleduel/styleduel/internal/events"
	"github.com/styleduel/styleduel/internal/game"
	"github.com/styleduel/styleduel/internal/storage"
	"github.com/styleduel/styleduel/internal/storage/memory"
	"github.com/styleduel/styleduel/internal/storage/sqlite"
	"github.com/styleduel/styleduel/internal/ws"
)

const version = "v1.0.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`StyleDuel - real-time two-player styling duel

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT            Port to listen on (default: 8080)
  STORAGE_PATH    SQLite database file (default: in-memory, non-durable)
  ROUND_SECONDS   Per-round time limit in seconds (default: 180)
  TOPICS          Comma-separated round topics (default: built-in list)

Visit http://localhost:8080/health after starting the server.
`, os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("StyleDuel %s\n", version)
		return
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)

	cfg, err := config.FromEnv()
	if err != nil {
		zerologlog.Fatal().Err(err).Msg("config")
	}
	port := *portFlag
	if port == "" {
		port = cfg.Port
	}

	var store storage.Store
	if cfg.StoragePath != "" {
		store, err = sqlite.Open(cfg.StoragePath)
		if err != nil {
			zerologlog.Fatal().Err(err).Str("path", cfg.StoragePath).Msg("open store")
		}
		zerologlog.Info().Str("path", cfg.StoragePath).Msg("sqlite store")
	} else {
		store = memory.New()
		zerologlog.Warn().Msg("in-memory store, state will not survive a restart")
	}
	defer store.Close()

	engine := game.New(store, events.NewBroker(), game.Options{
		Topics:    cfg.Topics,
		RoundTime: cfg.RoundTime(),
		Logger:    zerologlog.Logger,
	})
	defer engine.Stop()

	// Close overdue rounds and rearm pending deadlines before serving.
	if err := engine.Recover(context.Background()); err != nil {
		zerologlog.Fatal().Err(err).Msg("recover timers")
	}

	// Gin setup with custom logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		zerologlog.Info().Str("path", path).Int("status", status).Dur("dur", dur).Msg("http")
	})

	// Healthcheck
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	sock := ws.New(engine)
	io := sock.Mount(r)
	defer io.Close()

	// Minimal REST mirror of GetState for clients without a socket.
	r.GET("/api/session/:id/state", func(c *gin.Context) {
		userID := c.Query("userId")
		st, err := engine.GetState(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			c.JSON(stateStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	})

	zerologlog.Info().Str("port", port).Msg("listening")
	if err := r.Run(":" + port); err != nil {
		zerologlog.Fatal().Err(err).Msg("server")
	}
}

// stateStatus maps a GetState failure to an HTTP status: callers without a
// seat get 403, missing sessions 404, everything else is a server fault.
func stateStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
