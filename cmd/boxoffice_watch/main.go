package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/boxoffice_relay/internal/client"
	"github.com/dgnsrekt/boxoffice_relay/internal/config"
	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
)

func main() {
	cfg, err := config.LoadWatch()
	if err != nil {
		slog.Error("failed to load watch config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("boxoffice_watch config loaded",
		"url", cfg.URL,
		"movie_id", cfg.MovieID,
		"max_attempts", cfg.MaxAttempts,
		"initial_delay", cfg.InitialDelay,
		"max_delay", cfg.MaxDelay,
	)

	mgr := client.New(client.Config{
		URL:          cfg.URL,
		MovieID:      cfg.MovieID,
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		OnEvent:      printEvent,
		OnState: func(s client.State) {
			fmt.Printf("%s state %s\n", time.Now().Format(time.TimeOnly), s)
		},
	}, client.WSDialer{ReadTimeout: cfg.ReadTimeout})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		mgr.Close()
	}()

	go readCommands(mgr)

	if err := mgr.Run(ctx); err != nil {
		if errors.Is(err, client.ErrFailed) {
			fmt.Println("connection failed; giving up")
		}
		slog.Error("boxoffice_watch stopped", "error", err)
		os.Exit(1)
	}
}

// readCommands takes "c" to celebrate and "m <id>" to switch movies.
func readCommands(mgr *client.Manager) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "c":
			if err := mgr.Celebrate(); err != nil {
				slog.Warn("celebrate failed", "error", err)
			}
		case strings.HasPrefix(line, "m "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "m "))
			if err := mgr.SetMovieID(id); err != nil {
				slog.Warn("switch movie failed", "movie_id", id, "error", err)
			}
		case line == "":
		default:
			fmt.Println("commands: c (celebrate), m <movieId>")
		}
	}
}

func printEvent(env protocol.Envelope) {
	ts := time.UnixMilli(env.Timestamp).Format(time.TimeOnly)
	switch env.Channel {
	case protocol.ChannelHeartbeat:
		slog.Debug("heartbeat", "data", string(env.Data))
		return
	case protocol.ChannelStatus:
		var st protocol.StatusPayload
		if err := json.Unmarshal(env.Data, &st); err == nil {
			if st.Status == protocol.StatusMetrics {
				fmt.Printf("%s status %s connections=%d\n", ts, st.Status, st.Connections)
				return
			}
			if st.Reason != "" {
				fmt.Printf("%s status %s (%s)\n", ts, st.Status, st.Reason)
				return
			}
			fmt.Printf("%s status %s\n", ts, st.Status)
			return
		}
	case protocol.ChannelCelebration:
		var cel protocol.CelebrationPayload
		if err := json.Unmarshal(env.Data, &cel); err == nil {
			fmt.Printf("%s celebration movie=%s\n", ts, cel.MovieID)
			return
		}
	case protocol.ChannelError:
		var ep protocol.ErrorPayload
		if err := json.Unmarshal(env.Data, &ep); err == nil {
			fmt.Printf("%s error %s: %s\n", ts, ep.Code, ep.Message)
			return
		}
	}
	fmt.Printf("%s %s %s\n", ts, env.Channel, env.Data)
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	// Events go to stdout; logs stay on stderr and the file.
	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
