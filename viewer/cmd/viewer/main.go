package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fanstage/fanstage/pkg/protocol"
	"github.com/fanstage/fanstage/viewer/internal/client"
	"github.com/fanstage/fanstage/viewer/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	serverURL := flag.String("server", "", "hub WebSocket URL; overrides viewer.server_url")
	userID := flag.String("user", "", "user ID; overrides viewer.user_id")
	streamID := flag.String("stream", "", "stream ID; overrides viewer.stream_id")
	creator := flag.Bool("creator", false, "join as the stream's creator")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	// Events go to stdout; logs go to stderr so they don't interleave with chat.
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	v := cfg.Viewer
	if *serverURL != "" {
		v.ServerURL = *serverURL
	}
	if *userID != "" {
		v.UserID = *userID
	}
	if *streamID != "" {
		v.StreamID = *streamID
	}
	if *creator {
		v.IsCreator = true
	}
	if err := v.Validate(); err != nil {
		slog.Error("invalid viewer settings", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(v, func(ev protocol.Outbound) {
		fmt.Fprintln(os.Stdout, formatEvent(ev))
	})
	go c.Run(ctx)

	fmt.Fprintf(os.Stderr, "joining %s as %s; type to chat, /like, /count, /quit\n", v.StreamID, v.UserID)

	// stdin ends the session on EOF.
	go func() {
		readCommands(os.Stdin, c)
		cancel()
	}()

	<-ctx.Done()
}

// sender is the part of the client the command loop drives.
type sender interface {
	Chat(text string) error
	Like() error
	RequestCount() error
}

// readCommands turns input lines into hub messages until EOF or /quit.
func readCommands(r io.Reader, s sender) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		var err error
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/like":
			err = s.Like()
		case "/count":
			err = s.RequestCount()
		default:
			err = s.Chat(line)
		}
		if err != nil {
			slog.Warn("viewer: command failed", "err", err)
		}
	}
}

// formatEvent renders one hub event as a terminal line.
func formatEvent(ev protocol.Outbound) string {
	switch e := ev.(type) {
	case protocol.Joined:
		return fmt.Sprintf("* joined %s (connection %s)", e.StreamID, e.ConnectionID)
	case protocol.ViewerCount:
		return fmt.Sprintf("* %d watching", e.ViewerCount)
	case protocol.ViewerJoined:
		return fmt.Sprintf("* %s joined, %d watching", e.UserID, e.ViewerCount)
	case protocol.ChatMessageEvent:
		return fmt.Sprintf("[%s] %s: %s", e.Timestamp, e.UserID, e.Message)
	case protocol.StreamLikeEvent:
		return fmt.Sprintf("[%s] %s liked the stream", e.Timestamp, e.UserID)
	default:
		return fmt.Sprintf("* %s", ev.MessageType())
	}
}
