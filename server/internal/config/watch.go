package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events a single editor save produces.
const reloadDelay = 100 * time.Millisecond

// Runtime is the part of the server configuration that takes effect without
// a restart.
type Runtime struct {
	LogLevel      slog.Level
	MaxChatLength int
}

// Runtime returns the hot-reloadable settings of s.
func (s ServerConfig) Runtime() Runtime {
	return Runtime{LogLevel: s.SlogLevel(), MaxChatLength: s.Hub.MaxChatLength}
}

// Watch reloads path when it changes and calls apply whenever the runtime
// settings differ from the ones last applied. current is the configuration
// the process started with. Edits to startup-only settings are logged and
// otherwise ignored; a file that fails to load keeps the previous settings.
// Watch runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so saves that
// rename a temp file over path are seen too.
func Watch(ctx context.Context, path string, current *Config, apply func(Runtime)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path)

	last := current.Server
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				settle = time.After(reloadDelay)
			}

		case <-settle:
			settle = nil
			next, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			if fields := restartFields(last, next.Server); len(fields) > 0 {
				slog.Warn("config: changes take effect after restart", "path", path, "fields", fields)
			}
			if rt := next.Server.Runtime(); rt != last.Runtime() {
				slog.Info("config: reloaded", "path", path,
					"log_level", rt.LogLevel.String(), "max_chat_length", rt.MaxChatLength)
				apply(rt)
			}
			last = next.Server

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// restartFields names the startup-only settings that differ between a and b.
func restartFields(a, b ServerConfig) []string {
	var out []string
	if a.HTTPPort != b.HTTPPort {
		out = append(out, "http_port")
	}
	if a.GRPCPort != b.GRPCPort {
		out = append(out, "grpc_port")
	}
	if a.Auth != b.Auth {
		out = append(out, "auth")
	}
	ha, hb := a.Hub, b.Hub
	if ha.Path != hb.Path {
		out = append(out, "hub.path")
	}
	if ha.SendBuffer != hb.SendBuffer {
		out = append(out, "hub.send_buffer")
	}
	if ha.MaxMessageBytes != hb.MaxMessageBytes {
		out = append(out, "hub.max_message_bytes")
	}
	if ha.PongWait != hb.PongWait || ha.WriteTimeout != hb.WriteTimeout {
		out = append(out, "hub timeouts")
	}
	if !slices.Equal(ha.AllowedOrigins, hb.AllowedOrigins) {
		out = append(out, "hub.allowed_origins")
	}
	if ha.JoinAuth != hb.JoinAuth {
		out = append(out, "hub.join_auth")
	}
	return out
}
