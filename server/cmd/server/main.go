package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/fanstage/fanstage/server/internal/api"
	"github.com/fanstage/fanstage/server/internal/auth"
	"github.com/fanstage/fanstage/server/internal/config"
	"github.com/fanstage/fanstage/server/internal/health"
	"github.com/fanstage/fanstage/server/internal/metrics"
	"github.com/fanstage/fanstage/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	webDir := flag.String("web-dir", "", "serve the web client static files from this directory; leave empty to disable")
	issue := flag.String("issue-token", "", "print a join token for USER:STREAM signed with the join_auth secret, then exit")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("fanstage-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.SlogLevel())

	if *issue != "" {
		tok, err := issueToken(cfg.Server.Hub.JoinAuth, *issue)
		if err != nil {
			slog.Error("failed to issue join token", "err", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"hub_path", cfg.Server.Hub.Path,
		"join_auth", cfg.Server.Hub.JoinAuth.Mode,
	)

	hubOpts, err := hubOptions(cfg.Server.Hub)
	if err != nil {
		slog.Error("invalid hub settings", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Presence and chat hub; one per process.
	hub := ws.New(hubOpts)
	go hub.Run(ctx)

	healthSrv := health.New()
	go healthSrv.Track(ctx, hub.Done())

	// Hot reload: log level and chat limit apply without restart.
	go func() {
		err := config.Watch(ctx, *configPath, cfg, func(rt config.Runtime) {
			level.Set(rt.LogLevel)
			hub.SetLimits(ws.Limits{MaxChatLength: rt.MaxChatLength})
		})
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	authCfg := cfg.Server.Auth
	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(auth.APIKeyInterceptor(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key())),
		grpc.ChainStreamInterceptor(auth.APIKeyStreamInterceptor(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key())),
	)
	healthSrv.Register(grpcSrv)

	requireKey := auth.APIKeyMiddleware(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key())

	// Combined HTTP server: WebSocket hub + REST API + metrics on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle(cfg.Server.Hub.Path, hub)
	httpMux.Handle("/api/", api.New(hub, requireKey))
	httpMux.Handle("/metrics", requireKey(metrics.Handler(hub)))

	// Optional: serve a static web client from a local directory.
	if *webDir != "" {
		httpMux.Handle("/", http.FileServer(http.Dir(*webDir)))
		slog.Info("serving web client static files", "dir", *webDir)
	}

	httpSrv := &http.Server{
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := serve(ctx, cfg.Server, httpSrv, grpcSrv); err != nil {
		slog.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("fanstage-server stopped")
}

// hubOptions translates the hub config section into ws.Options.
func hubOptions(h config.HubConfig) (ws.Options, error) {
	opts := ws.Options{
		SendBuffer:      h.SendBuffer,
		MaxMessageBytes: h.MaxMessageBytes,
		PongWait:        h.PongWait,
		WriteTimeout:    h.WriteTimeout,
		AllowedOrigins:  h.AllowedOrigins,
		Limits:          ws.Limits{MaxChatLength: h.MaxChatLength},
	}
	if h.JoinAuth.Mode == "jwt" {
		secret := h.JoinAuth.Secret()
		if secret == "" {
			return opts, fmt.Errorf("join_auth mode jwt: environment variable %s is empty", h.JoinAuth.SecretEnv)
		}
		opts.JoinVerifier = auth.NewJoinTokens(secret, 0)
	}
	return opts, nil
}

// issueToken signs a join token for a "user:stream" pair.
func issueToken(j config.JoinAuthConfig, pair string) (string, error) {
	userID, streamID, ok := strings.Cut(pair, ":")
	if !ok || userID == "" || streamID == "" {
		return "", fmt.Errorf("issue-token: want USER:STREAM, got %q", pair)
	}
	secret := j.Secret()
	if secret == "" {
		return "", fmt.Errorf("issue-token: environment variable %s is empty", j.SecretEnv)
	}
	tok, _, err := auth.NewJoinTokens(secret, 0).Generate(userID, streamID)
	return tok, err
}

// serve runs the HTTP and gRPC servers until ctx is cancelled or one of them
// fails. When both ports are equal the two protocols share one listener,
// split by cmux on the gRPC content type.
func serve(ctx context.Context, s config.ServerConfig, httpSrv *http.Server, grpcSrv *grpc.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	var httpLis, grpcLis net.Listener
	var mux cmux.CMux

	httpRoot, err := net.Listen("tcp", fmt.Sprintf(":%d", s.HTTPPort))
	if err != nil {
		return fmt.Errorf("listen on HTTP port %d: %w", s.HTTPPort, err)
	}

	if s.GRPCPort == s.HTTPPort {
		mux = cmux.New(httpRoot)
		grpcLis = mux.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
		httpLis = mux.Match(cmux.Any())
		g.Go(func() error {
			slog.Info("multiplexed listener ready", "port", s.HTTPPort)
			return ignoreClosed(mux.Serve())
		})
	} else {
		httpLis = httpRoot
		grpcLis, err = net.Listen("tcp", fmt.Sprintf(":%d", s.GRPCPort))
		if err != nil {
			httpRoot.Close()
			return fmt.Errorf("listen on gRPC port %d: %w", s.GRPCPort, err)
		}
	}

	g.Go(func() error {
		slog.Info("gRPC health listening", "port", s.GRPCPort)
		if err := ignoreClosed(grpcSrv.Serve(grpcLis)); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", s.HTTPPort)
		if err := ignoreClosed(httpSrv.Serve(httpLis)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("fanstage-server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		if mux != nil {
			mux.Close()
		}
		return err
	})

	return g.Wait()
}

// ignoreClosed maps listener-closed errors seen during shutdown to nil.
func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, cmux.ErrServerClosed) {
		return nil
	}
	return err
}
