package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/abbyhq/abby/pkg/api"
	"github.com/abbyhq/abby/pkg/config"
)

func runServer(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("server", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	port := cmd.String("port", "", "listen port (overrides PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *port != "" {
		cfg.Port = *port
	}
	setupLogging(cfg, stderr)

	fmt.Fprintf(stdout, "%sAbby starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		fmt.Fprintf(stderr, "listen: %v\n", err)
		return 1
	}
	if err := serve(ctx, cfg, ln); err != nil {
		fmt.Fprintf(stderr, "server: %v\n", err)
		return 1
	}
	return 0
}

// serve runs the API on ln until ctx is done, then drains in-flight
// requests.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("[abby] close: %v", err)
		}
	}()

	srv := api.NewServer(api.Deps{
		Classifier:     a.classifier,
		Proposals:      a.builder,
		Queue:          a.queue,
		Decider:        a.session,
		Executor:       a.executor,
		Collections:    a.store,
		Events:         a.hub,
		Telemetry:      a.telemetry,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	defer srv.Close()

	httpSrv := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()
	log.Printf("[abby] ready: http://%s", ln.Addr())
	log.Println("[abby] press ctrl+c to stop")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("[abby] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Websocket streams are hijacked and not tracked by Shutdown; closing
	// the hub ends them.
	a.hub.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
