package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/routed/routed"
	"github.com/routed/routed/bridge"
	"github.com/routed/routed/config"
	"github.com/routed/routed/logging"
	"github.com/routed/routed/router"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/routed.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("routed %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		// Missing file is fine for the demo; env and defaults still apply.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = config.New()
	}
	cfg.LoadEnv("ROUTED")

	logger, err := logging.New(cfg.GetString("logging.level"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	engine := routed.New(cfg)
	defer engine.Close()
	registerRoutes(engine)

	if err := engine.Initialize(); err != nil {
		logging.Error("Failed to initialize engine", zap.Error(err))
		os.Exit(1)
	}
	if cfg.Has("watch") && cfg.GetBool("watch") {
		if err := engine.WatchConfig(*configPath); err != nil {
			logging.Error("Failed to watch configuration", zap.Error(err))
			os.Exit(1)
		}
	}

	if err := run(engine, cfg); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}

// run serves HTTP and the native bridge concurrently until a signal or
// the first listener error.
func run(engine *routed.Engine, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpAddr := cfg.GetString("server.listen")
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	httpServer := &http.Server{Addr: httpAddr, Handler: engine}

	var bridgeServer *bridge.Server
	bridgeNetwork := cfg.GetString("bridge.network")
	bridgeAddr := cfg.GetString("bridge.listen")
	if bridgeAddr != "" {
		if bridgeNetwork == "" {
			bridgeNetwork = "unix"
		}
		bridgeServer = bridge.NewServer(engine)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("HTTP server listening", zap.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if bridgeServer != nil {
		g.Go(func() error {
			logging.Info("Bridge server listening",
				zap.String("network", bridgeNetwork), zap.String("addr", bridgeAddr))
			return bridgeServer.Listen(bridgeNetwork, bridgeAddr)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logging.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		if bridgeServer != nil {
			bridgeServer.Close()
		}
		return nil
	})

	return g.Wait()
}

// registerRoutes wires the demo routes that exercise the stack.
func registerRoutes(engine *routed.Engine) {
	r := engine.Router()

	r.GET("/healthz", func(c *router.Context) {
		c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})

	r.GET("/users/{id:int}", func(c *router.Context) {
		c.JSON(http.StatusOK, map[string]any{"id": c.ParamValue("id")})
	}).Name("users.show")

	r.GET("/posts/{slug:slug}", func(c *router.Context) {
		c.JSON(http.StatusOK, map[string]any{"slug": c.Param("slug")})
	})

	r.GET("/cached/{key}", func(c *router.Context) {
		repo, err := engine.Cache("")
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		value, err := repo.Remember(c.Param("key"), time.Minute, func() (any, error) {
			return time.Now().Format(time.RFC3339Nano), nil
		})
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, map[string]any{"value": value})
	})

	r.POST("/echo", func(c *router.Context) {
		body, err := io.ReadAll(c.Body())
		if err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		c.Data(http.StatusOK, c.ContentType(), body)
	})
}
