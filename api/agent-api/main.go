// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/praxisvoice/api/agent-api/config"
	internal_container "github.com/praxisvoice/api/agent-api/internal/container"
	agent_routers "github.com/praxisvoice/api/agent-api/router"
	"github.com/praxisvoice/pkg/commons"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agent-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	vConfig, err := config.InitConfig()
	if err != nil {
		return err
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		return err
	}

	logger, err := commons.NewApplicationLogger(commons.LoggerOptions{
		ServiceName: cfg.Name,
		Level:       cfg.LogLevel,
		Production:  cfg.Production,
		Directory:   cfg.LogDirectory,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := internal_container.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	if len(cfg.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.CORSOrigins
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		engine.Use(cors.New(corsCfg))
	}

	agent_routers.HealthCheckRoutes(cfg, engine, logger, c.Postgres)
	agent_routers.CallRoutes(cfg, engine, logger, c.Guard, c.Service, c.WebSocket, c.TwilioStreams)
	if c.Dialer != nil {
		agent_routers.DialerRoutes(cfg, engine, logger, c.Dialer, c.Service)
	}

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infow("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if c.Bridge != nil {
		if err := c.Bridge.Start(); err != nil {
			return err
		}
	}
	if c.Freeswitch != nil {
		g.Go(func() error {
			// The client keeps its own reconnect loop after the first
			// successful handshake.
			if err := c.Freeswitch.Connect(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			return nil
		})
	}
	if c.Trunk != nil {
		g.Go(func() error {
			return c.Trunk.Run(gctx)
		})
	}
	if c.Dialer != nil {
		if err := c.Dialer.Start(gctx); err != nil {
			return err
		}
	}

	logger.Infow("agent-api started",
		"version", cfg.Version,
		"backend", string(cfg.Telephony.Backend),
		"dialer", cfg.DialerEnabled)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("agent-api stopped")
	return nil
}
