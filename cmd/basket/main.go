package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/rickgao/basket-router/internal/config"
	"github.com/rickgao/basket-router/internal/connection"
	"github.com/rickgao/basket-router/internal/database"
	"github.com/rickgao/basket-router/internal/gateway"
	"github.com/rickgao/basket-router/internal/journal"
	"github.com/rickgao/basket-router/internal/logging"
	"github.com/rickgao/basket-router/internal/message"
	"github.com/rickgao/basket-router/internal/metrics"
	"github.com/rickgao/basket-router/internal/router"
	"github.com/rickgao/basket-router/internal/statusapi"
	"github.com/rickgao/basket-router/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/basket.local.yaml", "path to config file")
	readStdin := flag.Bool("stdin", false, "read JSON requests from stdin, one per line")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithField("error", err).Warn("failed to load .env")
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logrus.WithField("error", err).Fatal("failed to load config")
	}

	base, logCloser, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		logrus.WithField("error", err).Fatal("failed to build logger")
	}
	defer logCloser.Close()
	logger := base.WithField("instance", cfg.Instance.ID)

	logger.WithFields(logrus.Fields{
		"version": version.Version,
		"commit":  version.Commit,
		"config":  *configPath,
	}).Info("starting basket")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Metrics
	if cfg.Metrics.Enabled {
		provider, err := metrics.NewProvider(ctx, metrics.ProviderConfig{
			Endpoint:       cfg.Metrics.OTLPEndpoint,
			Insecure:       cfg.Metrics.Insecure,
			ServiceName:    metrics.MeterName,
			ServiceVersion: version.Version,
			InstanceID:     cfg.Instance.ID,
		})
		if err != nil {
			logger.WithField("error", err).Fatal("failed to start metrics exporter")
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			provider.Shutdown(shutdownCtx)
		}()
	}

	// Inner connections
	set, routes, closeConns := buildConnections(cfg, logger)
	defer closeConns()

	mode, _ := connection.ParseMode(cfg.Router.Mode)
	rt := router.NewRouter(router.RouterConfig{
		Mode:            mode,
		PendingCapacity: cfg.Router.PendingCapacity,
	}, set, routes, routes, nil, logger)

	rec, err := metrics.New(nil, rt.Manager().ConnectedCount)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to create metrics")
	}
	defer rec.Close()

	// Order journal
	var orderJournal gateway.OrderJournal
	if cfg.Journal.Enabled {
		pool, j, err := openJournal(ctx, cfg, rt, logger)
		if err != nil {
			logger.WithField("error", err).Fatal("failed to open order journal")
		}
		defer pool.Close()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := j.Stop(shutdownCtx); err != nil {
				logger.WithField("error", err).Error("final journal flush failed")
			}
		}()
		orderJournal = j
	}

	gw := gateway.New(gateway.Config{
		OutputBuffer: cfg.Router.OutputBuffer,
		SendTimeout:  cfg.Router.SendTimeout,
	}, set, rt, orderJournal, rec, logger)
	if err := gw.Start(ctx); err != nil {
		logger.WithField("error", err).Fatal("failed to start gateway")
	}

	outputsDone := make(chan struct{})
	go func() {
		defer close(outputsDone)
		logOutputs(gw.Messages(), logger)
	}()

	// Status server
	var status *statusapi.Server
	if cfg.Status.Enabled {
		status = statusapi.New(gw, cfg.Instance.ID, cfg.Status.Port, logger)
		status.Start()
	}

	if err := gw.Send(ctx, &message.Connect{}); err != nil {
		logger.WithField("error", err).Fatal("failed to send connect")
	}

	if *readStdin {
		go readRequests(ctx, os.Stdin, gw, logger)
	}

	logger.WithFields(logrus.Fields{
		"venues": set.Len(),
		"mode":   mode,
	}).Info("basket running")

	sig := <-sigCh
	logger.WithField("signal", sig).Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := gw.Send(shutdownCtx, &message.Disconnect{}); err != nil {
		logger.WithField("error", err).Warn("failed to send disconnect")
	}
	waitDisconnected(shutdownCtx, gw)

	if status != nil {
		status.Shutdown(shutdownCtx)
	}
	cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.WithField("error", err).Warn("gateway stop incomplete")
	}
	<-outputsDone

	logger.Info("basket stopped")
}

// buildConnections creates one venue client per configured venue and the
// static routes that point at them.
func buildConnections(cfg *config.BasketConfig, logger *logrus.Entry) (*connection.Set, *connection.StaticRoutes, func()) {
	set := connection.NewSet(nil)
	routes := connection.NewStaticRoutes()
	byName := make(map[string]connection.Conn, len(cfg.Venues))
	var clients []*connection.Client

	for _, v := range cfg.Venues {
		client := connection.NewClient(connection.ClientConfig{
			ID:               connection.ID(v.Name),
			URL:              v.URL,
			APIKey:           v.APIKey,
			HandshakeTimeout: v.HandshakeTimeout,
			PingTimeout:      v.PingTimeout,
			PingInterval:     v.PingInterval,
			WriteTimeout:     v.WriteTimeout,
			BufferSize:       v.BufferSize,
		}, logger)
		clients = append(clients, client)

		var conn connection.Conn = client
		if v.MaxInFlight > 0 {
			conn = connection.NewGuarded(client, int64(v.MaxInFlight))
		}

		caps := connection.Capabilities{Orders: v.Orders}
		for _, dt := range v.DataTypes {
			caps.DataTypes = append(caps.DataTypes, message.DataType(dt))
		}
		set.Add(conn, caps)
		byName[v.Name] = conn
	}

	for portfolio, venue := range cfg.Routes.Portfolios {
		routes.SetPortfolio(portfolio, byName[venue])
	}
	for _, r := range cfg.Routes.Instruments {
		routes.SetInstrument(r.Instrument, message.DataType(r.DataType), byName[r.Venue])
	}

	return set, routes, func() {
		for _, c := range clients {
			c.Close()
		}
	}
}

// openJournal connects the journal database and restores saved bindings.
func openJournal(ctx context.Context, cfg *config.BasketConfig, rt *router.Router, logger *logrus.Entry) (*pgxpool.Pool, *journal.Journal, error) {
	pool, err := database.Open(ctx, cfg.Journal.Database, "basket-"+cfg.Instance.ID, logger)
	if err != nil {
		return nil, nil, err
	}

	j := journal.New(journal.DefaultConfig(), pool, logger)
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	bindings, err := j.Load(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	rt.RestoreOrders(bindings)

	if err := j.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, j, nil
}

// logOutputs logs every caller-facing message until the stream closes.
func logOutputs(msgs <-chan message.Message, logger *logrus.Entry) {
	for m := range msgs {
		data, err := message.Encode(m)
		if err != nil {
			logger.WithFields(logrus.Fields{"kind": m.Kind(), "error": err}).Warn("failed to encode output")
			continue
		}
		entry := logger.WithField("kind", m.Kind())
		if err := message.ErrorOf(m); err != nil {
			entry.WithField("error", err).Warn(string(data))
			continue
		}
		entry.Info(string(data))
	}
}

// readRequests sends every JSON line read from r as a request.
func readRequests(ctx context.Context, r io.Reader, gw *gateway.Gateway, logger *logrus.Entry) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		m, err := message.Decode(line)
		if err != nil {
			logger.WithField("error", err).Warn("ignoring undecodable request")
			continue
		}
		if err := gw.Send(ctx, m); err != nil {
			logger.WithFields(logrus.Fields{"kind": m.Kind(), "error": err}).Warn("request rejected")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.WithField("error", err).Error("stdin read failed")
	}
}

// waitDisconnected polls until every connection has reported its disconnect.
func waitDisconnected(ctx context.Context, gw *gateway.Gateway) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if st := gw.Status().State; st == connection.StatusDisconnected.String() || st == connection.StatusFailed.String() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
