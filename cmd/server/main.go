package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rdb "github.com/redis/go-redis/v9"

	"github.com/romshark/csrfguard"
	"github.com/romshark/csrfguard/internal/config"
	"github.com/romshark/csrfguard/internal/demo"
	csrfhmac "github.com/romshark/csrfguard/modules/csrf/hmac"
	"github.com/romshark/csrfguard/modules/csrfevents"
	"github.com/romshark/csrfguard/modules/csrfmetrics"
	"github.com/romshark/csrfguard/modules/doublesubmit"
	"github.com/romshark/csrfguard/modules/msgbroker"
	"github.com/romshark/csrfguard/modules/msgbroker/inmem"
	"github.com/romshark/csrfguard/modules/msgbroker/natsjs"
	"github.com/romshark/csrfguard/modules/sessmanager"
	"github.com/romshark/csrfguard/modules/sessmanager/memory"
	"github.com/romshark/csrfguard/modules/sessmanager/natskv"
	"github.com/romshark/csrfguard/modules/sessmanager/redis"
	"github.com/romshark/csrfguard/modules/tokgen"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fConfig := flag.String("config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	conf, err := config.Load(*fConfig)
	if err != nil {
		slog.Error("reading config", slog.Any("err", err))
		os.Exit(2)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: conf.SlogLevel(),
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	doubleSubmit, err := doublesubmit.New(doublesubmit.Config{
		HashKey: []byte(conf.CSRF.HashKey),
		Policy:  policy(conf.CSRF.Policy),
	})
	if err != nil {
		log.Error("initializing double-submit cookie manager", slog.Any("err", err))
		os.Exit(1)
	}

	sessions, closeSessions, err := newSessionManager(ctx, log, conf.Sessions)
	if err != nil {
		log.Error("initializing session manager", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeSessions()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	observer := csrfguard.Observer(csrfmetrics.New(reg))
	if conf.Events.Broker != config.BackendNone {
		pub, closeBroker, err := startEvents(ctx, log, conf.Events, reg)
		if err != nil {
			log.Error("initializing csrf events", slog.Any("err", err))
			os.Exit(1)
		}
		defer closeBroker()
		observer = csrfguard.Observers(observer, pub)
	}

	appConf := demo.Config{
		DoubleSubmit: doubleSubmit,
		Sessions:     sessions,
		SessionTTL:   conf.Sessions.TTL,
		Logger:       log,
		Observer:     observer,
	}
	if conf.CSRF.HMACSecret != "" {
		tm, err := csrfhmac.New([]byte(conf.CSRF.HMACSecret))
		if err != nil {
			log.Error("initializing CSRF token manager", slog.Any("err", err))
			os.Exit(1)
		}
		appConf.TokenManager = tm
		log.Info("using HMAC CSRF tokens")
	}

	if conf.Metrics.Host != "" {
		go serveMetrics(ctx, log, reg,
			net.JoinHostPort(conf.Metrics.Host, strconv.Itoa(int(conf.Metrics.Port))))
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(conf.Host, strconv.Itoa(int(conf.Port))),
		Handler:           demo.New(appConf).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listenAndServe(ctx, log, srv, conf.TLS)
}

func policy(name string) doublesubmit.Policy {
	switch name {
	case "lax":
		return doublesubmit.PolicyLax
	case "none":
		return doublesubmit.PolicyNone_DO_NOT_USE_UNLESS_YOU_ARE_SURE
	}
	return doublesubmit.PolicyStrict
}

func newSessionManager(
	ctx context.Context, log *slog.Logger, conf config.Sessions,
) (
	m sessmanager.SessionManager[sessmanager.Session],
	closeFn func(),
	err error,
) {
	gen := tokgen.Generator{Length: tokgen.DefaultLength}

	switch conf.Backend {
	case config.BackendRedis:
		client := rdb.NewClient(&rdb.Options{Addr: conf.RedisAddr})
		r := redis.New[sessmanager.Session](client, gen, redis.Config{TTL: conf.TTL})
		if err := r.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		log.Info("using Redis session manager", slog.String("addr", conf.RedisAddr))
		return r, func() { _ = client.Close() }, nil

	case config.BackendNATS:
		conn, err := nats.Connect(conf.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		n, err := natskv.New[sessmanager.Session](conn, gen, natskv.Config{
			EncryptionKey: []byte(conf.NATSEncryptionKey),
			TTL:           conf.TTL,
		})
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		log.Info("using NATS KV session manager")
		return n, conn.Close, nil
	}

	log.Info("using in-memory session manager",
		slog.Int("capacity", conf.MemoryCapacity))
	return memory.New[sessmanager.Session](gen, memory.Config{
		Size: conf.MemoryCapacity,
		TTL:  conf.TTL,
	}), func() {}, nil
}

// startEvents connects the event broker and starts logging
// all rejection events it carries.
func startEvents(
	ctx context.Context, log *slog.Logger, conf config.Events, reg prometheus.Registerer,
) (pub *csrfevents.Publisher, closeFn func(), err error) {
	metrics := csrfmetrics.NewBrokerMetrics(reg)

	var b msgbroker.MessageBroker
	closeFn = func() {}
	switch conf.Broker {
	case config.BackendNATS:
		conn, err := nats.Connect(conf.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		if b, err = natsjs.New(conn, natsjs.Config{Metrics: metrics}); err != nil {
			conn.Close()
			return nil, nil, err
		}
		closeFn = conn.Close
		log.Info("using NATS JetStream event broker")
	default:
		b = inmem.New(inmem.Config{Metrics: metrics})
		log.Info("using in-memory event broker")
	}

	if pub, err = csrfevents.New(b, log, csrfevents.Config{}); err != nil {
		closeFn()
		return nil, nil, err
	}
	closeConn := closeFn
	closeFn = func() {
		pub.Close()
		closeConn()
	}
	sub, err := csrfevents.Subscribe(ctx, b, log)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	go func() {
		defer sub.Close()
		_ = sub.Run(ctx, func(e csrfevents.Event) {
			log.Warn("csrf rejection",
				slog.String("channel", string(e.Channel)),
				slog.String("result", e.Result),
				slog.Int("status", e.Status),
				slog.String("method", e.Method),
				slog.String("path", e.Path),
				slog.String("remote", e.RemoteAddr))
		})
	}()
	return pub, closeFn, nil
}

func serveMetrics(
	ctx context.Context, log *slog.Logger, g prometheus.Gatherer, addr string,
) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go shutdownOnDone(ctx, log, srv)

	log.Info("serving metrics", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("serving metrics", slog.Any("err", err))
	}
}

func listenAndServe(ctx context.Context, log *slog.Logger, srv *http.Server, tls config.TLS) {
	go shutdownOnDone(ctx, log, srv)

	log.Info("listening", slog.String("addr", srv.Addr))
	var err error
	if tls.CertFile == "" && tls.KeyFile == "" {
		err = srv.ListenAndServe()
	} else {
		err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("listening", slog.Any("err", err))
	}
}

func shutdownOnDone(ctx context.Context, log *slog.Logger, srv *http.Server) {
	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutting down", slog.String("addr", srv.Addr), slog.Any("err", err))
	}
}
