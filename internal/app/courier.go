package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/config"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/mailer"
	"github.com/campushq/campus-courier/internal/metrics"
	"github.com/campushq/campus-courier/internal/portal"
	"github.com/campushq/campus-courier/internal/scheduler"
	"github.com/campushq/campus-courier/internal/server"
	"github.com/campushq/campus-courier/internal/storage"
	"github.com/campushq/campus-courier/internal/tracker"
	"github.com/campushq/campus-courier/internal/workers"
	"github.com/campushq/campus-courier/pkg/sinks"
)

// Courier is the collection daemon runtime: the scheduler, the queue consumer
// pools, and the HTTP API, wired over one bus and one store.
type Courier struct {
	cfg     *config.Config
	log     logger.Logger
	store   storage.Store
	bus     bus.Bus
	metrics *metrics.Metrics

	enumerator *workers.Enumerator
	sched      *scheduler.Scheduler
	pools      []*workers.Pool
	httpSrv    *http.Server
}

// NewCourier builds the full runtime from config.
func NewCourier(ctx context.Context, cfg *config.Config, log logger.Logger) (*Courier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	topo, err := bus.LoadTopology(cfg.TopologyFile)
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}

	store, err := storage.NewStore(cfg.BBoltPath, storage.Options{
		LedgerTTL:       cfg.LedgerTTL,
		CleanupInterval: cfg.LedgerCleanupInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"path":               cfg.BBoltPath,
		"ledger_ttl_seconds": int(cfg.LedgerTTL.Seconds()),
	})

	quarantine := newQuarantineFunc(store, log)

	mirrors, err := loadMirrors(ctx, cfg, topo, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	b, err := bus.New(ctx, cfg, topo, quarantine, mirrors, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init bus: %w", err)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	portalClient, err := portal.NewRemoteClient(portal.RemoteOptions{
		BaseURL:   cfg.PortalBaseURL,
		Timeout:   cfg.PortalTimeout,
		RateLimit: cfg.PortalRateLimit,
		Burst:     cfg.PortalBurst,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init portal client: %w", err)
	}

	trackerClient, err := tracker.NewTodoistClient(cfg.TrackerBaseURL, cfg.TrackerTimeout)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init tracker client: %w", err)
	}

	var mail mailer.Transport
	if cfg.SenderEmail != "" {
		mail, err = mailer.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SenderEmail, cfg.SenderPassword)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init mail transport: %w", err)
		}
	} else {
		log.WarnObj("no sender email configured, notification emails disabled", "smtp_host", cfg.SMTPHost)
	}

	userTopic, err := b.Topic(bus.TopicUserEvents)
	if err != nil {
		store.Close()
		return nil, err
	}
	itemTopic, err := b.Topic(bus.TopicCourseItemEvents)
	if err != nil {
		store.Close()
		return nil, err
	}

	enumerator := workers.NewEnumerator(store, userTopic, cfg.EnumeratePageSize, m, log)
	registrar := workers.NewRegistrar(portalClient, trackerClient, store, userTopic, m, log)

	handlers := map[string]workers.Handler{
		bus.QueueCourseScrape:  workers.NewCourseScraper(store, portalClient, itemTopic, mail, m, log),
		bus.QueueMailScrape:    workers.NewMailScraper(store, portalClient, log),
		bus.QueueTrackerExport: workers.NewTaskExporter(store, trackerClient, log),
		bus.QueueEmailNotify:   workers.NewEmailNotifier(store, mail, log),
	}

	pools := make([]*workers.Pool, 0, len(handlers))
	for queueName, handler := range handlers {
		q, err := b.Queue(queueName)
		if err != nil {
			store.Close()
			return nil, err
		}
		runner := workers.NewRunner(q, handler, cfg.MessageTimeout, quarantine, m, log)
		pools = append(pools, workers.NewPool(runner, cfg.WorkersPerQueue))
	}

	router := server.NewRouter(registrar, enumerator, promReg, cfg.APIKey, log)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Courier{
		cfg:        cfg,
		log:        log,
		store:      store,
		bus:        b,
		metrics:    m,
		enumerator: enumerator,
		sched:      scheduler.New(enumerator, cfg.EnumerateInterval, log),
		pools:      pools,
		httpSrv:    httpSrv,
	}, nil
}

// Run starts everything and blocks until ctx is canceled, then drains.
func (c *Courier) Run(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("courier is not initialized")
	}
	defer c.closeStore()
	defer c.closeBus()

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	for _, p := range c.pools {
		p.Start(workCtx)
	}
	go c.sched.Run(workCtx)

	c.log.InfoObj("courier started", "runtime", map[string]any{
		"http_addr":          c.cfg.HTTPAddr,
		"bus_backend":        c.cfg.BusBackend,
		"workers_per_queue":  c.cfg.WorkersPerQueue,
		"enumerate_interval": c.cfg.EnumerateInterval.String(),
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := c.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok && err != nil {
			cancelWork()
			c.waitPools()
			return fmt.Errorf("http server: %w", err)
		}
	}

	c.log.InfoObj("courier shutting down", "shutdown_timeout", c.cfg.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()
	if err := c.httpSrv.Shutdown(shutdownCtx); err != nil {
		c.log.WarnObj("http shutdown failed", "error", err.Error())
	}

	cancelWork()
	c.waitPools()
	return nil
}

func (c *Courier) waitPools() {
	for _, p := range c.pools {
		p.Wait()
	}
}

func (c *Courier) closeStore() {
	if c.store == nil {
		return
	}
	if err := c.store.Close(); err != nil {
		c.log.WarnObj("store close failed", "error", err.Error())
	}
}

func (c *Courier) closeBus() {
	if c.bus == nil {
		return
	}
	if err := c.bus.Close(); err != nil {
		c.log.WarnObj("bus close failed", "error", err.Error())
	}
}

// newQuarantineFunc parks failed deliveries in the store for operator review.
func newQuarantineFunc(store storage.QuarantineStore, log logger.Logger) bus.QuarantineFunc {
	return func(queue string, env bus.Envelope, reason string) error {
		err := store.Quarantine(storage.QuarantinedMessage{
			ID:            env.ID,
			Queue:         queue,
			Reason:        reason,
			Envelope:      env,
			QuarantinedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		log.WarnObj("message quarantined", "quarantine", map[string]string{
			"id":     env.ID,
			"queue":  queue,
			"reason": reason,
		})
		return nil
	}
}

// loadMirrors builds the per-topic sink fanouts from the sinks file. A blank
// path means no mirroring.
func loadMirrors(ctx context.Context, cfg *config.Config, topo bus.Topology, log logger.Logger) (map[string]bus.MirrorSender, error) {
	if cfg.SinksFile == "" {
		return nil, nil
	}

	reg, err := sinks.LoadRegistry(cfg.SinksFile)
	if err != nil {
		return nil, fmt.Errorf("load sinks registry: %w", err)
	}
	enabled := reg.Enabled()
	if len(enabled) == 0 {
		return nil, nil
	}

	topicNames := make([]string, 0, len(topo.Topics))
	for _, t := range topo.Topics {
		topicNames = append(topicNames, t.Name)
	}

	fanouts, err := sinks.BuildMirrors(ctx, sinks.DefaultRegistry(), enabled, topicNames, log)
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}

	mirrors := make(map[string]bus.MirrorSender, len(fanouts))
	for topic, f := range fanouts {
		mirrors[topic] = f
		log.InfoObj("topic mirroring enabled", "mirror", map[string]any{
			"topic": topic,
			"sinks": f.Size(),
		})
	}
	return mirrors, nil
}
