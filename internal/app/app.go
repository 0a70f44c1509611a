// Package app assembles the daemon: config, logging, storage, the roadmap
// engine and the services around it, plus config hot-reload fan-out.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"roadmapd/internal/config"
	"roadmapd/internal/eventbus"
	"roadmapd/internal/roadmap/engine"
	"roadmapd/internal/roadmap/templates"
	rtsup "roadmapd/internal/runtime/supervisor"
	"roadmapd/internal/services/completion"
	"roadmapd/internal/services/notify"
	"roadmapd/internal/services/ops"
	"roadmapd/internal/services/sweep"
	"roadmapd/internal/storage"
	kit "roadmapd/internal/transport"
	"roadmapd/internal/transport/telegram"
	logx "roadmapd/pkg/logx"
)

// StopReason labels why the app is shutting down, for the final log line.
type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath      string
	templatesDir string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.DB

	sender kit.Sender

	engine *engine.Service
	comp   *completion.Service
	notif  *notify.Service
	sweep  *sweep.Service
	ops    *ops.Service

	startedAt time.Time
}

// New loads the config and constructs every component. templatesDir, when
// non-empty, overrides templates.path from the config file.
func New(cfgPath, templatesDir string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	engineSvc := engine.New(store, bus, log.With(logx.String("comp", "engine")),
		engine.WithDefaultDuration(cfg.Engine.DefaultDurationDays))
	compSvc := completion.New(store, engineSvc, bus, log.With(logx.String("comp", "completion")))

	// Telegram is the only delivery channel so far; without a token the
	// notifier pipeline has nowhere to send.
	var sender kit.Sender
	if cfg.Telegram != nil && strings.TrimSpace(cfg.Telegram.Token) != "" {
		sender, err = telegram.New(telegram.Config{Token: cfg.Telegram.Token},
			log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if ncfg.Enabled && sender == nil {
		log.Warn("notifier enabled but telegram is not configured; disabling")
		ncfg.Enabled = false
	}
	notifSvc := notify.New(ncfg, sender, log.With(logx.String("comp", "notify")), bus, store)

	sweepSvc := sweep.New(mapSweepConfig(cfg), store, bus, log.With(logx.String("comp", "sweep")))

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgPath:      cfgPath,
		templatesDir: templatesDir,
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		sender:       sender,
		engine:       engineSvc,
		comp:         compSvc,
		notif:        notifSvc,
		sweep:        sweepSvc,
	}
	a.ops = ops.New(opsCfg, a.statusSnapshot, log.With(logx.String("comp", "ops")))
	return a, nil
}

// Engine exposes the roadmap engine for embedding callers.
func (a *App) Engine() *engine.Service { return a.engine }

// Store exposes the persistence layer (template import, membership upkeep).
func (a *App) Store() *storage.DB { return a.store }

// Done is closed when the app run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Transactional reload: validate before commit/publish so a bad edit
	// never reaches the services.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapOpsConfig(cfg); err != nil {
			return err
		}
		if cfg.Sweep != nil {
			if tz := strings.TrimSpace(cfg.Sweep.Timezone); tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("sweep.timezone: invalid %q: %w", tz, err)
				}
			}
		}
		if cfg.Engine.DefaultDurationDays < 0 {
			return fmt.Errorf("engine.default_duration_days must be >= 0")
		}
		return nil
	})

	if err := a.importTemplates(a.sup.Context()); err != nil {
		return err
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if err := a.sweep.Start(a.sup.Context()); err != nil {
		return err
	}
	a.ops.Start(a.sup.Context())

	a.sup.Go("completion.run", func(c context.Context) error {
		return a.comp.Run(c)
	})

	// Debug-level event trace; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig fans a validated hot-reload out to the running services.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(mapLoggingConfig(cfg))

	// Storage and the telegram token are construction-time; flag instead of
	// re-opening under live traffic.
	if sc, err := mapStorageConfig(cfg); err == nil && sc.Path != a.store.Path() {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if cfg.Telegram != nil && a.sender == nil && strings.TrimSpace(cfg.Telegram.Token) != "" {
		a.log.Warn("telegram config changed; restart required for changes to take effect")
	}

	prevNotif := a.notif.Enabled()
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		if ncfg.Enabled && a.sender == nil {
			a.log.Warn("notifier enabled but telegram is not configured; disabling")
			ncfg.Enabled = false
		}
		a.notif.Apply(ncfg)
		if prevNotif && !ncfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prevNotif && ncfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if err := a.sweep.Apply(ctx, mapSweepConfig(cfg)); err != nil {
		a.log.Warn("invalid sweep config; sweeper stopped", logx.Err(err))
	}

	ocfg, err := mapOpsConfig(cfg)
	if err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Apply(ctx, ocfg)
	}

	a.log.Info("config reloaded")
}

// importTemplates loads the template pack named by the config (or the
// -templates override) into storage. Missing directory is not an error.
func (a *App) importTemplates(ctx context.Context) error {
	dir := a.templatesDir
	if dir == "" {
		if cfg := a.cfgm.Get(); cfg != nil {
			dir = cfg.Templates.Path
		}
	}
	if strings.TrimSpace(dir) == "" {
		return nil
	}

	loader := templates.NewLoader(a.store, a.log.With(logx.String("comp", "templates")))
	n, err := loader.ImportDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("import templates from %s: %w", dir, err)
	}
	a.log.Info("templates imported", logx.String("dir", dir), logx.Int("count", n))
	return nil
}

func (a *App) statusSnapshot(context.Context) any {
	var counters rtsup.Counters
	if a.sup != nil {
		counters = a.sup.Counters()
	}
	return map[string]any{
		"uptime":           time.Since(a.startedAt).Round(time.Second).String(),
		"goroutines":       counters,
		"notifier_enabled": a.notif.Enabled(),
		"notifier_history": len(a.notif.Snapshot()),
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("sweep", 2*time.Second, func(c context.Context) error { a.sweep.Stop(c); return nil })
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	if a.sender != nil {
		step("telegram", 1*time.Second, func(c context.Context) error { return a.sender.Stop(c) })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./roadmapd.db"
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapNotifierConfig(cfg *config.Config) (notify.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notify.Config{}, nil
	}

	retryBase, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.DedupMaxEntries < 0 {
		return notify.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}

	out := notify.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}
	if cfg.Telegram != nil {
		out.Target = kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID}
	}
	return out, nil
}

func mapSweepConfig(cfg *config.Config) sweep.Config {
	sc := cfg.Sweep
	if sc == nil {
		return sweep.Config{}
	}
	return sweep.Config{
		Enabled:  sc.Enabled,
		Schedule: sc.Schedule,
		Timezone: sc.Timezone,
	}
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	if oc == nil {
		return ops.Config{}, nil
	}

	readTimeout, err := config.ParseDurationField("ops.read_timeout", oc.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	writeTimeout, err := config.ParseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	idleTimeout, err := config.ParseDurationField("ops.idle_timeout", oc.IdleTimeout)
	if err != nil {
		return ops.Config{}, err
	}

	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   readTimeout,
		WriteTimeout:  writeTimeout,
		IdleTimeout:   idleTimeout,
	}, nil
}
