package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/carvexyz/carve/app/services/carve-api/handlers"
	"github.com/carvexyz/carve/business/core/allocator"
	"github.com/carvexyz/carve/business/core/carving"
	"github.com/carvexyz/carve/business/core/order"
	"github.com/carvexyz/carve/business/core/reconcile"
	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/claim"
	"github.com/carvexyz/carve/business/sys/database"
	"github.com/carvexyz/carve/business/sys/notify"
	"github.com/carvexyz/carve/business/sys/params"
	"github.com/carvexyz/carve/business/web/mid"
	"github.com/carvexyz/carve/foundation/events"
	"github.com/carvexyz/carve/foundation/keystore"
	"github.com/carvexyz/carve/foundation/ledger"
	"github.com/carvexyz/carve/foundation/ledger/memory"
	"github.com/carvexyz/carve/foundation/ledger/tree"
	"github.com/carvexyz/carve/foundation/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

// ledgerAPI is the full set of ledger calls the service makes.
type ledgerAPI interface {
	Read(ctx context.Context, id ledger.ID) (ledger.Entry, error)
	Write(ctx context.Context, entry ledger.Entry) (string, error)
	Delete(ctx context.Context, id ledger.ID) (string, error)
	ListPublic(ctx context.Context) ([]ledger.ID, error)
	Events(ctx context.Context, kind ledger.EventKind) ([]ledger.Event, error)
}

func main() {

	// Construct the application logger.
	log, err := logger.New("CARVE-API")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:120s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			APIHost         string        `conf:"default:0.0.0.0:8080"`
			CorsOrigin      string        `conf:"default:*"`
			LinkBase        string        `conf:"default:https://carve.xyz/inscription"`
			TrustedProxies  int           `conf:"default:0"`
		}
		DB struct {
			Driver       string `conf:"default:sqlite"`
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,mask"`
			Host         string `conf:"default:localhost"`
			Name         string `conf:"default:postgres"`
			Path         string `conf:"default:zcarve/carve.db"`
			MaxIdleConns int    `conf:"default:2"`
			MaxOpenConns int    `conf:"default:10"`
			DisableTLS   bool   `conf:"default:true"`
		}
		Redis struct {
			Addr     string
			Password string `conf:"mask"`
			DB       int    `conf:"default:0"`
		}
		Params struct {
			SSMRoot       string
			Region        string `conf:"default:us-east-1"`
			UserIDSalt    string `conf:"default:dev-user-salt,mask"`
			CarvingIDSalt string `conf:"default:dev-carving-salt,mask"`
			AdminKey      string `conf:"default:dev-admin-key,mask"`
			KeyHandle     string `conf:"default:operator"`
			OperatorEmail string
		}
		Ledger struct {
			Mode            string `conf:"default:memory"`
			URL             string `conf:"default:http://localhost:8545"`
			ContractAddress string
			KeyFolder       string        `conf:"default:zcarve/keys/"`
			Timeout         time.Duration `conf:"default:60s"`
			WaitMined       bool          `conf:"default:true"`
			FromBlock       uint64        `conf:"default:0"`
		}
		Order struct {
			ClaimTTL     time.Duration `conf:"default:2m"`
			WriteTimeout time.Duration `conf:"default:90s"`
		}
		Reconcile struct {
			Interval time.Duration `conf:"default:5m"`
			Timeout  time.Duration `conf:"default:2m"`
		}
		Mail struct {
			Host     string
			Port     int `conf:"default:587"`
			Username string
			Password string `conf:"mask"`
			From     string `conf:"default:carvings@carve.xyz"`
		}
		Sheet struct {
			Bucket    string
			Key       string `conf:"default:orders.csv"`
			Region    string `conf:"default:us-east-1"`
			Endpoint  string
			AccessKey string `conf:"mask"`
			SecretKey string `conf:"mask"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "carve api",
		},
	}

	const prefix = "CARVE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	ctx := context.Background()

	// =========================================================================
	// Parameter Support

	// Salts, the admin key, and the limits come from the parameter store when
	// a root is configured. Without one the values from the config are used.
	var source params.Source
	switch cfg.Params.SSMRoot {
	case "":
		log.Infow("startup", "status", "using local parameters")
		source = params.MapSource{
			params.KeyUserIDSalt:       cfg.Params.UserIDSalt,
			params.KeyCarvingIDSalt:    cfg.Params.CarvingIDSalt,
			params.KeyAdminKey:         cfg.Params.AdminKey,
			params.KeyPrivateKeyHandle: cfg.Params.KeyHandle,
			params.KeyContractAddress:  cfg.Ledger.ContractAddress,
			params.KeyOperatorEmail:    cfg.Params.OperatorEmail,
		}

	default:
		log.Infow("startup", "status", "using parameter store", "root", cfg.Params.SSMRoot)
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Params.Region))
		if err != nil {
			return fmt.Errorf("loading aws config: %w", err)
		}
		source = params.NewSSMSource(ssm.NewFromConfig(awsCfg), cfg.Params.SSMRoot)
	}

	prm, err := params.New(ctx, log, source)
	if err != nil {
		return fmt.Errorf("loading parameters: %w", err)
	}
	prm.Run()
	defer prm.Shutdown()

	// =========================================================================
	// Database Support

	log.Infow("startup", "status", "initializing database support", "driver", cfg.DB.Driver)

	db, err := database.Open(database.Config{
		Log:          log,
		Driver:       cfg.DB.Driver,
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Host:         cfg.DB.Host,
		Name:         cfg.DB.Name,
		Path:         cfg.DB.Path,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		DisableTLS:   cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Infow("shutdown", "status", "stopping database support")
		database.Close(db)
	}()

	store := mirror.NewStore(log, db)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating db: %w", err)
	}

	// =========================================================================
	// Ledger Support

	var ldg ledgerAPI
	switch cfg.Ledger.Mode {
	case "memory":
		log.Infow("startup", "status", "using in-memory ledger")
		ldg = memory.New()

	case "tree":
		ks, err := keystore.New(cfg.Ledger.KeyFolder)
		if err != nil {
			return fmt.Errorf("loading keys: %w", err)
		}

		// The key and contract are bound here once. Changing them in the
		// parameter store needs a restart.
		snap := prm.Current()
		privateKey, err := ks.Key(snap.PrivateKeyHandle)
		if err != nil {
			return fmt.Errorf("resolving operator key %q: %w", snap.PrivateKeyHandle, err)
		}

		address := cfg.Ledger.ContractAddress
		if snap.ContractAddress != "" {
			address = snap.ContractAddress
		}

		log.Infow("startup", "status", "dialing ledger", "url", cfg.Ledger.URL, "contract", address)

		client, err := tree.New(ctx, tree.Config{
			URL:             cfg.Ledger.URL,
			ContractAddress: address,
			PrivateKey:      privateKey,
			Timeout:         cfg.Ledger.Timeout,
			WaitMined:       cfg.Ledger.WaitMined,
			FromBlock:       cfg.Ledger.FromBlock,
		})
		if err != nil {
			return fmt.Errorf("connecting to ledger: %w", err)
		}
		defer client.Close()

		ldg = client

	default:
		return fmt.Errorf("unknown ledger mode %q", cfg.Ledger.Mode)
	}

	// =========================================================================
	// Claim And Rate Limit Support

	var claimer claim.Claimer
	var limiter mid.Limiter

	switch cfg.Redis.Addr {
	case "":
		log.Infow("startup", "status", "using process local claims and limits")
		claimer = claim.NewLocal()
		limiter = mid.NewLocalLimiter()

	default:
		log.Infow("startup", "status", "using redis claims and limits", "addr", cfg.Redis.Addr)
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}

		claimer = claim.NewRedis(log, rdb, "carve:claim")
		limiter = mid.NewRedisLimiter(rdb, "carve:rate")
	}

	// =========================================================================
	// Notification Support

	ntf := notify.Notifier{Log: log}

	if cfg.Mail.Host != "" {
		mailer, err := notify.NewMailer(notify.MailConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			return fmt.Errorf("constructing mailer: %w", err)
		}
		ntf.Mailer = mailer
	}

	if cfg.Sheet.Bucket != "" {
		exporter, err := notify.NewExporter(ctx, notify.ExportConfig{
			Region:    cfg.Sheet.Region,
			Endpoint:  cfg.Sheet.Endpoint,
			AccessKey: cfg.Sheet.AccessKey,
			SecretKey: cfg.Sheet.SecretKey,
			Bucket:    cfg.Sheet.Bucket,
			Key:       cfg.Sheet.Key,
		})
		if err != nil {
			return fmt.Errorf("constructing sheet exporter: %w", err)
		}
		ntf.Exporter = exporter
	}

	// =========================================================================
	// Core Support

	// The core packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	alloc := allocator.New(allocator.Config{
		Log:    log,
		Mirror: store,
		Ledger: ldg,
		Params: prm,
	})

	pipeline := order.NewPipeline(order.Config{
		Log:          log,
		Allocator:    alloc,
		Ledger:       ldg,
		Store:        store,
		Claimer:      claimer,
		Sink:         ntf,
		Params:       prm,
		LinkBase:     cfg.Web.LinkBase,
		ClaimTTL:     cfg.Order.ClaimTTL,
		WriteTimeout: cfg.Order.WriteTimeout,
		EvHandler:    ev,
	})

	crv := carving.NewCore(carving.Config{
		Log:      log,
		Ledger:   ldg,
		Mirror:   store,
		Params:   prm,
		Sink:     ntf,
		LinkBase: cfg.Web.LinkBase,
	})

	// The reconcile worker replays the ledger into the mirror at startup and
	// then on the interval. The order sheet is refreshed after every pass.
	worker := reconcile.Run(reconcile.WorkerConfig{
		Core:      reconcile.NewCore(log, ldg, store),
		Interval:  cfg.Reconcile.Interval,
		Timeout:   cfg.Reconcile.Timeout,
		EvHandler: ev,
		OnSync: func(ctx context.Context, stats reconcile.Stats) {
			if err := pipeline.ExportSheet(ctx); err != nil {
				log.Errorw("reconcile", "status", "exporting order sheet", "ERROR", err)
			}
		},
	})
	defer worker.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log, db)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start API Service

	log.Infow("startup", "status", "initializing V1 API support")

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	apiMux := handlers.APIMux(handlers.MuxConfig{
		Shutdown:       shutdown,
		Log:            log,
		CorsOrigin:     cfg.Web.CorsOrigin,
		Carving:        crv,
		Pipeline:       pipeline,
		Syncer:         worker,
		Orders:         store,
		Params:         prm,
		Limiter:        limiter,
		TrustedProxies: cfg.Web.TrustedProxies,
		Evts:           evts,
	})

	api := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      apiMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	go func() {
		log.Infow("startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}
