package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/etx-ingest/modules/ingest/services"
	"github.com/iota-uz/etx-ingest/pkg/configuration"
	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/eventbus"
	"github.com/iota-uz/etx-ingest/pkg/filestore"
	"github.com/iota-uz/etx-ingest/pkg/logging"
	"github.com/iota-uz/etx-ingest/pkg/metrics"
	"github.com/iota-uz/etx-ingest/pkg/retry"
	"github.com/iota-uz/etx-ingest/pkg/users"
)

// needs lists the remote surfaces a command talks to.
type needs struct {
	session bool
	dataAPI bool
}

type app struct {
	conf *configuration.Configuration
	log  *logrus.Logger
	bus  eventbus.Bus
	svc  *services.Service

	cleanup []func()
}

func (a *app) onClose(f func()) {
	a.cleanup = append(a.cleanup, f)
}

// Close releases everything openApp acquired, newest first.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func openApp(ctx context.Context, g *globalOptions, n needs) (_ *app, err error) {
	if g.configFile != "" {
		if err := os.Setenv("ETX_CONFIG_FILE", g.configFile); err != nil {
			return nil, withCode(exitUsage, err)
		}
	}
	conf, err := configuration.Load(g.envFiles)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	a := &app{conf: conf, log: conf.Logger()}
	a.onClose(conf.Unload)
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if n.session {
		if err := conf.RequireSession(); err != nil {
			return nil, withCode(exitUsage, err)
		}
	}
	if n.dataAPI {
		if err := conf.RequireDataAPI(); err != nil {
			return nil, withCode(exitUsage, err)
		}
	}

	if conf.OpenTelemetry.Enabled {
		a.onClose(logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL))
	}

	a.bus = eventbus.New(a.log)
	a.onClose(services.LogProgress(a.bus, a.log))
	a.onClose(services.RecordMetrics(a.bus))

	if path := conf.Ingest.DeadLetterPath; path != "" {
		sink, err := services.OpenDeadLetterSink(path)
		if err != nil {
			return nil, withCode(exitUsage, err)
		}
		a.onClose(func() {
			if err := sink.Close(); err != nil {
				a.log.WithError(err).Warn("close dead letter file")
			}
		})
		a.onClose(sink.Subscribe(a.bus))
	}

	if url := conf.Prometheus.PushgatewayURL; url != "" {
		job := conf.Prometheus.Job
		a.onClose(func() {
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metrics.Push(pctx, url, job, nil); err != nil {
				a.log.WithError(err).Warn("push metrics")
			}
		})
	}
	if g.metricsAddr != "" {
		stop, err := metrics.Serve(g.metricsAddr, a.log)
		if err != nil {
			return nil, withCode(exitUsage, err)
		}
		a.onClose(stop)
	}

	files, err := filestore.NewLocal(conf.FilesRoot)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	loc, err := time.LoadLocation(conf.ETX.TimeZone)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}

	var api etx.Exchanger
	if conf.RequireDataAPI() == nil {
		d, err := etx.NewDataAPI(conf.ETX.HTTPURI, conf.ETX.APIVersion, conf.ETX.APIKey, conf.ETX.HTTPTimeout, a.log)
		if err != nil {
			return nil, withCode(exitUsage, err)
		}
		api = d
	}
	var sessions services.SessionFactory
	if conf.RequireSession() == nil {
		sessions = services.RemoteSessions{Config: etx.Config{
			HTTPURI:      conf.ETX.HTTPURI,
			WSURI:        conf.ETX.WSURI,
			Email:        conf.ETX.Email,
			Password:     conf.ETX.Password,
			TimeZone:     conf.ETX.TimeZone,
			AuthTimeout:  conf.ETX.AuthTimeout,
			ReplyTimeout: conf.ETX.ReplyTimeout,
			Logger:       a.log,
			OnExchange:   services.ObserveExchange,
		}}
	}

	a.svc = services.NewService(sessions, api, files, users.NewLocalDirectory(files.Root()), a.bus, a.log, services.Options{
		ServerFolder:       conf.ETX.ServerFolder,
		Location:           loc,
		VersionDescription: conf.ETX.VersionDescription,
		RowsPerFile:        conf.Ingest.RowsPerFile,
		FilesPerRequest:    conf.Ingest.ImportFilesPerBatch,
		MaxRequests:        conf.Ingest.MaxRequests,
		ChunkDir:           conf.Ingest.ChunkDir,
		DeleteChunks:       conf.Ingest.DeleteChunks,
		IngestRowLimit:     conf.Ingest.IngestRowLimit,
		Columns:            services.Columns{Org: conf.Ingest.OrgColumn, Entity: conf.Ingest.EntityColumn},
		Publish: retry.Policy{
			Attempts:   conf.Ingest.PublishMaxAttempts,
			BaseDelay:  time.Second,
			MaxBackoff: conf.Ingest.PublishMaxBackoff,
			MaxJitter:  250 * time.Millisecond,
		},
	})
	return a, nil
}
