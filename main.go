package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/jawher/mow.cli"
	_ "github.com/joho/godotenv/autoload"
	"github.com/mskcc/oncotree-api/api"
	"github.com/mskcc/oncotree-api/backup"
	"github.com/mskcc/oncotree-api/crosswalk"
	"github.com/mskcc/oncotree-api/graphite"
	"github.com/mskcc/oncotree-api/oncotree"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
)

func main() {
	app := cli.App("oncotree-api", "Serves versioned OncoTree tumor type trees built from Graphite")

	graphiteURL := app.String(cli.StringOpt{
		Name:   "graphite-url",
		Value:  "",
		Desc:   "Graphite SPARQL endpoint",
		EnvVar: "GRAPHITE_URL",
	})
	graphiteUsername := app.String(cli.StringOpt{
		Name:   "graphite-username",
		Value:  "",
		Desc:   "Graphite username used for http basic authentication",
		EnvVar: "GRAPHITE_USERNAME",
	})
	graphitePassword := app.String(cli.StringOpt{
		Name:   "graphite-password",
		Value:  "",
		Desc:   "Graphite password used for http basic authentication",
		EnvVar: "GRAPHITE_PASSWORD",
	})
	namespacePrefix := app.String(cli.StringOpt{
		Name:   "oncotree-namespace-prefix",
		Value:  graphite.DefaultNamespacePrefix,
		Desc:   "Namespace of oncotree node properties",
		EnvVar: "ONCOTREE_NAMESPACE_PREFIX",
	})
	versionNamespacePrefix := app.String(cli.StringOpt{
		Name:   "oncotree-version-namespace-prefix",
		Value:  graphite.DefaultVersionNamespacePrefix,
		Desc:   "Namespace of oncotree version properties",
		EnvVar: "ONCOTREE_VERSION_NAMESPACE_PREFIX",
	})
	versionListGraphID := app.String(cli.StringOpt{
		Name:   "version-list-graph-id",
		Value:  "",
		Desc:   "Graph holding the list of oncotree versions",
		EnvVar: "ONCOTREE_VERSION_LIST_GRAPH_ID",
	})
	crosswalkURL := app.String(cli.StringOpt{
		Name:   "crosswalk-url",
		Value:  "",
		Desc:   "Crosswalk concept service url. Leave empty to serve trees without NCI and UMLS codes",
		EnvVar: "CROSSWALK_URL",
	})
	backupFileName := app.String(cli.StringOpt{
		Name:   "backup-file-name",
		Value:  "oncotree-backup.db",
		Desc:   "File the last good Graphite and crosswalk responses are kept in",
		EnvVar: "BACKUP_FILE_NAME",
	})
	defaultVersion := app.String(cli.StringOpt{
		Name:   "default-version",
		Value:  oncotree.DefaultVersionAlias,
		Desc:   "Version served when a request names none. It must load for the service to become ready",
		EnvVar: "DEFAULT_VERSION",
	})
	liveVersion := app.String(cli.StringOpt{
		Name:   "live-version",
		Value:  oncotree.DefaultLiveVersion,
		Desc:   "Version that is rebuilt on every request and never cached",
		EnvVar: "LIVE_VERSION",
	})
	reloadHours := app.Int(cli.IntOpt{
		Name:   "reload-interval-hours",
		Value:  72,
		Desc:   "Hours between full reloads of versions and trees. 0 disables",
		EnvVar: "RELOAD_INTERVAL_HOURS",
	})
	crosswalkHours := app.Int(cli.IntOpt{
		Name:   "crosswalk-refresh-hours",
		Value:  168,
		Desc:   "Hours between crosswalk concept refreshes. 0 disables",
		EnvVar: "CROSSWALK_REFRESH_HOURS",
	})
	port := app.Int(cli.IntOpt{
		Name:   "port",
		Value:  8080,
		Desc:   "Port to listen on",
		EnvVar: "PORT",
	})
	logMetrics := app.Bool(cli.BoolOpt{
		Name:   "logMetrics",
		Value:  false,
		Desc:   "Whether to log metrics. Set to true if running locally and you want metrics output",
		EnvVar: "LOG_METRICS",
	})
	logLevel := app.String(cli.StringOpt{
		Name:   "logLevel",
		Value:  "INFO",
		Desc:   "Log level",
		EnvVar: "LOG_LEVEL",
	})

	app.Action = func() {
		lvl, err := log.ParseLevel(*logLevel)
		if err != nil {
			log.Warnf("Unknown log level '%s', using INFO", *logLevel)
			lvl = log.InfoLevel
		}
		log.SetLevel(lvl)

		log.WithFields(log.Fields{
			"graphiteURL":        *graphiteURL,
			"graphiteUsername":   *graphiteUsername,
			"versionListGraphID": *versionListGraphID,
			"crosswalkURL":       *crosswalkURL,
			"defaultVersion":     *defaultVersion,
			"liveVersion":        *liveVersion,
		}).Info("Starting oncotree-api")

		if *logMetrics {
			go metrics.Log(metrics.DefaultRegistry, 60*time.Second, log.StandardLogger())
		}

		store, err := backup.Open(*backupFileName)
		if err != nil {
			log.Fatalf("Unable to open backup file: %v", err)
		}
		defer store.Close()

		client := getResilientClient()
		graph := graphite.NewClient(client, graphite.Config{
			URL:                    *graphiteURL,
			Username:               *graphiteUsername,
			Password:               *graphitePassword,
			NamespacePrefix:        *namespacePrefix,
			VersionNamespacePrefix: *versionNamespacePrefix,
			VersionListGraphID:     *versionListGraphID,
		})

		nodes := api.NewBackedNodeSource(graph, backup.NewFallback(store, backup.NodesStore, nil))
		versions := api.NewBackedVersionSource(graph, backup.NewFallback(store, backup.VersionsStore, nil))

		concepts := crosswalk.NewCache()
		trees := oncotree.NewTreeCache(nodes, oncotree.NewTreeBuilder(concepts), *liveVersion, nil)
		service := api.NewService(versions, oncotree.NewVersionResolver(*defaultVersion), trees, *liveVersion)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		var (
			refresher *crosswalk.Refresher
			mappings  api.MappingSource
		)
		if *crosswalkURL != "" {
			crosswalkClient := crosswalk.NewClient(client, *crosswalkURL)
			mappings = crosswalkClient
			refresher = crosswalk.NewRefresher(versions, nodes, crosswalkClient, concepts,
				backup.NewFallback(store, backup.ConceptsStore, nil), trees, nil)
		}

		go func() {
			if refresher != nil {
				if err := refresher.Refresh(ctx); err != nil {
					log.WithError(err).Warn("Initial crosswalk refresh failed, serving trees without concepts")
				}
			}
			if err := service.Reload(ctx); err != nil {
				log.WithError(err).Error("Initial oncotree load failed")
			}
		}()
		if refresher != nil && *crosswalkHours > 0 {
			go refresher.Run(ctx, time.Duration(*crosswalkHours)*time.Hour)
		}
		if *reloadHours > 0 {
			go service.Run(ctx, time.Duration(*reloadHours)*time.Hour)
		}

		router := api.Router(api.NewHandler(service, mappings))
		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", *port),
			Handler: api.Monitored(router, metrics.DefaultRegistry),
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			server.Shutdown(shutdownCtx)
		}()

		log.Infof("Listening on %v", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Unable to start server: %v", err)
		}
	}
	app.Run(os.Args)
}

func getResilientClient() *pester.Client {
	tr := &http.Transport{
		MaxIdleConnsPerHost: 32,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	c := &http.Client{
		Transport: tr,
		Timeout:   30 * time.Second,
	}
	client := pester.NewExtendedClient(c)
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = 5
	client.Concurrency = 1

	return client
}
