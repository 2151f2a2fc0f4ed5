package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clawparadise.ai/internal/persistence/archive"
	"clawparadise.ai/internal/persistence/entitydb"
	persistlog "clawparadise.ai/internal/persistence/log"
	"clawparadise.ai/internal/persistence/r2s3"
	"clawparadise.ai/internal/sim/catalogs"
	"clawparadise.ai/internal/sim/island"
	"clawparadise.ai/internal/sim/tuning"
	"clawparadise.ai/internal/transport/httpapi"
	"clawparadise.ai/internal/transport/observer"
	"clawparadise.ai/internal/transport/ws"
)

// serverRuntime is everything the ops routes report on.
type serverRuntime struct {
	engine  *island.Engine
	api     *httpapi.Server
	hub     *observer.Hub
	agents  *ws.Server
	archive *archive.Writer
	events  *persistlog.EventLogger
	mirror  *r2s3.Mirror
	db      *entitydb.SQLiteStore
	logger  *log.Logger
}

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory (catalog overrides + rules.yaml)")
		rulesPath   = flag.String("rules", "", "path to rules.yaml (default: <configs>/rules.yaml)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		dbPath      = flag.String("db", "", "sqlite entity store path (default: <data>/db/island.sqlite)")
		archiveKeep = flag.Int("archive_keep", archive.DefaultKeep, "finished games kept in the archive")
		disableLog  = flag.Bool("disable_event_log", false, "do not write the compressed timeline log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	rp := strings.TrimSpace(*rulesPath)
	if rp == "" {
		rp = filepath.Join(*configDir, "rules.yaml")
	}
	tune, err := tuning.Load(rp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load rules: %v", err)
		}
		logger.Printf("rules not found (%s); using defaults", rp)
		tune = tuning.Defaults()
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, db, err := openEntityStore(*dataDir, *dbPath, logger)
	if err != nil {
		logger.Fatalf("open entity store: %v", err)
	}
	defer store.Close()
	if db != nil {
		if err := db.UpsertCatalogs(ctx, cats, tune); err != nil {
			logger.Printf("entity store: upsert catalogs: %v", err)
		}
	}

	archiveDir := filepath.Join(*dataDir, "archive")
	archiveStore, err := archive.Open(archiveDir, *archiveKeep)
	if err != nil {
		logger.Fatalf("open archive: %v", err)
	}
	defer archiveStore.Close()

	mirror, err := buildArchiveMirror(archiveDir, logger)
	if err != nil {
		logger.Fatalf("init archive mirror: %v", err)
	}
	defer mirror.Close()

	archiveWriter := archive.NewWriter(archiveStore, logger, 0)
	if mirror != nil {
		archiveWriter.WithReplica(mirror)
	}
	// Closed before the mirror so drained documents still get replicated.
	defer archiveWriter.Close()

	rt := &serverRuntime{archive: archiveWriter, mirror: mirror, db: db, logger: logger}

	var sinks []island.EventSink
	if !*disableLog {
		rt.events = persistlog.NewEventLogger(filepath.Join(*dataDir, "events"), logger)
		defer rt.events.Close()
		sinks = append(sinks, rt.events)
	}

	rt.engine, err = island.New(island.Options{
		Store:    store,
		Catalogs: cats,
		Tuning:   tune,
		Archiver: archiveWriter,
		Sinks:    sinks,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	rt.hub = observer.NewHub(rt.engine, logger)
	rt.engine.AddSink(rt.hub)
	rt.agents = ws.NewServer(rt.engine, logger)
	rt.engine.AddSink(rt.agents)

	rt.api, err = httpapi.New(httpapi.Options{
		Engine:  rt.engine,
		History: archiveStore,
		Stream:  rt.hub,
		Agents:  rt.agents,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatalf("http api: %v", err)
	}

	// Phases advance on submissions and explicit deadline checks; the poller
	// is an opt-in stand-in for an external caller of the deadline check.
	if every := deadlinePollInterval(); every > 0 {
		logger.Printf("deadline sweeper every %s", every)
		go runDeadlineSweeper(ctx, rt.engine, every, logger)
	}

	enableAdminHTTP := envBool("CP_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("CP_ENABLE_PPROF_HTTP", false)
	if !enableAdminHTTP {
		logger.Printf("admin endpoints disabled (CP_ENABLE_ADMIN_HTTP=false)")
	}
	if !enablePprofHTTP {
		logger.Printf("pprof endpoints disabled (CP_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           buildMux(rt, enableAdminHTTP, enablePprofHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}
}

func buildMux(rt *serverRuntime, enableAdminHTTP, enablePprofHTTP bool) *http.ServeMux {
	mux := http.NewServeMux()
	rt.api.Register(mux)

	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /metrics", func(rw http.ResponseWriter, r *http.Request) {
		islands, err := rt.engine.ListIslands(r.Context())
		if err != nil {
			rt.logger.Printf("metrics: list islands: %v", err)
		}
		var buf bytes.Buffer
		writeMetrics(&buf, rt, islands)
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = rw.Write(buf.Bytes())
	})

	if enableAdminHTTP {
		// Local-only operator endpoints.
		mux.HandleFunc("GET /admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			islands, err := rt.engine.ListIslands(r.Context())
			if err != nil {
				writeAdminError(rw, err)
				return
			}
			cats := rt.engine.Catalogs()
			resp := map[string]any{
				"metrics": rt.engine.Metrics(),
				"islands": islands,
				"rules":   rt.engine.Tuning(),
				"catalogs": map[string]string{
					"personas":   cats.Personas.Digest,
					"arenas":     cats.Arenas.Digest,
					"challenges": cats.Challenges.Digest,
				},
			}
			if rt.db != nil {
				st, err := rt.db.Stats(r.Context())
				if err != nil {
					writeAdminError(rw, err)
					return
				}
				resp["store"] = st
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("POST /admin/v1/sweep", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 30*time.Second)
			defer cancel2()
			n, err := rt.engine.SweepDeadlines(ctx2)
			if err != nil {
				writeAdminError(rw, err)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "advanced": n})
		})
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func writeAdminError(rw http.ResponseWriter, err error) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
}

// deadlinePollInterval is zero unless CP_DEADLINE_POLL_SECONDS asks for a poller.
func deadlinePollInterval() time.Duration {
	return time.Duration(envInt("CP_DEADLINE_POLL_SECONDS", 0)) * time.Second
}

// runDeadlineSweeper advances every island whose phase deadline has passed.
func runDeadlineSweeper(ctx context.Context, e *island.Engine, every time.Duration, logger *log.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := e.SweepDeadlines(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Printf("deadline sweep: %v", err)
			}
			if n > 0 {
				logger.Printf("deadline sweep advanced %d island(s)", n)
			}
		}
	}
}
