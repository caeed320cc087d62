// Command syncd runs the offline sync daemon: it keeps locally captured
// mutations durable, replays them to the server of record when connectivity
// allows, and exposes a local status surface over HTTP and WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/config"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/db"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/errors"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/logging"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
	syncpkg "github.com/Null-0-00/lpg-distribution-saas-sub002/internal/sync"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/sync/api"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/sync/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	logging.Info("Starting sync daemon", map[string]interface{}{
		"data_dir": cfg.DataDir,
		"api":      cfg.Server.APIBaseURL,
	})

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	store := db.NewStore(database)
	transport := api.NewHTTPTransport(cfg.Server.APIBaseURL, cfg.Server.RequestTimeout.Std())
	engine := syncpkg.NewEngine(store, transport, nil, cfg.Sync.MaxRetries)

	trigger := scheduler.NewScheduler(engine, store, transport, &scheduler.Config{
		SyncInterval:    cfg.Sync.SyncInterval.Std(),
		CleanupInterval: cfg.Sync.CleanupInterval.Std(),
		Retention:       cfg.Sync.Retention.Std(),
		References:      scheduler.DefaultConfig().References,
	})

	hub := NewStatusHub()
	trigger.SetStartHandler(hub.BroadcastSyncStarted)
	trigger.SetTransitionHandler(hub.BroadcastConnectivity)
	trigger.SetResultHandler(func(result *models.SyncResult) {
		hub.BroadcastSyncResult(result)
		if status, err := engine.Status(); err == nil {
			hub.BroadcastStatus(status)
		}
	})

	monitor := scheduler.NewMonitor(transport, cfg.Sync.MonitorInterval.Std(), trigger.Events())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger.Start(ctx)
	defer trigger.Stop()
	monitor.Start(ctx)
	defer monitor.Stop()

	server := statusServer(cfg.Server.StatusAddr, engine, trigger, hub)
	go func() {
		logging.Info("Status listener started", map[string]interface{}{"addr": cfg.Server.StatusAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Status listener failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info("Shutting down", nil)
	server.Shutdown(context.Background())
	return nil
}

// statusServer exposes the local control surface: status snapshot, explicit
// sync triggers and the WebSocket event stream.
func statusServer(addr string, engine *syncpkg.Engine, trigger *scheduler.Scheduler, hub *StatusHub) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		status, err := engine.Status()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		hub.BroadcastSyncStarted()
		result, err := engine.PerformSync(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		hub.BroadcastSyncResult(result)
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/sync/force", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		hub.BroadcastSyncStarted()
		result, err := engine.ForceSyncAll(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		hub.BroadcastSyncResult(result)
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/conflicts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		conflicts, err := engine.GetPendingConflicts(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": conflicts})
	})

	mux.HandleFunc("/conflicts/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			MutationID string                     `json:"mutation_id"`
			Resolution *models.ConflictResolution `json:"resolution"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.Wrap(errors.ErrValidation, "malformed resolve request", err))
			return
		}
		if err := engine.ManuallyResolveConflict(r.Context(), req.MutationID, req.Resolution); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": req.MutationID})
	})

	mux.HandleFunc("/ws", HandleStatusWebSocket(hub))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"online": trigger.IsOnline(),
		})
	})

	return &http.Server{Addr: addr, Handler: mux}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.ErrAlreadySyncing:
		status = http.StatusConflict
	case errors.ErrOffline:
		status = http.StatusServiceUnavailable
	case errors.ErrValidation, errors.ErrInvalid:
		status = http.StatusBadRequest
	case errors.ErrNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]interface{}{
		"code":  string(errors.Code(err)),
		"error": err.Error(),
	})
}
