package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/diaryx-dev/diaryx-sync/internal/attachment"
	"github.com/diaryx-dev/diaryx-sync/internal/attachment/blobstore"
	"github.com/diaryx-dev/diaryx-sync/internal/bodydoc"
	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
	"github.com/diaryx-dev/diaryx-sync/internal/relayconfig"
	"github.com/diaryx-dev/diaryx-sync/internal/room"
	"github.com/diaryx-dev/diaryx-sync/internal/store"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync relay's WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.WorkspaceDBDir, 0o755); err != nil {
		return fmt.Errorf("creating workspace db dir: %w", err)
	}

	ledger, err := attachment.Open(ctx, cfg.Attachments.LedgerDBPath, logger)
	if err != nil {
		return fmt.Errorf("opening attachment ledger: %w", err)
	}
	defer ledger.Close()

	var blobs *blobstore.Store
	if cfg.Attachments.S3Endpoint != "" {
		blobs, err = blobstore.New(blobstore.Config{
			Endpoint:  cfg.Attachments.S3Endpoint,
			AccessKey: cfg.Attachments.S3AccessKey,
			SecretKey: cfg.Attachments.S3SecretKey,
			Bucket:    cfg.Attachments.S3Bucket,
			UseTLS:    cfg.Attachments.S3UseTLS,
		})
		if err != nil {
			return fmt.Errorf("connecting to attachment blob store: %w", err)
		}
	}

	sweepInterval, err := cfg.SweepIntervalDuration()
	if err != nil {
		return err
	}
	if blobs != nil {
		pipeline := attachment.NewPipeline(ledger, blobs, func() int64 { return time.Now().UnixMilli() }, logger)
		sweeper := attachment.NewSweeper(pipeline, int64(mustDuration(cfg.SweepGracePeriodDuration()).Seconds()), cfg.Attachments.SweepConcurrency, logger)
		go runSweepLoop(ctx, sweeper, sweepInterval, logger)
	}

	hub := room.NewHub(roomFactory(cfg, logger), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", newWSHandler(hub, logger))

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	runCtx := shutdownContext(ctx, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-runCtx.Done():
	}

	shutdownTimeout, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func mustDuration(d time.Duration, err error) time.Duration {
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

func runSweepLoop(ctx context.Context, sweeper *attachment.Sweeper, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sweeper.SweepExpiredSessions(ctx); err != nil {
				logger.Warn("sweeping expired upload sessions failed", "error", err)
			} else if n > 0 {
				logger.Info("swept expired upload sessions", "count", n)
			}
			if n, err := sweeper.SweepSoftDeletedBlobs(ctx); err != nil {
				logger.Warn("sweeping soft-deleted blobs failed", "error", err)
			} else if n > 0 {
				logger.Info("swept soft-deleted blobs", "count", n)
			}
		}
	}
}

// roomFactory builds the per-workspace Factory Hub consults on first
// access to a workspace: a dedicated SQLite store, a workspace CRDT
// document replayed from it, and a body document pool backed by the same
// store, with every local/sync mutation persisted back through it.
func roomFactory(cfg *relayconfig.Config, logger *slog.Logger) room.Factory {
	return func(ctx context.Context, workspaceID string) (*room.Room, func() error, error) {
		dbPath := filepath.Join(cfg.Storage.WorkspaceDBDir, workspaceID+".sqlite")
		st, err := store.Open(ctx, dbPath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening store for workspace %s: %w", workspaceID, err)
		}

		actor := crdt.ActorID(rand.Uint64())
		ws := workspace.New(actor)
		ws.SetOnUpdate(func(update []byte) {
			if err := st.AppendUpdate(ctx, "workspace:"+workspaceID, update, crdt.OriginLocal, time.Now().UnixNano()); err != nil {
				logger.Error("persisting workspace update failed", "workspace_id", workspaceID, "error", err)
			}
		})
		if err := st.LoadDocument(ctx, "workspace:"+workspaceID, ws.Underlying()); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("replaying workspace %s: %w", workspaceID, err)
		}

		bodies, err := bodydoc.NewManager(actor, cfg.Storage.BodyPoolSize, st, func(docName string, update []byte) {
			if err := st.AppendUpdate(ctx, docName, update, crdt.OriginLocal, time.Now().UnixNano()); err != nil {
				logger.Error("persisting body update failed", "workspace_id", workspaceID, "doc", docName, "error", err)
			}
		}, logger)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("creating body manager for workspace %s: %w", workspaceID, err)
		}

		r, err := room.New(workspaceID, ws, bodies, st, func() int64 { return time.Now().UnixMilli() }, logger)
		if err != nil {
			st.Close()
			return nil, nil, err
		}

		return r, st.Close, nil
	}
}

func newWSHandler(hub *room.Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		workspaceID := req.URL.Query().Get("workspace_id")
		clientID := req.URL.Query().Get("client_id")
		userID := req.URL.Query().Get("user_id")
		if workspaceID == "" || clientID == "" {
			http.Error(w, "workspace_id and client_id are required", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			logger.Warn("websocket accept failed", "error", err)
			return
		}

		ctx := req.Context()
		r, err := hub.GetOrCreate(ctx, workspaceID)
		if err != nil {
			logger.Error("room creation failed", "workspace_id", workspaceID, "error", err)
			conn.Close(websocket.StatusInternalError, "room unavailable")
			return
		}

		wsConn := room.NewWSConn(conn)
		if err := r.Join(ctx, clientID, userID, wsConn, false); err != nil {
			logger.Warn("room join failed", "workspace_id", workspaceID, "client_id", clientID, "error", err)
			conn.Close(websocket.StatusInternalError, "join failed")
			return
		}
		defer hub.Leave(context.Background(), workspaceID, clientID)

		for {
			kind, data, err := wsConn.Read(ctx)
			if err != nil {
				return
			}
			switch kind {
			case room.KindBinary:
				if err := r.HandleBinary(ctx, clientID, data); err != nil {
					logger.Warn("handling binary frame failed", "client_id", clientID, "error", err)
				}
			case room.KindText:
				if err := r.HandleControl(ctx, clientID, data); err != nil {
					logger.Warn("handling control message failed", "client_id", clientID, "error", err)
				}
			}
		}
	}
}
