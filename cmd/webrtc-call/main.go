// Command webrtc-call is a headless call endpoint. It connects to a
// webrtc-signald store, then either creates a room and waits for a peer
// (-create) or joins an existing room (-join). Media is a synthetic silence
// source; the binary exists to drive and soak the signaling path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"

	"github.com/Siddhram/webrtc/internal/call"
	"github.com/Siddhram/webrtc/internal/config"
	"github.com/Siddhram/webrtc/internal/media"
	"github.com/Siddhram/webrtc/internal/metrics"
	"github.com/Siddhram/webrtc/internal/peer"
	"github.com/Siddhram/webrtc/internal/storews"
)

func main() {
	fs := flag.NewFlagSet("webrtc-call", flag.ContinueOnError)
	create := fs.Bool("create", false, "create a room and wait for a peer to join")
	join := fs.String("join", "", "join the room with the given ID")
	storeURL := fs.String("store-url", "", "signaling store WebSocket URL (overrides CALL_STORE_URL)")
	muted := fs.Bool("muted", false, "start with local audio muted")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if *create == (*join != "") {
		fmt.Fprintln(os.Stderr, "exactly one of -create or -join <room-id> is required")
		os.Exit(2)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *storeURL != "" {
		cfg.StoreURL = *storeURL
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storews.Dial(ctx, cfg.StoreURL, logger)
	if err != nil {
		logger.Error("failed to reach signaling store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	mgr := &call.Manager{
		Store:      store,
		Media:      media.SilenceSource{},
		API:        peer.NewAPI(),
		ICEServers: cfg.ICEServers,
		Log:        logger,
		Metrics:    metrics.New(),
		OnStatus: func(s call.Status) {
			if s != call.StatusIdle {
				logger.Info("call status", "status", string(s))
			}
		},
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			logger.Info("receiving remote media", "kind", track.Kind().String())
		},
	}

	var session *call.Session
	if *create {
		session, err = mgr.Create(ctx)
	} else {
		session, err = mgr.Join(ctx, *join)
	}
	if err != nil {
		logger.Error("call failed to start", "err", err)
		os.Exit(1)
	}
	defer session.Close()

	session.SetMuted(*muted)

	// The room ID is the join token the other side needs; print it on its
	// own line for easy copy or scripting.
	if *create {
		fmt.Println(session.RoomID())
	}
	logger.Info("call running", "room_id", session.RoomID(), "role", string(session.Role()))

	<-ctx.Done()
	logger.Info("shutting down")
}
