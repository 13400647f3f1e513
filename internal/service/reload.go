package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edirooss/indexpool-server/internal/pool"
	"github.com/edirooss/indexpool-server/internal/repo"
	"go.uber.org/zap"
)

// ReloadChannel is the Redis pub/sub channel external index builders publish
// refresh commands on.
const ReloadChannel = "idxpool:refresh"

// ReloadService listens for refresh commands published on Redis and applies
// them to the pool, so an index builder finishing a snapshot can nudge a
// running server without holding an HTTP credential.
type ReloadService struct {
	log    *zap.Logger
	client *repo.RedisClient
	pool   *pool.Pool
	srcsvc *SourceService
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReloadService creates the listener. Call Start to begin consuming.
func NewReloadService(log *zap.Logger, client *repo.RedisClient, p *pool.Pool, srcsvc *SourceService) *ReloadService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReloadService{
		log:    log.Named("reload"),
		client: client,
		pool:   p,
		srcsvc: srcsvc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins listening in the background.
func (s *ReloadService) Start() {
	go s.listen()
	s.log.Info("reload listener started", zap.String("channel", ReloadChannel))
}

// Stop terminates the listener.
func (s *ReloadService) Stop() {
	s.cancel()
	s.log.Info("reload listener stopped")
}

func (s *ReloadService) listen() {
	pubsub := s.client.Subscribe(s.ctx, ReloadChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				// Channel closed, stop listening
				return
			}
			s.handleMessage(msg.Payload)
		}
	}
}

// ReloadMessage is the wire structure on the reload channel. Publishers
// (see cmd/pool-refresh) marshal this shape.
type ReloadMessage struct {
	Action string `json:"action"`         // "refresh" | "refresh_all" | "resync"
	Path   string `json:"path,omitempty"` // refresh target (index directory)
}

func (s *ReloadService) handleMessage(payload string) {
	var msg ReloadMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		s.log.Error("parse reload message failed", zap.Error(err))
		return
	}

	switch msg.Action {
	case "refresh":
		if msg.Path == "" {
			s.log.Warn("refresh message without path")
			return
		}
		if err := s.pool.ForceRefresh(msg.Path); err != nil {
			s.log.Warn("refresh nudge failed", zap.String("path", msg.Path), zap.Error(err))
			return
		}
		s.log.Info("refresh nudged", zap.String("path", msg.Path))

	case "refresh_all":
		n := s.pool.ForceRefreshAll()
		s.log.Info("refresh nudged for all sources", zap.Int("sources", n))

	case "resync":
		// Converge pool to catalog; bounded so a stuck open cannot wedge the listener.
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		if err := s.srcsvc.Reconcile(ctx); err != nil {
			s.log.Warn("resync failed", zap.Error(err))
		} else {
			s.log.Info("resync applied")
		}
		cancel()

	default:
		s.log.Debug("ignoring unknown reload action", zap.String("action", msg.Action))
	}
}
