package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/media"
	"github.com/Wyydra/ya-sfu/internal/core/port"
)

// RouterService manages the routers of one worker and publishes their
// lifecycle events.
type RouterService struct {
	worker      *media.Worker
	repo        port.RouterRepository
	gateway     port.EventGateway
	mediaCodecs json.RawMessage
}

func NewRouterService(worker *media.Worker, repo port.RouterRepository, gateway port.EventGateway, mediaCodecs json.RawMessage) *RouterService {
	s := &RouterService{
		worker:      worker,
		repo:        repo,
		gateway:     gateway,
		mediaCodecs: mediaCodecs,
	}

	pid := worker.PID()
	worker.OnDied(func(err error) {
		log.Error().Err(err).Int("worker_pid", pid).Msg("Worker died")
		s.publish(domain.Event{Type: domain.EventWorkerDied, Data: map[string]any{"pid": pid, "error": err.Error()}})
	})
	worker.OnClose(func() {
		if worker.Died() != nil {
			return
		}
		s.publish(domain.Event{Type: domain.EventWorkerClosed, Data: map[string]any{"pid": pid}})
	})
	return s
}

func (s *RouterService) CreateRouter(ctx context.Context, appData domain.AppData) (*media.Router, error) {
	router, err := s.worker.CreateRouter(ctx, media.RouterOptions{
		MediaCodecs: s.mediaCodecs,
		AppData:     appData,
	})
	if err != nil {
		log.Err(err).Msg("Failed to create router")
		return nil, err
	}

	id := router.ID()
	log.Info().Str("router_id", id.String()).Msg("Router created")
	s.publish(domain.Event{Type: domain.EventRouterCreated, EntityID: id.String()})

	var once sync.Once
	closed := func() { once.Do(func() { s.routerClosed(id) }) }
	router.OnClose(closed)

	if err := s.repo.Save(ctx, router); err != nil {
		router.Close()
		return nil, err
	}

	// The router may have closed before its handler was registered, or
	// between the handler running and Save.
	if router.Closed() {
		s.forget(id)
		closed()
		return nil, fmt.Errorf("create router: %w", domain.ErrEntityClosed)
	}
	return router, nil
}

func (s *RouterService) GetRouter(ctx context.Context, id domain.RouterID) (port.Router, error) {
	return s.repo.Get(ctx, id)
}

func (s *RouterService) ListRouters(ctx context.Context) ([]port.Router, error) {
	return s.repo.List(ctx)
}

func (s *RouterService) DumpRouter(ctx context.Context, id domain.RouterID) (json.RawMessage, error) {
	router, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return router.Dump(ctx)
}

// CloseRouter closes the router. It leaves the repository once closed.
func (s *RouterService) CloseRouter(ctx context.Context, id domain.RouterID) error {
	router, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	router.Close()
	return nil
}

func (s *RouterService) DumpWorker(ctx context.Context) (json.RawMessage, error) {
	return s.worker.Dump(ctx)
}

func (s *RouterService) routerClosed(id domain.RouterID) {
	s.forget(id)
	log.Info().Str("router_id", id.String()).Msg("Router closed")
	s.publish(domain.Event{Type: domain.EventRouterClosed, EntityID: id.String()})
}

func (s *RouterService) forget(id domain.RouterID) {
	err := s.repo.Delete(context.Background(), id)
	if err != nil && !errors.Is(err, domain.ErrRouterNotFound) {
		log.Error().Err(err).Str("router_id", id.String()).Msg("Failed to remove router")
	}
}

func (s *RouterService) publish(event domain.Event) {
	if err := s.gateway.PublishEvent(context.Background(), event); err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Msg("Failed to publish event")
	}
}
