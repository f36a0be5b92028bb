// Package session owns the inference lifecycle: configuration, the startup
// readiness probe, and the single active task slot through which questions
// are submitted.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldvision/region-analyzer/internal/config"
	"github.com/fieldvision/region-analyzer/internal/logger"
	"github.com/fieldvision/region-analyzer/pkg/inference"
	"github.com/fieldvision/region-analyzer/pkg/ollama"
	"github.com/fieldvision/region-analyzer/pkg/payload"
	"github.com/fieldvision/region-analyzer/pkg/types"
)

// ErrNotReady rejects submissions before a successful readiness probe.
var ErrNotReady = errors.New("model is not ready")

// probeDelay postpones the startup probe so construction never blocks on
// the network.
const probeDelay = time.Second

// Session is the single entry point collaborators use to ask questions.
// At most one task is active at a time: a new submission supersedes and
// waits out the active one.
type Session struct {
	cfg     config.ModelConfig
	builder *payload.Builder
	backend Backend

	mu      sync.Mutex
	current *Task

	ready      atomic.Bool
	probeTimer *time.Timer
	log        *logrus.Entry
}

// Status is the identifying information a session reports about itself.
type Status struct {
	Ready     bool
	ModelType string
	ModelName string
}

// New creates a session for the given configuration, selecting the backend
// from the model type and scheduling a one-time readiness probe after a
// short delay. Probe failure is reported, not fatal: the session stays
// constructible and the caller may probe again.
func New(cfg config.ModelConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}

	var backend Backend
	switch cfg.ModelType {
	case "local":
		client, err := ollama.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create local backend: %w", err)
		}
		backend = client
	default:
		backend = inference.NewClient(cfg)
	}

	return NewWithBackend(cfg, backend), nil
}

// NewWithBackend creates a session around an explicit backend.
func NewWithBackend(cfg config.ModelConfig, backend Backend) *Session {
	s := &Session{
		cfg:     cfg,
		builder: payload.New(),
		backend: backend,
		log: logger.WithFields(logrus.Fields{
			"component":  "session",
			"model_type": cfg.ModelType,
			"model_name": cfg.ModelName,
		}),
	}
	s.probeTimer = time.AfterFunc(probeDelay, func() {
		if err := s.Probe(context.Background()); err != nil {
			s.log.WithError(err).Error("readiness probe failed")
		}
	})
	return s
}

// Probe runs the readiness check now. On success the session accepts
// submissions; failures leave it retryable.
func (s *Session) Probe(ctx context.Context) error {
	if err := s.backend.Probe(ctx); err != nil {
		return err
	}
	s.ready.Store(true)
	s.log.Info("model ready")
	return nil
}

// Submit starts a new inference task for the question. Any active task is
// cancelled and waited out first, so no two tasks ever run concurrently
// against the session; the superseded task delivers no terminal outcome.
// Progress and the outcome arrive through cb on the task's goroutine.
func (s *Session) Submit(question string, img image.Image, regions []types.Region, cb Callbacks) (*Task, error) {
	if !s.ready.Load() {
		return nil, ErrNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.Cancel()
		s.current.Wait()
	}

	task := newTask(s.builder, s.backend, s.modelParams(), types.InferenceRequest{
		Question: question,
		Image:    img,
		Regions:  regions,
	}, cb, s.log)
	s.current = task

	s.log.WithField("regions", len(regions)).Info("inference started")
	go task.run()
	return task, nil
}

// Cancel requests cancellation of the active task, if any, and waits for it
// to stop.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	s.current.Cancel()
	s.current.Wait()
	s.current = nil
}

// Status reports readiness and basic identifying info.
func (s *Session) Status() Status {
	return Status{
		Ready:     s.ready.Load(),
		ModelType: s.cfg.ModelType,
		ModelName: s.cfg.ModelName,
	}
}

// Close stops the pending probe and cancels any active task.
func (s *Session) Close() {
	if s.probeTimer != nil {
		s.probeTimer.Stop()
	}
	s.Cancel()
	s.ready.Store(false)
}

func (s *Session) modelParams() payload.ModelParams {
	return payload.ModelParams{
		Model:       s.cfg.ModelName,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
}
