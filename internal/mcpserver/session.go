package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"automodeler/internal/automodel"
	"automodeler/internal/cv"
	"automodeler/internal/difmap"
	"automodeler/internal/logging"
)

// SessionState tracks the lifecycle of a modeling run.
type SessionState string

const (
	StateRunning SessionState = "running"
	StateDone    SessionState = "done"
	StateError   SessionState = "error"
)

// Session owns one background modeling run.
type Session struct {
	ID      string
	Source  string
	Modeler *automodel.Modeler

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	best string
	err  error
}

// NewSession builds the backend and modeler for cfg and spawns the run
// goroutine.
func NewSession(cfg automodel.Config) (*Session, error) {
	if cfg.ScriptPath == "" {
		return nil, fmt.Errorf("backend script path is required")
	}
	runner := difmap.NewRunner(cfg.ScriptPath, logging.New("difmap"))

	opts := []automodel.Option{automodel.WithLogger(logging.New("automodel"))}
	if cfg.ComputeCV {
		opts = append(opts, automodel.WithCVScorer(&cv.Scorer{
			Backend:       runner,
			K:             cv.DefaultFolds,
			NRep:          cv.DefaultReps,
			FitIterations: cfg.FitIterations,
			WorkDir:       cfg.OutDir,
			Log:           logging.New("cv"),
		}))
	}

	m, err := automodel.New(cfg, runner, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      fmt.Sprintf("run-%d", time.Now().UnixNano()),
		Source:  automodel.ParseSourceName(cfg.DataPath).Prefix(),
		Modeler: m,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		best, err := m.Run(ctx)
		s.mu.Lock()
		s.best, s.err = best, err
		s.mu.Unlock()
	}()
	return s, nil
}

// Done is closed when the run goroutine finishes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cancel aborts the run.
func (s *Session) Cancel() { s.cancel() }

// Err returns the run error, if any, once the session is done.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Best returns the accepted model path once the session is done.
func (s *Session) Best() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.best
}

// State reports the session lifecycle phase.
func (s *Session) State() SessionState {
	select {
	case <-s.done:
	default:
		return StateRunning
	}
	if s.Err() != nil {
		return StateError
	}
	return StateDone
}
