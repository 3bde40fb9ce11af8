package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/aggregate"
	"github.com/dd0wney/cluso-gridsim/pkg/archive"
	"github.com/dd0wney/cluso-gridsim/pkg/engine"
	"github.com/dd0wney/cluso-gridsim/pkg/history"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/metrics"
	"github.com/dd0wney/cluso-gridsim/pkg/params"
	"github.com/dd0wney/cluso-gridsim/pkg/publish"
	"github.com/dd0wney/cluso-gridsim/pkg/stream"
	"github.com/dd0wney/cluso-gridsim/pkg/validation"
	"github.com/google/uuid"
)

const (
	DefaultHeartbeat      = time.Second
	DefaultPersistTimeout = 30 * time.Second
)

// ServiceConfig tunes the Service
type ServiceConfig struct {
	Driver         DriverConfig
	StreamCapacity int
	Heartbeat      time.Duration
	PersistTimeout time.Duration
}

// Deps are the collaborators of a Service. Catalog, Factory and Params are
// required; the rest are optional.
type Deps struct {
	Catalog   engine.Catalog
	Factory   engine.Factory
	Params    *params.Store
	Archive   archive.Store
	History   history.Store
	Publisher publish.Publisher
	Metrics   *metrics.Registry
	Logger    logging.Logger
}

// Service owns the live parameters, the run gate and the update stream
type Service struct {
	params  *params.Store
	catalog engine.Catalog
	driver  *Driver
	channel *stream.Channel
	state   *RunState
	archive archive.Store
	history history.Store
	metrics *metrics.Registry
	logger  logging.Logger
	cfg     ServiceConfig

	mu sync.Mutex
	// closed once the previous run has published its terminal message
	emitted chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(deps Deps, cfg ServiceConfig) *Service {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.StreamCapacity <= 0 {
		cfg.StreamCapacity = stream.DefaultCapacity
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	store := deps.Params
	if store == nil {
		store = params.NewStore(nil, logger)
	}

	var chOpts []stream.Option
	if deps.Metrics != nil {
		dropped := deps.Metrics.StreamDroppedTotal
		chOpts = append(chOpts, stream.WithDropHook(dropped.Inc))
	}
	channel := stream.NewChannel(cfg.StreamCapacity, chOpts...)

	drvOpts := []DriverOption{WithLogger(logger)}
	if deps.Metrics != nil {
		drvOpts = append(drvOpts, WithMetrics(deps.Metrics))
	}
	if deps.Publisher != nil {
		drvOpts = append(drvOpts, WithPublisher(deps.Publisher))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		params:  store,
		catalog: deps.Catalog,
		driver:  NewDriver(deps.Catalog, deps.Factory, channel, cfg.Driver, drvOpts...),
		channel: channel,
		state:   NewRunState(),
		archive: deps.Archive,
		history: deps.History,
		metrics: deps.Metrics,
		logger:  logger.With(logging.Component("simulation")),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Parameters returns a snapshot of the live parameters
func (s *Service) Parameters() *params.Parameters {
	return s.params.Get()
}

// SetParameters merges patch into the live parameters
func (s *Service) SetParameters(patch params.Patch) (*params.Parameters, error) {
	return s.params.Update(patch)
}

// Networks lists the runnable network templates
func (s *Service) Networks() []string {
	return s.catalog.Networks()
}

// StartPatch starts a run with patch applied over the live parameters.
// The live parameters are not modified.
func (s *Service) StartPatch(patch params.Patch) (string, error) {
	if len(patch) == 0 {
		return "", ErrNoParameters
	}
	p, err := s.params.Resolve(patch)
	if err != nil {
		return "", err
	}
	return s.Start(p)
}

// Start launches a run of p in the background and returns its id. It fails
// with ErrAlreadyRunning while another run is active.
func (s *Service) Start(p *params.Parameters) (string, error) {
	if p == nil {
		return "", ErrNoParameters
	}
	if err := validation.Struct(p); err != nil {
		return "", err
	}
	if s.ctx.Err() != nil {
		return "", ErrShutdown
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(s.ctx)
	if !s.state.TryStart(runID, p.Network, cancel) {
		cancel()
		return "", ErrAlreadyRunning
	}

	s.mu.Lock()
	prev := s.emitted
	emitted := make(chan struct{})
	s.emitted = emitted
	s.mu.Unlock()

	// the gate reopens just before the previous terminal message goes out
	if prev != nil {
		<-prev
	}
	s.channel.Reset()

	snapshot := p.Clone()
	started := time.Now()
	s.logger.Info("simulation started",
		logging.RunID(runID),
		logging.Network(snapshot.Network),
		logging.Float64("t_end", snapshot.TEnd),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		var (
			rs  *aggregate.ResultSet
			err error
		)
		func() {
			defer close(emitted)
			rs, err = s.driver.Run(ctx, Run{
				ID:       runID,
				Params:   snapshot,
				Started:  started,
				Observer: s.state,
			})
		}()
		s.persist(runID, snapshot, started, rs, err)
	}()
	return runID, nil
}

func (s *Service) persist(runID string, p *params.Parameters, started time.Time, rs *aggregate.ResultSet, runErr error) {
	if s.archive == nil && s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	logger := s.logger.With(logging.RunID(runID))

	if s.archive != nil && rs != nil {
		begin := time.Now()
		n, err := s.archive.Put(ctx, rs)
		if s.metrics != nil {
			s.metrics.RecordStorageOperation("archive", "put", err, time.Since(begin))
			if err == nil {
				s.metrics.ArchiveBytes.Observe(float64(n))
			}
		}
		if err != nil {
			logger.Error("archive failed", logging.Error(err))
		} else {
			logger.Debug("result set archived", logging.Int("bytes", n))
		}
	}

	if s.history != nil {
		run := history.Run{
			ID:         runID,
			Network:    p.Network,
			Status:     metrics.StatusComplete,
			StartedAt:  started.UTC(),
			FinishedAt: time.Now().UTC(),
			TEnd:       p.TEnd,
		}
		if rs != nil {
			run.Steps = rs.Steps()
			if rs.Eigenvalues != nil {
				run.EMModes = len(rs.Eigenvalues.ElectromechanicalModes)
			}
		}
		if runErr != nil {
			run.Status = metrics.StatusFailed
			if Cancelled(runErr) {
				run.Status = metrics.StatusCancelled
			}
			run.Error = message(runErr)
		}

		begin := time.Now()
		err := s.history.Record(ctx, run)
		if s.metrics != nil {
			s.metrics.RecordStorageOperation("history", "record", err, time.Since(begin))
		}
		if err != nil {
			logger.Error("history record failed", logging.Error(err))
		}
	}
}

// Stop cancels the active run. It reports false when nothing is running.
func (s *Service) Stop() bool {
	ok := s.state.Cancel()
	if ok {
		s.logger.Info("simulation stop requested", logging.RunID(s.state.Info().RunID))
	}
	return ok
}

func (s *Service) Running() bool {
	return s.state.Running()
}

func (s *Service) Info() RunInfo {
	return s.state.Info()
}

// LastResult returns the result set of the last completed run
func (s *Service) LastResult() (*aggregate.ResultSet, bool) {
	return s.state.Results()
}

// Archived fetches a stored result set by run id
func (s *Service) Archived(ctx context.Context, runID string) (*aggregate.ResultSet, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("%s: %w", runID, archive.ErrNotFound)
	}
	return s.archive.Get(ctx, runID)
}

// History is the configured run history, or nil
func (s *Service) History() history.Store {
	return s.history
}

// Archive is the configured result archive, or nil
func (s *Service) Archive() archive.Store {
	return s.archive
}

// Subscribe streams update frames for the current or next run with the
// configured keepalive interval. The channel closes after a terminal
// message or when ctx is done.
func (s *Service) Subscribe(ctx context.Context) <-chan stream.Frame {
	return s.channel.Subscribe(ctx, s.cfg.Heartbeat)
}

// Close cancels any active run and waits for it to finish
func (s *Service) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.channel.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
