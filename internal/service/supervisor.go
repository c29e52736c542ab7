package service

import (
	"context"
	"sync"
	"syscall"
	"time"

	perr "guardian/internal/errors"
	"guardian/internal/logger"
	"guardian/internal/metrics"
)

// ServiceState состояние сервиса инференса
type ServiceState int

const (
	StateNotStarted ServiceState = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s ServiceState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ModelState наличие модели в сервисе
type ModelState int

const (
	ModelMissing ModelState = iota
	ModelPulling
	ModelReady
)

func (s ModelState) String() string {
	switch s {
	case ModelMissing:
		return "missing"
	case ModelPulling:
		return "pulling"
	case ModelReady:
		return "ready"
	}
	return "unknown"
}

// ServiceClient проверки сервиса; реализуется ai.OllamaClient
type ServiceClient interface {
	Health(ctx context.Context) error
	HasModel(ctx context.Context, name string) (bool, error)
}

// SupervisorConfig параметры процесса сервиса
type SupervisorConfig struct {
	Binary         string
	Model          string
	StartupTimeout time.Duration
	PollInterval   time.Duration
	ShutdownGrace  time.Duration
}

// killWait сколько ждать выхода процесса после принудительного завершения
const killWait = 5 * time.Second

// Supervisor единственный владелец процесса сервиса инференса в этом процессе.
// EnsureReady и Shutdown сериализуются: два параллельных вызова не запустят
// второй процесс.
type Supervisor struct {
	cfg      SupervisorConfig
	client   ServiceClient
	launcher Launcher
	metrics  *metrics.Metrics

	opMu sync.Mutex

	mu    sync.RWMutex
	state ServiceState
	model ModelState
	proc  Process
}

// NewSupervisor создаёт супервизор; launcher по умолчанию запускает реальные процессы
func NewSupervisor(cfg SupervisorConfig, client ServiceClient, launcher Launcher, m *metrics.Metrics) *Supervisor {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &Supervisor{cfg: cfg, client: client, launcher: launcher, metrics: m}
}

// State текущее состояние сервиса
func (s *Supervisor) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ModelState текущее состояние модели
func (s *Supervisor) ModelState() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Owned запущен ли сервис этим супервизором
func (s *Supervisor) Owned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proc != nil
}

func (s *Supervisor) setState(st ServiceState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.metrics.SetSupervisorState(int(st))
}

func (s *Supervisor) setModel(m ModelState) {
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
}

// EnsureReady гарантирует, что сервис отвечает и модель установлена.
// onProgress получает строки вывода операции скачивания модели.
func (s *Supervisor) EnsureReady(ctx context.Context, onProgress func(line string)) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	log := logger.Named("supervisor")

	err := s.client.Health(ctx)
	switch {
	case err == nil:
		if s.State() != StateRunning {
			log.Info().Bool("owned", s.Owned()).Msg("inference service already running")
		}
		s.setState(StateRunning)
	case s.aliveProcess() != nil:
		// свой процесс жив, но не ответил: второй не запускаем
		log.Warn().Err(err).Msg("owned inference service not responding, waiting")
		if err := s.waitHealthy(ctx, s.aliveProcess()); err != nil {
			if perr.IsCode(err, perr.ErrorCodeStartupTimeout) {
				return perr.Wrap(err, perr.ErrorCodeUnreachable, "owned inference service not responding")
			}
			return err
		}
	default:
		log.Info().Err(err).Str("binary", s.cfg.Binary).Msg("inference service not reachable, launching")
		if err := s.launch(ctx); err != nil {
			return err
		}
	}

	return s.ensureModel(ctx, onProgress)
}

// aliveProcess свой процесс, если он ещё не завершился; завершившийся забывается
func (s *Supervisor) aliveProcess() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	select {
	case <-s.proc.Done():
		s.proc = nil
		return nil
	default:
		return s.proc
	}
}

func (s *Supervisor) launch(ctx context.Context) error {
	log := logger.Named("supervisor")
	s.setState(StateStarting)

	proc, err := s.launcher.Start(ctx, ProcessSpec{Path: s.cfg.Binary, Args: []string{"serve"}})
	if err != nil {
		s.setState(StateStopped)
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "launch %s", s.cfg.Binary)
	}
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	log.Info().Int("pid", proc.Pid()).Msg("inference service process started")

	if err := s.waitHealthy(ctx, proc); err != nil {
		s.stopLocked(context.Background())
		return err
	}
	return nil
}

// waitHealthy опрашивает сервис до ответа, выхода процесса или StartupTimeout
func (s *Supervisor) waitHealthy(ctx context.Context, proc Process) error {
	log := logger.Named("supervisor")

	deadline := time.NewTimer(s.cfg.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.client.Health(ctx); err == nil {
				s.setState(StateRunning)
				log.Info().Msg("inference service is healthy")
				return nil
			}
		case <-proc.Done():
			log.Error().Int("pid", proc.Pid()).Msg("inference service exited during startup")
			return perr.Newf(perr.ErrorCodeUnavailable, "inference service process %d exited before becoming healthy", proc.Pid())
		case <-deadline.C:
			log.Error().Dur("timeout", s.cfg.StartupTimeout).Msg("inference service did not become healthy")
			return perr.Newf(perr.ErrorCodeStartupTimeout, "inference service not healthy after %s", s.cfg.StartupTimeout)
		case <-ctx.Done():
			return perr.Wrap(ctx.Err(), perr.ErrorCodeStartupTimeout, "startup interrupted")
		}
	}
}

func (s *Supervisor) ensureModel(ctx context.Context, onProgress func(string)) error {
	log := logger.Named("supervisor")
	model := s.cfg.Model

	ok, err := s.client.HasModel(ctx, model)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnreachable, "query installed models")
	}
	if ok {
		s.setModel(ModelReady)
		return nil
	}

	s.setModel(ModelPulling)
	log.Info().Str("model", model).Msg("pulling model")

	lines := 0
	err = s.launcher.Run(ctx, ProcessSpec{Path: s.cfg.Binary, Args: []string{"pull", model}}, func(line string) {
		lines++
		if onProgress != nil {
			onProgress(line)
		}
	})
	if err != nil {
		s.setModel(ModelMissing)
		return perr.Wrapf(err, perr.ErrorCodeModelProvisionFailed, "pull %s", model)
	}

	if ok, err := s.client.HasModel(ctx, model); err != nil || !ok {
		s.setModel(ModelMissing)
		return perr.Newf(perr.ErrorCodeModelProvisionFailed, "model %s not listed after pull", model)
	}
	s.setModel(ModelReady)
	log.Info().Str("model", model).Int("progress_lines", lines).Msg("model ready")
	return nil
}

// Shutdown останавливает только процесс, запущенный этим супервизором:
// сначала мягкий сигнал, после паузы принудительное завершение.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Supervisor) stopLocked(ctx context.Context) error {
	log := logger.Named("supervisor")

	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()
	if proc == nil {
		log.Debug().Msg("no owned inference process to stop")
		return nil
	}

	s.setState(StateStopping)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Debug().Err(err).Msg("graceful signal unsupported, killing")
		_ = proc.Kill()
	}

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	defer grace.Stop()

	forced := false
	select {
	case <-proc.Done():
	case <-grace.C:
		forced = true
	case <-ctx.Done():
		forced = true
	}

	var err error
	if forced {
		log.Warn().Int("pid", proc.Pid()).Msg("inference service did not exit in time, killing")
		_ = proc.Kill()
		select {
		case <-proc.Done():
		case <-time.After(killWait):
			err = perr.Newf(perr.ErrorCodeUnavailable, "process %d did not exit after kill", proc.Pid())
		}
	}

	s.mu.Lock()
	s.proc = nil
	s.model = ModelMissing
	s.mu.Unlock()
	s.setState(StateStopped)
	log.Info().Bool("forced", forced).Msg("inference service stopped")
	return err
}
