package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ensemble/internal/clock"
	"ensemble/internal/event"
	"ensemble/internal/instance"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
	"ensemble/internal/process"
	"ensemble/internal/role"
	"ensemble/internal/sequencer"
)

const (
	envRole       = "CLAUDE_ROLE"
	envInstanceID = "CLAUDE_INSTANCE_ID"
)

type ManagerOptions struct {
	Catalog *role.Catalog
	// Service may be nil, in which case every instance is degraded.
	Service          process.Service
	Store            *instance.Store
	Clock            clock.Clock
	Timings          Timings
	SequencerTimings sequencer.Timings
	LaunchCommand    string
	WorkDir          string
	Logger           *logging.Logger
	Metrics          *metrics.Registry
	Events           *event.Bus[event.InstanceEvent]
}

// Manager is safe for concurrent use. All record state lives in the store;
// the manager only holds the catalog pointer and pending removal timers.
type Manager struct {
	catalog   atomic.Pointer[role.Catalog]
	service   process.Service
	store     *instance.Store
	clock     clock.Clock
	timings   Timings
	sequencer *sequencer.Sequencer
	workDir   string
	logger    *logging.Logger
	metrics   *metrics.Registry
	events    *event.Bus[event.InstanceEvent]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nextID atomic.Uint64

	timersMu sync.Mutex
	timers   map[string]*pendingTimer
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Store == nil {
		opts.Store = instance.NewStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	manager := &Manager{
		service: opts.Service,
		store:   opts.Store,
		clock:   opts.Clock,
		timings: opts.Timings.WithDefaults(),
		sequencer: sequencer.New(sequencer.Options{
			Service:       opts.Service,
			Clock:         opts.Clock,
			Timings:       opts.SequencerTimings,
			LaunchCommand: opts.LaunchCommand,
			Logger:        opts.Logger,
			Metrics:       opts.Metrics,
		}),
		workDir: opts.WorkDir,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		events:  opts.Events,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[string]*pendingTimer),
	}
	manager.catalog.Store(opts.Catalog)
	return manager
}

func (m *Manager) Catalog() *role.Catalog {
	return m.catalog.Load()
}

// SetCatalog swaps the catalog used for future creations. Running instances
// keep the role snapshot they were created with.
func (m *Manager) SetCatalog(catalog *role.Catalog) {
	if catalog == nil {
		return
	}
	m.catalog.Store(catalog)
}

func (m *Manager) Timings() Timings {
	return m.timings
}

func (m *Manager) SequencerTimings() sequencer.Timings {
	return m.sequencer.Timings()
}

// CreateInstance registers a new instance of roleID, allocates its process
// and starts the startup choreography in the background. An unavailable
// process service yields an active but degraded instance.
func (m *Manager) CreateInstance(ctx context.Context, roleID string) (instance.Instance, error) {
	r, ok := m.Catalog().Role(roleID)
	if !ok {
		return instance.Instance{}, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}

	now := m.clock.Now()
	id := roleID + "_" + strconv.FormatInt(now.UnixNano(), 10) + "_" + strconv.FormatUint(m.nextID.Add(1), 10)
	record := instance.New(id, r, now)
	if err := m.store.Insert(record); err != nil {
		return instance.Instance{}, err
	}
	m.publish(event.TypeInstanceCreated, record, nil)
	logger := m.logger.With(map[string]string{"instance.id": id, "role.id": roleID})

	handle, err := m.allocate(ctx, record)
	outcome := "active"
	switch {
	case err == nil:
	case errors.Is(err, process.ErrServiceUnavailable):
		outcome = "degraded"
		logger.Warn("process service unavailable, instance is degraded", map[string]string{"error": err.Error()})
	default:
		m.store.Remove(id)
		m.metrics.IncInstanceCreated(roleID, "failed")
		m.publish(event.TypeInstanceFailed, record, map[string]string{"error": err.Error()})
		m.refreshGauge()
		logger.Error("process allocation failed", map[string]string{"error": err.Error()})
		return instance.Instance{}, fmt.Errorf("%w: role %s: %w", ErrAllocationFailed, roleID, err)
	}

	record, err = m.store.Update(id, func(current instance.Instance) instance.Instance {
		current.Status = instance.StatusActive
		current.Handle = handle
		if handle == "" {
			current.Setup = instance.SetupSkipped
		} else {
			current.Setup = instance.SetupRunning
		}
		return current
	})
	if err != nil {
		// Terminated while the process was being allocated.
		if handle != "" {
			m.killQuietly(handle, logger)
		}
		return record, fmt.Errorf("%w: %s", ErrInstanceNotActive, id)
	}

	m.metrics.IncInstanceCreated(roleID, outcome)
	m.publish(event.TypeInstanceActive, record, nil)
	m.refreshGauge()
	logger.Info("instance active", map[string]string{
		"handle":   string(handle),
		"degraded": strconv.FormatBool(handle == ""),
	})

	if handle != "" {
		m.startSetup(record)
		m.schedule("history:"+id, m.timings.InitialHistoryDelay, func() {
			m.refreshHistory(m.ctx, id)
		})
	}
	return record, nil
}

func (m *Manager) allocate(ctx context.Context, record instance.Instance) (process.Handle, error) {
	if m.service == nil {
		return "", process.ErrServiceUnavailable
	}
	ctx = process.WithEnv(ctx, map[string]string{
		envRole:       record.RoleID,
		envInstanceID: record.ID,
	})
	return m.service.CreatePersistentProcess(ctx, m.workDir)
}

func (m *Manager) startSetup(record instance.Instance) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		alive := func() bool {
			current, ok := m.store.Get(record.ID)
			return ok && current.Status == instance.StatusActive
		}
		result := m.sequencer.Run(m.ctx, sequencer.Target{
			InstanceID: record.ID,
			Handle:     record.Handle,
			Role:       record.Role,
		}, alive, nil)

		state := instance.SetupComplete
		eventType := event.TypeSetupComplete
		if result.Stopped {
			state = instance.SetupStopped
			eventType = event.TypeSetupStopped
		} else if result.Errors == len(result.Steps) {
			state = instance.SetupFailed
		}
		updated, err := m.store.Update(record.ID, func(current instance.Instance) instance.Instance {
			current.Setup = state
			current.SetupErrors = result.Errors
			return current
		})
		if err != nil {
			return
		}
		m.publish(eventType, updated, map[string]string{
			"errors": strconv.Itoa(result.Errors),
			"setup":  string(state),
		})
	}()
}

// CreateTeam creates one instance per role of the template, in order and
// spaced by TeamSpacing. Failed members are logged and skipped. Cancelling
// ctx does not cut the team short; only Close stops it between members.
func (m *Manager) CreateTeam(ctx context.Context, templateID string) ([]instance.Instance, error) {
	team, ok := m.Catalog().Team(templateID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	ctx = context.WithoutCancel(ctx)
	created := make([]instance.Instance, 0, len(team.Roles))
	for i, roleID := range team.Roles {
		if err := m.ctx.Err(); err != nil {
			return created, err
		}
		record, err := m.CreateInstance(ctx, roleID)
		if err != nil {
			m.logger.Warn("team member creation failed", map[string]string{
				"team.id": templateID,
				"role.id": roleID,
				"error":   err.Error(),
			})
		} else {
			created = append(created, record)
		}
		if i < len(team.Roles)-1 {
			if err := m.clock.Sleep(m.ctx, m.timings.TeamSpacing); err != nil {
				return created, err
			}
		}
	}
	m.logger.Info("team created", map[string]string{
		"team.id": templateID,
		"created": strconv.Itoa(len(created)),
		"members": strconv.Itoa(len(team.Roles)),
	})
	return created, nil
}

// TerminateInstance marks the instance terminated, kills its process and
// removes the record after RemovalGrace. Terminating a terminated instance
// is a no-op.
func (m *Manager) TerminateInstance(ctx context.Context, id string) error {
	alreadyTerminated := false
	record, err := m.store.Update(id, func(current instance.Instance) instance.Instance {
		if current.Status == instance.StatusTerminated {
			alreadyTerminated = true
			return current
		}
		current.Status = instance.StatusTerminated
		return current
	})
	if err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return err
	}
	if alreadyTerminated {
		return nil
	}

	logger := m.logger.With(map[string]string{"instance.id": id, "role.id": record.RoleID})
	if record.HasProcess() {
		if err := m.service.Kill(ctx, record.Handle); err != nil {
			logger.Warn("kill process failed", map[string]string{"error": err.Error()})
		}
	}
	m.metrics.IncInstanceTerminated(record.RoleID)
	m.publish(event.TypeInstanceTerminated, record, nil)
	m.refreshGauge()
	logger.Info("instance terminated", nil)

	m.schedule("remove:"+id, m.timings.RemovalGrace, func() {
		removed, ok := m.store.Remove(id)
		if !ok {
			return
		}
		m.publish(event.TypeInstanceRemoved, removed, nil)
		m.refreshGauge()
	})
	return nil
}

// TerminateAll terminates every active instance. Failures do not stop the
// remaining terminations.
func (m *Manager) TerminateAll(ctx context.Context) error {
	active := m.store.Select(func(record instance.Instance) bool {
		return record.Status == instance.StatusActive
	})
	var errs error
	for _, record := range active {
		if err := m.TerminateInstance(ctx, record.ID); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (m *Manager) List() []instance.Instance {
	return m.store.List()
}

func (m *Manager) Get(id string) (instance.Instance, error) {
	record, ok := m.store.Get(id)
	if !ok {
		return instance.Instance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return record, nil
}

// Counts returns the number of records per status.
func (m *Manager) Counts() map[instance.Status]int {
	return m.store.CountByStatus()
}

// Focus brings the backing process of id to the foreground.
func (m *Manager) Focus(ctx context.Context, id string) error {
	record, err := m.interactive(id)
	if err != nil {
		return err
	}
	return m.service.Focus(ctx, record.Handle)
}

// SendMessage types text into the instance and submits it.
func (m *Manager) SendMessage(ctx context.Context, id, text string) error {
	record, err := m.interactive(id)
	if err != nil {
		return err
	}
	return m.sequencer.SendInteractiveMessage(ctx, record.Handle, text)
}

// SendConfirmation answers a confirmation prompt of the instance with key.
func (m *Manager) SendConfirmation(ctx context.Context, id, key string) error {
	record, err := m.interactive(id)
	if err != nil {
		return err
	}
	return m.sequencer.SendConfirmationKey(ctx, record.Handle, strings.TrimSpace(key))
}

func (m *Manager) interactive(id string) (instance.Instance, error) {
	record, err := m.Get(id)
	if err != nil {
		return record, err
	}
	if record.Status != instance.StatusActive {
		return record, fmt.Errorf("%w: %s is %s", ErrInstanceNotActive, id, record.Status)
	}
	if !record.HasProcess() {
		return record, fmt.Errorf("%w: %s", ErrNoProcess, id)
	}
	return record, nil
}

// Wait blocks until every running startup choreography has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops background work: running choreographies observe cancellation
// and pending timers are dropped.
func (m *Manager) Close() {
	m.cancel()
	m.timersMu.Lock()
	for key, entry := range m.timers {
		entry.cancel()
		delete(m.timers, key)
	}
	m.timersMu.Unlock()
	m.wg.Wait()
}

// schedule runs fn after delay unless the manager is closed first. A later
// schedule with the same key replaces the pending one.
func (m *Manager) schedule(key string, delay time.Duration, fn func()) {
	entry := &pendingTimer{}
	m.timersMu.Lock()
	if previous, ok := m.timers[key]; ok {
		previous.cancel()
	}
	m.timers[key] = entry
	m.timersMu.Unlock()

	timer := m.clock.AfterFunc(delay, func() {
		m.timersMu.Lock()
		canceled := entry.canceled
		if m.timers[key] == entry {
			delete(m.timers, key)
		}
		m.timersMu.Unlock()
		if canceled || m.ctx.Err() != nil {
			return
		}
		fn()
	})

	m.timersMu.Lock()
	entry.timer = timer
	if entry.canceled {
		timer.Stop()
	}
	m.timersMu.Unlock()
}

// pendingTimer is guarded by Manager.timersMu. timer is nil until AfterFunc
// has returned.
type pendingTimer struct {
	timer    clock.Timer
	canceled bool
}

func (p *pendingTimer) cancel() {
	p.canceled = true
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (m *Manager) pendingTimers() int {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	return len(m.timers)
}

func (m *Manager) publish(eventType string, record instance.Instance, data map[string]string) {
	if m.events == nil {
		return
	}
	evt := event.NewInstanceEvent(eventType, record.ID, record.RoleID, string(record.Status), m.clock.Now())
	evt.Data = data
	m.events.Publish(evt)
}

func (m *Manager) refreshGauge() {
	if m.metrics == nil {
		return
	}
	counts := m.store.CountByStatus()
	byName := make(map[string]int, len(counts))
	for status, count := range counts {
		byName[string(status)] = count
	}
	m.metrics.SetInstanceCounts(byName,
		string(instance.StatusStarting),
		string(instance.StatusActive),
		string(instance.StatusTerminated),
	)
}

func (m *Manager) killQuietly(handle process.Handle, logger *logging.Logger) {
	if err := m.service.Kill(m.ctx, handle); err != nil {
		logger.Warn("kill orphaned process failed", map[string]string{"error": err.Error()})
	}
}
