// Package dashboard assembles one analyst session: the scope provider, the
// alert store and its derived views, the selection, the assistant
// conversation and the live feed, wired so that a scope change resets
// everything that depends on it.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/alertgen"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/alertstore"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/assistant"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/audit"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/config"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/conversation"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/feed"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/multitenancy"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/notify"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/resilience"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/selection"
)

// Breaker names registered by a session.
const (
	BreakerFeed      = "alert-feed"
	BreakerAssistant = "assistant"
)

const (
	defaultIsolationDelay = 2 * time.Second
	notificationBuffer    = 20
)

var (
	// ErrUnknownTenant is returned when a tenant ID is not in the catalog.
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrUnknownProject is returned when a project ID is not in the catalog
	// or does not belong to the current tenant.
	ErrUnknownProject = errors.New("unknown project")
	// ErrAlertNotFound is returned for an alert ID the store does not hold.
	ErrAlertNotFound = errors.New("alert not found")
)

// Options configures a Session.
type Options struct {
	Config *config.Config
	// Catalog defaults to the demo tenants.
	Catalog *multitenancy.Catalog
	// Generator produces seed alerts. Defaults to a randomly seeded one.
	Generator *alertgen.Generator
	// Notifiers receive high-severity notifications in addition to the log
	// and the session's notification buffer.
	Notifiers []alertstore.Notifier
	Logger    *logger.Logger
	// Metrics, when set, instruments the feed, the assistant and
	// notifications.
	Metrics *metrics.Metrics
	// Now is the reference clock for time-range filters.
	Now func() time.Time
	// IsolationDelay simulates the time a workload isolation takes. Zero
	// means two seconds; a negative value isolates immediately.
	IsolationDelay time.Duration
}

// Session is one analyst's dashboard.
type Session struct {
	ID string

	Scope         *multitenancy.Provider
	Store         *alertstore.Store
	Selection     *selection.Tracker
	Conversation  *conversation.State
	Feed          *feed.Consumer
	Assistant     *assistant.Client
	Notifications *notify.Buffer
	Breakers      *resilience.Registry
	Audit         *audit.Trail

	cfg            *config.Config
	catalog        *multitenancy.Catalog
	generator      *alertgen.Generator
	isolationDelay time.Duration
	loc            *time.Location
	log            *logger.Logger

	mu        sync.Mutex
	isolating map[string]struct{}
}

// NewSession builds and wires a session. Nothing runs until Start.
func NewSession(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("dashboard: config is required")
	}
	cfg := opts.Config

	loc, err := cfg.Session.Location()
	if err != nil {
		return nil, err
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog, err = multitenancy.NewCatalog(multitenancy.DemoTenants())
		if err != nil {
			return nil, fmt.Errorf("failed to build tenant catalog: %w", err)
		}
	}
	generator := opts.Generator
	if generator == nil {
		generator = alertgen.New()
	}
	isolationDelay := opts.IsolationDelay
	if isolationDelay < 0 {
		isolationDelay = 0
	} else if isolationDelay == 0 {
		isolationDelay = defaultIsolationDelay
	}

	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithSession(id)

	buffer := notify.NewBuffer(notificationBuffer)
	sinks := notify.Multi{buffer, notify.NewLogNotifier(log)}
	if opts.Metrics != nil {
		sinks = append(sinks, notify.NewMetricsNotifier(opts.Metrics))
	}
	sinks = append(sinks, opts.Notifiers...)

	provider := multitenancy.NewProvider(catalog, log)
	store := alertstore.New(provider, alertstore.Options{
		Notifier: sinks,
		Logger:   log,
		Now:      opts.Now,
		Location: loc,
	})

	breakers := resilience.NewRegistry(resilience.LoggingConfig("default", 0, 0, log))
	feedBreaker := breakers.Register(resilience.LoggingConfig(BreakerFeed,
		cfg.Feed.BreakerMaxFailures, cfg.Feed.BreakerTimeout, log))
	assistantBreaker := breakers.Register(resilience.LoggingConfig(BreakerAssistant,
		cfg.Assistant.BreakerMaxFailures, cfg.Assistant.BreakerTimeout, log))

	client := assistant.NewClient(cfg.Assistant, log).
		WithBreaker(assistantBreaker).
		WithMetrics(opts.Metrics)
	consumer := feed.NewConsumer(cfg.Feed, store, log).
		WithBreaker(feedBreaker).
		WithMetrics(opts.Metrics)
	tracker := selection.NewTracker()
	conv := conversation.New(client, log)

	// Selection and conversation reset before the feed restarts, so a fresh
	// alert for the new tenant never lands in a stale view.
	provider.Subscribe(tracker)
	provider.Subscribe(conv)
	provider.Subscribe(consumer)

	return &Session{
		ID:             id,
		Scope:          provider,
		Store:          store,
		Selection:      tracker,
		Conversation:   conv,
		Feed:           consumer,
		Assistant:      client,
		Notifications:  buffer,
		Breakers:       breakers,
		Audit:          audit.NewTrail(id, audit.DefaultCapacity, log),
		cfg:            cfg,
		catalog:        catalog,
		generator:      generator,
		isolationDelay: isolationDelay,
		loc:            loc,
		log:            log.WithComponent("dashboard"),
		isolating:      make(map[string]struct{}),
	}, nil
}

// Start seeds the alert history if configured and selects the initial scope:
// the configured tenant, or the first catalog tenant. Selecting the tenant
// starts the feed.
func (s *Session) Start() error {
	if s.cfg.Session.SeedAlerts {
		n := s.Store.Load(s.generator.Seed(s.catalog.Tenants()))
		s.log.Info("seeded alert history", "count", n)
	}

	tenantID := s.cfg.Session.TenantID
	if tenantID == "" {
		tenants := s.catalog.Tenants()
		if len(tenants) == 0 {
			return fmt.Errorf("%w: catalog is empty", ErrUnknownTenant)
		}
		tenantID = tenants[0].ID
	}
	if err := s.SelectTenant(tenantID); err != nil {
		return err
	}

	if projectID := s.cfg.Session.ProjectID; projectID != "" {
		if err := s.SelectProject(projectID); err != nil {
			return err
		}
	}

	scope := s.Scope.Current()
	s.log.Info("session started", "tenant_id", scope.TenantID(), "project_id", scope.ProjectID())
	return nil
}

// Stop halts the feed.
func (s *Session) Stop() {
	s.Feed.Stop()
	s.log.Info("session stopped")
}

// SelectTenant switches to the tenant with the given ID.
func (s *Session) SelectTenant(id string) error {
	var err error
	if !s.Scope.SelectTenantByID(id) {
		err = fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	s.Audit.Record(context.Background(), audit.Entry{
		TenantID:       id,
		Action:         audit.ActionSelectTenant,
		ActionCategory: audit.ActionCategoryUpdate,
		ResourceType:   "tenant",
		ResourceID:     id,
	}, time.Time{}, err)
	return err
}

// SelectProject narrows the scope to a project of the current tenant. An
// empty ID clears the project.
func (s *Session) SelectProject(id string) error {
	var err error
	if id == "" {
		s.Scope.SetCurrentProject(nil)
	} else if !s.Scope.SelectProjectByID(id) {
		err = fmt.Errorf("%w: %s", ErrUnknownProject, id)
	}
	s.Audit.Record(context.Background(), audit.Entry{
		TenantID:       s.Scope.Current().TenantID(),
		Action:         audit.ActionSelectProject,
		ActionCategory: audit.ActionCategoryUpdate,
		ResourceType:   "project",
		ResourceID:     id,
	}, time.Time{}, err)
	return err
}

// ToggleSelection selects or deselects an alert and reports whether it is
// selected afterwards.
func (s *Session) ToggleSelection(alertID string) (bool, error) {
	alert, ok := s.Store.Alert(alertID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	return s.Selection.Toggle(alert), nil
}

// SelectedAlerts returns the selected alerts, newest first.
func (s *Session) SelectedAlerts() []models.Alert {
	return s.Selection.SelectedAlerts(s.Store.Alerts())
}

// Ask sends query to the assistant together with the selected alerts and
// blocks until the answer has streamed into the conversation.
func (s *Session) Ask(ctx context.Context, query string) error {
	started := time.Now()
	scope := s.Scope.Current()
	ctx = logger.SetContextValue(ctx, logger.SessionIDKey, s.ID)
	ctx = logger.SetContextValue(ctx, logger.TenantIDKey, scope.TenantID())
	ctx = logger.SetContextValue(ctx, logger.ProjectIDKey, scope.ProjectID())

	selected := s.SelectedAlerts()
	err := s.Conversation.Submit(ctx, query, selected)
	if err != nil {
		s.log.WarnContext(ctx, "assistant question failed", "error", err, "selected_alerts", len(selected))
	}

	s.Audit.Record(ctx, audit.Entry{
		TenantID:       scope.TenantID(),
		Action:         audit.ActionAsk,
		ActionCategory: audit.ActionCategoryExecute,
		ResourceType:   "conversation",
		Context:        map[string]interface{}{"selected_alerts": len(selected)},
	}, started, err)
	return err
}
