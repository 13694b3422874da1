package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/counselling-scheduler/internal/application"
)

// ServiceFactory builds application services on a shared deterministic
// clock and identifier sequence.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory starting at ReferenceTime.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("")
	}
	return factory
}

func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// SessionServiceDeps captures dependencies for constructing a session service.
// Nil IDGenerator and Now fall back to the factory.
type SessionServiceDeps struct {
	Sessions    application.SessionStore
	Counsellors application.CounsellorDirectory
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
	Options     []application.SessionServiceOption
}

func (f *ServiceFactory) NewSessionService(deps SessionServiceDeps) *application.SessionService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	opts := append([]application.SessionServiceOption{application.WithLocation(time.UTC)}, deps.Options...)
	return application.NewSessionServiceWithLogger(
		deps.Sessions,
		deps.Counsellors,
		idGen,
		now,
		deps.Logger,
		opts...,
	)
}

// NewCounsellorService builds a counsellor service. writer may be nil for read only use.
func (f *ServiceFactory) NewCounsellorService(directory application.CounsellorDirectory, writer application.CounsellorWriter, logger *slog.Logger) *application.CounsellorService {
	return application.NewCounsellorServiceWithLogger(directory, writer, logger)
}
