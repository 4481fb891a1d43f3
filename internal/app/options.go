package service

import (
	"time"

	"github.com/okian/leadscore/internal/adapters/repository"
	"github.com/okian/leadscore/internal/config"
	"github.com/okian/leadscore/internal/domain/notify"
	"github.com/okian/leadscore/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithIntakeMode selects inline application (sync) or the bounded queue (async).
func WithIntakeMode(mode string) Option {
	return func(s *Service) {
		if mode == config.IntakeSync || mode == config.IntakeAsync {
			s.intakeMode = mode
		}
	}
}

// WithWorkerCount sets the number of async intake workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the async intake queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the applied-event cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithStore injects a ready storage backend. The service does not close an
// injected store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSQLite makes Start open a SQLite database at path.
func WithSQLite(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.sqlitePath = path
		}
	}
}

// WithStoreTimeout bounds every storage round trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithNotifyBuffer sets the notifier dispatch and subscriber buffer size.
func WithNotifyBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.notifyBuffer = n
		}
	}
}

// WithTransport forwards score changes to an external transport.
func WithTransport(t notify.Transport) Option {
	return func(s *Service) {
		if t != nil {
			s.transports = append(s.transports, t)
		}
	}
}

// WithSeedRules replaces the rules written to an empty rule table.
func WithSeedRules(seed map[string]int64) Option {
	return func(s *Service) {
		if seed != nil {
			s.seedRules = seed
		}
	}
}

// WithHistoryLimit sets how many history and event rows LeadDetail returns.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPendingSweep sets how often pending events are handed back to the
// worker pool in async mode.
func WithPendingSweep(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pendingSweep = d
		}
	}
}
