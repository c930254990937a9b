package store

import (
	"time"

	"github.com/remindkit/remindkit/internal/profile"
	"github.com/remindkit/remindkit/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// reminderCache keeps hot reminder-by-uid lookups off the database.
	reminderCache *cache.Cache
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		reminderCache: cache.New(cache.Config{
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxItems:        1000,
		}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.reminderCache.Close()
	return s.driver.Close()
}
