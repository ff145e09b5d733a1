package db

import (
	"github.com/pkg/errors"

	"github.com/openclaw/cortex/internal/profile"
	"github.com/openclaw/cortex/store"
	"github.com/openclaw/cortex/store/db/postgres"
	"github.com/openclaw/cortex/store/db/sqlite"
)

// NewDBDriver creates new db driver based on profile.
//
// PostgreSQL is the production database; SQLite is supported for
// development and demo use.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s (only 'postgres' and 'sqlite' are supported)", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
