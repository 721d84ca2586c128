package mysql

import "github.com/go-kit/log"

const defaultMaxAttempts = 15

type dbOptions struct {
	// maxAttempts configures the number of connection retries
	maxAttempts int
	logger      log.Logger
}

// DBOption is used to pass optional arguments to the database connection.
type DBOption func(o *dbOptions)

// Logger adds a logger to the datastore.
func Logger(l log.Logger) DBOption {
	return func(o *dbOptions) {
		o.logger = l
	}
}

// LimitAttempts sets a the number of attempts to try connecting to the
// database.
func LimitAttempts(attempts int) DBOption {
	return func(o *dbOptions) {
		o.maxAttempts = attempts
	}
}
