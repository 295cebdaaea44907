package mongo

import "time"

// Config represents the MongoDB connection settings.
type Config struct {
	URI             string        `env:"MONGODB_URI"`                                                   // URI overrides ConnectionURL when set.
	ConnectionURL   string        `env:"MONGODB_URL" envDefault:"mongodb://mongodb:27017/notification"` // ConnectionURL is the URL of the database.
	Database        string        `env:"MONGODB_DATABASE" envDefault:"notification"`                    // Database holds the channels, events, subscriptions and cursors collections.
	ConnectTimeout  time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`                      // ConnectTimeout bounds a single connection attempt.
	MaxPoolSize     uint64        `env:"MONGODB_MAX_POOL_SIZE" envDefault:"100"`                        // MaxPoolSize is the maximum number of pooled connections.
	MinPoolSize     uint64        `env:"MONGODB_MIN_POOL_SIZE" envDefault:"1"`                          // MinPoolSize is the minimum number of pooled connections.
	MaxConnIdleTime time.Duration `env:"MONGODB_MAX_CONN_IDLE_TIME" envDefault:"300s"`                  // MaxConnIdleTime is how long a pooled connection may stay idle.
	RetryAttempts   int           `env:"MONGODB_RETRY_ATTEMPTS" envDefault:"3"`                         // RetryAttempts is the number of connection attempts.
	RetryInterval   time.Duration `env:"MONGODB_RETRY_INTERVAL" envDefault:"5s"`                        // RetryInterval is the pause between attempts.
}

// URL returns the connection string to dial.
func (c Config) URL() string {
	if c.URI != "" {
		return c.URI
	}
	return c.ConnectionURL
}
