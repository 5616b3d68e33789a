package pool

import (
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// Config identifies one target database. It is immutable once a Manager is
// built from it; two configs with the same Key share a pool.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      bool
}

// Key derives the pool identity as host:port/database/user.
func (c Config) Key() string {
	return fmt.Sprintf("%s:%d/%s/%s", c.Host, c.port(), c.Database, c.User)
}

func (c Config) port() int {
	if c.Port == 0 {
		return 3306
	}
	return c.Port
}

// DSN renders the config as a go-sql-driver DSN.
func (c Config) DSN(connectTimeout time.Duration) string {
	mc := mysqldriver.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.port())
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.Timeout = connectTimeout
	if c.TLS {
		// The monitored targets commonly sit behind managed proxies with
		// certificates that do not match the host, so verification is off.
		mc.TLSConfig = "skip-verify"
	}
	return mc.FormatDSN()
}

// Options tune a Manager. Zero values fall back to the defaults below.
type Options struct {
	MaxConns        int
	RetryAttempts   int
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
	RecycleInterval time.Duration
}

const (
	defaultMaxConns        = 5
	defaultRetryAttempts   = 3
	defaultConnectTimeout  = 30 * time.Second
	defaultQueryTimeout    = 60 * time.Second
	defaultRecycleInterval = 5 * time.Minute
	maxBackoff             = 10 * time.Second
)

func (o Options) normalized() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = defaultMaxConns
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = defaultQueryTimeout
	}
	if o.RecycleInterval <= 0 {
		o.RecycleInterval = defaultRecycleInterval
	}
	return o
}
