package health

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Pinger is satisfied by mail transports that can probe their relay.
type Pinger interface {
	Ping(ctx context.Context) error
}

// pingChecker turns any round-trip probe into a named readiness check.
type pingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func (c pingChecker) Check(ctx context.Context) CheckResult {
	if err := c.ping(ctx); err != nil {
		return CheckResult{Name: c.name, Error: err.Error()}
	}
	return CheckResult{Name: c.name, Healthy: true}
}

// NewDBChecker returns nil for a nil handle; the same holds for the other
// constructors.
func NewDBChecker(db *gorm.DB) Checker {
	if db == nil {
		return nil
	}
	return pingChecker{name: "db", ping: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

func NewRedisChecker(client redis.UniversalClient) Checker {
	if client == nil {
		return nil
	}
	return pingChecker{name: "redis", ping: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

func NewSMTPChecker(pinger Pinger) Checker {
	if pinger == nil {
		return nil
	}
	return pingChecker{name: "smtp", ping: pinger.Ping}
}
