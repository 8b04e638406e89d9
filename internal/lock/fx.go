package lock

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ensmarket/internal/config"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("lock",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Cfg     config.Config
	DB      *gorm.DB
	Redis   *redis.Client             `optional:"true"`
	Log     *zap.Logger
	Metrics *obsmetrics.WorkerMetrics `optional:"true"`
}

// New selects the backend named by LOCK_BACKEND.
func New(p Params) (*Coordinator, error) {
	var locker Locker
	switch p.Cfg.Lock.Backend {
	case config.LockBackendPostgres:
		sqlDB, err := p.DB.DB()
		if err != nil {
			return nil, err
		}
		locker = NewPostgresLocker(sqlDB)
	case config.LockBackendRedis:
		if p.Redis == nil {
			return nil, fmt.Errorf("lock backend redis requires REDIS_ADDR")
		}
		locker = NewRedisLocker(p.Redis, p.Cfg.Lock.TTL)
	case config.LockBackendMemory:
		locker = NewMemoryLocker()
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", p.Cfg.Lock.Backend)
	}

	p.Log.Info("lock coordinator ready", zap.String("backend", locker.Backend()))
	return NewCoordinator(locker, p.Log, p.Metrics), nil
}
