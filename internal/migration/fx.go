package migration

import (
	"github.com/smallbiznis/ensmarket/internal/config"
	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
	webhookdomain "github.com/smallbiznis/ensmarket/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if cfg.DBType != "postgres" {
			log.Info("applying schema with automigrate", zap.String("db_type", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		version, err := RunMigrations(sqlDB)
		if err != nil {
			return err
		}
		log.Info("schema up to date", zap.Uint("version", version))
		return nil
	}),
)

// AutoMigrate creates the schema from the models for non-Postgres dialects.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&intentdomain.Intent{},
		&intentdomain.RegisteredDomain{},
		&webhookdomain.WebhookEvent{},
	)
}
