package backend

import (
	"context"
	"fmt"

	"github.com/relabs-tech/appseed/core/backend/kss"
	"github.com/relabs-tech/appseed/core/logger"
)

func (b *Backend) configureKSS(config kss.Configuration) error {
	logger.Default().Info("KSS in use with driver ", config.DriverType)
	drv, err := kss.New(context.Background(), config)
	if err != nil {
		return fmt.Errorf("cannot create KSS driver %s: %w", config.DriverType, err)
	}
	b.kss = drv
	return nil
}

func (b *Backend) bucket(appID int) string {
	return kss.BucketName(appID)
}
