package mysql

import (
	"context"

	mysqlgorm "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/domain/model"
	"ordermesh/pkg/apiserver/infrastructure/datastore"
)

// New mysql datastore instance
func New(ctx context.Context, cfg config.DatastoreConfig) (*datastore.Store, error) {
	db, err := gorm.Open(mysqlgorm.Open(cfg.URL), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	for _, v := range model.GetRegisterModels() {
		if err := db.WithContext(ctx).AutoMigrate(v); err != nil {
			return nil, err
		}
	}

	return datastore.New(db.WithContext(ctx)), nil
}
