package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type entity struct {
	ProjectID string    `gorm:"primaryKey;type:varchar(128)"`
	Kind      string    `gorm:"primaryKey;type:varchar(16)"`
	EntityID  string    `gorm:"primaryKey;type:varchar(128)"`
	Data      string    `gorm:"type:longtext;not null"`
	UpdatedAt time.Time `gorm:"index:idx_updated_at"`
}

func (entity) TableName() string { return "entities" }

// Gorm stores records in a single `entities` table.
type Gorm struct {
	db *gorm.DB
}

// Open picks a backend by driver name: memory, sqlite or mysql.
func Open(driver, dsn string) (Backend, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenGorm(sqlite.Open(dsn))
	case "mysql":
		return OpenGorm(mysql.Open(dsn))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func OpenGorm(dialector gorm.Dialector) (*Gorm, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return NewGorm(db)
}

func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&entity{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Get(ctx context.Context, key Key) ([]byte, error) {
	var e entity
	err := g.db.WithContext(ctx).
		Where("project_id = ? AND kind = ? AND entity_id = ?", key.ProjectID, string(key.Kind), key.ID).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(e.Data), nil
}

func (g *Gorm) List(ctx context.Context, projectID string, kind Kind) ([]Record, error) {
	query := g.db.WithContext(ctx).Model(&entity{}).Where("kind = ?", string(kind))
	if projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	var rows []entity
	if err := query.Order("project_id asc, entity_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{
			Key:  Key{ProjectID: r.ProjectID, Kind: Kind(r.Kind), ID: r.EntityID},
			Data: []byte(r.Data),
		})
	}
	return out, nil
}

func (g *Gorm) Tx(ctx context.Context, fn func(tx Tx) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Put(key Key, data []byte) error {
	return t.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&entity{
		ProjectID: key.ProjectID,
		Kind:      string(key.Kind),
		EntityID:  key.ID,
		Data:      string(data),
		UpdatedAt: time.Now().UTC(),
	}).Error
}

func (t *gormTx) Delete(key Key) error {
	return t.db.
		Where("project_id = ? AND kind = ? AND entity_id = ?", key.ProjectID, string(key.Kind), key.ID).
		Delete(&entity{}).Error
}

func (t *gormTx) DeleteProject(projectID string) error {
	return t.db.Where("project_id = ?", projectID).Delete(&entity{}).Error
}
