// Package materials stores material-usage records: one row per logged
// removal of material, keyed by the material it was taken from.
package materials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrMaterialNotFound = errors.New("material not found")
	ErrMaterialInUse    = errors.New("material has recorded usage")
	ErrInvalidWeight    = errors.New("weight used must be positive")
)

// Store persists materials and their usage records in SQLite.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at dsn and migrates it.
// dsn may be a file path or a SQLite URI such as "file:x?mode=memory&cache=shared".
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("materials database path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: slogGorm.New(slogGorm.WithHandler(logger.Handler())),
	})
	if err != nil {
		return nil, fmt.Errorf("opening materials database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening materials database: %w", err)
	}
	// Foreign-key enforcement is per connection in SQLite.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := db.AutoMigrate(&Material{}, &Usage{}); err != nil {
		return nil, fmt.Errorf("migrating materials database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateMaterial adds a material. An empty ID is filled with a new UUID.
func (s *Store) CreateMaterial(ctx context.Context, m *Material) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("material name is required")
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("creating material: %w", err)
	}
	return nil
}

// GetMaterial returns the material with id.
func (s *Store) GetMaterial(ctx context.Context, id string) (*Material, error) {
	var m Material
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMaterialNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading material %s: %w", id, err)
	}
	return &m, nil
}

// ListMaterials returns every material ordered by name.
func (s *Store) ListMaterials(ctx context.Context) ([]Material, error) {
	var out []Material
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing materials: %w", err)
	}
	return out, nil
}

// RecordUsage logs that weight grams were removed from the material.
func (s *Store) RecordUsage(ctx context.Context, materialID string, weight float64) (*Usage, error) {
	if weight <= 0 {
		return nil, ErrInvalidWeight
	}

	u := &Usage{MaterialID: materialID, WeightUsed: weight}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Material{}).Where("id = ?", materialID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrMaterialNotFound, materialID)
		}
		return tx.Omit(clause.Associations).Create(u).Error
	})
	if err != nil {
		if errors.Is(err, ErrMaterialNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("recording usage: %w", err)
	}
	return u, nil
}

// UsageForMaterial returns the material's usage records, oldest first.
func (s *Store) UsageForMaterial(ctx context.Context, materialID string) ([]Usage, error) {
	var out []Usage
	err := s.db.WithContext(ctx).
		Where("material_id = ?", materialID).
		Order("created_at ASC").
		Order("rowid ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing usage for %s: %w", materialID, err)
	}
	return out, nil
}

// TotalUsed sums the weight recorded against the material.
func (s *Store) TotalUsed(ctx context.Context, materialID string) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&Usage{}).
		Where("material_id = ?", materialID).
		Select("COALESCE(SUM(weight_used), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("summing usage for %s: %w", materialID, err)
	}
	return total, nil
}

// DeleteMaterial removes a material. It fails with ErrMaterialInUse while any
// usage record references it.
func (s *Store) DeleteMaterial(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Usage{}).Where("material_id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("counting usage for %s: %w", id, err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s (%d records)", ErrMaterialInUse, id, n)
		}
		res := tx.Delete(&Material{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("deleting material %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrMaterialNotFound, id)
		}
		return nil
	})
}

// RenameMaterialID changes a material's identifier; usage records follow it.
func (s *Store) RenameMaterialID(ctx context.Context, oldID, newID string) error {
	if strings.TrimSpace(newID) == "" {
		return fmt.Errorf("new material id is empty")
	}
	res := s.db.WithContext(ctx).Model(&Material{}).Where("id = ?", oldID).Update("id", newID)
	if res.Error != nil {
		return fmt.Errorf("renaming material %s: %w", oldID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrMaterialNotFound, oldID)
	}
	return nil
}
