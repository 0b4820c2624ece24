package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Revision holds the image an entity had before the first write to it in a
// block. Existed is false when the write created the entity.
type Revision struct {
	Seq      uint64 `gorm:"primaryKey;autoIncrement"`
	Block    uint64 `gorm:"index"`
	Table    string `gorm:"column:entity_table;size:96;index:idx_revision_entity"`
	EntityID string `gorm:"size:160;index:idx_revision_entity"`
	Existed  bool
	Prior    string `gorm:"type:text"`
}

func (Revision) TableName() string { return "revisions" }

func (t *Tx) journal(table, id string, load func() (Entity, error)) error {
	var seen int64
	if err := t.db.Model(&Revision{}).
		Where("block = ? AND entity_table = ? AND entity_id = ?", t.block, table, id).
		Count(&seen).Error; err != nil {
		return fmt.Errorf("journal %s %s: %w", table, id, err)
	}
	if seen > 0 {
		return nil
	}
	prior, err := load()
	if err != nil {
		return err
	}
	rev := Revision{Block: t.block, Table: table, EntityID: id}
	if prior != nil {
		raw, err := json.Marshal(prior)
		if err != nil {
			return fmt.Errorf("journal %s %s: %w", table, id, err)
		}
		rev.Existed = true
		rev.Prior = string(raw)
	}
	if err := t.db.Create(&rev).Error; err != nil {
		return fmt.Errorf("journal %s %s: %w", table, id, err)
	}
	return nil
}

// Rewind restores every entity to its state at the end of block ancestor.
// Entities created above ancestor are deleted. It returns the number of
// revisions undone.
func (s *Store) Rewind(ctx context.Context, ancestor uint64) (int, error) {
	undone := 0
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var revs []Revision
		if err := db.Where("block > ?", ancestor).Order("seq DESC").Find(&revs).Error; err != nil {
			return fmt.Errorf("rewind: %w", err)
		}
		for _, rev := range revs {
			if err := restore(db, rev); err != nil {
				return err
			}
		}
		undone = len(revs)
		if err := db.Where("block > ?", ancestor).Delete(&Revision{}).Error; err != nil {
			return fmt.Errorf("rewind: %w", err)
		}
		return nil
	})
	return undone, err
}

func restore(db *gorm.DB, rev Revision) error {
	entity, ok := NewEntity(rev.Table)
	if !ok {
		return fmt.Errorf("rewind: unknown table %q", rev.Table)
	}
	if !rev.Existed {
		if err := db.Where("id = ?", rev.EntityID).Delete(entity).Error; err != nil {
			return fmt.Errorf("rewind %s %s: %w", rev.Table, rev.EntityID, err)
		}
		return nil
	}
	if err := json.Unmarshal([]byte(rev.Prior), entity); err != nil {
		return fmt.Errorf("rewind %s %s: %w", rev.Table, rev.EntityID, err)
	}
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(entity).Error; err != nil {
		return fmt.Errorf("rewind %s %s: %w", rev.Table, rev.EntityID, err)
	}
	return nil
}

// Prune drops revisions below block; those blocks can no longer be rewound.
func (s *Store) Prune(ctx context.Context, below uint64) error {
	return s.db.WithContext(ctx).Where("block < ?", below).Delete(&Revision{}).Error
}
