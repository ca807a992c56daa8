// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Note is the row model of the notes table.
type Note struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string `gorm:"size:512"`
	Content   string `gorm:"type:longtext"`
	UpdatedAt time.Time
}

// Gorm stores notes in a relational table.
type Gorm struct {
	db *gorm.DB
}

// OpenMySQL connects to MySQL and migrates the notes table.
func OpenMySQL(dsn string) (*Gorm, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	g := NewGorm(db)
	if err := g.Migrate(); err != nil {
		return nil, err
	}
	return g, nil
}

// NewGorm wraps an open connection.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// Migrate creates or updates the notes table.
func (g *Gorm) Migrate() error {
	if err := g.db.AutoMigrate(&Note{}); err != nil {
		return fmt.Errorf("migrate notes: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (g *Gorm) LoadLatest(ctx context.Context, id string) (string, bool, error) {
	var n Note
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load note %s: %w", id, err)
	}
	return n.Content, true, nil
}

// Save implements Store.
func (g *Gorm) Save(ctx context.Context, id string, p Patch) error {
	if err := upsert(g.db.WithContext(ctx), id, p).Error; err != nil {
		return fmt.Errorf("save note %s: %w", id, err)
	}
	return nil
}

func upsert(tx *gorm.DB, id string, p Patch) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "content", "updated_at"}),
	}).Create(&Note{ID: id, Title: p.Title, Content: p.Content, UpdatedAt: time.Now().UTC()})
}

// Close closes the underlying connection pool.
func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
