// Package gormstorage implements the storage.Backend interface on top of any
// gorm dialect. The sqlite and postgres stores only differ in how they open
// the connection.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/opendrakan/statesync/pkg/core"
)

// Savegame is the table row of one savegame.
type Savegame struct {
	ID        string            `gorm:"primaryKey;size:36"`
	Level     string            `gorm:"size:255;index:idx_savegames_level_created,priority:1"`
	Tick      int64             `gorm:"not null"`
	CreatedAt time.Time         `gorm:"index:idx_savegames_level_created,priority:2"`
	Size      int               `gorm:"not null"`
	Meta      datatypes.JSONMap `gorm:"type:json"`
	Data      []byte            `gorm:"not null"`
}

// TableName pins the table name independent of gorm's naming strategy.
func (Savegame) TableName() string { return "savegames" }

func (r *Savegame) info() (core.SavegameInfo, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return core.SavegameInfo{}, fmt.Errorf("savegame row %q: %w", r.ID, err)
	}
	info := core.SavegameInfo{
		ID:        id,
		Level:     r.Level,
		Tick:      core.TickNumber(r.Tick),
		CreatedAt: r.CreatedAt,
		Size:      r.Size,
	}
	if len(r.Meta) > 0 {
		info.Meta = map[string]any(r.Meta)
	}
	return info, nil
}

func (r *Savegame) savegame() (*core.Savegame, error) {
	info, err := r.info()
	if err != nil {
		return nil, err
	}
	return &core.Savegame{SavegameInfo: info, Data: r.Data}, nil
}

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB  *gorm.DB
	Log zerolog.Logger
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps Dependencies
	now  func() time.Time
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps, now: time.Now}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm storage: no database")
	}
	b.deps.Log.Info().Msg("Migrating schema")
	if err := b.deps.DB.AutoMigrate(&Savegame{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save inserts sg.
func (b *Backend) Save(ctx context.Context, sg *core.Savegame) error {
	if sg.ID == uuid.Nil {
		sg.ID = uuid.New()
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = b.now()
	}
	sg.Size = len(sg.Data)

	row := Savegame{
		ID:        sg.ID.String(),
		Level:     sg.Level,
		Tick:      int64(sg.Tick),
		CreatedAt: sg.CreatedAt.UTC(),
		Size:      sg.Size,
		Meta:      datatypes.JSONMap(sg.Meta),
		Data:      sg.Data,
	}
	if err := b.deps.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert savegame: %w", err)
	}
	b.deps.Log.Debug().Str("id", row.ID).Str("level", row.Level).Int64("tick", row.Tick).Int("size", row.Size).Msg("Savegame stored")
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.ErrSavegameNotFound
	}
	return err
}

// Load fetches a savegame by id.
func (b *Backend) Load(ctx context.Context, id uuid.UUID) (*core.Savegame, error) {
	var row Savegame
	if err := b.deps.DB.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.savegame()
}

func (b *Backend) newestFirst(ctx context.Context, level string) *gorm.DB {
	q := b.deps.DB.WithContext(ctx).Model(&Savegame{})
	if level != "" {
		q = q.Where("level = ?", level)
	}
	return q.Order("created_at DESC").Order("tick DESC")
}

// Latest returns the newest savegame of level.
func (b *Backend) Latest(ctx context.Context, level string) (*core.Savegame, error) {
	var row Savegame
	if err := b.newestFirst(ctx, level).Limit(1).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.savegame()
}

// List returns savegame metadata, newest first. Payloads are not loaded.
func (b *Backend) List(ctx context.Context, level string) ([]core.SavegameInfo, error) {
	var rows []Savegame
	err := b.newestFirst(ctx, level).
		Select("id", "level", "tick", "created_at", "size", "meta").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]core.SavegameInfo, 0, len(rows))
	for i := range rows {
		info, err := rows[i].info()
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Delete removes a savegame.
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	res := b.deps.DB.WithContext(ctx).Where("id = ?", id.String()).Delete(&Savegame{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrSavegameNotFound
	}
	return nil
}

// Prune keeps the newest keep savegames of level.
func (b *Backend) Prune(ctx context.Context, level string, keep int) (int, error) {
	var ids []string
	if err := b.newestFirst(ctx, level).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	keep = max(keep, 0)
	if len(ids) <= keep {
		return 0, nil
	}
	stale := ids[keep:]
	res := b.deps.DB.WithContext(ctx).Where("id IN ?", stale).Delete(&Savegame{})
	if res.Error != nil {
		return 0, res.Error
	}
	b.deps.Log.Debug().Str("level", level).Int64("removed", res.RowsAffected).Msg("Pruned savegames")
	return int(res.RowsAffected), nil
}
