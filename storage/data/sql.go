// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/cofriends/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// SQLInteraction and SQLItem map to the interactions and items tables.
type (
	SQLInteraction Interaction
	SQLItem        Item
)

// SQLDatabase stores interactions and items in MySQL, PostgreSQL or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	tx := d.gormDB
	if d.driver == MySQL {
		tx = tx.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	return errors.Trace(tx.AutoMigrate(&SQLInteraction{}, &SQLItem{}))
}

func (d *SQLDatabase) Ping() error {
	return errors.Trace(d.client.Ping())
}

func (d *SQLDatabase) Close() error {
	return errors.Trace(d.client.Close())
}

// Purge deletes every row. It is used by tests.
func (d *SQLDatabase) Purge() error {
	for _, table := range []string{d.InteractionsTable(), d.ItemsTable()} {
		if !d.gormDB.Migrator().HasTable(table) {
			continue
		}
		if err := d.gormDB.Exec("DELETE FROM " + table).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) BatchInsertInteractions(ctx context.Context, interactions []Interaction) error {
	if len(interactions) == 0 {
		return nil
	}
	rows := lo.Map(interactions, func(interaction Interaction, _ int) SQLInteraction {
		interaction.Timestamp = interaction.Timestamp.UTC()
		return SQLInteraction(interaction)
	})
	err := d.gormDB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := lo.Map(items, func(item Item, _ int) SQLItem {
		item.Timestamp = item.Timestamp.UTC()
		if item.Categories == nil {
			item.Categories = []string{}
		}
		return SQLItem(item)
	})
	err := d.gormDB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetInteractions(ctx context.Context, since *time.Time) ([]Interaction, error) {
	tx := d.gormDB.WithContext(ctx).Model(&SQLInteraction{})
	if since != nil {
		tx = tx.Where("time_stamp > ?", since.UTC())
	}
	var rows []SQLInteraction
	if err := tx.Order("time_stamp, user_id, item_id, signal_type").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLInteraction, _ int) Interaction {
		row.Timestamp = row.Timestamp.UTC()
		return Interaction(row)
	}), nil
}

func (d *SQLDatabase) GetItems(ctx context.Context, since *time.Time) ([]Item, error) {
	tx := d.gormDB.WithContext(ctx).Model(&SQLItem{})
	if since != nil {
		tx = tx.Where("time_stamp > ?", since.UTC())
	}
	var rows []SQLItem
	if err := tx.Order("item_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLItem, _ int) Item {
		row.Timestamp = row.Timestamp.UTC()
		return Item(row)
	}), nil
}

func (d *SQLDatabase) CountInteractions(ctx context.Context) (int, error) {
	var count int64
	if err := d.gormDB.WithContext(ctx).Model(&SQLInteraction{}).Count(&count).Error; err != nil {
		return 0, errors.Trace(err)
	}
	return int(count), nil
}
