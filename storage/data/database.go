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
	"sort"
	"strings"
	"time"

	"github.com/gorse-io/cofriends/base/log"
	"github.com/gorse-io/cofriends/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

const (
	SignalVote    = "vote"
	SignalComment = "comment"
	SignalRating  = "rating"
)

var ErrNoDatabase = errors.NotAssignedf("database")

// InteractionKey identifies an interaction. A user re-voting the same item with the
// same signal overwrites the previous record.
type InteractionKey struct {
	UserId string `gorm:"column:user_id;type:varchar(256);primaryKey" bson:"user_id" json:"user_id"`
	ItemId string `gorm:"column:item_id;type:varchar(256);primaryKey;index" bson:"item_id" json:"item_id"`
	Signal string `gorm:"column:signal_type;type:varchar(64);primaryKey" bson:"signal" json:"signal"`
}

// Interaction is a vote, comment or rating of an employee on a lunch place.
type Interaction struct {
	InteractionKey `gorm:"embedded" bson:",inline"`
	Weight         float64   `gorm:"column:weight" bson:"weight" json:"weight"`
	Comment        string    `gorm:"column:comment;type:text" bson:"comment" json:"comment,omitempty"`
	Timestamp      time.Time `gorm:"column:time_stamp;index" bson:"time_stamp" json:"timestamp"`
}

// Item stores metadata about a lunch place.
type Item struct {
	ItemId      string    `gorm:"column:item_id;type:varchar(256);primaryKey" bson:"item_id" json:"item_id"`
	Name        string    `gorm:"column:name;type:varchar(256)" bson:"name" json:"name"`
	Categories  []string  `gorm:"column:categories;type:text;serializer:json" bson:"categories" json:"categories"`
	Description string    `gorm:"column:description;type:text" bson:"description" json:"description"`
	Timestamp   time.Time `gorm:"column:time_stamp;index" bson:"time_stamp" json:"timestamp"`
}

// SortInteractions sorts interactions from oldest to latest. Ties are ordered by key
// so that replaying a snapshot is deterministic.
func SortInteractions(interactions []Interaction) {
	sort.SliceStable(interactions, func(i, j int) bool {
		a, b := interactions[i], interactions[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.UserId != b.UserId {
			return a.UserId < b.UserId
		}
		if a.ItemId != b.ItemId {
			return a.ItemId < b.ItemId
		}
		return a.Signal < b.Signal
	})
}

// MergeInteractions applies updates on top of base. A record supersedes an older record
// of the same key, so a revote replaces the previous vote. The result is sorted.
func MergeInteractions(base, updates []Interaction) []Interaction {
	merged := make(map[InteractionKey]Interaction, len(base)+len(updates))
	for _, interactions := range [][]Interaction{base, updates} {
		for _, interaction := range interactions {
			if prev, exist := merged[interaction.InteractionKey]; exist && prev.Timestamp.After(interaction.Timestamp) {
				continue
			}
			merged[interaction.InteractionKey] = interaction
		}
	}
	result := make([]Interaction, 0, len(merged))
	for _, interaction := range merged {
		result = append(result, interaction)
	}
	SortInteractions(result)
	return result
}

// Reader is the read-only view the recommendation core needs. The collaborator owns
// every write.
type Reader interface {
	// GetInteractions returns interactions newer than since, or all of them when since
	// is nil, from oldest to latest.
	GetInteractions(ctx context.Context, since *time.Time) ([]Interaction, error)
	// GetItems returns items updated after since, or all of them when since is nil.
	GetItems(ctx context.Context, since *time.Time) ([]Item, error)
}

type Database interface {
	Reader
	Init() error
	Ping() error
	Close() error
	Purge() error
	BatchInsertInteractions(ctx context.Context, interactions []Interaction) error
	BatchInsertItems(ctx context.Context, items []Item) error
	CountInteractions(ctx context.Context) (int, error)
}

// Open opens a database by URL prefix.
func Open(path, tablePrefix string) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"parseTime": "true",
			"loc":       "UTC",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = sql.Open("mysql", name); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = sql.Open("postgres", path); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		database := new(MongoDB)
		if database.client, err = mongo.Connect(context.Background(), options.Client().ApplyURI(path)); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		if cs, err := connstring.ParseAndValidate(path); err != nil {
			return nil, errors.Trace(err)
		} else {
			database.dbName = cs.Database
			database.TablePrefix = storage.TablePrefix(tablePrefix)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
			{A: "_pragma", B: "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = sql.Open("sqlite", name); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	log.Logger().Error("unsupported data store", zap.String("path", log.RedactDBURL(path)))
	return nil, errors.Errorf("Unknown database: %s", path)
}
