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
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/cofriends/storage"
	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB is the data storage based on MongoDB.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

// Init collections and indices in MongoDB.
func (db *MongoDB) Init() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	existed := mapset.NewSet(collections...)
	for _, name := range []string{db.InteractionsTable(), db.ItemsTable()} {
		if !existed.Contains(name) {
			if err = d.CreateCollection(ctx, name); err != nil {
				return errors.Trace(err)
			}
		}
	}
	_, err = d.Collection(db.InteractionsTable()).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "item_id", Value: 1}, {Key: "signal", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "time_stamp", Value: 1}}},
	})
	if err != nil {
		return errors.Trace(err)
	}
	_, err = d.Collection(db.ItemsTable()).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"item_id": 1},
		Options: options.Index().SetUnique(true),
	})
	return errors.Trace(err)
}

func (db *MongoDB) Ping() error {
	return errors.Trace(db.client.Ping(context.Background(), nil))
}

func (db *MongoDB) Close() error {
	return errors.Trace(db.client.Disconnect(context.Background()))
}

func (db *MongoDB) Purge() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	for _, name := range []string{db.InteractionsTable(), db.ItemsTable()} {
		if _, err := d.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (db *MongoDB) BatchInsertInteractions(ctx context.Context, interactions []Interaction) error {
	if len(interactions) == 0 {
		return nil
	}
	var models []mongo.WriteModel
	for _, interaction := range interactions {
		interaction.Timestamp = interaction.Timestamp.UTC()
		models = append(models, mongo.NewReplaceOneModel().
			SetUpsert(true).
			SetFilter(bson.M{
				"user_id": interaction.UserId,
				"item_id": interaction.ItemId,
				"signal":  interaction.Signal,
			}).
			SetReplacement(interaction))
	}
	_, err := db.client.Database(db.dbName).Collection(db.InteractionsTable()).BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (db *MongoDB) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	var models []mongo.WriteModel
	for _, item := range items {
		item.Timestamp = item.Timestamp.UTC()
		models = append(models, mongo.NewReplaceOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"item_id": item.ItemId}).
			SetReplacement(item))
	}
	_, err := db.client.Database(db.dbName).Collection(db.ItemsTable()).BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (db *MongoDB) GetInteractions(ctx context.Context, since *time.Time) ([]Interaction, error) {
	filter := bson.M{}
	if since != nil {
		filter["time_stamp"] = bson.M{"$gt": since.UTC()}
	}
	opt := options.Find().SetSort(bson.D{
		{Key: "time_stamp", Value: 1},
		{Key: "user_id", Value: 1},
		{Key: "item_id", Value: 1},
		{Key: "signal", Value: 1},
	})
	r, err := db.client.Database(db.dbName).Collection(db.InteractionsTable()).Find(ctx, filter, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	interactions := make([]Interaction, 0)
	if err = r.All(ctx, &interactions); err != nil {
		return nil, errors.Trace(err)
	}
	for i := range interactions {
		interactions[i].Timestamp = interactions[i].Timestamp.UTC()
	}
	return interactions, nil
}

func (db *MongoDB) GetItems(ctx context.Context, since *time.Time) ([]Item, error) {
	filter := bson.M{}
	if since != nil {
		filter["time_stamp"] = bson.M{"$gt": since.UTC()}
	}
	opt := options.Find().SetSort(bson.M{"item_id": 1})
	r, err := db.client.Database(db.dbName).Collection(db.ItemsTable()).Find(ctx, filter, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	items := make([]Item, 0)
	if err = r.All(ctx, &items); err != nil {
		return nil, errors.Trace(err)
	}
	for i := range items {
		items[i].Timestamp = items[i].Timestamp.UTC()
	}
	return items, nil
}

func (db *MongoDB) CountInteractions(ctx context.Context) (int, error) {
	n, err := db.client.Database(db.dbName).Collection(db.InteractionsTable()).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, errors.Trace(err)
	}
	return int(n), nil
}
