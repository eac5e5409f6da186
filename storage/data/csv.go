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
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// ReadInteractionsCSV parses rows of user_id,item_id,signal[,weight[,timestamp[,comment]]].
// A header row starting with "user_id" is skipped. Missing weights default to one and
// missing timestamps to now.
func ReadInteractionsCSV(r io.Reader) ([]Interaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	var (
		interactions []Interaction
		now          = time.Now().UTC()
	)
	for lineNumber := 1; ; lineNumber++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Annotatef(err, "line %d", lineNumber)
		}
		if lineNumber == 1 && strings.EqualFold(record[0], "user_id") {
			continue
		}
		if len(record) < 3 {
			return nil, errors.NotValidf("line %d: expected at least 3 fields, got %d", lineNumber, len(record))
		}
		interaction := Interaction{
			InteractionKey: InteractionKey{UserId: record[0], ItemId: record[1], Signal: record[2]},
			Weight:         1,
			Timestamp:      now,
		}
		if interaction.UserId == "" || interaction.ItemId == "" || interaction.Signal == "" {
			return nil, errors.NotValidf("line %d: empty key", lineNumber)
		}
		if len(record) > 3 && record[3] != "" {
			if interaction.Weight, err = strconv.ParseFloat(record[3], 64); err != nil {
				return nil, errors.Annotatef(err, "line %d: weight", lineNumber)
			}
		}
		if len(record) > 4 && record[4] != "" {
			if interaction.Timestamp, err = dateparse.ParseIn(record[4], time.UTC); err != nil {
				return nil, errors.Annotatef(err, "line %d: timestamp", lineNumber)
			}
			interaction.Timestamp = interaction.Timestamp.UTC()
		}
		if len(record) > 5 {
			interaction.Comment = record[5]
		}
		interactions = append(interactions, interaction)
	}
	return interactions, nil
}

// ReadItemsCSV parses rows of item_id,name[,categories[,description[,timestamp]]].
// Categories are separated by "|".
func ReadItemsCSV(r io.Reader) ([]Item, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	var (
		items []Item
		now   = time.Now().UTC()
	)
	for lineNumber := 1; ; lineNumber++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Annotatef(err, "line %d", lineNumber)
		}
		if lineNumber == 1 && strings.EqualFold(record[0], "item_id") {
			continue
		}
		if len(record) < 2 || record[0] == "" {
			return nil, errors.NotValidf("line %d: expected item_id and name", lineNumber)
		}
		item := Item{ItemId: record[0], Name: record[1], Categories: []string{}, Timestamp: now}
		if len(record) > 2 && record[2] != "" {
			item.Categories = lo.Map(strings.Split(record[2], "|"), func(s string, _ int) string {
				return strings.TrimSpace(s)
			})
		}
		if len(record) > 3 {
			item.Description = record[3]
		}
		if len(record) > 4 && record[4] != "" {
			if item.Timestamp, err = dateparse.ParseIn(record[4], time.UTC); err != nil {
				return nil, errors.Annotatef(err, "line %d: timestamp", lineNumber)
			}
			item.Timestamp = item.Timestamp.UTC()
		}
		items = append(items, item)
	}
	return items, nil
}
