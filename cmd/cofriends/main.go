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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorse-io/cofriends/base/log"
	"github.com/gorse-io/cofriends/cmd/version"
	"github.com/gorse-io/cofriends/config"
	"github.com/gorse-io/cofriends/engine"
	"github.com/gorse-io/cofriends/server"
	"github.com/gorse-io/cofriends/storage/data"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "cofriends",
	Short: "Lunch place recommendations for colleagues.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start the recommendation server.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		e, err := engine.Open(conf)
		if err != nil {
			log.Logger().Fatal("failed to open engine", zap.Error(err))
		}
		defer e.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go e.Start(ctx)
		if err = server.NewServer(e, conf).Serve(ctx); err != nil {
			log.Logger().Fatal("failed to serve", zap.Error(err))
		}
		log.Logger().Info("stop cofriends successfully")
	},
}

var recommendCommand = &cobra.Command{
	Use:   "recommend <user-id>",
	Short: "Print recommendations for a user.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		n, _ := cmd.Flags().GetInt("n")
		e, err := openReady(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		items, err := e.Recommend(cmd.Context(), args[0], query, n)
		if err != nil {
			return errors.Trace(err)
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Rank", "Item", "Fused", "Collaborative", "Embedding")
		for _, item := range items {
			if err = table.Append([]string{
				strconv.Itoa(item.Rank),
				item.ItemId,
				formatScore(item.FusedScore),
				formatScore(item.CFScore),
				formatScore(item.EmbeddingScore),
			}); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(table.Render())
	},
}

var explainCommand = &cobra.Command{
	Use:   "explain <user-id> <item-id>",
	Short: "Explain why an item is recommended to a user.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openReady(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		explanation, err := e.Explain(cmd.Context(), args[0], args[1])
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Println(explanation.Text)
		return nil
	},
}

var importCommand = &cobra.Command{
	Use:   "import",
	Short: "Import interactions and items from CSV files.",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := loadConfig(cmd)
		interactionsPath, _ := cmd.Flags().GetString("interactions")
		itemsPath, _ := cmd.Flags().GetString("items")
		if interactionsPath == "" && itemsPath == "" {
			return errors.New("nothing to import, set --interactions or --items")
		}
		database, err := data.Open(conf.Database.DataStore, conf.Database.TablePrefix)
		if err != nil {
			return errors.Annotatef(err, "open %s", log.RedactDBURL(conf.Database.DataStore))
		}
		defer database.Close()
		if err = database.Init(); err != nil {
			return errors.Trace(err)
		}
		if itemsPath != "" {
			items, err := readCSV(itemsPath, data.ReadItemsCSV)
			if err != nil {
				return err
			}
			if err = database.BatchInsertItems(cmd.Context(), items); err != nil {
				return errors.Trace(err)
			}
			fmt.Printf("imported %d items\n", len(items))
		}
		if interactionsPath != "" {
			interactions, err := readCSV(interactionsPath, data.ReadInteractionsCSV)
			if err != nil {
				return err
			}
			if err = database.BatchInsertInteractions(cmd.Context(), interactions); err != nil {
				return errors.Trace(err)
			}
			fmt.Printf("imported %d interactions\n", len(interactions))
		}
		return nil
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print version information.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.BuildInfo())
	},
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

// openReady opens an engine and builds its first generation.
func openReady(cmd *cobra.Command) (*engine.Engine, error) {
	e, err := engine.Open(loadConfig(cmd))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if result := e.Refresh(cmd.Context()); result.Err != nil {
		_ = e.Close()
		return nil, errors.Trace(result.Err)
	}
	return e, nil
}

func readCSV[T any](path string, read func(r io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	rows, err := read(f)
	if err != nil {
		return nil, errors.Annotate(err, path)
	}
	return rows, nil
}

func formatScore(score float32) string {
	return strconv.FormatFloat(float64(score), 'f', 4, 32)
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.Flags().BoolP("version", "v", false, "cofriends version")

	recommendCommand.Flags().String("query", "", "free text matched against item embeddings")
	recommendCommand.Flags().Int("n", 0, "number of recommendations")
	importCommand.Flags().String("interactions", "", "CSV file of interactions")
	importCommand.Flags().String("items", "", "CSV file of items")

	rootCommand.AddCommand(serveCommand, recommendCommand, explainCommand, importCommand, versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
