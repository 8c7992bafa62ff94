// Package main provides claimctl, the operator CLI for the adjudication
// platform: submit claims against the API, manage feed topics, and generate
// or publish sample feed files.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pbmlabs/rxadjudicator/internal/infrastructure/redpanda"
	"github.com/pbmlabs/rxadjudicator/internal/ingest"
)

func main() {
	root := &cobra.Command{
		Use:           "claimctl",
		Short:         "Operate the pharmacy claims adjudication platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(adjudicateCmd(), sampleCmd(), topicsCmd(), feedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func adjudicateCmd() *cobra.Command {
	var (
		file   string
		apiURL string
		apiKey string
	)

	cmd := &cobra.Command{
		Use:   "adjudicate",
		Short: "Submit a claim file to the adjudication API",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read claim file: %w", err)
			}
			if !json.Valid(payload) {
				return fmt.Errorf("claim file %s is not valid JSON", file)
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				apiURL+"/api/v1/claims", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if apiKey != "" {
				req.Header.Set("X-API-Key", apiKey)
			}

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("call adjudication API: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, body, "", "  "); err != nil {
				pretty.Write(body)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())

			if resp.StatusCode >= 400 {
				return fmt.Errorf("API returned %s", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "claim request JSON file")
	cmd.Flags().StringVar(&apiURL, "api-url", "http://localhost:8080", "adjudication API base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key")
	cmd.MarkFlagRequired("file")

	return cmd
}

func sampleCmd() *cobra.Command {
	var (
		out     string
		valid   int
		invalid int
		seed    int64
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate a sample claim feed file (one JSON record per line)",
		RunE: func(cmd *cobra.Command, args []string) error {
			records := ingest.GenerateSample(valid, invalid, seed)

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create sample file: %w", err)
			}
			defer f.Close()

			w := bufio.NewWriter(f)
			enc := json.NewEncoder(w)
			for i := range records {
				if err := enc.Encode(&records[i]); err != nil {
					return err
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records (%d valid, %d invalid) to %s\n",
				len(records), valid, invalid, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "claims_feed.jsonl", "output file")
	cmd.Flags().IntVar(&valid, "valid", 100, "number of valid records")
	cmd.Flags().IntVar(&invalid, "invalid", 10, "number of invalid records")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")

	return cmd
}

func topicsCmd() *cobra.Command {
	var brokers []string

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage claim platform topics",
	}
	cmd.PersistentFlags().StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "broker addresses")

	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create the platform topics that do not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := redpanda.NewAdmin(brokers, zap.NewNop())
			if err != nil {
				return err
			}
			defer admin.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := admin.EnsureTopics(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "topics ensured")
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List topics on the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := redpanda.NewAdmin(brokers, zap.NewNop())
			if err != nil {
				return err
			}
			defer admin.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			topics, err := admin.ListTopics(ctx)
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}

	lag := &cobra.Command{
		Use:   "lag [group]",
		Short: "Show consumer group lag per partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := redpanda.NewAdmin(brokers, zap.NewNop())
			if err != nil {
				return err
			}
			defer admin.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			lags, err := admin.GetConsumerGroupLag(ctx, args[0])
			if err != nil {
				return err
			}
			for topic, partitions := range lags {
				for partition, l := range partitions {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%d: %d\n", topic, partition, l)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(ensure, list, lag)
	return cmd
}

func feedCmd() *cobra.Command {
	var brokers []string

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Work with the raw claims feed",
	}
	cmd.PersistentFlags().StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "broker addresses")

	publish := &cobra.Command{
		Use:   "publish [file]",
		Short: "Publish a feed file (one JSON record per line) to the feed topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open feed file: %w", err)
			}
			defer f.Close()

			producerCfg := redpanda.DefaultProducerConfig()
			producerCfg.Brokers = brokers
			producer, err := redpanda.NewProducer(producerCfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer producer.Close()

			ctx := cmd.Context()
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

			var count int
			for scanner.Scan() {
				line := bytes.TrimSpace(scanner.Bytes())
				if len(line) == 0 {
					continue
				}
				record := make([]byte, len(line))
				copy(record, line)
				if err := producer.Publish(ctx, redpanda.TopicClaimFeed, strconv.Itoa(count), record); err != nil {
					return fmt.Errorf("publish record %d: %w", count, err)
				}
				count++
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			flushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := producer.Flush(flushCtx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %d records to %s\n", count, redpanda.TopicClaimFeed)
			return nil
		},
	}

	cmd.AddCommand(publish)
	return cmd
}
