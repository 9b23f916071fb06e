package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seenimoa/riskfolio/internal/advisor"
	"github.com/seenimoa/riskfolio/internal/ingest"
	"github.com/seenimoa/riskfolio/internal/profile"
	"github.com/seenimoa/riskfolio/internal/rag"
)

// --- Ingest Command ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load PDFs, web pages and feeds into the document store",
	Long: `Load sources into the persistent document store used by "ask" and "serve".

Examples:
  riskfolio ingest --store ./data --pdf outlook.pdf --url https://example.com/report
  riskfolio ingest --store ./data --feed https://example.com/rss --append`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.PersistDir == "" {
			return errors.New("ingest needs a persistent store: set store.persist_dir or --store")
		}
		ctx, stop := rootContext(cmd)
		defer stop()

		pdfs, _ := cmd.Flags().GetStringSlice("pdf")
		urls, _ := cmd.Flags().GetStringSlice("url")
		feeds, _ := cmd.Flags().GetStringSlice("feed")
		appendMode, _ := cmd.Flags().GetBool("append")

		var sources []ingest.Source
		for _, path := range pdfs {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			sources = append(sources, ingest.PDF(filepath.Base(path), data))
		}
		for _, u := range urls {
			sources = append(sources, ingest.URL(u))
		}
		for _, u := range feeds {
			sources = append(sources, ingest.Feed(u))
		}

		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		pipeline, err := newPipeline(cfg, logger)
		if err != nil {
			return err
		}

		result, err := pipeline.Run(ctx, sources)
		if err != nil {
			return err
		}
		var version rag.Version
		if appendMode {
			version, err = store.Add(ctx, result.Chunks)
		} else {
			version, err = store.Replace(ctx, result.Chunks)
		}
		if err != nil {
			return err
		}

		s := result.Summary
		color.Green("indexed %d documents as %d chunks from %d sources", s.DocsCount, s.ChunksCount, s.TotalSources)
		for _, f := range s.Failed {
			color.Yellow("  skipped %s: %s", f.Source, f.Error)
		}
		fmt.Printf("store generation %d (%s), %d chunks total\n", version.Generation, version.ID, version.Documents)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringSlice("pdf", nil, "PDF file to load (repeatable)")
	ingestCmd.Flags().StringSlice("url", nil, "web page or PDF URL to load (repeatable)")
	ingestCmd.Flags().StringSlice("feed", nil, "RSS/Atom feed URL to load (repeatable)")
	ingestCmd.Flags().Bool("append", false, "keep previously indexed documents")
}

// --- Ask Command ---

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask for a recommendation against the persisted store",
	Long: `Ask one question for a risk profile. The profile comes from --answers
(scored first) or from --risk-level and --horizon.

Examples:
  riskfolio ask --store ./data --risk-level 위험중립형 --horizon 3 "채권 비중을 늘릴까요?"
  riskfolio ask --store ./data --answers answers.yaml --stream "배당주 추천해줘"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := rootContext(cmd)
		defer stop()

		p, err := profileForAsk(cmd)
		if err != nil {
			return err
		}
		svc, err := buildServices(ctx, cfg, logger)
		if err != nil {
			return err
		}
		req := advisor.Request{Question: strings.Join(args, " "), Profile: p}

		start := time.Now()
		out := cmd.OutOrStdout()
		var sources []advisor.Source
		if streaming, _ := cmd.Flags().GetBool("stream"); streaming {
			stream, err := svc.advisor.Stream(ctx, req)
			if err != nil {
				return err
			}
			for chunk := range stream.Chunks {
				if chunk.Err != nil {
					return chunk.Err
				}
				fmt.Fprint(out, chunk.Content)
			}
			fmt.Fprintln(out)
			sources = stream.Sources
		} else {
			rec, err := svc.advisor.Recommend(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rec.Answer)
			sources = rec.Sources
		}

		fmt.Fprintln(out)
		for i, s := range sources {
			label := s.Source
			if s.Page != "" {
				label += " p." + s.Page
			}
			color.New(color.Faint).Fprintf(out, "[%d] %s\n", i+1, label)
		}
		color.New(color.Faint).Fprintf(out, "(%s)\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	askCmd.Flags().String("answers", "", "answers file to score into the profile")
	askCmd.Flags().String("risk-level", "", "risk band, English or Korean label")
	askCmd.Flags().Int("horizon", 0, "investment horizon option index (1-5)")
	askCmd.Flags().Bool("stream", false, "print the answer as it is generated")
}

func profileForAsk(cmd *cobra.Command) (profile.Profile, error) {
	if path, _ := cmd.Flags().GetString("answers"); path != "" {
		a, err := readAnswers(path, cmd.InOrStdin())
		if err != nil {
			return profile.Profile{}, err
		}
		return profile.Compute(a)
	}
	level, _ := cmd.Flags().GetString("risk-level")
	horizon, _ := cmd.Flags().GetInt("horizon")
	if level == "" {
		return profile.Profile{}, errors.New("provide --answers or --risk-level and --horizon")
	}
	return profile.Profile{RiskLevel: profile.RiskLevel(level), InvestmentHorizon: horizon}.Validate()
}
