package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jabraham1/dok-tok/internal/apperr"
	"github.com/jabraham1/dok-tok/internal/extract"
	"github.com/jabraham1/dok-tok/internal/indexing"
	"github.com/jabraham1/dok-tok/internal/retrieval"
	"github.com/jabraham1/dok-tok/internal/vector"
)

type Indexer interface {
	Index(ctx context.Context, sourceID, body string, meta map[string]string) (*indexing.Result, error)
}

type ChunkDeleter interface {
	DeleteBySource(ctx context.Context, source string) (int64, error)
}

type Extractor interface {
	Extract(ctx context.Context, doc extract.Document) (string, error)
}

type Retriever interface {
	Answer(ctx context.Context, question string, opts *retrieval.AnswerOptions) (*retrieval.Answer, error)
	Search(ctx context.Context, query string, k int) ([]vector.Match, error)
}

type services struct {
	indexer   Indexer
	chunks    ChunkDeleter
	extractor Extractor
	retriever Retriever
}

// sourcePrefix marks chunks indexed from the command line.
const sourcePrefix = "cli_"

// cliSourceID names a file by its slash-separated path below the indexed
// directory, so same-named files in sibling folders stay apart.
func cliSourceID(rel string) string {
	return sourcePrefix + filepath.ToSlash(rel)
}

func newRootCmd(svc *services) *cobra.Command {
	root := &cobra.Command{
		Use:           "doktok",
		Short:         "Index lab reports and ask questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newIndexCmd(svc), newQueryCmd(svc), newAskCmd(svc))
	return root
}

func newIndexCmd(svc *services) *cobra.Command {
	return &cobra.Command{
		Use:   "index [dir]",
		Short: "Index every supported document under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, svc, args[0])
		},
	}
}

func runIndex(cmd *cobra.Command, svc *services, dir string) error {
	ctx := cmd.Context()
	var indexed, failed int

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- paths come from the directory the user asked to index
		if err != nil {
			return err
		}
		mediaType, mime, err := extract.DetectMediaType(d.Name(), data)
		if err != nil {
			cmd.Printf("skipped %s: %s\n", path, apperr.Message(err))
			return nil
		}

		text, err := svc.extractor.Extract(ctx, extract.Document{Name: d.Name(), MediaType: mediaType, MIME: mime, Data: data})
		if err != nil {
			failed++
			cmd.Printf("failed %s: %s\n", path, apperr.Message(err))
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		sourceID := cliSourceID(rel)

		// A re-run replaces the previous chunks so a shorter text leaves no tail.
		if _, err := svc.chunks.DeleteBySource(ctx, sourceID); err != nil {
			failed++
			cmd.Printf("failed %s: could not clear previous chunks: %s\n", path, apperr.Message(err))
			return nil
		}

		res, err := svc.indexer.Index(ctx, sourceID, text, map[string]string{
			"filename":   d.Name(),
			"media_type": string(mediaType),
		})
		if err != nil {
			failed++
			cmd.Printf("failed %s: %s\n", path, apperr.Message(err))
			return nil
		}
		indexed++
		cmd.Printf("indexed %s as %s (%d chunks)\n", path, sourceID, res.Indexed)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}

	cmd.Printf("%d documents indexed, %d failed\n", indexed, failed)
	if failed > 0 {
		return fmt.Errorf("%d documents could not be indexed", failed)
	}
	return nil
}

func newQueryCmd(svc *services) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Show the chunks most similar to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := svc.retriever.Search(cmd.Context(), args[0], k)
			if err != nil {
				return fmt.Errorf("search failed: %s", apperr.Message(err))
			}
			if len(matches) == 0 {
				cmd.Println("No results found.")
				return nil
			}
			for i, m := range matches {
				cmd.Printf("[%d] %s #%d (distance %.4f)\n", i+1, m.SourceID, m.Index, m.Distance)
				cmd.Printf("    %s\n", m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", retrieval.DefaultTopK, "number of matches")
	return cmd
}

func newAskCmd(svc *services) *cobra.Command {
	var source string
	var topK int
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed lab notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answer, err := svc.retriever.Answer(cmd.Context(), args[0], &retrieval.AnswerOptions{TopK: topK, Source: source})
			if errors.Is(err, apperr.ErrNoContext) {
				cmd.Println("No relevant lab notes found. Index some documents first.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("ask failed: %s", apperr.Message(err))
			}
			cmd.Println(answer.Text)
			if len(answer.Sources) > 0 {
				cmd.Println()
				cmd.Println("Sources:")
				for _, s := range answer.Sources {
					cmd.Printf("  - %s\n", s)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only use chunks from this source")
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of chunks to retrieve")
	return cmd
}
