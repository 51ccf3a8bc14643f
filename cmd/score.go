package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmorganca/ngram/format"
	"github.com/jmorganca/ngram/lm"
	"github.com/jmorganca/ngram/progress"
)

func addSentenceFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("bos", true, "Start each sentence with <s>")
	cmd.Flags().Bool("eos", true, "End each sentence with </s>")
}

func sentenceFlags(cmd *cobra.Command) (bos, eos bool, err error) {
	if bos, err = cmd.Flags().GetBool("bos"); err != nil {
		return
	}
	eos, err = cmd.Flags().GetBool("eos")
	return
}

func NewScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score MODEL [TEXT...]",
		Short: "Score a sentence word by word",
		Long:  "Score a sentence word by word. Without TEXT every line of standard input is scored as a sentence.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  scoreHandler,
	}

	addSentenceFlags(cmd)
	return cmd
}

func scoreHandler(cmd *cobra.Command, args []string) error {
	bos, eos, err := sentenceFlags(cmd)
	if err != nil {
		return err
	}

	m, err := loadModel(args[0])
	if err != nil {
		return err
	}
	defer m.Close()

	w := cmd.OutOrStdout()
	if len(args) > 1 {
		return printScore(w, m, strings.Fields(strings.Join(args[1:], " ")), bos, eos)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	for scanner.Scan() {
		if err := printScore(w, m, strings.Fields(scanner.Text()), bos, eos); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func printScore(w io.Writer, m lm.Model, words []string, bos, eos bool) error {
	s, err := lm.ScoreSentence(m, words, bos, eos)
	if err != nil {
		return err
	}

	var data [][]string
	for _, ws := range s.Words {
		word := ws.Word
		if ws.OOV {
			word += " (OOV)"
		}
		data = append(data, []string{word, strconv.FormatUint(uint64(ws.Index), 10), strconv.Itoa(ws.NgramLength), format.LogProb(ws.Prob)})
	}

	table := newTable(w, "WORD", "INDEX", "NGRAM", "LOGPROB")
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(w, "Total: %s OOV: %d\n\n", format.LogProb(s.Total), s.OOVs)
	return nil
}

func NewPerplexityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perplexity MODEL FILE",
		Short: "Compute the perplexity of a corpus",
		Long:  "Compute the perplexity of a corpus with one sentence per line. Use - to read standard input.",
		Args:  cobra.ExactArgs(2),
		RunE:  perplexityHandler,
	}

	addSentenceFlags(cmd)
	cmd.Flags().IntP("workers", "w", runtime.NumCPU(), "Number of sentences scored in parallel")
	return cmd
}

func perplexityHandler(cmd *cobra.Command, args []string) error {
	bos, eos, err := sentenceFlags(cmd)
	if err != nil {
		return err
	}

	workers, err := cmd.Flags().GetInt("workers")
	if err != nil {
		return err
	}

	m, err := loadModel(args[0])
	if err != nil {
		return err
	}
	defer m.Close()

	var r io.Reader
	var size int64
	if args[1] == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		fi, err := f.Stat()
		if err != nil {
			return err
		}

		r, size = f, fi.Size()
	}

	var onRead func(int64)
	if size > 0 && progress.IsTerminal(os.Stderr) {
		p := progress.NewProgress(os.Stderr)
		bar := progress.NewBar("scoring", size)
		p.Add("", bar)
		defer p.StopAndClear()
		onRead = bar.Add
	}

	stats, err := corpusPerplexity(cmd.Context(), m, r, workers, bos, eos, onRead)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-28s%d\n", "Sentences:", stats.Sentences)
	fmt.Fprintf(w, "%-28s%d\n", "Tokens:", stats.Words)
	fmt.Fprintf(w, "%-28s%d\n", "OOVs:", stats.OOVs)
	fmt.Fprintf(w, "%-28s%.4f\n", "Log10 probability:", stats.LogProb)
	fmt.Fprintf(w, "%-28s%s\n", "Perplexity including OOVs:", format.Perplexity(stats.Perplexity()))
	fmt.Fprintf(w, "%-28s%s\n", "Perplexity excluding OOVs:", format.Perplexity(stats.PerplexityExcludingOOVs()))
	return nil
}

// corpusPerplexity scores every non-blank line of r as a sentence using
// workers goroutines. Scores are summed in input order so the totals do not
// depend on the worker count.
func corpusPerplexity(ctx context.Context, m lm.Model, r io.Reader, workers int, bos, eos bool, onRead func(int64)) (lm.PerplexityStats, error) {
	workers = max(workers, 1)

	type line struct {
		n    int
		text string
	}

	type scored struct {
		n     int
		score lm.SentenceScore
	}

	g, ctx := errgroup.WithContext(ctx)
	lines := make(chan line, workers*4)
	g.Go(func() error {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64<<10), 16<<20)
		var n int
		for scanner.Scan() {
			text := scanner.Text()
			if onRead != nil {
				onRead(int64(len(text) + 1))
			}

			if strings.TrimSpace(text) == "" {
				continue
			}

			select {
			case lines <- line{n, text}:
				n++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return scanner.Err()
	})

	results := make(chan scored, workers*4)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for l := range lines {
				s, err := lm.ScoreSentence(m, strings.Fields(l.text), bos, eos)
				if err != nil {
					return err
				}

				select {
				case results <- scored{l.n, s}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var total lm.PerplexityStats
	pending := make(map[int]lm.SentenceScore)
	var next int
	for res := range results {
		pending[res.n] = res.score
		for s, ok := pending[next]; ok; s, ok = pending[next] {
			total.Add(s)
			delete(pending, next)
			next++
		}
	}

	if err := g.Wait(); err != nil {
		return lm.PerplexityStats{}, err
	}

	return total, nil
}
