// Command fuzzyctl queries a vocabulary file from the shell without running
// the matcher service.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/harishambati/fuzzyset/internal/fuzzy"
	"github.com/harishambati/fuzzyset/internal/vocabulary"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fuzzyctl:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "fuzzyctl",
		Usage:     "Fuzzy string matching against a vocabulary",
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			{
				Name:      "match",
				Usage:     "Match each QUERY against the values in --vocab",
				ArgsUsage: "QUERY...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "vocab", Aliases: []string{"v"}, Usage: "vocabulary file (.yaml or one value per line)", Required: true},
					&cli.Float64Flag{Name: "min-score", Aliases: []string{"m"}, Usage: "lowest score to report", Value: fuzzy.DefaultMinScore},
					&cli.BoolFlag{Name: "no-levenshtein", Usage: "rank by gram cosine only"},
					&cli.IntFlag{Name: "gram-lower", Value: fuzzy.DefaultGramSizeLower},
					&cli.IntFlag{Name: "gram-upper", Value: fuzzy.DefaultGramSizeUpper},
					&cli.BoolFlag{Name: "json", Usage: "print results as JSON"},
				},
				Action: matchAction,
			},
			{
				Name:      "grams",
				Usage:     "Print the n-grams of VALUE",
				ArgsUsage: "VALUE",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "size", Aliases: []string{"n"}, Value: fuzzy.DefaultGramSizeUpper},
				},
				Action: gramsAction,
			},
			{
				Name:      "similarity",
				Usage:     "Print the edit similarity of A and B",
				ArgsUsage: "A B",
				Action:    similarityAction,
			},
		},
	}
}

type queryResult struct {
	Query   string        `json:"query"`
	Matches []fuzzy.Match `json:"matches"`
}

func matchAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("match needs at least one QUERY")
	}
	values, err := vocabulary.LoadFile(c.String("vocab"))
	if err != nil {
		return err
	}
	set, err := fuzzy.New(values, fuzzy.Options{
		UseLevenshtein: !c.Bool("no-levenshtein"),
		GramSizeLower:  c.Int("gram-lower"),
		GramSizeUpper:  c.Int("gram-upper"),
	})
	if err != nil {
		return err
	}

	results := make([]queryResult, 0, c.NArg())
	for _, q := range c.Args().Slice() {
		matches, err := set.Query(q, c.Float64("min-score"))
		if err != nil {
			return fmt.Errorf("query %q: %w", q, err)
		}
		results = append(results, queryResult{Query: q, Matches: matches})
	}

	out := c.App.Writer
	if c.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		fmt.Fprintf(out, "%s\n", r.Query)
		if len(r.Matches) == 0 {
			fmt.Fprintln(out, "  (no match)")
			continue
		}
		for _, m := range r.Matches {
			fmt.Fprintf(out, "  %.4f  %s\n", m.Score, m.Value)
		}
	}
	return nil
}

func gramsAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("grams needs exactly one VALUE")
	}
	value, err := fuzzy.Normalize(c.Args().First())
	if err != nil {
		return err
	}
	size := c.Int("size")
	if size < 1 {
		return errors.New("--size must be at least 1")
	}
	fmt.Fprintln(c.App.Writer, strings.Join(fuzzy.Grams(value, size), " "))
	return nil
}

func similarityAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("similarity needs A and B")
	}
	score, err := fuzzy.Similarity(c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%.4f\n", score)
	return nil
}
