package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/personifai/personifai/internal/message"
	"github.com/personifai/personifai/internal/parser"
)

func newParseCmd() *cobra.Command {
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Split a reply into prose and [[ACTION]] commands",
		Long: `Feed a reply through the streaming marker parser and print one JSON
segment per line, as the chat engine would emit them.

The input is split into chunks of --chunk bytes to simulate a token stream.
If no file is provided, reads from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				input []byte
				err   error
			)
			if len(args) == 0 {
				input, err = io.ReadAll(cmd.InOrStdin())
			} else {
				input, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			if chunkSize <= 0 {
				return fmt.Errorf("--chunk must be positive")
			}
			return streamParse(cmd.OutOrStdout(), string(input), chunkSize)
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk", 4, "bytes per simulated stream chunk, rounded to whole runes")
	return cmd
}

func streamParse(w io.Writer, text string, chunkSize int) error {
	enc := json.NewEncoder(w)
	p := parser.New()
	for start := 0; start < len(text); {
		end := chunkEnd(text, start, chunkSize)
		chunk := text[start:end]
		start = end

		clean, commands := p.Parse(chunk)
		seg := message.Segment{CleanText: clean, Commands: commands}
		if seg.Empty() {
			continue
		}
		if seg.Commands == nil {
			seg.Commands = []string{}
		}
		if err := enc.Encode(seg); err != nil {
			return err
		}
	}
	res := p.Finalize()
	return enc.Encode(message.Segment{
		CleanText: parser.Normalize(res.CleanText),
		Commands:  res.Commands,
		IsEnd:     true,
	})
}

// chunkEnd returns the end of the chunk starting at start, moved back to a
// rune boundary. A chunk always holds at least one whole rune.
func chunkEnd(text string, start, size int) int {
	end := min(start+size, len(text))
	for end > start && end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == start {
		_, width := utf8.DecodeRuneInString(text[start:])
		end = start + width
	}
	return end
}
