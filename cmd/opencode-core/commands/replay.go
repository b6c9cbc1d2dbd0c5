package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode-core/internal/config"
	"github.com/opencode-ai/opencode-core/internal/core"
	"github.com/opencode-ai/opencode-core/internal/logging"
	"github.com/opencode-ai/opencode-core/internal/wire"
)

var replayInputPath string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a newline-delimited envelope stream through the core",
	Long: `replay reads one JSON-encoded wire envelope per line (from a
file given by --input, or stdin) and feeds each through a Core exactly
the way a live SSE connection would, then prints the reconciled session,
message, and part state once the stream is exhausted.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayInputPath, "input", "", "Path to a newline-delimited envelope file (default: stdin)")
}

// ndjsonSource implements core.StreamSource over a line-oriented reader.
type ndjsonSource struct {
	scanner *bufio.Scanner
}

func (s *ndjsonSource) Next(ctx context.Context) (*wire.Envelope, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e wire.Envelope
		if err := json.Unmarshal(line, &e); err != nil {
			logging.Warn().Err(err).Msg("replay: skipping malformed line")
			continue
		}
		return &e, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func runReplay(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	c := core.New(cfg, nil)

	var input io.Reader = os.Stdin
	if replayInputPath != "" {
		f, err := os.Open(replayInputPath)
		if err != nil {
			return fmt.Errorf("replay: opening input: %w", err)
		}
		defer f.Close()
		input = f
	}

	sessionIDs := make(map[string]struct{})
	src := &ndjsonSource{scanner: bufio.NewScanner(input)}
	src.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		e, nextErr := src.Next(ctx)
		if nextErr != nil {
			if nextErr == io.EOF {
				break
			}
			return nextErr
		}
		if sid := e.ResolveSessionID(); sid != "" {
			sessionIDs[sid] = struct{}{}
		}
		c.ApplyEvent(e)
	}

	// Force the coalescer's pending batch window to fire so the final
	// lines of the stream are reflected before we print the summary.
	c.Drain()

	printSummary(c, sessionIDs)
	return nil
}

func printSummary(c *core.Core, sessionIDs map[string]struct{}) {
	store := c.Store()
	for sid := range sessionIDs {
		sess, err := store.GetSession(sid)
		if err != nil {
			fmt.Printf("session %s: %v\n", sid, err)
			continue
		}
		fmt.Printf("session %s (directory=%s)\n", sess.ID, sess.Directory)

		for _, msg := range store.ListMessagesBySession(sid) {
			fmt.Printf("  message %s role=%s\n", msg.ID, msg.Role)
			for _, part := range store.ListPartsByMessage(msg.ID) {
				fmt.Printf("    part %s type=%s\n", part.ID, part.Type)
			}
		}
	}

	stats := c.GetDeduplicatorStats()
	fmt.Printf("dedup cache: %d/%d entries\n", stats.Size, stats.MaxSize)
}
