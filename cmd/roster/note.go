package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/roster/internal/store"
	"github.com/hurttlocker/roster/internal/transcribe"
	"github.com/hurttlocker/roster/internal/workflow"
)

const maxPromptAttempts = 3

func (a *app) noteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "note",
		Aliases: []string{"notes"},
		Short:   "Save and analyze sales notes",
	}
	cmd.AddCommand(a.noteAddCommand(), a.noteAnalyzeCommand())
	return cmd
}

func (a *app) noteAddCommand() *cobra.Command {
	var (
		clientName string
		clientID   int64
		audioPath  string
		analyze    bool
		decide     string
	)
	cmd := &cobra.Command{
		Use:   "add [text...]",
		Short: "Save a note, confirming the client when the name is a close match",
		Long: `Save a sales note. When --client closely matches an existing client you
are asked whether you meant that client; answering no registers the name as
a new client. With --audio the recording is transcribed and used as the
note text. With --analyze the note is analyzed right after saving.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.openRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			body := joinArgs(args)
			if audioPath != "" {
				text, err := a.transcribe(ctx, audioPath)
				if err != nil {
					return err
				}
				body = strings.TrimSpace(text + "\n" + body)
			}
			if body == "" {
				return fmt.Errorf("note text is required (pass text or --audio)")
			}

			d := workflow.Draft{ClientNameText: clientName, Body: body}
			if clientID > 0 {
				d.ClientID = &clientID
			}
			out, err := rt.engine.Submit(ctx, d)
			if err != nil {
				return err
			}
			if out, err = a.resolve(ctx, rt, out, decide); err != nil {
				return err
			}
			if err := a.report(ctx, rt, out); err != nil {
				return err
			}

			if !analyze {
				return nil
			}
			if rt.extractErr != nil {
				return fmt.Errorf("cannot analyze: %w", rt.extractErr)
			}
			res, ok := out.State.(workflow.Resolved)
			if !ok {
				return nil
			}
			analyzed, err := rt.engine.Analyze(ctx, res.RecordID)
			if err != nil {
				return err
			}
			if analyzed, err = a.resolve(ctx, rt, analyzed, decide); err != nil {
				return err
			}
			return a.report(ctx, rt, analyzed)
		},
	}
	cmd.Flags().StringVarP(&clientName, "client", "c", "", "client name as you would type it")
	cmd.Flags().Int64Var(&clientID, "client-id", 0, "attach to this client without matching")
	cmd.Flags().StringVar(&audioPath, "audio", "", "transcribe this recording as the note text")
	cmd.Flags().BoolVar(&analyze, "analyze", false, "run AI analysis after saving")
	cmd.Flags().StringVar(&decide, "decide", "", "answer confirmations without prompting: accept or reject")
	return cmd
}

func (a *app) noteAnalyzeCommand() *cobra.Command {
	var (
		all    bool
		limit  int
		decide string
	)
	cmd := &cobra.Command{
		Use:   "analyze [record-id]",
		Short: "Run AI analysis on a saved note, or on all unanalyzed notes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass a record id or --all")
			}
			ctx := cmd.Context()
			rt, err := a.openRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.extractErr != nil {
				return fmt.Errorf("cannot analyze: %w", rt.extractErr)
			}

			if !all {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid record id %q", args[0])
				}
				out, err := rt.engine.Analyze(ctx, id)
				if err != nil {
					return err
				}
				if out, err = a.resolve(ctx, rt, out, decide); err != nil {
					return err
				}
				return a.report(ctx, rt, out)
			}

			outcomes, err := rt.engine.AnalyzePending(ctx, limit)
			if err != nil {
				return err
			}
			if len(outcomes) == 0 {
				a.printf("No unanalyzed notes\n")
				return nil
			}
			var failed int
			for _, out := range outcomes {
				if out.Err != nil {
					failed++
					a.printf("note #%d: analysis failed: %v\n", out.Record.ID, out.Err)
					continue
				}
				out, err := a.resolve(ctx, rt, out, decide)
				if err != nil {
					return err
				}
				if err := a.report(ctx, rt, out); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d notes failed analysis", failed, len(outcomes))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "analyze every note that has not been analyzed")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum notes to analyze with --all")
	cmd.Flags().StringVar(&decide, "decide", "", "answer confirmations without prompting: accept or reject")
	return cmd
}

// resolve answers confirmations until out is no longer awaiting. The answer
// comes from decide when set, otherwise from the user.
func (a *app) resolve(ctx context.Context, rt *runtime, out *workflow.Outcome, decide string) (*workflow.Outcome, error) {
	for workflow.IsAwaiting(out.State) {
		var (
			d   workflow.Decision
			err error
		)
		if decide != "" {
			d, err = workflow.ParseDecision(decide)
		} else {
			d, err = a.ask(workflow.Prompt(out.State))
		}
		if err != nil {
			rt.engine.Cancel(out.Key)
			return nil, err
		}
		next, err := rt.engine.Confirm(ctx, out.Key, d)
		if err != nil {
			rt.engine.Cancel(out.Key)
			return nil, err
		}
		next.Record = firstRecord(next.Record, out.Record)
		next.Extraction = out.Extraction
		out = next
	}
	return out, nil
}

// ask prompts on the output stream and reads a yes/no answer.
func (a *app) ask(question string) (workflow.Decision, error) {
	if a.reader == nil {
		a.reader = bufio.NewReader(a.in)
	}
	for i := 0; i < maxPromptAttempts; i++ {
		a.printf("%s [y/n]: ", question)
		line, err := a.reader.ReadString('\n')
		if answer := strings.TrimSpace(line); answer != "" {
			if d, perr := workflow.ParseDecision(answer); perr == nil {
				return d, nil
			}
			a.printf("Please answer y or n.\n")
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return workflow.Reject, fmt.Errorf("confirmation needed: answer interactively or pass --decide")
			}
			return workflow.Reject, err
		}
	}
	return workflow.Reject, fmt.Errorf("no valid answer after %d attempts", maxPromptAttempts)
}

// report prints where a note ended up.
func (a *app) report(ctx context.Context, rt *runtime, out *workflow.Outcome) error {
	if a.jsonOut {
		return a.printJSON(out)
	}
	res, ok := out.State.(workflow.Resolved)
	if !ok {
		return nil
	}
	if out.Extraction != nil && out.Extraction.Summary != "" {
		a.printf("Summary: %s\n", out.Extraction.Summary)
	}
	if res.ClientID == nil {
		a.printf("Note #%d saved without a client\n", res.RecordID)
		return nil
	}
	c, err := rt.registry.Get(ctx, *res.ClientID)
	if err != nil {
		return err
	}
	verb := "attached to"
	if res.Created {
		verb = "attached to new client"
	}
	a.printf("Note #%d %s %s (id %d)\n", res.RecordID, verb, c.Name, c.ID)
	if out.Sync != nil && (len(out.Sync.Added) > 0 || len(out.Sync.Merged) > 0) {
		a.printf("Contacts: %d added, %d updated\n", len(out.Sync.Added), len(out.Sync.Merged))
	}
	return nil
}

func (a *app) transcribe(ctx context.Context, path string) (string, error) {
	t, err := a.newTranscriber(a.cfg)
	if err != nil {
		return "", err
	}
	text, err := transcribe.TranscribeFile(ctx, t, path)
	if err != nil {
		return "", err
	}
	a.logger.Debug().Str("audio", path).Int("chars", len(text)).Msg("transcribed")
	return text, nil
}

func recordsFor(clientID int64) store.RecordFilter {
	return store.RecordFilter{ClientID: &clientID}
}

func firstRecord(recs ...*store.Record) *store.Record {
	for _, r := range recs {
		if r != nil {
			return r
		}
	}
	return nil
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
