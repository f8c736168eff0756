package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/assistcore/internal/config"
	"github.com/opencode-ai/assistcore/internal/router"
	"github.com/opencode-ai/assistcore/internal/snapshot"
	"github.com/opencode-ai/assistcore/pkg/types"
)

var (
	askFile        string
	askSelection   string
	askCompletion  bool
	askTemperature float64
	askTimeout     time.Duration
	askNoColor     bool
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt...]",
	Short: "Send one request and stream the answer",
	Long: `Send one request through the configured providers and print the answer
as it streams. Ctrl-C cancels the request.

Examples:
  assistcore ask "What does this function do?" --file internal/router/router.go
  assistcore ask --completion --file main.go
  echo "summarize" | assistcore ask --file README.md`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askFile, "file", "f", "", "Active file, relative to the working directory")
	askCmd.Flags().StringVarP(&askSelection, "selection", "s", "", "Selected text")
	askCmd.Flags().BoolVar(&askCompletion, "completion", false, "Request an inline completion instead of chat")
	askCmd.Flags().Float64Var(&askTemperature, "temperature", 0, "Sampling temperature")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 0, "Overall request timeout (default from config)")
	askCmd.Flags().BoolVar(&askNoColor, "no-color", false, "Disable colored output")
}

func runAsk(cmd *cobra.Command, args []string) error {
	color.NoColor = color.NoColor || askNoColor

	prompt := strings.Join(args, " ")
	if prompt == "" {
		if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read prompt from stdin: %w", err)
			}
			prompt = strings.TrimSpace(string(data))
		}
	}
	if prompt == "" && !askCompletion {
		return fmt.Errorf("prompt required. Usage: assistcore ask \"your question\"")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cmd, workDir, printLogs)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	if a.registry.Len() == 0 {
		return fmt.Errorf("no providers configured; add one to %s", config.ProjectConfigPath(workDir))
	}

	intent := types.Intent{Kind: types.IntentChat, Prompt: prompt}
	opts := config.SnapshotOptions(a.cfg)
	if askCompletion {
		intent.Kind = types.IntentCompletion
		opts.RequireActiveDocument = true
	}

	editor := snapshot.NewFSEditor(nil, workDir,
		snapshot.WithActiveFile(askFile),
		snapshot.WithSelection(askSelection),
	)
	snap, err := snapshot.NewBuilder(editor).Build(ctx, opts)
	if err != nil {
		return err
	}

	reqOpts := []router.RequestOption{router.WithRequestTimeout(askTimeout)}
	if cmd.Flags().Changed("temperature") {
		reqOpts = append(reqOpts, router.WithTemperature(askTemperature))
	}
	h, err := a.router.SubmitSnapshot(ctx, intent, snap, reqOpts...)
	if err != nil {
		return err
	}
	stream, err := a.router.Subscribe(h.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	dim := color.New(color.FgHiBlack)
	for c, err := range stream.All(ctx) {
		if err != nil {
			fmt.Fprintln(out)
			return reportFailure(cmd, a.router, h, err)
		}
		fmt.Fprint(out, c.Text)
	}

	st := h.Status()
	fmt.Fprintln(out)
	dim.Fprintf(cmd.ErrOrStderr(), "(%s, %d chunks, %s)\n",
		st.ProviderID, st.Chunks, time.Since(h.CreatedAt).Round(time.Millisecond))
	return nil
}

// reportFailure prints why a request ended early and returns the error to
// exit with.
func reportFailure(cmd *cobra.Command, rt *router.Router, h *router.Handle, err error) error {
	errOut := cmd.ErrOrStderr()

	if errors.Is(err, context.Canceled) {
		rt.Cancel(h.ID)
		color.New(color.FgYellow).Fprintln(errOut, "cancelled")
		return err
	}

	var typed *types.Error
	if !errors.As(err, &typed) {
		color.New(color.FgRed).Fprintf(errOut, "error: %v\n", err)
		return err
	}

	color.New(color.FgRed, color.Bold).Fprintf(errOut, "%s", typed.Kind)
	if typed.Message != "" {
		fmt.Fprintf(errOut, ": %s", typed.Message)
	}
	fmt.Fprintln(errOut)
	for _, at := range typed.Attempts {
		color.New(color.FgHiBlack).Fprintf(errOut, "  %s: %s %s\n", at.ProviderID, at.Kind, at.Message)
	}
	return fmt.Errorf("request failed: %s", typed.Kind)
}
