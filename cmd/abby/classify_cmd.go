package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/abbyhq/abby/pkg/classifier"
	"github.com/abbyhq/abby/pkg/config"
)

// loadApp builds the pipeline for one-shot commands. Logs go to stderr so
// stdout stays machine readable.
func loadApp(ctx context.Context, stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg, stderr)
	return newApp(ctx, cfg)
}

func runClassifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("classify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	chat := cmd.Bool("chat", true, "allow conversational replies")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	text := strings.Join(cmd.Args(), " ")
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(stderr, "Usage: abby classify [--chat=false] \"<text>\"")
		return 2
	}

	ctx := context.Background()
	a, err := loadApp(ctx, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer a.Close()

	out, err := a.classifier.Classify(ctx, classifier.Request{Input: text, ConversationalMode: chat})
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out.Intent)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if out.Failure != nil {
		fmt.Fprintf(stderr, "classification failed: %v\n", out.Failure)
		return 1
	}
	return 0
}
