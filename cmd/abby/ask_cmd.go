package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/abbyhq/abby/pkg/classifier"
	"github.com/abbyhq/abby/pkg/proposal"
	"github.com/abbyhq/abby/pkg/session"
)

// readKey maps a line of terminal input onto the card's keyboard contract.
// An empty line is Enter; end of input is Escape. Zero means unrecognized.
func readKey(r *bufio.Reader) session.Key {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return session.KeyEscape
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return session.KeyEnter
	case "esc", "n", "no", "q":
		return session.KeyEscape
	}
	return 0
}

func runAskCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ask", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	text := strings.Join(cmd.Args(), " ")
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(stderr, "Usage: abby ask \"<text>\"")
		return 2
	}

	ctx := context.Background()
	a, err := loadApp(ctx, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer a.Close()

	out, err := a.classifier.Classify(ctx, classifier.Request{Input: text})
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	switch {
	case out.Intent.Reply != "":
		fmt.Fprintln(stdout, out.Intent.Reply)
		return 0
	case out.Intent.FollowUpQuestion != "":
		fmt.Fprintln(stdout, out.Intent.FollowUpQuestion)
		if out.Failure != nil {
			return 1
		}
		return 0
	}

	p, err := a.builder.FromIntent(out.Intent)
	if errors.Is(err, proposal.ErrNotActionable) {
		fmt.Fprintln(stdout, "I can't do that yet.")
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if err := a.session.Present(ctx, p); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	in := bufio.NewReader(stdin)
	for {
		fmt.Fprint(stdout, a.session.View())
		key := readKey(in)
		if key == 0 {
			fmt.Fprintln(stdout, "Press Enter to confirm or type esc to cancel.")
			continue
		}
		res, err := a.session.HandleKey(ctx, key)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
		if res == nil {
			fmt.Fprintln(stdout, "Cancelled.")
			return 0
		}
		if !res.Success {
			fmt.Fprintf(stdout, "%sFailed:%s %s\n", ColorRed, ColorReset, res.Error)
			return 1
		}
		fmt.Fprintf(stdout, "%s%s%s\n", ColorGreen, res.Message, ColorReset)
		return 0
	}
}
