package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/RayYangTW/pdca/internal/loop"
)

// promptResolver asks on the terminal whether to run another round. A
// decision resolved elsewhere (control socket, timeout) closes the prompt.
type promptResolver struct {
	out io.Writer
}

type promptAnswer struct {
	approve bool
	err     error
}

// Decide implements iterative.Resolver
func (r *promptResolver) Decide(ctx context.Context, p *loop.PendingDecision) (bool, error) {
	yellow := color.New(color.FgYellow, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s round %d scored %.1f%%\n", yellow("⏸️  Decision needed:"),
		p.Metrics.IterationNumber, p.Metrics.QualityScore*100)
	for _, rec := range p.Recommendations {
		fmt.Fprintf(r.out, "  - %s\n", rec.Message)
	}
	fmt.Fprintf(r.out, "  (decision %s)\n", p.ID)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          color.New(color.FgCyan).Sprint("Run another round? [y/N] "),
		InterruptPrompt: "^C",
		EOFPrompt:       "n",
	})
	if err != nil {
		return false, fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	answers := make(chan promptAnswer, 1)
	go func() {
		for {
			line, err := rl.Readline()
			if err == readline.ErrInterrupt || err == io.EOF {
				answers <- promptAnswer{approve: false}
				return
			}
			if err != nil {
				answers <- promptAnswer{err: err}
				return
			}
			approve, ok := parseAnswer(line)
			if !ok {
				fmt.Fprintln(r.out, "Please answer y or n.")
				continue
			}
			answers <- promptAnswer{approve: approve}
			return
		}
	}()

	select {
	case a := <-answers:
		return a.approve, a.err
	case <-p.Done():
		fmt.Fprintln(r.out, "\nDecision resolved elsewhere.")
		if d := p.Decision(); d != nil {
			return d.Continue, nil
		}
		return false, nil
	case <-ctx.Done():
		fmt.Fprintln(r.out)
		return false, ctx.Err()
	}
}

// parseAnswer reads y/yes/n/no; an empty line means no
func parseAnswer(line string) (approve bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, true
	case "", "n", "no":
		return false, true
	}
	return false, false
}
