package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nightlight-labs/lullaby/internal/pipeline"
)

// outcomeError turns a failed outcome into an error for the command line.
func outcomeError(o pipeline.Outcome) error {
	if o.OK() {
		return nil
	}
	msg := string(o.Reason)
	switch o.Reason {
	case pipeline.ReasonOffline:
		msg = "offline and nothing cached for this request"
	case pipeline.ReasonRateLimited:
		msg = "the provider is rate limiting requests, try again later"
	case pipeline.ReasonTimeout:
		msg = "the provider did not answer in time"
	}
	if o.Code != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, o.Code)
	}
	if o.Err != nil {
		return fmt.Errorf("%s: %w", msg, o.Err)
	}
	return errors.New(msg)
}

// describe renders a short status line for an outcome.
func describe(o pipeline.Outcome) string {
	switch {
	case o.Kind == pipeline.KindHit && o.Stale:
		return warning("cached copy (expired, served while offline)")
	case o.Kind == pipeline.KindHit:
		return keyword("cached")
	case o.Kind == pipeline.KindSynthesized && o.ProviderUsed == pipeline.RoleFallback:
		return warning("generated by fallback " + o.ProviderName)
	case o.Kind == pipeline.KindSynthesized:
		return keyword("generated by "+o.ProviderName) + faint(fmt.Sprintf(" (%d attempts)", o.Attempts))
	default:
		return warning(o.String())
	}
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("unable to write %s: %w", path, err)
	}
	return nil
}

// readInput returns arg, or stdin when arg is "-".
func readInput(arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("unable to read from stdin: %w", err)
	}
	return string(b), nil
}
