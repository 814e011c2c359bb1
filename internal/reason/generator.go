// Package reason optionally renders a decision's deterministic
// justification into prose through an external reasoning CLI. The
// deterministic justification is always the fallback: prose generation may
// fail, time out, or be disabled, and the decision stands either way.
package reason

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dotcommander/chord/internal/models"
)

const disableExternalLLMEnv = "CHORD_DISABLE_EXTERNAL_LLM"

const claudeHooklessSettingsJSON = `{"hooks":{}}`

// validatePrompt checks for unsafe characters in prompts.
// While Go's exec avoids shell injection (no shell involved),
// this is defense-in-depth: external CLIs may be shell scripts.
func validatePrompt(s string) error {
	if len(s) == 0 {
		return errors.New("empty prompt")
	}
	if len(s) > 16000 {
		return fmt.Errorf("prompt exceeds 16000 byte limit (%d bytes)", len(s))
	}
	if strings.ContainsRune(s, 0) {
		return errors.New("prompt contains null byte")
	}
	return nil
}

// Generator dispatches prose prompts to a reasoning CLI. "claude" uses
// `claude -p`, "opencode" uses `opencode run`. No API keys required — the
// CLIs handle their own auth.
type Generator struct {
	command string
	args    func(prompt string) []string
	timeout time.Duration
}

// NewGenerator returns a Generator for the given tool name. Returns an
// error when the tool is unknown, its binary is missing from PATH, or the
// kill switch is set.
func NewGenerator(tool string, timeout time.Duration) (*Generator, error) {
	if strings.TrimSpace(os.Getenv(disableExternalLLMEnv)) != "" {
		return nil, fmt.Errorf("external reasoning CLI disabled by %s", disableExternalLLMEnv)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	g, err := resolveGenerator(tool)
	if err != nil {
		return nil, err
	}
	g.timeout = timeout
	if _, err := exec.LookPath(g.command); err != nil {
		return nil, fmt.Errorf("cli tool %q not found in PATH: %w", g.command, err)
	}
	return g, nil
}

// resolveGenerator maps tool name to CLI command + arg builder.
// Empty string defaults to claude.
func resolveGenerator(tool string) (*Generator, error) {
	name := strings.ToLower(tool)
	switch {
	case strings.HasPrefix(name, "opencode"):
		return &Generator{
			command: "opencode",
			args:    func(p string) []string { return []string{"run", p} },
		}, nil
	case strings.HasPrefix(name, "claude"), name == "":
		return &Generator{
			command: "claude",
			args: func(p string) []string {
				return []string{"-p", p, "--output-format", "text", "--settings", claudeHooklessSettingsJSON}
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown reasoning tool %q (supported: claude, opencode)", tool)
	}
}

// Explain renders rec's justification as short prose. On any failure the
// deterministic justification is returned with a nil error — callers never
// lose the audit trail to a flaky external tool.
func (g *Generator) Explain(ctx context.Context, rec *models.DecisionRecord) (string, error) {
	prompt := buildPrompt(rec)

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prose, err := g.run(cctx, prompt)
	if err != nil || strings.TrimSpace(prose) == "" {
		return rec.Justification, nil
	}
	return prose, nil
}

func buildPrompt(rec *models.DecisionRecord) string {
	var b strings.Builder
	b.WriteString("Rewrite this decision audit line as two short plain sentences for a person. ")
	b.WriteString("Do not add facts or change the conclusion.\n\n")
	fmt.Fprintf(&b, "situation: %s\n", rec.Situation)
	fmt.Fprintf(&b, "chosen: %s\n", rec.ChosenOption)
	fmt.Fprintf(&b, "audit: %s\n", rec.Justification)
	if len(rec.ModulesAbsent) > 0 {
		fmt.Fprintf(&b, "modules that did not answer: %s\n", strings.Join(rec.ModulesAbsent, ", "))
	}
	return b.String()
}

// limitedWriter caps writes at maxBytes, silently discarding overflow.
// This prevents OOM from malicious or buggy CLIs emitting unbounded stderr.
type limitedWriter struct {
	buf      bytes.Buffer
	maxBytes int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	originalLen := len(p)
	remaining := w.maxBytes - w.buf.Len()
	if remaining <= 0 {
		return originalLen, nil // discard but report success
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	w.buf.Write(p)
	return originalLen, nil // always report original len to avoid short write errors
}

// run executes the CLI with the prompt and returns the text response.
func (g *Generator) run(ctx context.Context, prompt string) (string, error) {
	if err := validatePrompt(prompt); err != nil {
		return "", fmt.Errorf("invalid prompt: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context expired before exec: %w", err)
	}
	args := g.args(prompt)
	cmd := exec.CommandContext(ctx, g.command, args...) //nolint:gosec // G204: command is a known reasoning CLI binary, validated at construction
	cmd.Env = os.Environ()

	var stdout bytes.Buffer
	stderrW := &limitedWriter{maxBytes: 4096}
	cmd.Stdout = &stdout
	cmd.Stderr = stderrW

	if err := cmd.Run(); err != nil {
		stderrMsg := stderrW.buf.String()
		if stderrW.buf.Len() >= stderrW.maxBytes {
			stderrMsg += " (truncated)"
		}
		return "", fmt.Errorf("cli %s failed: %w (stderr: %s)", g.command, err, stderrMsg)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Command returns the CLI command name for this generator.
func (g *Generator) Command() string {
	return g.command
}
