package github

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"plenario/internal/command"
)

type AuthTokenSource string

const (
	AuthTokenSourceExplicit AuthTokenSource = "explicit"
	AuthTokenSourceEnv      AuthTokenSource = "env:GITHUB_TOKEN"
	AuthTokenSourceGHEnv    AuthTokenSource = "env:GH_TOKEN"
	AuthTokenSourceGitHubCL AuthTokenSource = "gh"
)

// ResolveAuthToken resolves a GitHub access token.
//
// Precedence:
//  1. provided (if non-empty)
//  2. GITHUB_TOKEN, then GH_TOKEN env vars
//  3. GitHub CLI: `gh auth token -h github.com`
//
// It never prints the token. An empty token with a nil error means none was
// found.
func ResolveAuthToken(ctx context.Context, provided string) (token string, source AuthTokenSource, err error) {
	if tok := strings.TrimSpace(provided); tok != "" {
		return tok, AuthTokenSourceExplicit, nil
	}

	if env := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); env != "" {
		return env, AuthTokenSourceEnv, nil
	}
	if env := strings.TrimSpace(os.Getenv("GH_TOKEN")); env != "" {
		return env, AuthTokenSourceGHEnv, nil
	}

	tok, ok, err := tokenFromGitHubCLI(ctx, command.Exec{Env: []string{"GH_PAGER=cat"}})
	if err != nil {
		return "", "", err
	}
	if ok {
		return tok, AuthTokenSourceGitHubCL, nil
	}
	return "", "", nil
}

func tokenFromGitHubCLI(ctx context.Context, r command.Runner) (token string, ok bool, err error) {
	if command.Check([]string{"gh"}) != nil {
		return "", false, nil
	}

	// Bounded so a broken gh config or credential helper cannot hang a run.
	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	out, runErr := r.Run(cmdCtx, "gh", "auth", "token", "-h", "github.com")
	if runErr != nil {
		if cmdCtx.Err() != nil {
			return "", false, cmdCtx.Err()
		}
		// gh present but not logged in. Its output is not surfaced.
		return "", false, nil
	}

	tok := strings.TrimSpace(string(out))
	if tok == "" {
		return "", false, nil
	}
	if strings.ContainsAny(tok, " \t\n\r") {
		return "", false, errors.New("invalid token returned by gh: contains whitespace")
	}
	return tok, true, nil
}
