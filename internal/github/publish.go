package github

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"plenario/internal/runner"

	"github.com/google/go-github/v66/github"
)

// Publisher writes files into one directory of one branch of a repository.
type Publisher struct {
	client  *github.Client
	owner   string
	repo    string
	branch  string
	dir     string
	message string
}

// NewPublisher targets repo ("OWNER/REPO"). An empty branch uses the
// repository default branch.
func NewPublisher(c *Client, repo, branch, dir, message string) (*Publisher, error) {
	if c == nil || c.Client == nil {
		return nil, errors.New("github client is nil")
	}
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid repository %q: expected OWNER/REPO", repo)
	}
	return &Publisher{
		client:  c.Client,
		owner:   owner,
		repo:    name,
		branch:  branch,
		dir:     strings.Trim(dir, "/"),
		message: message,
	}, nil
}

// Put creates or updates name under the publish directory. It returns false
// without writing when the remote file already has the same content.
func (p *Publisher) Put(ctx context.Context, name string, content []byte) (bool, error) {
	repoPath := path.Join(p.dir, name)

	var getOpts *github.RepositoryContentGetOptions
	if p.branch != "" {
		getOpts = &github.RepositoryContentGetOptions{Ref: p.branch}
	}
	file, dir, resp, err := p.client.Repositories.GetContents(ctx, p.owner, p.repo, repoPath, getOpts)
	var remoteSHA string
	switch {
	case err == nil && file == nil && dir != nil:
		return false, runner.Permanent(fmt.Errorf("%s is a directory", repoPath))
	case err == nil:
		remoteSHA = file.GetSHA()
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		// New file.
	default:
		return false, classify(repoPath, err)
	}

	if remoteSHA != "" && remoteSHA == BlobSHA(content) {
		return false, nil
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(p.message),
		Content: content,
	}
	if p.branch != "" {
		opts.Branch = github.String(p.branch)
	}
	if remoteSHA == "" {
		_, _, err = p.client.Repositories.CreateFile(ctx, p.owner, p.repo, repoPath, opts)
	} else {
		opts.SHA = github.String(remoteSHA)
		_, _, err = p.client.Repositories.UpdateFile(ctx, p.owner, p.repo, repoPath, opts)
	}
	if err != nil {
		return false, classify(repoPath, err)
	}
	return true, nil
}

// BlobSHA is the git blob object ID of content, as reported by the
// contents API.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// classify marks API errors that retrying cannot fix. Conflicts (a concurrent
// update moved the SHA) and server errors stay retryable.
func classify(repoPath string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w", repoPath, err)
	}
	var apiErr *github.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		code := apiErr.Response.StatusCode
		wrapped := fmt.Errorf("%s: HTTP %d: %s", repoPath, code, apiErr.Message)
		switch code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
			return runner.Permanent(wrapped)
		}
		return wrapped
	}
	return fmt.Errorf("%s: %w", repoPath, err)
}
