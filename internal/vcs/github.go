// Package vcs reads and writes threat models and rule templates in GitHub
// repositories through the contents API.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/analysis/declarative"
	"github.com/xkilldash9x/tmscan/internal/config"
)

// ErrNotConfigured is returned when neither the caller nor the configuration
// supplies a token or repository.
var ErrNotConfigured = errors.New("github integration not configured")

// Push outcomes.
const (
	StatusCreated = "created"
	StatusUpdated = "updated"
)

// Error wraps a failed GitHub call with the API's own message.
type Error struct {
	Op         string // "fetch" or "push"
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s file: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// PushResult reports what a push did.
type PushResult struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the transport used for GitHub calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// Service talks to the GitHub contents API. Calls may use a per-request token
// and repository or fall back to the configured ones.
type Service struct {
	cfg        config.GitHubConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewService creates a GitHub service from configuration.
func NewService(cfg config.GitHubConfig, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{cfg: cfg, logger: logger.Named("github")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether server-side credentials are available.
func (s *Service) Configured() bool {
	return s.cfg.Configured()
}

func (s *Service) client(token string) (*github.Client, error) {
	if token == "" {
		token = s.cfg.Token
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrNotConfigured)
	}
	c := github.NewClient(s.httpClient).WithAuthToken(token)
	if s.cfg.BaseURL != "" {
		var err error
		if c, err = c.WithEnterpriseURLs(s.cfg.BaseURL, s.cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
	}
	return c, nil
}

func (s *Service) repo(repo string) (owner, name string, err error) {
	if repo == "" {
		repo = s.cfg.Repo
	}
	if repo == "" {
		return "", "", fmt.Errorf("%w: missing repository", ErrNotConfigured)
	}
	return config.SplitRepo(repo)
}

// FetchFile returns the decoded content of path in repo.
func (s *Service) FetchFile(ctx context.Context, repo, path, token string) (string, error) {
	gh, err := s.client(token)
	if err != nil {
		return "", err
	}
	owner, name, err := s.repo(repo)
	if err != nil {
		return "", err
	}

	s.logger.Info("Fetching file", zap.String("repo", owner+"/"+name), zap.String("path", path))
	file, _, resp, err := gh.Repositories.GetContents(ctx, owner, name, path, s.getOptions())
	if err != nil {
		return "", apiError("fetch", resp, err)
	}
	if file == nil {
		return "", &Error{Op: "fetch", StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("%s is a directory", path)}
	}
	content, err := file.GetContent()
	if err != nil {
		return "", &Error{Op: "fetch", Message: err.Error(), Err: err}
	}
	s.logger.Debug("File content retrieved", zap.Int("size", file.GetSize()))
	return content, nil
}

// PushFile creates path when it does not exist and updates it otherwise.
func (s *Service) PushFile(ctx context.Context, repo, path, content, message, token string) (*PushResult, error) {
	gh, err := s.client(token)
	if err != nil {
		return nil, err
	}
	owner, name, err := s.repo(repo)
	if err != nil {
		return nil, err
	}
	if message == "" {
		message = "Update " + path
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
	}
	if s.cfg.Branch != "" {
		opts.Branch = github.String(s.cfg.Branch)
	}

	existing, _, resp, err := gh.Repositories.GetContents(ctx, owner, name, path, s.getOptions())
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
		if _, resp, err := gh.Repositories.UpdateFile(ctx, owner, name, existing.GetPath(), opts); err != nil {
			return nil, apiError("push", resp, err)
		}
		s.logger.Info("Updated file", zap.String("repo", owner+"/"+name), zap.String("path", path))
		return &PushResult{Status: StatusUpdated, Path: path}, nil
	case isNotFound(resp, err):
		if _, resp, err := gh.Repositories.CreateFile(ctx, owner, name, path, opts); err != nil {
			return nil, apiError("push", resp, err)
		}
		s.logger.Info("Created file", zap.String("repo", owner+"/"+name), zap.String("path", path))
		return &PushResult{Status: StatusCreated, Path: path}, nil
	case err != nil:
		return nil, apiError("push", resp, err)
	default:
		return nil, &Error{Op: "push", StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("%s is a directory", path)}
	}
}

// SaveOTM writes a threat model with the server-side token and repository.
func (s *Service) SaveOTM(ctx context.Context, filename, content, message string) (*PushResult, error) {
	if !s.cfg.Configured() {
		return nil, fmt.Errorf("%w: server-side token or repository missing", ErrNotConfigured)
	}
	if message == "" {
		message = "Update OTM"
	}
	return s.PushFile(ctx, "", filename, content, message, "")
}

// FetchRules loads rule templates stored in a repository. An empty path uses
// the configured rules path. Rules that do not decode come back as
// diagnostics.
func (s *Service) FetchRules(ctx context.Context, repo, path, token string) ([]schemas.RuleDefinition, []schemas.Diagnostic, error) {
	if path == "" {
		path = s.cfg.RulesPath
	}
	content, err := s.FetchFile(ctx, repo, path, token)
	if err != nil {
		return nil, nil, err
	}
	defs, diags, err := declarative.Parse([]byte(content), declarative.FormatForPath(path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse rules from %s: %w", path, err)
	}
	return defs, diags, nil
}

func (s *Service) getOptions() *github.RepositoryContentGetOptions {
	if s.cfg.Branch == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: s.cfg.Branch}
}

func isNotFound(resp *github.Response, err error) bool {
	if err == nil {
		return false
	}
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var errResp *github.ErrorResponse
	return errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound
}

func apiError(op string, resp *github.Response, err error) error {
	e := &Error{Op: op, Message: err.Error(), Err: err}
	if resp != nil {
		e.StatusCode = resp.StatusCode
	}
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Message != "" {
		e.Message = strings.TrimSpace(errResp.Message)
	}
	return e
}
