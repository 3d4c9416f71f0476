package pullrequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// GitHub opens draft pull requests through the GitHub REST API.
type GitHub struct {
	apiURL     string
	owner      string
	repo       string
	token      string
	httpClient *http.Client
}

// NewGitHub creates a GitHub creator. The token is required; apiURL
// defaults to DefaultAPIURL.
func NewGitHub(apiURL, owner, repo, token string, client *http.Client) (*GitHub, error) {
	if token == "" {
		return nil, errors.New("github token is required for real pull request creation")
	}
	if owner == "" || repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &GitHub{
		apiURL:     strings.TrimRight(apiURL, "/"),
		owner:      owner,
		repo:       repo,
		token:      token,
		httpClient: client,
	}, nil
}

type createPullRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft"`
}

type pullResponse struct {
	HTMLURL string `json:"html_url"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Head    struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// CreateDraft implements Creator.
func (g *GitHub) CreateDraft(ctx context.Context, req Request) (*incident.PullRequest, error) {
	body, err := json.Marshal(createPullRequest{
		Title: req.Title,
		Body:  req.Body,
		Head:  req.Head,
		Base:  req.Base,
		Draft: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/pulls", g.apiURL, g.owner, g.repo)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("Authorization", "Bearer "+g.token)
	httpReq.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq) //nolint:gosec // URL built from config
	if err != nil {
		return nil, fmt.Errorf("github request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github returned %d: %s", resp.StatusCode, string(respBody))
	}

	var pr pullResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &incident.PullRequest{
		URL:        pr.HTMLURL,
		Number:     pr.Number,
		Title:      pr.Title,
		HeadBranch: pr.Head.Ref,
		BaseBranch: pr.Base.Ref,
	}, nil
}
