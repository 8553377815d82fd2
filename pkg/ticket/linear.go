package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/crewline/foreman/pkg/log"
)

// rate-limit retry policy for the GraphQL endpoint
const (
	maxAttempts    = 3
	defaultBackoff = 2 * time.Second
)

// LinearError is returned when the Linear API reports an error
type LinearError struct {
	Message string
}

func (e *LinearError) Error() string {
	return fmt.Sprintf("linear: %s", e.Message)
}

// LinearClient is a GraphQL client for the Linear API implementing
// Ticketer
type LinearClient struct {
	apiKey string
	apiURL string
	client *http.Client
}

// NewLinearClient creates a Linear client. apiURL defaults to the
// public GraphQL endpoint when empty.
func NewLinearClient(apiKey, apiURL string) *LinearClient {
	if apiURL == "" {
		apiURL = "https://api.linear.app/graphql"
	}
	return &LinearClient{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// request executes a GraphQL request, retrying on 429
func (c *LinearClient) request(ctx context.Context, query string, variables map[string]any) (map[string]json.RawMessage, error) {
	payload := map[string]any{"query": query}
	if variables != nil {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("linear request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := defaultBackoff * time.Duration(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.ParseFloat(ra, 64); err == nil {
					wait = time.Duration(secs * float64(time.Second))
				}
			}
			resp.Body.Close()
			logger := log.WithComponent("linear")
			logger.Warn().
				Dur("wait", wait).
				Msg("rate limited by Linear, backing off")
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &LinearError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, data)}
		}

		var parsed struct {
			Data   map[string]json.RawMessage `json:"data"`
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if len(parsed.Errors) > 0 {
			return nil, &LinearError{Message: parsed.Errors[0].Message}
		}
		return parsed.Data, nil
	}

	return nil, &LinearError{Message: "rate limit exceeded after retries"}
}

// CreateIssue opens an issue and returns its id and URL
func (c *LinearClient) CreateIssue(ctx context.Context, in IssueInput) (Issue, error) {
	const query = `
	mutation($input: IssueCreateInput!) {
		issueCreate(input: $input) {
			success
			issue { id identifier title url priority }
		}
	}`
	variables := map[string]any{
		"input": map[string]any{
			"title":       in.Title,
			"description": in.Description,
			"teamId":      in.TeamID,
			"priority":    in.Priority,
		},
	}

	data, err := c.request(ctx, query, variables)
	if err != nil {
		return Issue{}, err
	}

	var result struct {
		Issue struct {
			ID         string `json:"id"`
			Identifier string `json:"identifier"`
			Title      string `json:"title"`
			URL        string `json:"url"`
			Priority   int    `json:"priority"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(data["issueCreate"], &result); err != nil {
		return Issue{}, fmt.Errorf("failed to decode issueCreate: %w", err)
	}
	return Issue{
		ID:         result.Issue.ID,
		Identifier: result.Issue.Identifier,
		Title:      result.Issue.Title,
		URL:        result.Issue.URL,
		Priority:   result.Issue.Priority,
	}, nil
}

// GetIssueComments lists the comments on an issue, oldest first
func (c *LinearClient) GetIssueComments(ctx context.Context, issueID string) ([]Comment, error) {
	const query = `
	query($id: String!) {
		issue(id: $id) {
			comments { nodes { id body userId createdAt } }
		}
	}`

	data, err := c.request(ctx, query, map[string]any{"id": issueID})
	if err != nil {
		return nil, err
	}

	var result struct {
		Comments struct {
			Nodes []struct {
				ID        string `json:"id"`
				Body      string `json:"body"`
				UserID    string `json:"userId"`
				CreatedAt string `json:"createdAt"`
			} `json:"nodes"`
		} `json:"comments"`
	}
	if err := json.Unmarshal(data["issue"], &result); err != nil {
		return nil, fmt.Errorf("failed to decode issue comments: %w", err)
	}

	comments := make([]Comment, 0, len(result.Comments.Nodes))
	for _, n := range result.Comments.Nodes {
		comments = append(comments, Comment{
			ID:        n.ID,
			Body:      n.Body,
			UserID:    n.UserID,
			CreatedAt: n.CreatedAt,
		})
	}
	return comments, nil
}

// AddComment posts a comment on an issue
func (c *LinearClient) AddComment(ctx context.Context, issueID, body string) (Comment, error) {
	const query = `
	mutation($input: CommentCreateInput!) {
		commentCreate(input: $input) {
			success
			comment { id body userId createdAt }
		}
	}`
	variables := map[string]any{
		"input": map[string]any{"issueId": issueID, "body": body},
	}

	data, err := c.request(ctx, query, variables)
	if err != nil {
		return Comment{}, err
	}

	var result struct {
		Comment struct {
			ID        string `json:"id"`
			Body      string `json:"body"`
			UserID    string `json:"userId"`
			CreatedAt string `json:"createdAt"`
		} `json:"comment"`
	}
	if err := json.Unmarshal(data["commentCreate"], &result); err != nil {
		return Comment{}, fmt.Errorf("failed to decode commentCreate: %w", err)
	}
	return Comment{
		ID:        result.Comment.ID,
		Body:      result.Comment.Body,
		UserID:    result.Comment.UserID,
		CreatedAt: result.Comment.CreatedAt,
	}, nil
}
