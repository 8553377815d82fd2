package ticket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graphqlServer fakes the Linear GraphQL endpoint
func graphqlServer(t *testing.T, handler func(query string, variables map[string]any) (string, int)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("Authorization"))

		var payload struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		body, code := handler(payload.Query, payload.Variables)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
}

func TestCreateIssue(t *testing.T) {
	srv := graphqlServer(t, func(query string, variables map[string]any) (string, int) {
		input := variables["input"].(map[string]any)
		assert.Equal(t, "[auth] BLOCKER: Which database?", input["title"])
		assert.Equal(t, "team-1", input["teamId"])
		assert.Equal(t, float64(PriorityUrgent), input["priority"])

		return `{"data":{"issueCreate":{"success":true,"issue":{
			"id":"iss-1","identifier":"ENG-42","title":"[auth] BLOCKER: Which database?",
			"url":"https://linear.app/team/issue/ENG-42","priority":1}}}}`, http.StatusOK
	})
	defer srv.Close()

	c := NewLinearClient("lin_api_key", srv.URL)
	issue, err := c.CreateIssue(context.Background(), IssueInput{
		Title:    "[auth] BLOCKER: Which database?",
		TeamID:   "team-1",
		Priority: PriorityUrgent,
	})
	require.NoError(t, err)
	assert.Equal(t, "iss-1", issue.ID)
	assert.Equal(t, "ENG-42", issue.Identifier)
	assert.Equal(t, "https://linear.app/team/issue/ENG-42", issue.URL)
}

func TestGetIssueComments(t *testing.T) {
	srv := graphqlServer(t, func(query string, variables map[string]any) (string, int) {
		assert.Equal(t, "iss-1", variables["id"])
		return `{"data":{"issue":{"comments":{"nodes":[
			{"id":"c1","body":"first","userId":"u1","createdAt":"2026-08-20T10:00:00Z"},
			{"id":"c2","body":"second","userId":"u2","createdAt":"2026-08-21T10:00:00Z"}
		]}}}}`, http.StatusOK
	})
	defer srv.Close()

	c := NewLinearClient("key", srv.URL)
	comments, err := c.GetIssueComments(context.Background(), "iss-1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Body)
	assert.Equal(t, "second", comments[1].Body)
}

func TestAddComment(t *testing.T) {
	srv := graphqlServer(t, func(query string, variables map[string]any) (string, int) {
		input := variables["input"].(map[string]any)
		assert.Equal(t, "iss-1", input["issueId"])
		assert.Equal(t, "resolved, thanks", input["body"])
		return `{"data":{"commentCreate":{"success":true,"comment":
			{"id":"c3","body":"resolved, thanks","userId":"bot","createdAt":"2026-08-22T10:00:00Z"}}}}`, http.StatusOK
	})
	defer srv.Close()

	c := NewLinearClient("key", srv.URL)
	comment, err := c.AddComment(context.Background(), "iss-1", "resolved, thanks")
	require.NoError(t, err)
	assert.Equal(t, "c3", comment.ID)
}

func TestRateLimitRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"issue":{"comments":{"nodes":[]}}}}`))
	}))
	defer srv.Close()

	c := NewLinearClient("key", srv.URL)
	comments, err := c.GetIssueComments(context.Background(), "iss-1")
	require.NoError(t, err)
	assert.Empty(t, comments)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0.01")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewLinearClient("key", srv.URL)
	_, err := c.GetIssueComments(context.Background(), "iss-1")
	require.Error(t, err)
	var lerr *LinearError
	assert.ErrorAs(t, err, &lerr)
}

func TestGraphQLErrorSurfaced(t *testing.T) {
	srv := graphqlServer(t, func(query string, variables map[string]any) (string, int) {
		return `{"errors":[{"message":"Entity not found"}]}`, http.StatusOK
	})
	defer srv.Close()

	c := NewLinearClient("key", srv.URL)
	_, err := c.GetIssueComments(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Entity not found")
}

func TestHTTPErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewLinearClient("key", srv.URL)
	_, err := c.GetIssueComments(context.Background(), "iss-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDefaultAPIURL(t *testing.T) {
	c := NewLinearClient("key", "")
	assert.Equal(t, "https://api.linear.app/graphql", c.apiURL)
}
