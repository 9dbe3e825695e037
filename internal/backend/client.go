// Package backend holds clients for the external collaborators: the problem
// bank and the rating-update service. Both are plain JSON request/response
// surfaces; this engine never owns their data.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"codeduel/internal/protocol"
	pkgerrors "codeduel/pkg/errors"
)

const defaultTimeout = 10 * time.Second

// Client wraps HTTP requests to the backend collaborators.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a backend client. An empty base URL is a setup error surfaced
// at engine startup, not here.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type questionResponse struct {
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
	Question protocol.Problem `json:"question"`
}

// Question fetches the shared problem for a session. Only the initiator
// calls this; the responder receives the problem over the data channel.
func (c *Client) Question(ctx context.Context, sessionID string) (protocol.Problem, error) {
	path := "/api/question?sessionid=" + url.QueryEscape(sessionID)
	var resp questionResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return protocol.Problem{}, pkgerrors.Wrap(err, pkgerrors.ProblemFetchFailed)
	}
	if !resp.Success {
		return protocol.Problem{}, pkgerrors.Newf(pkgerrors.ProblemFetchFailed, "problem bank refused: %s", resp.Error)
	}
	if err := resp.Question.Validate(); err != nil {
		return protocol.Problem{}, pkgerrors.Wrap(err, pkgerrors.ProblemFetchFailed)
	}
	return resp.Question, nil
}

type ratingRequest struct {
	UserID    string `json:"userid"`
	SessionID string `json:"sessionid"`
	Win       bool   `json:"win"`
}

type ratingResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UpdateRating reports one participant's match outcome. Callers treat
// failures as log-and-continue; the match still concludes.
func (c *Client) UpdateRating(ctx context.Context, userID, sessionID string, win bool) error {
	body, err := json.Marshal(ratingRequest{UserID: userID, SessionID: sessionID, Win: win})
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.RatingUpdateFailed)
	}
	var resp ratingResponse
	if err := c.postJSON(ctx, "/update-elo", body, &resp); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.RatingUpdateFailed)
	}
	if !resp.Success {
		return pkgerrors.Newf(pkgerrors.RatingUpdateFailed, "rating service refused: %s", resp.Error)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body failed: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response failed (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
