// Package github is a small GitHub client: user lookups through a rotating
// token transport, and the OAuth sign-in link.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
)

// DefaultAPIURL is the public GitHub REST API.
const DefaultAPIURL = "https://api.github.com"

// RedirectPath is the front-end route GitHub sends the user back to.
const RedirectPath = "/redirect"

// User is the subset of the GitHub user resource the service reads.
type User struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Client calls the GitHub REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL. Every request carries a token
// from ts. Pass a source that rotates on each call to spread rate limits.
func NewClient(baseURL string, ts oauth2.TokenSource) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
		},
	}
}

// GetUser fetches a user by login. A missing user is a NotFound error.
func (c *Client) GetUser(ctx context.Context, login string) (*User, error) {
	const op = "github.get_user"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(login), nil)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.WrapWithCode(err, apperrors.CodeUnavailable, op, "github request failed")
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, apperrors.NotFound("user", login)
	case res.StatusCode == http.StatusForbidden || res.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.New(apperrors.CodeRateLimited, "github rate limit exceeded").
			WithField("status", res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return nil, apperrors.Newf(apperrors.CodeUnavailable, "github http %d", res.StatusCode)
	}

	var u User
	if err := json.NewDecoder(res.Body).Decode(&u); err != nil {
		return nil, apperrors.Wrap(err, op, "decode user")
	}
	return &u, nil
}

// SignInLink builds the GitHub authorize URL for the front end. It returns
// ok=false when no OAuth client id is configured.
func SignInLink(host, clientID string, reset bool) (link string, ok bool) {
	if clientID == "" {
		return "", false
	}

	params := url.Values{}
	params.Set("redirect_uri", fmt.Sprintf("%s%s?reset=%s", strings.TrimRight(host, "/"), RedirectPath, strconv.FormatBool(reset)))
	params.Set("client_id", clientID)
	params.Set("scope", "repo")

	return githuboauth.Endpoint.AuthURL + "?" + params.Encode(), true
}
