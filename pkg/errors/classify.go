package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v56/github"
)

// This file is the only place allowed to inspect transport-level error
// shapes: raw HTTP statuses, rate-limit headers and go-github error types.
// Everything downstream consumes the classified AppError.

// FromHTTPResponse classifies a non-2xx HTTP response from a remote API.
// The url is recorded as a detail for user-facing output.
func FromHTTPResponse(resp *http.Response, url string) error {
	if resp == nil {
		return NewAPIRequestError("no response received").WithDetail("url", url)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		reset, limit, remaining := parseRateLimitHeaders(resp.Header)
		return NewRateLimitError("API rate limit exceeded", reset, limit, remaining)

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e := NewPermissionError("insufficient permissions for API call", acceptedScopes(resp.Header)...)
		e.AppError = e.AppError.WithStatus(resp.StatusCode).WithDetail("url", url)
		return e

	case resp.StatusCode == http.StatusNotFound:
		e := NewNotFoundError(url)
		return e

	case resp.StatusCode >= 500:
		return NewAPIRequestError(fmt.Sprintf("server error: %s", resp.Status)).
			WithStatus(resp.StatusCode).
			WithDetail("url", url)

	case resp.StatusCode >= 400:
		return NewAPIRequestError(fmt.Sprintf("request failed: %s", resp.Status)).
			WithStatus(resp.StatusCode).
			WithDetail("url", url)
	}
	return nil
}

// ClassifyGitHubError converts a go-github client error into the taxonomy.
// A nil input returns nil so callers can classify unconditionally.
func ClassifyGitHubError(err error) error {
	if err == nil {
		return nil
	}

	// Already classified, pass through unchanged.
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return NewRateLimitError(
			"GitHub API rate limit exceeded",
			rateErr.Rate.Reset.Time,
			rateErr.Rate.Limit,
			rateErr.Rate.Remaining,
		)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		reset := time.Time{}
		if abuseErr.RetryAfter != nil {
			reset = time.Now().Add(*abuseErr.RetryAfter)
		}
		return NewRateLimitError("GitHub secondary rate limit triggered", reset, 0, 0)
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		url := ""
		if ghErr.Response.Request != nil && ghErr.Response.Request.URL != nil {
			url = ghErr.Response.Request.URL.String()
		}
		if classified := FromHTTPResponse(ghErr.Response, url); classified != nil {
			return wrapCause(classified, err)
		}
	}

	return NewAPIRequestError("GitHub API request failed").WithCause(err)
}

func wrapCause(classified, cause error) error {
	var appErr *AppError
	if errors.As(classified, &appErr) && appErr.Cause == nil {
		appErr.Cause = cause
	}
	return classified
}

func parseRateLimitHeaders(h http.Header) (reset time.Time, limit, remaining int) {
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			reset = time.Unix(secs, 0)
		}
	}
	if reset.IsZero() {
		if v := h.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				reset = time.Now().Add(time.Duration(secs) * time.Second)
			}
		}
	}
	limit, _ = strconv.Atoi(h.Get("X-RateLimit-Limit"))
	remaining, _ = strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	return reset, limit, remaining
}

func acceptedScopes(h http.Header) []string {
	v := h.Get("X-Accepted-OAuth-Scopes")
	if v == "" {
		return nil
	}
	var scopes []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
