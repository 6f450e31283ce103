// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package repo is a client for the repository-hosting REST API: recursive
// file listing and raw content fetch, optionally authenticated.
package repo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
)

// TreeEntry is one entry of a repository's recursive listing.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	Size int64  `json:"size"`
}

// Lister is the subset of the repository API the ingestion pipeline and
// structure analysis consume. Satisfied by *Client; tests inject fakes.
type Lister interface {
	ListTree(ctx context.Context, ref datatypes.RepoRef) ([]TreeEntry, error)
	FetchFile(ctx context.Context, ref datatypes.RepoRef, path string) (string, error)
}

// Client talks to a GitHub-style REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a repository API client. Token may be empty for public
// repositories.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type treeResponse struct {
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

type contentResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// ListTree returns the full recursive file listing for the ref.
func (c *Client) ListTree(ctx context.Context, ref datatypes.RepoRef) ([]TreeEntry, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		c.baseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Name), url.PathEscape(ref.Ref()))

	var resp treeResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("listing tree for %s: %w", ref, err)
	}
	if resp.Truncated {
		slog.Warn("Repository tree listing truncated by API", "repo", ref.ID())
	}

	blobs := make([]TreeEntry, 0, len(resp.Tree))
	for _, e := range resp.Tree {
		if e.Type == "blob" {
			blobs = append(blobs, e)
		}
	}
	return blobs, nil
}

// FetchFile returns the decoded content of one file.
func (c *Client) FetchFile(ctx context.Context, ref datatypes.RepoRef, path string) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.baseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Name), path, url.QueryEscape(ref.Ref()))

	var resp contentResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return "", fmt.Errorf("fetching %s from %s: %w", path, ref, err)
	}
	if resp.Encoding != "base64" {
		return resp.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(stripNewlines(resp.Content))
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return string(decoded), nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("repository API returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// The contents API base64-encodes with embedded newlines.
func stripNewlines(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' {
			b = append(b, s[i])
		}
	}
	return string(b)
}
