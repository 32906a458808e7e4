package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// maxPages bounds any runaway pagination loop.
const maxPages = 10000

// DefaultPageSize is used when the caller passes a non-positive limit.
const DefaultPageSize = 100

// Paginate drives an offset-paginated GET, calling fn for each item.
// Iteration stops on an empty page, a short page, a page with no unseen IDs,
// or the hard page ceiling. Item IDs are read from id, _id, or uuid.
func (c *Client) Paginate(ctx context.Context, path string, query url.Values, limit int, fn func(json.RawMessage) error) error {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	seen := make(map[string]bool)
	offset := 0
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))

		body, err := c.Get(ctx, path, q)
		if err != nil {
			return err
		}
		items, err := extractPage(body)
		if err != nil {
			return &Error{Kind: KindProtocol, Method: "GET", Path: path, Detail: err.Error()}
		}
		if len(items) == 0 {
			return nil
		}

		newIDs := 0
		for _, item := range items {
			id := itemID(item)
			if id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			newIDs++
			if err := fn(item); err != nil {
				return err
			}
		}
		if newIDs == 0 {
			return nil
		}
		if len(items) < limit {
			return nil
		}
		offset += len(items)
	}
	return &Error{Kind: KindProtocol, Method: "GET", Path: path,
		Detail: fmt.Sprintf("pagination exceeded %d pages", maxPages)}
}

// CollectPaginated accumulates every page item into a slice.
func (c *Client) CollectPaginated(ctx context.Context, path string, query url.Values, limit int) ([]json.RawMessage, error) {
	var items []json.RawMessage
	err := c.Paginate(ctx, path, query, limit, func(item json.RawMessage) error {
		items = append(items, item)
		return nil
	})
	return items, err
}

// extractPage adapts the decoded body shape: a bare array, an object carrying
// a known list key, or anything else as a single-element page.
func extractPage(body []byte) ([]json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err == nil {
		return arr, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"items", "data", "results", "feedback", "repos"} {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			var nested []json.RawMessage
			if err := json.Unmarshal(raw, &nested); err == nil {
				return nested, nil
			}
		}
		return []json.RawMessage{body}, nil
	}
	return nil, fmt.Errorf("undecodable page body")
}

// itemID pulls the identity key used by the dedup guard.
func itemID(item json.RawMessage) string {
	var probe struct {
		ID   string `json:"id"`
		Alt  string `json:"_id"`
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(item, &probe); err != nil {
		return ""
	}
	switch {
	case probe.ID != "":
		return probe.ID
	case probe.Alt != "":
		return probe.Alt
	default:
		return probe.UUID
	}
}
