package api

import (
	"context"
	"encoding/json"
)

// BatchResult is the per-item outcome of a batch POST, in input order.
// Exactly one of Body and Err is set.
type BatchResult struct {
	Body json.RawMessage
	Err  string
}

// OK reports whether the item was accepted.
func (r BatchResult) OK() bool { return r.Err == "" }

// Envelope wraps a slice of items into the request payload. A nil envelope
// sends the bare array.
type Envelope func(items []interface{}) interface{}

// PostBatch posts items in chunks of batchSize. A failed chunk of more than
// one item is split in half and each half retried independently, so failures
// are isolated per item. Results always have len(items) entries.
func (c *Client) PostBatch(ctx context.Context, path string, items []interface{}, batchSize int, envelope Envelope) []BatchResult {
	if batchSize <= 0 {
		batchSize = DefaultPageSize
	}
	results := make([]BatchResult, len(items))
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		c.postSlice(ctx, path, items, start, end, envelope, results)
	}
	return results
}

func (c *Client) postSlice(ctx context.Context, path string, items []interface{}, start, end int, envelope Envelope, results []BatchResult) {
	slice := items[start:end]
	var payload interface{} = slice
	if envelope != nil {
		payload = envelope(slice)
	}

	body, err := c.Post(ctx, path, payload)
	if err == nil {
		// An array response of matching length is per-item; anything else is
		// shared by every item in the chunk.
		var arr []json.RawMessage
		if jsonErr := json.Unmarshal(body, &arr); jsonErr == nil && len(arr) == len(slice) {
			for i := range arr {
				results[start+i] = BatchResult{Body: arr[i]}
			}
			return
		}
		for i := start; i < end; i++ {
			results[i] = BatchResult{Body: body}
		}
		return
	}
	if end-start == 1 {
		results[start] = BatchResult{Err: err.Error()}
		return
	}
	mid := start + (end-start)/2
	c.postSlice(ctx, path, items, start, mid, envelope, results)
	c.postSlice(ctx, path, items, mid, end, envelope, results)
}
