package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/api"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/canonical"
)

// attachmentKeyPrefix marks attachment entries in example payloads; the
// bare name follows the prefix.
const attachmentKeyPrefix = "attachment."

// Example is a dataset row. Inputs stay raw so their canonical hash is
// computed over exactly what the server returned.
type Example struct {
	ID             string                 `json:"id"`
	DatasetID      string                 `json:"dataset_id"`
	Inputs         json.RawMessage        `json:"inputs"`
	Outputs        json.RawMessage        `json:"outputs,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      string                 `json:"created_at,omitempty"`
	Split          interface{}            `json:"split,omitempty"`
	AttachmentURLs map[string]Attachment  `json:"attachment_urls,omitempty"`
}

// Attachment describes one downloadable example attachment.
type Attachment struct {
	PresignedURL string `json:"presigned_url"`
	MimeType     string `json:"mime_type"`
	ContentType  string `json:"content_type"`
}

func (a Attachment) contentType() string {
	if a.MimeType != "" {
		return a.MimeType
	}
	if a.ContentType != "" {
		return a.ContentType
	}
	return "application/octet-stream"
}

// splitValue resolves the example's split, falling back to
// metadata.dataset_split and then "base".
func (e *Example) splitValue() interface{} {
	if e.Split != nil {
		return e.Split
	}
	if e.Metadata != nil {
		if s, ok := e.Metadata["dataset_split"]; ok && s != nil {
			return s
		}
	}
	return "base"
}

// ExampleMigrator streams a dataset's examples into the destination,
// deduplicating by the canonical hash of each example's inputs.
type ExampleMigrator struct {
	ctx *Context
}

func NewExampleMigrator(c *Context) *ExampleMigrator {
	return &ExampleMigrator{ctx: c}
}

func exampleQuery(datasetID string) url.Values {
	return url.Values{
		"dataset": {datasetID},
		"select":  {"attachment_urls", "outputs"},
	}
}

// pageSize is the listing page size; chunk_size overrides the batch size
// when set.
func (m *ExampleMigrator) pageSize() int {
	if n := m.ctx.Cfg.Migration.ChunkSize; n > 0 {
		return n
	}
	return m.ctx.BatchSize()
}

// List fetches every example of a source dataset.
func (m *ExampleMigrator) List(ctx context.Context, datasetID string) ([]Example, error) {
	var examples []Example
	err := m.ctx.Source.Paginate(ctx, "/examples", exampleQuery(datasetID), m.pageSize(), func(item json.RawMessage) error {
		var ex Example
		if err := json.Unmarshal(item, &ex); err != nil {
			return nil
		}
		examples = append(examples, ex)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list examples for dataset %s: %w", datasetID, err)
	}
	return examples, nil
}

// forEach visits every example of a source dataset. With stream_examples on
// (the default) examples are handed over page by page as they arrive; off,
// the whole listing is collected first so the source is read in one burst.
func (m *ExampleMigrator) forEach(ctx context.Context, datasetID string, fn func(*Example)) error {
	if m.ctx.Cfg.Migration.StreamExamples {
		err := m.ctx.Source.Paginate(ctx, "/examples", exampleQuery(datasetID), m.pageSize(), func(item json.RawMessage) error {
			var ex Example
			if err := json.Unmarshal(item, &ex); err != nil {
				return nil
			}
			fn(&ex)
			return nil
		})
		if err != nil {
			return fmt.Errorf("list examples for dataset %s: %w", datasetID, err)
		}
		return nil
	}
	examples, err := m.List(ctx, datasetID)
	if err != nil {
		return err
	}
	for i := range examples {
		fn(&examples[i])
	}
	return nil
}

// destHashes fingerprints every existing destination example by the
// canonical hash of its inputs, so re-runs update instead of duplicating.
func (m *ExampleMigrator) destHashes(ctx context.Context, destDatasetID string) (map[string]string, error) {
	hashes := map[string]string{} // inputs hash -> dest example id
	q := url.Values{"dataset": {destDatasetID}}
	err := m.ctx.Dest.Paginate(ctx, "/examples", q, m.pageSize(), func(item json.RawMessage) error {
		var ex struct {
			ID     string          `json:"id"`
			Inputs json.RawMessage `json:"inputs"`
		}
		if err := json.Unmarshal(item, &ex); err != nil {
			return nil
		}
		h, err := canonical.Hash(ex.Inputs)
		if err != nil {
			return nil
		}
		if _, dup := hashes[h]; !dup {
			hashes[h] = ex.ID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fingerprint destination examples: %w", err)
	}
	return hashes, nil
}

func (m *ExampleMigrator) payload(ex *Example, destDatasetID string) Record {
	return stripNulls(Record{
		"dataset_id": destDatasetID,
		"inputs":     ex.Inputs,
		"outputs":    ex.Outputs,
		"metadata":   ex.Metadata,
		"created_at": ex.CreatedAt,
		"split":      ex.splitValue(),
	}).(Record)
}

// MigrateDataset copies the examples of one dataset and returns the
// source→destination example ID map. Examples without attachments go
// through the bulk endpoint in batches; examples with attachments are
// created one at a time so their files can be re-uploaded.
func (m *ExampleMigrator) MigrateDataset(ctx context.Context, sourceDatasetID, destDatasetID string) (map[string]string, error) {
	c := m.ctx
	mapping := map[string]string{}
	if c.DryRun() {
		total := 0
		err := m.forEach(ctx, sourceDatasetID, func(ex *Example) {
			mapping[ex.ID] = DryRunID(ex.ID)
			total++
		})
		if err != nil {
			return nil, err
		}
		c.Log.Infof("[dry run] would migrate %d examples", total)
		return mapping, nil
	}

	existing, err := m.destHashes(ctx, destDatasetID)
	if err != nil {
		return nil, err
	}

	var plain []*Example
	var withFiles []*Example
	total, updated, unchanged := 0, 0, 0
	err = m.forEach(ctx, sourceDatasetID, func(ex *Example) {
		total++
		h, err := canonical.Hash(ex.Inputs)
		if err != nil {
			c.Log.Warnf("example %s has unhashable inputs, skipping: %v", ex.ID, err)
			return
		}
		if destID, ok := existing[h]; ok {
			if c.SkipExisting() {
				mapping[ex.ID] = destID
				unchanged++
				return
			}
			if err := m.update(ctx, destID, ex); err != nil {
				c.Log.Errorf("could not update example %s: %v", ex.ID, err)
				return
			}
			mapping[ex.ID] = destID
			updated++
			return
		}
		if len(ex.AttachmentURLs) > 0 {
			withFiles = append(withFiles, ex)
		} else {
			plain = append(plain, ex)
		}
	})
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return mapping, nil
	}

	created, failed := 0, 0
	if len(plain) > 0 {
		n, f := m.createBulk(ctx, plain, destDatasetID, mapping)
		created += n
		failed += f
	}
	for _, ex := range withFiles {
		destID, err := m.createWithAttachments(ctx, ex, destDatasetID)
		if err != nil {
			c.Log.Errorf("could not migrate example %s: %v", ex.ID, err)
			failed++
			continue
		}
		mapping[ex.ID] = destID
		created++
	}

	c.Log.Infof("examples: %d created, %d updated, %d unchanged, %d failed", created, updated, unchanged, failed)
	c.Metrics.Migrated(ctx, string(KindExample), int64(created+updated))
	if failed > 0 {
		return mapping, fmt.Errorf("%d of %d examples failed", failed, total)
	}
	return mapping, nil
}

// update refreshes outputs and metadata of a hash-matched example. Inputs
// are the identity and never patched.
func (m *ExampleMigrator) update(ctx context.Context, destID string, ex *Example) error {
	payload := stripNulls(Record{
		"outputs":  ex.Outputs,
		"metadata": ex.Metadata,
		"split":    ex.splitValue(),
	})
	_, err := m.ctx.Dest.Patch(ctx, "/examples/"+url.PathEscape(destID), payload)
	return err
}

func (m *ExampleMigrator) createBulk(ctx context.Context, plain []*Example, destDatasetID string, mapping map[string]string) (created, failed int) {
	c := m.ctx
	items := make([]interface{}, len(plain))
	for i, ex := range plain {
		items[i] = m.payload(ex, destDatasetID)
	}
	results := c.Dest.PostBatch(ctx, "/examples/bulk", items, c.BatchSize(), nil)
	for i, res := range results {
		if !res.OK() {
			c.Log.Errorf("example %s rejected: %s", plain[i].ID, res.Err)
			failed++
			continue
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(res.Body, &out); err == nil && out.ID != "" {
			mapping[plain[i].ID] = out.ID
		}
		created++
	}
	return created, failed
}

// createWithAttachments creates one example, then moves each attachment
// through a temp file: download from the source presigned URL, request an
// upload slot on the destination, PUT the bytes.
func (m *ExampleMigrator) createWithAttachments(ctx context.Context, ex *Example, destDatasetID string) (string, error) {
	c := m.ctx
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.Dest.PostJSON(ctx, "/examples", m.payload(ex, destDatasetID), &resp); err != nil {
		return "", fmt.Errorf("create example: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create example: destination returned no id")
	}

	for key, att := range ex.AttachmentURLs {
		name := strings.TrimPrefix(key, attachmentKeyPrefix)
		if err := m.transferAttachment(ctx, resp.ID, name, att); err != nil {
			return resp.ID, fmt.Errorf("attachment %q: %w", name, err)
		}
	}
	return resp.ID, nil
}

func (m *ExampleMigrator) transferAttachment(ctx context.Context, destExampleID, name string, att Attachment) error {
	if att.PresignedURL == "" {
		return fmt.Errorf("no presigned url")
	}
	c := m.ctx
	path, cleanup, err := api.DownloadToTemp(ctx, c.Source.HTTPClient, att.PresignedURL)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer cleanup()

	var slot struct {
		PresignedURL string `json:"presigned_url"`
	}
	req := Record{"name": name, "mime_type": att.contentType()}
	if err := c.Dest.PostJSON(ctx, "/examples/"+url.PathEscape(destExampleID)+"/attachments", req, &slot); err != nil {
		return fmt.Errorf("request upload slot: %w", err)
	}
	if slot.PresignedURL == "" {
		return fmt.Errorf("destination returned no upload url")
	}
	if err := api.UploadFromFile(ctx, c.Dest.HTTPClient, slot.PresignedURL, path, att.contentType()); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	c.Log.Debugf("transferred attachment %q for example %s", name, destExampleID)
	return nil
}
