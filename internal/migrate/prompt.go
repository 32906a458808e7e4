package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/api"
	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
)

// maxCommitChain bounds the ancestry walk of one prompt repo.
const maxCommitChain = 1000

// destOwner is the self-referential owner handle for pushes into the
// destination workspace.
const destOwner = "-"

// PromptOptions control how prompt repos are migrated.
type PromptOptions struct {
	// IncludeAllCommits replays the full commit chain root to tip instead
	// of pushing only the latest manifest.
	IncludeAllCommits bool
	// ConflictMeansUpToDate treats a detail-free commit conflict whose
	// parent matches the destination tip as "nothing to push".
	ConflictMeansUpToDate bool
}

// DefaultPromptOptions returns the standard prompt migration behavior.
func DefaultPromptOptions() PromptOptions {
	return PromptOptions{ConflictMeansUpToDate: true}
}

// Commit is one node of a prompt repo's history.
type Commit struct {
	Hash       string          `json:"commit_hash"`
	ParentHash string          `json:"parent_commit_hash,omitempty"`
	Manifest   json.RawMessage `json:"manifest"`
	Examples   json.RawMessage `json:"examples,omitempty"`
}

// PromptMigrator copies prompt repos and their commit manifests. Manifests
// travel as opaque JSON; only the commit graph is interpreted.
type PromptMigrator struct {
	ctx *Context
}

func NewPromptMigrator(c *Context) *PromptMigrator {
	return &PromptMigrator{ctx: c}
}

// ListRepos fetches every source prompt repo.
func (m *PromptMigrator) ListRepos(ctx context.Context) ([]Record, error) {
	var repos []Record
	err := m.ctx.Source.Paginate(ctx, "/prompts", nil, 100, func(item json.RawMessage) error {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil
		}
		repos = append(repos, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list prompt repos: %w", err)
	}
	return repos, nil
}

// repoCoords resolves the owner and handle a repo is addressed by.
func repoCoords(repo Record) (owner, handle string) {
	handle = str(repo, "repo_handle")
	owner = str(repo, "owner")
	if owner == "" || handle == "" {
		if full := str(repo, "full_name"); full != "" {
			if i := strings.IndexByte(full, '/'); i > 0 {
				if owner == "" {
					owner = full[:i]
				}
				if handle == "" {
					handle = full[i+1:]
				}
			}
		}
	}
	if owner == "" {
		owner = destOwner
	}
	return owner, handle
}

func commitPath(owner, handle, ref string) string {
	p := "/commits/" + url.PathEscape(owner) + "/" + url.PathEscape(handle)
	if ref != "" {
		p += "/" + url.PathEscape(ref)
	}
	return p
}

// fetchCommit reads one commit, model details included so prompt-bound
// model configuration survives the move.
func fetchCommit(ctx context.Context, c *api.Client, owner, handle, ref string) (*Commit, error) {
	q := url.Values{"include_model": {"true"}}
	var commit Commit
	if err := c.GetJSON(ctx, commitPath(owner, handle, ref), q, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

// sourceChain walks the source repo's ancestry from the tip to the root and
// returns the commits in replay order (root first).
func (m *PromptMigrator) sourceChain(ctx context.Context, owner, handle string) ([]*Commit, error) {
	tip, err := fetchCommit(ctx, m.ctx.Source, owner, handle, "latest")
	if err != nil {
		if api.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch latest commit of %s/%s: %w", owner, handle, err)
	}
	chain := []*Commit{tip}
	seen := map[string]bool{tip.Hash: true}
	for len(chain) < maxCommitChain {
		parent := chain[len(chain)-1].ParentHash
		if parent == "" || seen[parent] {
			break
		}
		commit, err := fetchCommit(ctx, m.ctx.Source, owner, handle, parent)
		if err != nil {
			return nil, fmt.Errorf("fetch commit %s of %s/%s: %w", parent, owner, handle, err)
		}
		seen[commit.Hash] = true
		chain = append(chain, commit)
	}
	// Reverse into replay order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// destLatestHash reads the destination repo's tip hash, "" when the repo
// has no commits yet.
func (m *PromptMigrator) destLatestHash(ctx context.Context, handle string) (string, error) {
	commit, err := fetchCommit(ctx, m.ctx.Dest, destOwner, handle, "latest")
	if err != nil {
		if api.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return commit.Hash, nil
}

// ensureRepo creates the destination repo; an existing repo is fine.
func (m *PromptMigrator) ensureRepo(ctx context.Context, repo Record, handle string) error {
	payload := stripNulls(Record{
		"repo_handle": handle,
		"description": repo["description"],
		"readme":      repo["readme"],
		"tags":        repo["tags"],
		"is_public":   false,
	})
	_, err := m.ctx.Dest.Post(ctx, "/prompts", payload)
	if err != nil && !api.IsConflict(err) {
		return fmt.Errorf("create repo %q: %w", handle, err)
	}
	return nil
}

// pushCommit replays one manifest onto the destination tip. Returns the new
// tip hash, or "" when the destination was already up to date.
func (m *PromptMigrator) pushCommit(ctx context.Context, handle string, commit *Commit, opts PromptOptions) (string, error) {
	parent, err := m.destLatestHash(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("read destination tip of %q: %w", handle, err)
	}
	payload := Record{"manifest": commit.Manifest}
	if parent != "" {
		payload["parent_commit"] = parent
	}
	var resp struct {
		Hash string `json:"commit_hash"`
	}
	err = m.ctx.Dest.PostJSON(ctx, commitPath(destOwner, handle, ""), payload, &resp)
	if err != nil {
		apiErr := api.AsError(err)
		if opts.ConflictMeansUpToDate && apiErr != nil &&
			apiErr.Kind == api.KindConflict && apiErr.Detail == "" {
			m.ctx.Log.Debugf("prompt %q already up to date at %s", handle, parent)
			return "", nil
		}
		return "", fmt.Errorf("push commit to %q: %w", handle, err)
	}
	return resp.Hash, nil
}

// MigrateRepo moves one prompt repo. Returns the destination tip hash of
// the last pushed commit.
func (m *PromptMigrator) MigrateRepo(ctx context.Context, repo Record, opts PromptOptions) (string, error) {
	c := m.ctx
	owner, handle := repoCoords(repo)
	if handle == "" {
		return "", fmt.Errorf("prompt repo without a handle")
	}
	if c.DryRun() {
		c.Log.Infof("[dry run] would migrate prompt %s/%s", owner, handle)
		return DryRunID(handle), nil
	}

	chain, err := m.sourceChain(ctx, owner, handle)
	if err != nil {
		return "", err
	}
	if len(chain) == 0 {
		c.Log.Warnf("prompt %q has no commits, creating the empty repo", handle)
		return "", m.ensureRepo(ctx, repo, handle)
	}
	if !opts.IncludeAllCommits {
		chain = chain[len(chain)-1:]
	}

	if err := m.ensureRepo(ctx, repo, handle); err != nil {
		return "", err
	}

	tip := ""
	for _, commit := range chain {
		hash, err := m.pushCommit(ctx, handle, commit, opts)
		if err != nil {
			return tip, err
		}
		if hash != "" {
			tip = hash
		}
	}
	return tip, nil
}

// MigrateAll moves every prompt repo and returns handle→destination tip.
func (m *PromptMigrator) MigrateAll(ctx context.Context, opts PromptOptions) (map[string]string, error) {
	c := m.ctx
	repos, err := m.ListRepos(ctx)
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string, len(repos))
	failed := 0
	for _, repo := range repos {
		_, handle := repoCoords(repo)
		itemID := c.TrackItem(KindPrompt, str(repo, "id"), handle)
		tip, err := m.MigrateRepo(ctx, repo, opts)
		if err != nil {
			c.Log.Errorf("could not migrate prompt %q: %v", handle, err)
			c.FinishItem(itemID, session.StatusFailed, "", err)
			failed++
			continue
		}
		c.Log.Successf("migrated prompt %q", handle)
		mapping[handle] = tip
		c.MapID(KindPrompt, handle, tip)
		c.FinishItem(itemID, session.StatusCompleted, tip, nil)
	}
	c.Metrics.Migrated(ctx, string(KindPrompt), int64(len(mapping)))
	if failed > 0 {
		return mapping, fmt.Errorf("%d of %d prompts failed", failed, len(repos))
	}
	return mapping, nil
}
