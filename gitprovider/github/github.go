// Package github opens fix pull requests using the GitHub REST API. Multi-file
// edits are committed atomically through the Git tree API; incidents carrying
// only the legacy whole-file rewrite fall back to the contents API.
package github

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v68/github"

	"github.com/jeff4444/autoduty-backend/model"
)

// Provider implements gitprovider.Provider against github.com.
type Provider struct {
	client *gh.Client
}

// New creates a Provider authenticated with a personal access token.
func New(token string) *Provider {
	return &Provider{client: gh.NewClient(nil).WithAuthToken(token)}
}

// NewWithClient creates a Provider around an existing client. Tests use this
// to point at a local server.
func NewWithClient(client *gh.Client) *Provider {
	return &Provider{client: client}
}

// BranchName returns the deterministic fix-branch name for an incident.
func BranchName(incidentID string) string {
	return "autoduty/fix-incident-" + incidentID
}

// splitRepoURL extracts "owner" and "repo" from a github.com repository URL.
func splitRepoURL(repoURL string) (owner, repo string, err error) {
	s := strings.TrimSuffix(repoURL, ".git")
	s = strings.TrimSuffix(s, "/")
	if i := strings.Index(s, "github.com/"); i >= 0 {
		s = s[i+len("github.com/"):]
	} else if i := strings.Index(s, "github.com:"); i >= 0 {
		s = s[i+len("github.com:"):]
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("cannot parse owner/repo from %q", repoURL)
	}
	return parts[0], parts[1], nil
}

func (p *Provider) CreateFixPR(ctx context.Context, inc *model.Incident) (string, string, error) {
	if len(inc.FileEdits) == 0 && inc.FixedCode == "" {
		return "", "", fmt.Errorf("incident %s has no fix content", inc.ID)
	}
	owner, repo, err := splitRepoURL(inc.RepoURL)
	if err != nil {
		return "", "", err
	}

	base := inc.Branch
	if base == "" {
		base = "main"
	}
	branch := BranchName(inc.ID)

	baseBranch, _, err := p.client.Repositories.GetBranch(ctx, owner, repo, base, 0)
	if err != nil {
		return "", "", fmt.Errorf("resolving base branch %s: %w", base, err)
	}
	baseSHA := baseBranch.GetCommit().GetSHA()

	_, resp, err := p.client.Git.CreateRef(ctx, owner, repo, &gh.Reference{
		Ref:    gh.Ptr("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.Ptr(baseSHA)},
	})
	if err != nil {
		// 422 means the branch already exists from a prior attempt; the
		// commit below simply advances it.
		if resp == nil || resp.StatusCode != http.StatusUnprocessableEntity {
			return "", "", fmt.Errorf("creating branch %s: %w", branch, err)
		}
		log.Printf("github: branch %s already exists, updating it", branch)
	}

	if len(inc.FileEdits) > 0 {
		err = p.commitEdits(ctx, owner, repo, branch, inc)
	} else {
		err = p.commitSingleFile(ctx, owner, repo, branch, inc)
	}
	if err != nil {
		return "", "", err
	}

	title := "[AutoDuty] Fix: " + model.Truncate(orDefault(inc.RootCause, "Unknown"), 80)
	pr, _, err := p.client.PullRequests.Create(ctx, owner, repo, &gh.NewPullRequest{
		Title: gh.Ptr(title),
		Body:  gh.Ptr(BuildPRBody(inc)),
		Head:  gh.Ptr(branch),
		Base:  gh.Ptr(base),
	})
	if err != nil {
		return "", "", fmt.Errorf("creating pull request: %w", err)
	}
	log.Printf("github: PR #%d created: %s", pr.GetNumber(), pr.GetHTMLURL())
	return pr.GetHTMLURL(), branch, nil
}

// commitEdits commits every file edit as a single revision via the tree API.
func (p *Provider) commitEdits(ctx context.Context, owner, repo, branch string, inc *model.Incident) error {
	ref, _, err := p.client.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		return fmt.Errorf("resolving branch ref: %w", err)
	}
	baseCommit, _, err := p.client.Git.GetCommit(ctx, owner, repo, ref.GetObject().GetSHA())
	if err != nil {
		return fmt.Errorf("resolving base commit: %w", err)
	}

	entries := make([]*gh.TreeEntry, 0, len(inc.FileEdits))
	var paths []string
	for _, edit := range inc.FileEdits {
		blob, _, err := p.client.Git.CreateBlob(ctx, owner, repo, &gh.Blob{
			Content:  gh.Ptr(edit.NewContent),
			Encoding: gh.Ptr("utf-8"),
		})
		if err != nil {
			return fmt.Errorf("creating blob for %s: %w", edit.Path, err)
		}
		entries = append(entries, &gh.TreeEntry{
			Path: gh.Ptr(edit.Path),
			Mode: gh.Ptr("100644"),
			Type: gh.Ptr("blob"),
			SHA:  blob.SHA,
		})
		paths = append(paths, edit.Path)
	}

	tree, _, err := p.client.Git.CreateTree(ctx, owner, repo, baseCommit.GetTree().GetSHA(), entries)
	if err != nil {
		return fmt.Errorf("creating tree: %w", err)
	}

	message := fmt.Sprintf("fix: AutoDuty fix for incident %s\n\n%s\n\nFiles changed: %s",
		inc.ID, orDefault(inc.FixDescription, "Automated fix"), strings.Join(paths, ", "))
	commit, _, err := p.client.Git.CreateCommit(ctx, owner, repo, &gh.Commit{
		Message: gh.Ptr(message),
		Tree:    tree,
		Parents: []*gh.Commit{{SHA: baseCommit.SHA}},
	}, nil)
	if err != nil {
		return fmt.Errorf("creating commit: %w", err)
	}

	ref.Object.SHA = commit.SHA
	if _, _, err := p.client.Git.UpdateRef(ctx, owner, repo, ref, false); err != nil {
		return fmt.Errorf("advancing branch: %w", err)
	}
	log.Printf("github: committed %d file(s) on %s", len(inc.FileEdits), branch)
	return nil
}

// commitSingleFile is the legacy path for incidents carrying a whole-file
// rewrite instead of an edit list.
func (p *Provider) commitSingleFile(ctx context.Context, owner, repo, branch string, inc *model.Incident) error {
	path := inc.AffectedFile
	if path == "" {
		path = inc.SourceFile
	}
	message := fmt.Sprintf("fix: AutoDuty fix for incident %s\n\n%s", inc.ID, inc.FixDescription)
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: []byte(inc.FixedCode),
		Branch:  gh.Ptr(branch),
	}

	existing, _, _, err := p.client.Repositories.GetContents(ctx, owner, repo, path,
		&gh.RepositoryContentGetOptions{Ref: branch})
	if err == nil && existing != nil {
		opts.SHA = existing.SHA
		if _, _, err := p.client.Repositories.UpdateFile(ctx, owner, repo, path, opts); err != nil {
			return fmt.Errorf("updating %s: %w", path, err)
		}
		return nil
	}
	if _, _, err := p.client.Repositories.CreateFile(ctx, owner, repo, path, opts); err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return nil
}

// BuildPRBody renders the PR description: root cause, per-file diff blocks,
// and the sandbox verification summary.
func BuildPRBody(inc *model.Incident) string {
	var b strings.Builder

	b.WriteString("## AutoDuty Automated Fix\n\n")
	fmt.Fprintf(&b, "**Incident ID:** `%s`\n", inc.ID)
	fmt.Fprintf(&b, "**Root Cause:** %s\n", inc.RootCause)
	fmt.Fprintf(&b, "**Fix:** %s\n\n", inc.FixDescription)

	if len(inc.FileEdits) > 0 {
		plural := ""
		if len(inc.FileEdits) > 1 {
			plural = "s"
		}
		fmt.Fprintf(&b, "### Changes (%d file%s)\n", len(inc.FileEdits), plural)
		for _, edit := range inc.FileEdits {
			fmt.Fprintf(&b, "\n<details>\n<summary><code>%s</code></summary>\n\n```diff\n%s\n```\n</details>\n",
				edit.Path, strings.TrimRight(edit.UnifiedDiff, "\n"))
		}
	} else if inc.AffectedFile != "" {
		fmt.Fprintf(&b, "### Affected File\n`%s`\n", inc.AffectedFile)
	}

	if inc.SandboxReproduced != nil {
		reproduced := "SKIP"
		if *inc.SandboxReproduced {
			reproduced = "PASS"
		}
		verified := "FAIL"
		if inc.SandboxFixVerified != nil && *inc.SandboxFixVerified {
			verified = "PASS"
		}
		b.WriteString("\n## Sandbox Verification\n")
		b.WriteString("| Check | Result |\n|-------|--------|\n")
		fmt.Fprintf(&b, "| Bug Reproduced | %s |\n", reproduced)
		fmt.Fprintf(&b, "| Fix Verified | %s |\n", verified)
		output := inc.SandboxOutput
		if output == "" {
			output = "N/A"
		}
		fmt.Fprintf(&b, "\n<details>\n<summary>Sandbox Terminal Log</summary>\n\n```\n%s\n```\n</details>\n", output)
	}

	b.WriteString("\n---\n*This PR was automatically generated by AutoDuty, your AI SRE.*\n")
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
