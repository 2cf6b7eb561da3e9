// Package workspace manages a checked-out copy of the target repository that
// the reasoning step inspects and edits.
//
// Every mutating operation snapshots the file's pre-edit content the first
// time the file is touched within the current retry window, so Diff can
// produce per-file unified diffs against the true pre-window state no matter
// how many times a file is edited in between.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/jeff4444/autoduty-backend/model"
)

// Operation-local errors. These are returned to the tool surface as readable
// results; they never abort the pipeline.
var (
	// ErrNotFound means the requested path does not exist in the checkout.
	ErrNotFound = errors.New("file not found")
	// ErrNotAFile means the path exists but is not a regular file.
	ErrNotAFile = errors.New("not a file")
	// ErrNotADirectory means the path exists but is not a directory.
	ErrNotADirectory = errors.New("not a directory")
	// ErrNotFoundInFile means the search string was absent from the file.
	ErrNotFoundInFile = errors.New("string not found in file")
	// ErrPathEscape means the path resolves outside the checkout root. The
	// operation is rejected before any filesystem access.
	ErrPathEscape = errors.New("path escapes repository root")
	// ErrBadPattern means the search regex failed to compile. Validated
	// before any file is read.
	ErrBadPattern = errors.New("invalid regex pattern")
)

// CheckoutError is the fatal failure to materialize a working copy. It
// surfaces the underlying clone stderr.
type CheckoutError struct {
	RepoURL string
	Stderr  string
	Err     error
}

func (e *CheckoutError) Error() string {
	msg := fmt.Sprintf("checkout of %s failed", e.RepoURL)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// maxSearchResults caps Search output. A truncation marker is appended when
// more matches exist.
const maxSearchResults = 50

// skipDirs are directory names excluded from Search and List: version-control
// metadata and dependency caches.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	"vendor":       true,
}

// WorkingCopy is one filesystem checkout bound to a repository and branch.
// It is exclusively owned by a single incident's pipeline goroutine; its
// methods require no locking.
type WorkingCopy struct {
	repoURL string
	branch  string
	root    string

	// baselines maps relative path to the file content recorded on first
	// touch within the current retry window. Empty string means the path did
	// not exist. Bounded by edit-set size, not repository size.
	baselines map[string]string
}

// Checkout clones repoURL at branch into a process-unique directory under
// baseDir. The clone is shallow and single-branch. A non-zero exit from git
// yields a *CheckoutError carrying the clone's stderr.
func Checkout(ctx context.Context, baseDir, repoURL, branch, id string) (*WorkingCopy, error) {
	if branch == "" {
		branch = "main"
	}

	name := repoURL
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".git")
	name = regexp.MustCompile(`[^\w\-]`).ReplaceAllString(name, "_")
	dest := filepath.Join(baseDir, fmt.Sprintf("%s-%s-%d", name, id, os.Getpid()))

	if err := os.RemoveAll(dest); err != nil {
		return nil, &CheckoutError{RepoURL: repoURL, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, &CheckoutError{RepoURL: repoURL, Err: err}
	}

	log.Printf("workspace: cloning %s (branch %s) to %s", repoURL, branch, dest)

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth=1", "--single-branch", "--branch", branch, repoURL, dest)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CheckoutError{RepoURL: repoURL, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}

	return &WorkingCopy{
		repoURL:   repoURL,
		branch:    branch,
		root:      dest,
		baselines: make(map[string]string),
	}, nil
}

// Open binds a WorkingCopy to an existing directory. Used by tests and by
// callers that materialize the tree themselves.
func Open(root string) *WorkingCopy {
	return &WorkingCopy{
		root:      root,
		baselines: make(map[string]string),
	}
}

// Root returns the checkout directory.
func (w *WorkingCopy) Root() string { return w.root }

// resolve maps a relative path to an absolute path inside the checkout,
// rejecting anything that would escape the root. The check follows symlinks:
// a cloned repository is untrusted content and may contain links pointing
// outside the checkout.
func (w *WorkingCopy) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	clean := filepath.Clean(filepath.Join(w.root, path))
	if clean != w.root && !strings.HasPrefix(clean, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}

	real, err := resolveExisting(clean)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	realRoot, err := resolveExisting(w.root)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	if real != realRoot && !strings.HasPrefix(real, realRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return clean, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// rejoins the not-yet-existing remainder, so paths about to be created are
// checked through the links of their parent directories.
func resolveExisting(p string) (string, error) {
	suffix := ""
	for {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(real, suffix), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent
	}
}

// Read returns the full text of a file.
func (w *WorkingCopy) Read(path string) (string, error) {
	abs, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotAFile, path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// Write overwrites a file with content, creating parent directories as
// needed. The pre-write content becomes the baseline on first touch; for a
// file that did not exist the baseline is the empty string.
func (w *WorkingCopy) Write(path string, content string) error {
	abs, err := w.resolve(path)
	if err != nil {
		return err
	}
	w.snapshot(path, abs)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Replace substitutes the first exact, whitespace-sensitive occurrence of old
// with new. It returns the total number of occurrences found even though only
// the first is applied. If old is absent the file is left unmodified and
// ErrNotFoundInFile is returned with a zero count.
func (w *WorkingCopy) Replace(path, old, new string) (int, error) {
	content, err := w.Read(path)
	if err != nil {
		return 0, err
	}

	count := strings.Count(content, old)
	if count == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFoundInFile, path)
	}

	abs, err := w.resolve(path)
	if err != nil {
		return 0, err
	}
	w.snapshot(path, abs)

	updated := strings.Replace(content, old, new, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return count, nil
}

// snapshot records the current content of path as its baseline, at most once
// per retry window.
func (w *WorkingCopy) snapshot(path, abs string) {
	if _, ok := w.baselines[path]; ok {
		return
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		w.baselines[path] = "" // new file
		return
	}
	w.baselines[path] = string(data)
}

// Search scans text files under path recursively for a regex pattern,
// skipping version-control metadata, dependency caches, and hidden entries.
// Results are "path:line: text" strings, capped at 50 with an explicit
// truncation marker. A malformed pattern fails before any file is read.
func (w *WorkingCopy) Search(pattern, path string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPattern, err)
	}

	if path == "" {
		path = "."
	}
	abs, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	var results []string
	truncated := false

	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if p != abs && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil || !isText(data) {
			return nil
		}

		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				if len(results) >= maxSearchResults {
					truncated = true
					return errStopWalk
				}
				results = append(results, fmt.Sprintf("%s:%d: %s", filepath.ToSlash(rel), i+1, strings.TrimRight(line, " \t\r")))
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != errStopWalk {
		return nil, walkErr
	}

	if truncated {
		results = append(results, fmt.Sprintf("... (truncated at %d results)", maxSearchResults))
	}
	return results, nil
}

var errStopWalk = errors.New("stop walk")

// isText reports whether data looks like text (no NUL byte in the first 8KB).
func isText(data []byte) bool {
	n := len(data)
	if n > 8192 {
		n = 8192
	}
	for _, b := range data[:n] {
		if b == 0 {
			return false
		}
	}
	return true
}

// List returns the immediate children of path, directories suffixed with "/",
// with the same exclusions as Search.
func (w *WorkingCopy) List(path string) ([]string, error) {
	if path == "" {
		path = "."
	}
	abs, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, path)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || skipDirs[name] {
			continue
		}
		rel, err := filepath.Rel(w.root, filepath.Join(abs, name))
		if err != nil {
			continue
		}
		entry := filepath.ToSlash(rel)
		if e.IsDir() {
			entry += "/"
		}
		out = append(out, entry)
	}
	sort.Strings(out)
	return out, nil
}

// ResetBaseline re-snapshots the current content of every tracked path as
// its new baseline. Called at retry-window boundaries so the next Diff
// reflects only that attempt's changes, not the cumulative history.
func (w *WorkingCopy) ResetBaseline() {
	fresh := make(map[string]string, len(w.baselines))
	for path := range w.baselines {
		abs, err := w.resolve(path)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			fresh[path] = "" // file was deleted
			continue
		}
		fresh[path] = string(data)
	}
	w.baselines = fresh
	log.Printf("workspace: baseline reset, %d file(s) re-snapshotted", len(fresh))
}

// Diff returns one FileEdit per tracked path whose current content differs
// from its baseline, each with a unified diff using a/<path> and b/<path>
// headers. Paths with no net change are omitted. Order is deterministic.
func (w *WorkingCopy) Diff() ([]model.FileEdit, error) {
	paths := make([]string, 0, len(w.baselines))
	for p := range w.baselines {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var edits []model.FileEdit
	for _, path := range paths {
		original := w.baselines[path]

		abs, err := w.resolve(path)
		if err != nil {
			return nil, err
		}
		current := ""
		if data, err := os.ReadFile(abs); err == nil {
			current = string(data)
		}

		if original == current {
			continue
		}

		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        splitLines(original),
			B:        splitLines(current),
			FromFile: "a/" + filepath.ToSlash(path),
			ToFile:   "b/" + filepath.ToSlash(path),
			Context:  3,
		})
		if err != nil {
			return nil, fmt.Errorf("diffing %s: %w", path, err)
		}

		edits = append(edits, model.FileEdit{
			Path:            filepath.ToSlash(path),
			OriginalContent: original,
			NewContent:      current,
			UnifiedDiff:     diff,
		})
	}
	return edits, nil
}

// splitLines splits keeping line terminators, treating the empty string as
// zero lines so new-file diffs carry no phantom empty line. An unterminated
// final line gets a marker line so that adding or removing only the trailing
// newline still produces a diff.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	// difflib requires every line to carry its terminator.
	lines[len(lines)-1] += "\n"
	return append(lines, "\\ No newline at end of file\n")
}

// Dispose removes the checkout from disk. Idempotent.
func (w *WorkingCopy) Dispose() {
	if w.root == "" {
		return
	}
	if err := os.RemoveAll(w.root); err != nil {
		log.Printf("workspace: failed to remove %s: %v", w.root, err)
		return
	}
	log.Printf("workspace: removed checkout %s", w.root)
}
