// Package gitstore materializes repositories as bare clones on local disk
// and implements the extraction worker's storage seam with the git CLI
package gitstore

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
	"gitrank/internal/services/extract/domain"
)

// Options configures the store
type Options struct {
	// Root is the directory bare clones live under
	Root string

	// CloneTimeout bounds a single clone or fetch
	CloneTimeout time.Duration
}

// Store keeps bare clones under Root, one directory per repository url.
// Copies are retained across runs so a re-submission fetches incrementally
type Store struct {
	opts Options

	// runGit is swappable in tests
	runGit func(ctx context.Context, dir string, args ...string) (string, error)
}

// New constructs the store
func New(opts Options) *Store {
	if opts.Root == "" {
		opts.Root = filepath.Join(os.TempDir(), "gitrank")
	}
	if opts.CloneTimeout <= 0 {
		opts.CloneTimeout = 30 * time.Minute
	}
	return &Store{opts: opts, runGit: runGit}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	// never prompt for credentials, fail instead
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// dirFor maps a url to a stable directory under Root
func (s *Store) dirFor(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(s.opts.Root, hex.EncodeToString(sum[:12])+".git")
}

// authURL injects a token credential into an https remote url.
// Non-https urls are returned untouched
func authURL(raw, credential string) string {
	if credential == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return raw
	}
	u.User = url.UserPassword("x-access-token", credential)
	return u.String()
}

// Materialize clones the repository bare on first sight and fetches with
// prune afterwards
func (s *Store) Materialize(ctx context.Context, repoURL, credential string) (domain.Handle, error) {
	dir := s.dirFor(repoURL)
	ctx, cancel := context.WithTimeout(ctx, s.opts.CloneTimeout)
	defer cancel()

	if _, err := os.Stat(filepath.Join(dir, "HEAD")); err == nil {
		if _, err := s.runGit(ctx, dir, "fetch", "--prune", authURL(repoURL, credential),
			"+refs/heads/*:refs/heads/*"); err != nil {
			return domain.Handle{}, perr.Wrap(err, perr.ErrorCodeMaterialization, "gitstore: fetch")
		}
		logger.C(ctx).Debug().Str("dir", dir).Msg("gitstore: refreshed working copy")
		return domain.Handle{Path: dir, Fresh: false}, nil
	}

	if err := os.MkdirAll(s.opts.Root, 0o755); err != nil {
		return domain.Handle{}, perr.Wrap(err, perr.ErrorCodeMaterialization, "gitstore: mkdir root")
	}
	if _, err := s.runGit(ctx, "", "clone", "--bare", authURL(repoURL, credential), dir); err != nil {
		// a half-written clone would poison the next attempt
		_ = os.RemoveAll(dir)
		return domain.Handle{}, perr.Wrap(err, perr.ErrorCodeMaterialization, "gitstore: clone")
	}
	logger.C(ctx).Debug().Str("dir", dir).Msg("gitstore: cloned working copy")
	return domain.Handle{Path: dir, Fresh: true}, nil
}

// Size walks the clone on disk; the on-disk bare size is the admission
// measure, not the advertised one
func (s *Store) Size(_ context.Context, h domain.Handle) (int64, error) {
	var total int64
	err := filepath.WalkDir(h.Path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeMaterialization, "gitstore: size walk")
	}
	return total, nil
}

// CommitCount counts first-parent-inclusive history across all branches
func (s *Store) CommitCount(ctx context.Context, h domain.Handle) (int64, error) {
	out, err := s.runGit(ctx, h.Path, "rev-list", "--count", "--all")
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeMaterialization, "gitstore: rev-list count")
	}
	n, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeMaterialization, "gitstore: parse count %q", out)
	}
	return n, nil
}

// CommitLog streams committer email and commit time, oldest first, without
// buffering the whole log
func (s *Store) CommitLog(ctx context.Context, h domain.Handle, fn func(domain.Commit) error) error {
	cmd := exec.CommandContext(ctx, "git", "log", "--all", "--reverse", "--format=%cE%x09%ct")
	cmd.Dir = h.Path
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeMaterialization, "gitstore: log pipe")
	}
	if err := cmd.Start(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeMaterialization, "gitstore: log start")
	}

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		c, ok := parseLogLine(sc.Text())
		if !ok {
			continue
		}
		if err := fn(c); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return err
		}
	}
	if err := sc.Err(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return perr.Wrap(err, perr.ErrorCodeMaterialization, "gitstore: log scan")
	}
	if err := cmd.Wait(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeMaterialization, "gitstore: log wait")
	}
	return nil
}

// parseLogLine splits "email<TAB>unixseconds"
func parseLogLine(line string) (domain.Commit, bool) {
	email, ts, ok := strings.Cut(line, "\t")
	if !ok || email == "" {
		return domain.Commit{}, false
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.Commit{}, false
	}
	return domain.Commit{AuthorEmail: email, When: time.Unix(sec, 0).UTC()}, true
}

// Release retains the clone for incremental refresh; nothing to do
func (s *Store) Release(context.Context, domain.Handle) error { return nil }

// Remove discards the clone, used when admission rejects the repository
func (s *Store) Remove(_ context.Context, h domain.Handle) error {
	if h.Path == "" || h.Path == "/" {
		return perr.InvalidArgf("gitstore: refusing to remove %q", h.Path)
	}
	return os.RemoveAll(h.Path)
}
