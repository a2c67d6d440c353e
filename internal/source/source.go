// Package source fetches theme layers from a Git repository so they can be
// audited from a checkout instead of a live install.
package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// tokenEnv carries the HTTPS token to the credential helper
const tokenEnv = "THEMESNIFF_GIT_TOKEN"

// Fetcher materializes a ref of a theme repository on disk
type Fetcher interface {
	// Fetch clones or updates url into destDir, checks out ref and returns
	// the resolved commit hash.
	Fetch(ctx context.Context, url, ref, destDir string) (string, error)
}

// GitFetcher implements Fetcher with the git command line client
type GitFetcher struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewGitFetcher creates a fetcher using at most one of the given credentials
func NewGitFetcher(sshKeyFile, httpsTokenFile string) *GitFetcher {
	return &GitFetcher{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// Fetch clones the repository on first use and fetches afterwards, then
// force-checks out ref. Local refs, tags and hashes are tried first,
// remote branches second.
func (f *GitFetcher) Fetch(ctx context.Context, url, ref, destDir string) (string, error) {
	_, statErr := os.Stat(filepath.Join(destDir, ".git"))
	existing := statErr == nil

	if existing {
		if err := f.git(ctx, url, "-C", destDir, "fetch", "--tags", "origin"); err != nil {
			return "", fmt.Errorf("git fetch failed: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
			return "", fmt.Errorf("failed to create checkout parent: %w", err)
		}
		if err := f.git(ctx, url, "clone", "--no-checkout", url, destDir); err != nil {
			return "", fmt.Errorf("git clone failed: %w", err)
		}
	}

	if err := f.git(ctx, "", "-C", destDir, "checkout", "-f", ref); err != nil {
		if err := f.git(ctx, "", "-C", destDir, "checkout", "-f", "origin/"+ref); err != nil {
			return "", fmt.Errorf("git checkout failed for ref %q: %w", ref, err)
		}
	}

	// A fetched branch may lag behind its remote; tags and hashes make this fail harmlessly.
	if existing {
		_ = f.git(ctx, "", "-C", destDir, "reset", "--hard", "origin/"+ref)
	}

	out, err := exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// git runs a git subcommand. When url is non-empty, credentials for it
// are attached to the invocation.
func (f *GitFetcher) git(ctx context.Context, url string, args ...string) error {
	env := os.Environ()
	if url != "" {
		extraArgs, extraEnv, err := f.credentials(url)
		if err != nil {
			return err
		}
		args = append(extraArgs, args...)
		env = append(env, extraEnv...)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = env
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// credentials returns the global git flags and environment needed to
// authenticate against url.
func (f *GitFetcher) credentials(url string) ([]string, []string, error) {
	switch {
	case f.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")):
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(f.sshKeyFile))
		return nil, []string{"GIT_SSH_COMMAND=" + sshCmd}, nil

	case f.httpsTokenFile != "" && strings.HasPrefix(url, "https://"):
		token, err := os.ReadFile(f.httpsTokenFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read HTTPS token file: %w", err)
		}
		helper := `credential.helper=!f() { echo "username=x-access-token"; echo "password=$` + tokenEnv + `"; }; f`
		return []string{"-c", helper},
			[]string{"GIT_TERMINAL_PROMPT=0", tokenEnv + "=" + strings.TrimSpace(string(token))},
			nil
	}
	return nil, nil, nil
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
