package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/oshokin/app-updater/internal/domain/release"
)

const (
	fieldSeparator  = "\x1f"
	recordSeparator = "\x1e"
)

// Git runs git subcommands and returns their standard output.
type Git interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecGit runs the git binary found in PATH.
type ExecGit struct {
	// Dir is the repository working tree. Empty means the current directory.
	Dir string
}

// Run executes git with args.
func (g ExecGit) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(string(output)), nil
}

// LatestTag returns the highest vX.Y.Z tag and its version.
// An empty tag means the repository has no release tags yet.
func LatestTag(ctx context.Context, git Git) (string, release.Version, error) {
	output, err := git.Run(ctx, "tag")
	if err != nil {
		return "", release.Version{}, err
	}

	var (
		latestTag     string
		latestVersion release.Version
	)

	for _, tag := range strings.Split(output, "\n") {
		tag = strings.TrimSpace(tag)
		if !strings.HasPrefix(tag, "v") {
			continue
		}

		v, parseErr := release.ParseVersion(tag)
		if parseErr != nil {
			continue
		}

		if latestTag == "" || latestVersion.Less(v) {
			latestTag, latestVersion = tag, v
		}
	}

	return latestTag, latestVersion, nil
}

// CommitsSince returns the commits made after tag, or the whole history when tag is empty.
func CommitsSince(ctx context.Context, git Git, tag string) ([]Commit, error) {
	revisions := "HEAD"
	if tag != "" {
		revisions = tag + "..HEAD"
	}

	output, err := git.Run(ctx, "log", revisions, "--pretty=format:%s%x1f%b%x1e")
	if err != nil {
		return nil, err
	}

	var commits []Commit

	for _, record := range strings.Split(output, recordSeparator) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		subject, body, _ := strings.Cut(record, fieldSeparator)

		commits = append(commits, Commit{
			Subject: strings.TrimSpace(subject),
			Body:    strings.TrimSpace(body),
		})
	}

	return commits, nil
}
