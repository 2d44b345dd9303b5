package domain

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/smallbiznis/catalogsync/internal/ratelimit"
)

// NoReleases fills the release columns of repositories without releases.
const NoReleases = "No releases"

// RepoStats are the dynamic metrics collected for one repository.
type RepoStats struct {
	URL           string
	FullName      string
	Forks         int
	TotalReleases int
	LatestRelease string
	ReleaseDate   string
	Stars         int
	OpenIssues    int
	Contributors  int
	Discussions   bool
}

type Client interface {
	Repository(ctx context.Context, fullName string) (RepoStats, error)
	RateLimit(ctx context.Context) (ratelimit.Quota, error)
}

var ErrInvalidRepositoryURL = errors.New("invalid_repository_url")

// FullNameFromURL returns "owner/repo" from the last two path segments of
// a repository URL.
func FullNameFromURL(raw string) (string, error) {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	if s == "" {
		return "", ErrInvalidRepositoryURL
	}
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		s = strings.TrimRight(u.Path, "/")
	}
	s = strings.TrimSuffix(s, ".git")
	parts := strings.Split(s, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", ErrInvalidRepositoryURL
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1], nil
}
