package github

import (
	"fmt"
	"time"
)

// Account is the authenticated GitHub user, as returned by the /user endpoint.
type Account struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Repo is a normalized repository record.
type Repo struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	HTMLURL     string    `json:"html_url"`
	Fork        bool      `json:"fork"`
	Language    string    `json:"language"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	OpenIssues  int       `json:"open_issues_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PushedAt    time.Time `json:"pushed_at"`
}

// Owner returns the owner segment of the repository full name.
func (r Repo) Owner() string {
	for i, c := range r.FullName {
		if c == '/' {
			return r.FullName[:i]
		}
	}
	return ""
}

// Commit is a flattened commit record. The GitHub API nests message and author
// under a "commit" object; the wire shape is normalized away at the client.
type Commit struct {
	SHA        string    `json:"sha"`
	Message    string    `json:"message"`
	AuthorName string    `json:"author_name"`
	AuthorDate time.Time `json:"author_date"`
	HTMLURL    string    `json:"html_url"`
}

// Issue is a normalized issue record.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	Body      string     `json:"body"`
	HTMLURL   string     `json:"html_url"`
	User      string     `json:"user"`
	Labels    []string   `json:"labels"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// QueryKind is the closed set of on-demand data fetch operations. Unknown
// tags are rejected at the boundary by ParseQueryKind.
type QueryKind int

const (
	QueryRepos QueryKind = iota + 1
	QueryRepoDetails
	QueryCommits
	QueryIssues
	QueryIssueDetails
)

var queryKindNames = map[QueryKind]string{
	QueryRepos:        "repos",
	QueryRepoDetails:  "repo_details",
	QueryCommits:      "commits",
	QueryIssues:       "issues",
	QueryIssueDetails: "issue_details",
}

// String returns the wire tag for the kind.
func (k QueryKind) String() string {
	if name, ok := queryKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("QueryKind(%d)", int(k))
}

// ParseQueryKind maps a wire tag to its QueryKind.
func ParseQueryKind(s string) (QueryKind, error) {
	for kind, name := range queryKindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown query type: %q", s)
}
