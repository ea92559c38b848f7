// Package retrieval assembles the context block for a chat turn: similar
// prior messages from the vector store, optionally augmented with live data
// from the user's connected GitHub account.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/dorainsight/dora/internal/github"
	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/store"
)

// Tags delimiting live external data inside the context block. The generation
// layer keys its authorization language off the opening tag.
const (
	ExternalDataTag    = "[AUTHORIZED GITHUB DATA]"
	ExternalDataEndTag = "[END GITHUB DATA]"
)

// ErrNotConnected reports that the user has no active credential for the
// provider. Token sources return it to distinguish "never connected" from a
// real credential failure.
var ErrNotConnected = errors.New("integration not connected")

const (
	// DefaultTopK is the similarity result count when the config leaves it unset.
	DefaultTopK = 3
	// DefaultRecencyWindow bounds similarity search to recent history.
	DefaultRecencyWindow = 30 * 24 * time.Hour

	repoScanLimit    = 10
	maxMatchedRepos  = 2
	commitFetchLimit = 5
	issueFetchLimit  = 5
)

// triggerTerms gate GitHub augmentation. Matched case-insensitively as
// substrings of the prompt.
var triggerTerms = []string{
	"repository", "repo", "code", "commit", "issue",
	"pull request", "branch", "github", "readme", "merge",
}

// Searcher is the vector-search dependency.
type Searcher interface {
	SearchSimilar(ctx context.Context, q store.SimilaritySearch) ([]store.SimilarMessage, error)
}

// TokenSource resolves a usable plaintext credential for a user. Invalidate
// is called when the upstream rejects the credential so the integration is
// deactivated rather than retried forever.
type TokenSource interface {
	Token(ctx context.Context, userID uuid.UUID) (string, error)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// Connector is the subset of the GitHub client the retriever uses.
type Connector interface {
	Repositories(ctx context.Context, token string, n int) ([]github.Repo, error)
	Repository(ctx context.Context, token, owner, name string) (*github.Repo, error)
	Commits(ctx context.Context, token, owner, name string, n int) ([]github.Commit, error)
	Issues(ctx context.Context, token, owner, name string, n int) ([]github.Issue, error)
}

// Request carries one turn's retrieval inputs. Vector is nil when embedding
// failed upstream; ExcludeMessageID keeps the triggering message out of its
// own context.
type Request struct {
	UserID           uuid.UUID
	Prompt           string
	Vector           []float32
	ExcludeMessageID int64
}

// Retriever builds context blocks. All failures degrade: a turn never fails
// because retrieval did.
type Retriever struct {
	search  Searcher
	tokens  TokenSource
	gh      Connector
	topK    int
	recency time.Duration
	logger  log.Logger
}

// New creates a retriever. topK and recency fall back to defaults when
// non-positive.
func New(search Searcher, tokens TokenSource, gh Connector, topK int, recency time.Duration, logger log.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if recency <= 0 {
		recency = DefaultRecencyWindow
	}
	return &Retriever{
		search:  search,
		tokens:  tokens,
		gh:      gh,
		topK:    topK,
		recency: recency,
		logger:  logger,
	}
}

// Retrieve returns the context block for the given turn. The block is empty
// when nothing relevant was found; it never signals an error to the caller.
func (r *Retriever) Retrieve(ctx context.Context, req Request) string {
	var parts []string

	if conv := r.conversational(ctx, req); conv != "" {
		parts = append(parts, conv)
	}
	if ext := r.augment(ctx, req.UserID, req.Prompt); ext != "" {
		parts = append(parts, ext)
	}

	return strings.Join(parts, "\n\n")
}

// conversational runs the similarity query and formats the ranked results.
func (r *Retriever) conversational(ctx context.Context, req Request) string {
	if len(req.Vector) == 0 {
		return ""
	}

	rows, err := r.search.SearchSimilar(ctx, store.SimilaritySearch{
		UserID:           req.UserID,
		Embedding:        req.Vector,
		ExcludeMessageID: req.ExcludeMessageID,
		Since:            time.Now().Add(-r.recency),
		Limit:            r.topK,
	})
	if err != nil {
		r.logger.Warn("similarity search failed, continuing without history", "error", err)
		return ""
	}

	return FormatMessages(rows)
}

// FormatMessages renders ranked similarity results as "Sender: content"
// lines, separated by a --- line whenever adjacent results come from
// different sessions.
func FormatMessages(rows []store.SimilarMessage) string {
	var b strings.Builder
	var prevSession uuid.UUID
	for i, row := range rows {
		if i > 0 {
			if row.SessionID != prevSession {
				b.WriteString("\n---\n")
			} else {
				b.WriteString("\n")
			}
		}
		fmt.Fprintf(&b, "%s: %s", capitalize(row.Sender), row.Content)
		prevSession = row.SessionID
	}
	return b.String()
}

// capitalize upper-cases the first rune of a sender tag ("user" -> "User").
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// wantsGitHub reports whether the prompt mentions any trigger term.
func wantsGitHub(prompt string) bool {
	p := strings.ToLower(prompt)
	for _, term := range triggerTerms {
		if strings.Contains(p, term) {
			return true
		}
	}
	return false
}

// augment fetches live GitHub data when the prompt asks for it and the user
// has a usable credential. Credential rejection deactivates the integration.
func (r *Retriever) augment(ctx context.Context, userID uuid.UUID, prompt string) string {
	if !wantsGitHub(prompt) {
		return ""
	}

	token, err := r.tokens.Token(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return ""
		}
		r.logger.Warn("credential resolution failed", "user_id", userID, "error", err)
		return degradeNote(err)
	}

	repos, err := r.gh.Repositories(ctx, token, repoScanLimit)
	if err != nil {
		return r.degrade(ctx, userID, err)
	}
	if len(repos) == 0 {
		return ""
	}

	matched := matchRepos(prompt, repos)

	var fragments []string
	if len(matched) > 0 {
		for _, repo := range matched {
			frag, err := r.repoDigest(ctx, token, repo, true)
			if err != nil {
				return r.degrade(ctx, userID, err)
			}
			fragments = append(fragments, frag)
		}
	} else {
		// No repo named in the prompt: summarize the most recently
		// updated one. The repos endpoint sorts by update time.
		frag, err := r.repoDigest(ctx, token, repos[0], false)
		if err != nil {
			return r.degrade(ctx, userID, err)
		}
		fragments = append(fragments, frag)
	}

	return ExternalDataTag + "\n" + strings.Join(fragments, "\n\n") + "\n" + ExternalDataEndTag
}

// degrade maps an augmentation failure to the user-visible note, deactivating
// the integration when the upstream rejected the credential.
func (r *Retriever) degrade(ctx context.Context, userID uuid.UUID, err error) string {
	if errors.Is(err, github.ErrUnauthorized) {
		r.logger.Warn("github credential rejected, deactivating integration", "user_id", userID)
		r.tokens.Invalidate(ctx, userID)
	} else {
		r.logger.Warn("github augmentation failed", "user_id", userID, "error", err)
	}
	return degradeNote(err)
}

func degradeNote(err error) string {
	return fmt.Sprintf("(unable to access external data: %v)", err)
}

// matchRepos returns repos whose name or full name appears in the prompt,
// capped at maxMatchedRepos.
func matchRepos(prompt string, repos []github.Repo) []github.Repo {
	p := strings.ToLower(prompt)
	var matched []github.Repo
	for _, repo := range repos {
		if strings.Contains(p, strings.ToLower(repo.Name)) ||
			strings.Contains(p, strings.ToLower(repo.FullName)) {
			matched = append(matched, repo)
			if len(matched) == maxMatchedRepos {
				break
			}
		}
	}
	return matched
}

// repoDigest builds the per-repository fragment: details, recent commits and,
// for prompt-matched repos, recent issues.
func (r *Retriever) repoDigest(ctx context.Context, token string, repo github.Repo, withIssues bool) (string, error) {
	detail, err := r.gh.Repository(ctx, token, repo.Owner(), repo.Name)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repository %s", detail.FullName)
	if detail.Description != "" {
		fmt.Fprintf(&b, ": %s", detail.Description)
	}
	b.WriteString("\n")
	if detail.Language != "" {
		fmt.Fprintf(&b, "Language: %s. ", detail.Language)
	}
	fmt.Fprintf(&b, "Stars: %d. Open issues: %d. Last pushed: %s.",
		detail.Stars, detail.OpenIssues, detail.PushedAt.Format("2006-01-02"))

	commits, err := r.gh.Commits(ctx, token, repo.Owner(), repo.Name, commitFetchLimit)
	if err != nil {
		return "", err
	}
	if len(commits) > 0 {
		fmt.Fprintf(&b, "\nRecent commits in %s:", detail.FullName)
		for _, c := range commits {
			fmt.Fprintf(&b, "\n- %s %s (%s, %s)",
				shortSHA(c.SHA), firstLine(c.Message), c.AuthorName, c.AuthorDate.Format("2006-01-02"))
		}
	}

	if withIssues {
		issues, err := r.gh.Issues(ctx, token, repo.Owner(), repo.Name, issueFetchLimit)
		if err != nil {
			return "", err
		}
		if len(issues) > 0 {
			fmt.Fprintf(&b, "\nRecent issues in %s:", detail.FullName)
			for _, is := range issues {
				fmt.Fprintf(&b, "\n- #%d [%s] %s", is.Number, is.State, is.Title)
			}
		}
	}

	return b.String(), nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
