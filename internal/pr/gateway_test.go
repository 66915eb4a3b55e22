package pr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gh "github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/gitauth"
)

func newTestGateway(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Gateway{tokens: gitauth.StaticTokenProvider("test-token"), baseURL: server.URL}
}

func testRepo() *config.RepositoryConfig {
	return &config.RepositoryConfig{
		Name: "api",
		URL:  "https://github.com/clackhq/api",
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestParsePRURL(t *testing.T) {
	owner, repo, number, err := ParsePRURL("https://github.com/clackhq/api/pull/42")
	require.NoError(t, err)
	assert.Equal(t, "clackhq", owner)
	assert.Equal(t, "api", repo)
	assert.Equal(t, 42, number)

	_, _, _, err = ParsePRURL("https://github.com/clackhq/api")
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/clackhq/api/pulls", func(w http.ResponseWriter, r *http.Request) {
		var req gh.NewPullRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "feat/retry", req.GetHead())
		assert.Equal(t, "main", req.GetBase())
		assert.Equal(t, "Add retry logic", req.GetTitle())

		w.WriteHeader(http.StatusCreated)
		writeJSON(t, w, gh.PullRequest{
			Number:  gh.Ptr(7),
			HTMLURL: gh.Ptr("https://github.com/clackhq/api/pull/7"),
		})
	})

	g := newTestGateway(t, mux)
	url, err := g.Create(t.Context(), testRepo(), "feat/retry", "Add retry logic", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/clackhq/api/pull/7", url)
}

func TestMergeDeletesHeadBranchFromRemoteState(t *testing.T) {
	var deletedRef string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/clackhq/api/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.PullRequest{
			Number: gh.Ptr(7),
			Head:   &gh.PullRequestBranch{Ref: gh.Ptr("feat/renamed-elsewhere")},
		})
	})
	mux.HandleFunc("PUT /api/v3/repos/clackhq/api/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MergeMethod string `json:"merge_method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "squash", req.MergeMethod)
		writeJSON(t, w, gh.PullRequestMergeResult{Merged: gh.Ptr(true)})
	})
	mux.HandleFunc("DELETE /api/v3/repos/clackhq/api/git/refs/", func(w http.ResponseWriter, r *http.Request) {
		deletedRef = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	g := newTestGateway(t, mux)
	cleanup, err := g.Merge(t.Context(), testRepo(), "https://github.com/clackhq/api/pull/7")
	require.NoError(t, err)
	assert.Empty(t, cleanup)
	assert.Contains(t, deletedRef, "heads/feat/renamed-elsewhere")
}

func TestMergeBranchDeletionFailureIsNonFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/clackhq/api/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.PullRequest{Head: &gh.PullRequestBranch{Ref: gh.Ptr("feat/x")}})
	})
	mux.HandleFunc("PUT /api/v3/repos/clackhq/api/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.PullRequestMergeResult{Merged: gh.Ptr(true)})
	})
	mux.HandleFunc("DELETE /api/v3/repos/clackhq/api/git/refs/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	g := newTestGateway(t, mux)
	cleanup, err := g.Merge(t.Context(), testRepo(), "https://github.com/clackhq/api/pull/7")
	require.NoError(t, err)
	assert.Contains(t, cleanup, "feat/x")
}

func TestMergeRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/clackhq/api/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.PullRequest{Head: &gh.PullRequestBranch{Ref: gh.Ptr("feat/x")}})
	})
	mux.HandleFunc("PUT /api/v3/repos/clackhq/api/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.PullRequestMergeResult{Merged: gh.Ptr(false), Message: gh.Ptr("merge conflict")})
	})

	g := newTestGateway(t, mux)
	_, err := g.Merge(t.Context(), testRepo(), "https://github.com/clackhq/api/pull/7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge conflict")
}

func TestCloseKeepsBranchByDefault(t *testing.T) {
	deleted := false
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/clackhq/api/pulls/9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, gh.PullRequest{Head: &gh.PullRequestBranch{Ref: gh.Ptr("feat/x")}})
	})
	mux.HandleFunc("PATCH /api/v3/repos/clackhq/api/pulls/9", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			State string `json:"state"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "closed", req.State)
		writeJSON(t, w, gh.PullRequest{State: gh.Ptr("closed")})
	})
	mux.HandleFunc("DELETE /api/v3/repos/clackhq/api/git/refs/", func(w http.ResponseWriter, r *http.Request) {
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})

	g := newTestGateway(t, mux)
	_, err := g.Close(t.Context(), testRepo(), "https://github.com/clackhq/api/pull/9", false)
	require.NoError(t, err)
	assert.False(t, deleted, "branch deletion requires an explicit request")

	_, err = g.Close(t.Context(), testRepo(), "https://github.com/clackhq/api/pull/9", true)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestCommentsCollectsReviewCommentsAndReviews(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/clackhq/api/pulls/5/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []*gh.PullRequestComment{
			{
				User: &gh.User{Login: gh.Ptr("reviewer")},
				Body: gh.Ptr("rename this"),
				Path: gh.Ptr("main.go"),
				Line: gh.Ptr(12),
			},
		})
	})
	mux.HandleFunc("GET /api/v3/repos/clackhq/api/pulls/5/reviews", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []*gh.PullRequestReview{
			{User: &gh.User{Login: gh.Ptr("lead")}, Body: gh.Ptr("looks close, one nit")},
			{User: &gh.User{Login: gh.Ptr("bot")}, Body: gh.Ptr("  ")},
		})
	})

	g := newTestGateway(t, mux)
	comments, err := g.Comments(t.Context(), "https://github.com/clackhq/api/pull/5")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "rename this", comments[0].Body)
	assert.Equal(t, "main.go", comments[0].Path)
	assert.Equal(t, 12, comments[0].Line)
	assert.Equal(t, "looks close, one nit", comments[1].Body)
}

func TestPRStatusClassification(t *testing.T) {
	tests := []struct {
		name string
		pr   gh.PullRequest
		want Status
	}{
		{name: "open", pr: gh.PullRequest{State: gh.Ptr("open")}, want: StatusOpen},
		{name: "merged", pr: gh.PullRequest{State: gh.Ptr("closed"), Merged: gh.Ptr(true)}, want: StatusMerged},
		{name: "closed unmerged", pr: gh.PullRequest{State: gh.Ptr("closed"), Merged: gh.Ptr(false)}, want: StatusClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /api/v3/repos/clackhq/api/pulls/3", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tt.pr)
			})
			g := newTestGateway(t, mux)
			assert.Equal(t, tt.want, g.PRStatus(t.Context(), "https://github.com/clackhq/api/pull/3"))
		})
	}
}

func TestPRStatusUnknownOnFetchError(t *testing.T) {
	mux := http.NewServeMux() // no routes: every request 404s
	g := newTestGateway(t, mux)
	assert.Equal(t, StatusUnknown, g.PRStatus(t.Context(), "https://github.com/clackhq/api/pull/3"))
	assert.Equal(t, StatusUnknown, g.PRStatus(t.Context(), "not-a-pr-url"))
}
