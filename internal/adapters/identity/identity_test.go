package identity

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/go-github/v62/github"

	perr "gitrank/internal/platform/errors"
)

func TestParseNoreply(t *testing.T) {
	cases := []struct {
		in    string
		login string
		ok    bool
	}{
		{"12345+octocat@users.noreply.github.com", "octocat", true},
		{"octocat@users.noreply.github.com", "octocat", true},
		{"OCTOCAT@USERS.NOREPLY.GITHUB.COM", "octocat", true},
		{"alice@example.com", "", false},
		{"@users.noreply.github.com", "", false},
	}
	for _, c := range cases {
		login, ok := parseNoreply(c.in)
		if ok != c.ok || login != c.login {
			t.Fatalf("parseNoreply(%q) = %q, %v; want %q, %v", c.in, login, ok, c.login, c.ok)
		}
	}
}

func TestNoreplyLookupSkipsAPI(t *testing.T) {
	c := New()
	c.newClient = func(string) (*github.Client, error) {
		t.Fatal("noreply lookup built an API client")
		return nil, nil
	}

	id, meta, err := c.Lookup(context.Background(), "99+octocat@users.noreply.github.com", "")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if id.Login != "octocat" || id.ProfileURL != "https://github.com/octocat" {
		t.Fatalf("identity = %+v", id)
	}
	if !meta.Zero() {
		t.Fatalf("noreply lookup produced rate meta: %+v", meta)
	}
}

func TestParseGitHubURL(t *testing.T) {
	cases := []struct {
		in          string
		owner, name string
		ok          bool
	}{
		{"https://github.com/org/repo", "org", "repo", true},
		{"https://github.com/org/repo.git", "org", "repo", true},
		{"https://github.com/org/repo/", "org", "repo", true},
		{"https://gitlab.com/org/repo", "", "", false},
		{"https://github.com/org", "", "", false},
		{"https://github.com/org/repo/extra", "", "", false},
	}
	for _, c := range cases {
		owner, name, ok := parseGitHubURL(c.in)
		if ok != c.ok || owner != c.owner || name != c.name {
			t.Fatalf("parseGitHubURL(%q) = %q/%q, %v; want %q/%q, %v",
				c.in, owner, name, ok, c.owner, c.name, c.ok)
		}
	}
}

func TestClassify(t *testing.T) {
	rl := &github.RateLimitError{}
	if !perr.IsCode(classify(rl, "a@x.io"), perr.ErrorCodeTooManyRequests) {
		t.Fatal("rate limit error not classified as too many requests")
	}

	notFound := &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
	if !perr.IsCode(classify(notFound, "a@x.io"), perr.ErrorCodeNotFound) {
		t.Fatal("404 not classified as not found")
	}

	upstream := &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	if !perr.IsCode(classify(upstream, "a@x.io"), perr.ErrorCodeUnavailable) {
		t.Fatal("502 not classified as unavailable")
	}
}

func TestReportedSizeNonGitHubURL(t *testing.T) {
	c := New()
	_, ok, err := c.ReportedSize(context.Background(), "https://gitlab.com/org/repo", "")
	if err != nil || ok {
		t.Fatalf("non-github url: ok=%v err=%v, want no answer", ok, err)
	}
}

func TestClientPerCredentialIsCached(t *testing.T) {
	c := New()
	built := 0
	c.newClient = func(string) (*github.Client, error) {
		built++
		return github.NewClient(nil), nil
	}

	if _, err := c.clientFor("tok-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.clientFor("tok-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.clientFor("tok-b"); err != nil {
		t.Fatal(err)
	}
	if built != 2 {
		t.Fatalf("built %d clients, want 2", built)
	}
}
