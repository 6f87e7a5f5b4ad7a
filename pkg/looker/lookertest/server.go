// Package lookertest provides an in-memory Looker API for tests.
//
// The server keeps git state per project (branches, commits, the active dev
// branch) and a session workspace, so branch management can be observed end
// to end. Query tasks resolve against the fields visible on the active ref
// when the task is created.
package lookertest

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

const (
	// Token is the access token issued by the login endpoint.
	Token = "lookertest-token"
	// ClientID and ClientSecret are the accepted credentials.
	ClientID     = "client-id"
	ClientSecret = "client-secret"
	// Release is the reported Looker version.
	Release = "24.6.12"
)

// Server is a fake Looker instance.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	fixture   Fixture
	workspace looker.Workspace
	projects  map[string]*projectState
	queries   map[string]*query
	tasks     map[string]*task
	nextID    int
	created   []string
	deleted   []string
	cancelled []string
	cached    map[string]bool
	failNext  map[string]int
}

type projectState struct {
	fixture  *ProjectFixture
	branches map[string]*branchState
	dev      string
}

type branchState struct {
	name      string
	commit    string
	overrides []FieldOverride
	content   []ContentFixture
}

type query struct {
	id      string
	model   string
	explore string
	fields  []string
	sql     string
	view    *branchState
	project *projectState
}

type task struct {
	id        string
	query     *query
	pollsLeft int
	result    map[string]any
	done      bool
}

// New starts a server for the fixture and closes it when the test ends.
func New(t testing.TB, fixture Fixture) *Server {
	t.Helper()
	s := NewServer(fixture)
	t.Cleanup(s.Close)
	return s
}

// NewServer starts a server for the fixture. The caller must Close it.
func NewServer(fixture Fixture) *Server {
	s := &Server{
		fixture:   fixture,
		workspace: looker.WorkspaceProduction,
		projects:  make(map[string]*projectState),
		queries:   make(map[string]*query),
		tasks:     make(map[string]*task),
		cached:    make(map[string]bool),
		failNext:  make(map[string]int),
	}
	if fixture.Workspace == string(looker.WorkspaceDev) {
		s.workspace = looker.WorkspaceDev
	}

	for i := range s.fixture.Projects {
		p := &s.fixture.Projects[i]
		if p.ProductionBranch == "" {
			p.ProductionBranch = "master"
		}
		if p.DevBranch == "" {
			p.DevBranch = "dev-user"
		}
		ps := &projectState{fixture: p, branches: make(map[string]*branchState), dev: p.DevBranch}
		ps.branches[p.ProductionBranch] = &branchState{name: p.ProductionBranch, commit: p.Commit}
		for name, b := range p.Branches {
			ps.branches[name] = &branchState{name: name, commit: b.Commit, overrides: b.Overrides, content: b.Content}
		}
		if _, ok := ps.branches[p.DevBranch]; !ok {
			ps.branches[p.DevBranch] = &branchState{name: p.DevBranch, commit: p.Commit}
		}
		s.projects[p.Name] = ps
	}

	s.Server = httptest.NewServer(s.routes())
	return s
}

// Client returns an HTTPClient for the server.
func (s *Server) Client(t testing.TB) *looker.HTTPClient {
	t.Helper()
	c, err := looker.NewHTTPClient(looker.Config{
		BaseURL:      s.URL,
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		RetryBase:    time.Millisecond,
		MaxRetries:   2,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/{version}", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(s.injectFailures)

			r.Get("/versions", s.handleVersions)
			r.Get("/session", s.handleGetSession)
			r.Patch("/session", s.handleUpdateSession)

			r.Route("/projects/{project}", func(r chi.Router) {
				r.Get("/git_branch", s.handleActiveBranch)
				r.Put("/git_branch", s.handleUpdateBranch)
				r.Post("/git_branch", s.handleCreateBranch)
				r.Delete("/git_branch/{branch}", s.handleDeleteBranch)
				r.Get("/git_branches", s.handleAllBranches)
				r.Post("/reset_to_remote", s.handleResetToRemote)
				r.Get("/manifest", s.handleManifest)
				r.Get("/lookml_tests", s.handleAllTests)
				r.Get("/lookml_tests/run", s.handleRunTest)
				r.Get("/validate", s.handleCachedValidation)
				r.Post("/validate", s.handleValidate)
			})

			r.Get("/lookml_models", s.handleModels)
			r.Get("/lookml_models/{model}/explores/{explore}", s.handleExplore)
			r.Post("/queries", s.handleCreateQuery)
			r.Get("/queries/{id}/run/sql", s.handleRunSQL)
			r.Post("/query_tasks", s.handleCreateTask)
			r.Get("/query_tasks/multi_results", s.handleMultiResults)
			r.Delete("/running_queries/{id}", s.handleCancel)
			r.Get("/folders", s.handleFolders)
			r.Get("/content_validation", s.handleContentValidation)
		})
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token "+Token {
			writeError(w, http.StatusUnauthorized, "Requires authentication.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FailNext makes the next n requests whose path ends with suffix return
// status 502.
func (s *Server) FailNext(suffix string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[suffix] = n
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		for suffix, n := range s.failNext {
			if n > 0 && strings.HasSuffix(r.URL.Path, suffix) {
				s.failNext[suffix] = n - 1
				s.mu.Unlock()
				writeError(w, http.StatusBadGateway, "Bad Gateway")
				return
			}
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Workspace returns the current session workspace.
func (s *Server) Workspace() looker.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspace
}

// SetWorkspace sets the session workspace.
func (s *Server) SetWorkspace(w looker.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspace = w
}

// ActiveBranch returns the branch a project has checked out in the current
// workspace.
func (s *Server) ActiveBranch(project string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[project]
	if p == nil {
		return ""
	}
	return s.activeLocked(p).name
}

// DevBranch returns the branch a project has checked out in dev mode.
func (s *Server) DevBranch(project string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.projects[project]; p != nil {
		return p.dev
	}
	return ""
}

// Branches returns the sorted branch names of a project.
func (s *Server) Branches(project string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[project]
	if p == nil {
		return nil
	}
	return p.branchNames()
}

// CreatedBranches returns every branch created, as project/branch.
func (s *Server) CreatedBranches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

// DeletedBranches returns every branch deleted, as project/branch.
func (s *Server) DeletedBranches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// CancelledTasks returns the ids of cancelled query tasks.
func (s *Server) CancelledTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

// QueryCount returns the number of queries created.
func (s *Server) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// RunningTasks returns ids of tasks that have not finished.
func (s *Server) RunningTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, t := range s.tasks {
		if !t.done {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) activeLocked(p *projectState) *branchState {
	if s.workspace == looker.WorkspaceProduction {
		return p.branches[p.fixture.ProductionBranch]
	}
	return p.branches[p.dev]
}

func (p *projectState) branchNames() []string {
	names := make([]string, 0, len(p.branches))
	for name := range p.branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolve finds the branch a ref points at: a branch name, origin/<branch>,
// or a (prefix of a) commit.
func (p *projectState) resolve(ref string) *branchState {
	name := strings.TrimPrefix(ref, "origin/")
	if b, ok := p.branches[name]; ok {
		return b
	}
	for _, name := range p.branchNames() {
		b := p.branches[name]
		if b.commit != "" && strings.HasPrefix(b.commit, ref) {
			return b
		}
	}
	return nil
}

func (s *Server) projectForModel(model string) (*projectState, *ModelFixture) {
	for _, p := range s.projects {
		for i := range p.fixture.Models {
			if p.fixture.Models[i].Name == model {
				return p, &p.fixture.Models[i]
			}
		}
	}
	return nil, nil
}

// fields returns the fields of an explore as seen on a branch.
func (p *projectState) fields(view *branchState, model, explore string) ([]FieldFixture, bool) {
	for _, m := range p.fixture.Models {
		if m.Name != model {
			continue
		}
		for _, e := range m.Explores {
			if e.Name != explore {
				continue
			}
			out := make([]FieldFixture, len(e.Fields))
			copy(out, e.Fields)
			for i := range out {
				for _, o := range view.overrides {
					if o.Model != model || o.Explore != explore || o.Field != out[i].Name {
						continue
					}
					if o.SQL != "" {
						out[i].SQL = o.SQL
					}
					if o.Error != "" {
						out[i].Error = o.Error
					}
					if o.Fix {
						out[i].Error = ""
					}
				}
			}
			return out, true
		}
	}
	return nil, false
}

func (p *projectState) content(view *branchState) []ContentFixture {
	if view.content != nil {
		return view.content
	}
	return p.fixture.Content
}
