package lookertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": Token,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *Server) handleVersions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"looker_release_version": Release})
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"workspace_id": s.workspace})
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspaceID looker.Workspace `json:"workspace_id"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.WorkspaceID != looker.WorkspaceDev && body.WorkspaceID != looker.WorkspaceProduction {
		writeError(w, http.StatusUnprocessableEntity, "Invalid workspace")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspace = body.WorkspaceID
	writeJSON(w, http.StatusOK, map[string]any{"workspace_id": s.workspace})
}

// project looks up the project in the URL, writing a 404 when missing.
// The caller must hold s.mu.
func (s *Server) project(w http.ResponseWriter, r *http.Request) *projectState {
	p := s.projects[chi.URLParam(r, "project")]
	if p == nil {
		writeError(w, http.StatusNotFound, "Not found")
	}
	return p
}

func (s *Server) handleActiveBranch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	b := s.activeLocked(p)
	writeJSON(w, http.StatusOK, looker.Branch{Name: b.name, Ref: b.commit})
}

func (s *Server) handleAllBranches(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	var out []looker.Branch
	for _, name := range p.branchNames() {
		out = append(out, looker.Branch{Name: name, Ref: p.branches[name].commit})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpdateBranch checks out a branch, or hard resets it when a ref is given.
func (s *Server) handleUpdateBranch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Ref  string `json:"ref"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	if s.workspace != looker.WorkspaceDev {
		writeError(w, http.StatusBadRequest, "Branches can only be changed in the dev workspace")
		return
	}
	b, ok := p.branches[body.Name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Branch %s not found", body.Name))
		return
	}

	if body.Ref != "" {
		if p.dev != body.Name {
			writeError(w, http.StatusConflict, "Only the active branch can be reset")
			return
		}
		src := p.resolve(body.Ref)
		if src == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Ref %s not found", body.Ref))
			return
		}
		b.commit = src.commit
		b.overrides = src.overrides
		b.content = src.content
	} else {
		p.dev = body.Name
	}
	writeJSON(w, http.StatusOK, looker.Branch{Name: b.name, Ref: b.commit})
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Ref  string `json:"ref"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	if s.workspace != looker.WorkspaceDev {
		writeError(w, http.StatusBadRequest, "Branches can only be created in the dev workspace")
		return
	}
	if _, exists := p.branches[body.Name]; exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("Branch %s already exists", body.Name))
		return
	}
	src := p.branches[p.dev]
	if body.Ref != "" {
		src = p.resolve(body.Ref)
		if src == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Ref %s not found", body.Ref))
			return
		}
	}
	p.branches[body.Name] = &branchState{
		name:      body.Name,
		commit:    src.commit,
		overrides: src.overrides,
		content:   src.content,
	}
	p.dev = body.Name
	s.created = append(s.created, p.fixture.Name+"/"+body.Name)
	writeJSON(w, http.StatusOK, looker.Branch{Name: body.Name, Ref: src.commit})
}

func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	name := chi.URLParam(r, "branch")
	switch {
	case s.workspace != looker.WorkspaceDev:
		writeError(w, http.StatusBadRequest, "Branches can only be deleted in the dev workspace")
		return
	case p.branches[name] == nil:
		writeError(w, http.StatusNotFound, fmt.Sprintf("Branch %s not found", name))
		return
	case name == p.dev:
		writeError(w, http.StatusConflict, "Cannot delete the active branch")
		return
	case name == p.fixture.ProductionBranch:
		writeError(w, http.StatusConflict, "Cannot delete the production branch")
		return
	}
	delete(p.branches, name)
	s.deleted = append(s.deleted, p.fixture.Name+"/"+name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetToRemote(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.project(w, r); p == nil {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	if p.fixture.NoManifest {
		writeError(w, http.StatusNotFound, "Manifest not found")
		return
	}
	m := looker.Manifest{Name: p.fixture.Name, Imports: []looker.ProjectImport{}}
	for _, imp := range p.fixture.Imports {
		m.Imports = append(m.Imports, looker.ProjectImport{Name: imp.Name, IsRemote: imp.Remote})
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []looker.LookMLModel{}
	for _, f := range s.fixture.Projects {
		for _, m := range f.Models {
			lm := looker.LookMLModel{Name: m.Name, ProjectName: f.Name, Explores: []looker.ExploreRef{}}
			for _, e := range m.Explores {
				lm.Explores = append(lm.Explores, looker.ExploreRef{Name: e.Name})
			}
			out = append(out, lm)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	model, explore := chi.URLParam(r, "model"), chi.URLParam(r, "explore")

	s.mu.Lock()
	defer s.mu.Unlock()
	p, _ := s.projectForModel(model)
	if p == nil {
		writeError(w, http.StatusNotFound, "Model not found")
		return
	}
	fields, ok := p.fields(s.activeLocked(p), model, explore)
	if !ok {
		writeError(w, http.StatusNotFound, "Explore not found")
		return
	}

	dims := make([]looker.LookMLField, 0, len(fields))
	for _, f := range fields {
		view := strings.SplitN(f.Name, ".", 2)[0]
		dims = append(dims, looker.LookMLField{
			Name:       f.Name,
			Type:       f.Type,
			Tags:       append([]string{}, f.Tags...),
			SQL:        f.SQL,
			LookMLLink: fmt.Sprintf("/projects/%s/files/views/%s.view.lkml?line=%d", p.fixture.Name, view, max(f.Line, 1)),
			Hidden:     f.Hidden,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":   explore,
		"fields": map[string]any{"dimensions": dims},
	})
}

func (s *Server) handleCreateQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model            string   `json:"model"`
		View             string   `json:"view"`
		Fields           []string `json:"fields"`
		Limit            string   `json:"limit"`
		FilterExpression string   `json:"filter_expression"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, _ := s.projectForModel(body.Model)
	if p == nil {
		writeError(w, http.StatusNotFound, "Model not found")
		return
	}
	view := s.activeLocked(p)
	fields, ok := p.fields(view, body.Model, body.View)
	if !ok {
		writeError(w, http.StatusNotFound, "Explore not found")
		return
	}

	sqls := make([]string, 0, len(body.Fields))
	for _, name := range body.Fields {
		var sql string
		for _, f := range fields {
			if f.Name == name {
				sql = f.SQL
			}
		}
		sqls = append(sqls, fmt.Sprintf("    %s AS %q", sql, name))
	}

	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.queries[id] = &query{
		id:      id,
		model:   body.Model,
		explore: body.View,
		fields:  body.Fields,
		sql: fmt.Sprintf("SELECT\n%s\nFROM %s.%s\nWHERE %s\nLIMIT %s",
			strings.Join(sqls, ",\n"), body.Model, body.View, body.FilterExpression, body.Limit),
		view:    view,
		project: p,
	}
	writeJSON(w, http.StatusOK, looker.Query{ID: id, ShareURL: s.URL + "/x/q" + id})
}

func (s *Server) handleRunSQL(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queries[chi.URLParam(r, "id")]
	if q == nil {
		writeError(w, http.StatusNotFound, "Query not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(q.sql))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QueryID      string `json:"query_id"`
		ResultFormat string `json:"result_format"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queries[body.QueryID]
	if q == nil {
		writeError(w, http.StatusNotFound, "Query not found")
		return
	}
	s.nextID++
	id := fmt.Sprintf("task-%d", s.nextID)
	s.tasks[id] = &task{
		id:        id,
		query:     q,
		pollsLeft: s.fixture.PollsUntilDone,
		result:    s.resultLocked(q, id),
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// resultLocked computes the terminal result of a query task from the fields
// visible on the branch the query was created against.
func (s *Server) resultLocked(q *query, taskID string) map[string]any {
	fields, _ := q.project.fields(q.view, q.model, q.explore)
	byName := make(map[string]FieldFixture, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	var runtime float64
	var errs []map[string]any
	for _, name := range q.fields {
		f := byName[name]
		if f.Status != "" {
			return map[string]any{"status": f.Status}
		}
		runtime = max(runtime, f.Runtime)
		if f.Error != "" {
			errs = append(errs, map[string]any{
				"message":         f.Error,
				"message_details": nil,
				"sql_error_loc":   map[string]any{"line": max(f.Line, 1), "column": 1},
			})
		}
	}

	if len(errs) > 0 {
		return map[string]any{
			"status": "error",
			"data": map[string]any{
				"id":      taskID,
				"runtime": runtime,
				"sql":     q.sql,
				"errors":  errs,
			},
		}
	}
	return map[string]any{
		"status": "complete",
		"data":   map[string]any{"id": taskID, "runtime": runtime},
	}
}

func (s *Server) handleMultiResults(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.URL.Query().Get("query_task_ids"), ",")

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(ids))
	for _, id := range ids {
		t := s.tasks[id]
		if t == nil {
			continue
		}
		if t.pollsLeft > 0 {
			t.pollsLeft--
			out[id] = map[string]any{"status": "running"}
			continue
		}
		t.done = true
		out[id] = t.result
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil || t.done {
		writeError(w, http.StatusNotFound, "Query task not found")
		return
	}
	t.done = true
	t.result = map[string]any{"status": "killed"}
	s.cancelled = append(s.cancelled, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFolders(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	personal := make(map[string]bool)
	parent := make(map[string]string)
	for _, f := range s.fixture.Folders {
		personal[f.ID] = f.Personal
		parent[f.ID] = f.ParentID
	}
	descendant := func(id string) bool {
		for p := parent[id]; p != ""; p = parent[p] {
			if personal[p] {
				return true
			}
		}
		return false
	}

	out := []looker.Folder{}
	for _, f := range s.fixture.Folders {
		out = append(out, looker.Folder{
			ID:                   f.ID,
			Name:                 f.Name,
			ParentID:             f.ParentID,
			IsPersonal:           f.Personal,
			IsPersonalDescendant: descendant(f.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContentValidation(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folders := make(map[string]string)
	for _, f := range s.fixture.Folders {
		folders[f.ID] = f.Name
	}

	out := looker.ContentValidation{ContentWithErrors: []looker.ContentWithErrors{}}
	for _, f := range s.fixture.Projects {
		p := s.projects[f.Name]
		for _, c := range p.content(s.activeLocked(p)) {
			item := &looker.ContentItem{ID: c.ID, Title: c.Title}
			if c.FolderID != "" {
				item.Folder = &looker.FolderRef{ID: c.FolderID, Name: folders[c.FolderID]}
			}
			entry := looker.ContentWithErrors{
				Errors: []looker.ContentError{{
					Message:     c.Message,
					FieldName:   c.Field,
					ModelName:   c.Model,
					ExploreName: c.Explore,
				}},
			}
			switch c.Type {
			case "look":
				entry.Look = item
			case "dashboard":
				entry.Dashboard = item
				tile := &looker.ContentTile{ID: c.ID + "-tile", Title: c.Tile}
				if c.TileType == "dashboard_filter" {
					entry.DashboardFilter = tile
				} else {
					entry.DashboardElement = tile
				}
			}
			out.ContentWithErrors = append(out.ContentWithErrors, entry)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAllTests(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	out := []looker.LookMLTest{}
	for _, t := range p.fixture.Tests {
		out = append(out, looker.LookMLTest{
			Name:           t.Name,
			ModelName:      t.Model,
			ExploreName:    t.Explore,
			QueryURLParams: t.QueryURLParams,
			File:           t.File,
			Line:           t.Line,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunTest(w http.ResponseWriter, r *http.Request) {
	model, name := r.URL.Query().Get("model"), r.URL.Query().Get("test")

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	out := []looker.LookMLTestResult{}
	for _, t := range p.fixture.Tests {
		if (model != "" && t.Model != model) || (name != "" && t.Name != name) {
			continue
		}
		res := looker.LookMLTestResult{
			ModelName:       t.Model,
			TestName:        t.Name,
			AssertionsCount: 1,
			Success:         t.Fail == "",
			Errors:          []looker.LookMLTestError{},
		}
		if t.Fail != "" {
			res.AssertionsFailed = 1
			res.Errors = append(res.Errors, looker.LookMLTestError{
				ModelID:  t.Model,
				Explore:  t.Explore,
				Message:  t.Fail,
				Severity: "error",
			})
		}
		out = append(out, res)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookMLValidationLocked(p *projectState) looker.LookMLValidation {
	v := looker.LookMLValidation{Errors: []looker.LookMLValidationError{}}
	for _, e := range p.fixture.LookML {
		v.Errors = append(v.Errors, looker.LookMLValidationError{
			Message:    e.Message,
			Severity:   e.Severity,
			Kind:       "lookml",
			LineNumber: e.Line,
			ModelID:    e.Model,
			Explore:    e.Explore,
			FieldName:  e.Field,
			FilePath:   e.File,
		})
	}
	return v
}

func (s *Server) handleCachedValidation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	if !s.cached[p.fixture.Name] {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	v := s.lookMLValidationLocked(p)
	for _, e := range p.fixture.LookML {
		if e.Stale {
			v.Stale = true
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(w, r)
	if p == nil {
		return
	}
	s.cached[p.fixture.Name] = true
	writeJSON(w, http.StatusOK, s.lookMLValidationLocked(p))
}
