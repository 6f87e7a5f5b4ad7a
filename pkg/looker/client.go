// Package looker is a client for the subset of the Looker REST API used to
// validate LookML projects.
//
// Client is the full capability surface. Consumers should declare the
// narrower interface they need; HTTPClient satisfies all of them.
package looker

import "context"

// Workspace is the Looker session workspace.
type Workspace string

// Workspaces.
const (
	WorkspaceProduction Workspace = "production"
	WorkspaceDev        Workspace = "dev"
)

// ResultFormatJSONBI is the result format used for validation query tasks.
const ResultFormatJSONBI = "json_bi"

// Client is the Looker API surface used by lookcheck.
type Client interface {
	BaseURL() string
	Authenticate(ctx context.Context) error
	GetLookerRelease(ctx context.Context) (string, error)

	GetWorkspace(ctx context.Context) (Workspace, error)
	UpdateWorkspace(ctx context.Context, workspace Workspace) error
	GetActiveBranch(ctx context.Context, project string) (Branch, error)
	GetAllBranches(ctx context.Context, project string) ([]string, error)
	CheckoutBranch(ctx context.Context, project, branch string) error
	CreateBranch(ctx context.Context, project, branch, ref string) error
	HardResetBranch(ctx context.Context, project, branch, ref string) error
	DeleteBranch(ctx context.Context, project, branch string) error
	ResetToRemote(ctx context.Context, project string) error
	GetManifest(ctx context.Context, project string) (Manifest, error)

	GetLookMLModels(ctx context.Context) ([]LookMLModel, error)
	GetLookMLFields(ctx context.Context, model, explore string) ([]LookMLField, error)

	CreateQuery(ctx context.Context, req QueryRequest) (Query, error)
	CreateQueryTask(ctx context.Context, queryID, resultFormat string) (string, error)
	GetQueryTaskMultiResults(ctx context.Context, taskIDs []string) (map[string]QueryResult, error)
	CancelQueryTask(ctx context.Context, taskID string) error
	RunQuery(ctx context.Context, queryID string) (string, error)

	AllFolders(ctx context.Context) ([]Folder, error)
	ContentValidation(ctx context.Context) (ContentValidation, error)
	AllLookMLTests(ctx context.Context, project string) ([]LookMLTest, error)
	RunLookMLTest(ctx context.Context, project, model, test string) ([]LookMLTestResult, error)
	CachedLookMLValidation(ctx context.Context, project string) (*LookMLValidation, error)
	LookMLValidation(ctx context.Context, project string) (LookMLValidation, error)
}

// Branch is the active git branch of a project. Ref is the commit hash.
type Branch struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
}

// Manifest is the subset of a project manifest lookcheck reads.
type Manifest struct {
	Name    string          `json:"name"`
	Imports []ProjectImport `json:"imports"`
}

// ProjectImport is a project dependency declared in a manifest.
type ProjectImport struct {
	Name     string `json:"name"`
	IsRemote bool   `json:"is_remote"`
}

// LocalImports returns the names of imports that live on the same instance.
func (m Manifest) LocalImports() []string {
	var names []string
	for _, imp := range m.Imports {
		if !imp.IsRemote {
			names = append(names, imp.Name)
		}
	}
	return names
}

// LookMLModel is a model and the names of its explores.
type LookMLModel struct {
	Name        string       `json:"name"`
	ProjectName string       `json:"project_name"`
	Explores    []ExploreRef `json:"explores"`
}

// ExploreRef names an explore.
type ExploreRef struct {
	Name string `json:"name"`
}

// LookMLField is a dimension as returned by the explore endpoint.
type LookMLField struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Tags       []string `json:"tags"`
	SQL        string   `json:"sql"`
	LookMLLink string   `json:"lookml_link"`
	Hidden     bool     `json:"hidden"`
}

// QueryRequest identifies the fields to select from an explore.
type QueryRequest struct {
	Model  string   `json:"model"`
	View   string   `json:"view"`
	Fields []string `json:"fields"`
}

// Query is a created query.
type Query struct {
	ID       string `json:"id"`
	ShareURL string `json:"share_url"`
}

// Folder is a content folder.
type Folder struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	ParentID             string `json:"parent_id"`
	IsPersonal           bool   `json:"is_personal"`
	IsPersonalDescendant bool   `json:"is_personal_descendant"`
}

// ContentValidation is the response of the content validator.
type ContentValidation struct {
	ContentWithErrors []ContentWithErrors `json:"content_with_errors"`
}

// ContentWithErrors is one broken Look or dashboard element.
type ContentWithErrors struct {
	Look             *ContentItem   `json:"look"`
	Dashboard        *ContentItem   `json:"dashboard"`
	DashboardElement *ContentTile   `json:"dashboard_element"`
	DashboardFilter  *ContentTile   `json:"dashboard_filter"`
	Errors           []ContentError `json:"errors"`
}

// ContentItem is a Look or a dashboard.
type ContentItem struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Folder *FolderRef `json:"folder"`
}

// FolderRef is the folder a content item lives in.
type FolderRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContentTile is a dashboard element or filter.
type ContentTile struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ContentError is a single content validation error.
type ContentError struct {
	Message     string `json:"message"`
	FieldName   string `json:"field_name"`
	ModelName   string `json:"model_name"`
	ExploreName string `json:"explore_name"`
	Removable   bool   `json:"removable"`
}

// LookMLTest is a data test defined in a project.
type LookMLTest struct {
	Name           string `json:"name"`
	ModelName      string `json:"model_name"`
	ExploreName    string `json:"explore_name"`
	QueryURLParams string `json:"query_url_params"`
	File           string `json:"file"`
	Line           int    `json:"line"`
}

// LookMLTestResult is the outcome of running one data test.
type LookMLTestResult struct {
	ModelName        string            `json:"model_name"`
	TestName         string            `json:"test_name"`
	AssertionsCount  int               `json:"assertions_count"`
	AssertionsFailed int               `json:"assertions_failed"`
	Errors           []LookMLTestError `json:"errors"`
	Success          bool              `json:"success"`
}

// LookMLTestError describes a failed data test assertion.
type LookMLTestError struct {
	ModelID  string `json:"model_id"`
	Explore  string `json:"explore"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// LookMLValidation is the result of validating a project's LookML.
type LookMLValidation struct {
	Stale  bool                    `json:"stale"`
	Errors []LookMLValidationError `json:"errors"`
}

// LookMLValidationError is a single LookML validator issue.
type LookMLValidationError struct {
	Message    string `json:"message"`
	Severity   string `json:"severity"`
	Kind       string `json:"kind"`
	LineNumber int    `json:"line_number"`
	ModelID    string `json:"model_id"`
	Explore    string `json:"explore"`
	FieldName  string `json:"field_name"`
	FilePath   string `json:"file_path"`
}
