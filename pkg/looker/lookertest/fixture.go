package lookertest

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures/*.yaml
var fixtures embed.FS

// Fixture describes the instance a Server simulates.
type Fixture struct {
	// Workspace is the initial session workspace. Defaults to production.
	Workspace string `yaml:"workspace"`
	// PollsUntilDone is how many polls report "running" before a task finishes.
	PollsUntilDone int              `yaml:"polls_until_done"`
	Projects       []ProjectFixture `yaml:"projects"`
	Folders        []FolderFixture  `yaml:"folders"`
}

// ProjectFixture is a LookML project and its git state.
type ProjectFixture struct {
	Name             string `yaml:"name"`
	ProductionBranch string `yaml:"production_branch"`
	Commit           string `yaml:"commit"`
	// DevBranch is the branch checked out in the dev workspace.
	DevBranch string                   `yaml:"dev_branch"`
	Imports   []ImportFixture          `yaml:"imports"`
	Branches  map[string]BranchFixture `yaml:"branches"`
	Models    []ModelFixture           `yaml:"models"`
	Tests     []TestFixture            `yaml:"tests"`
	Content   []ContentFixture         `yaml:"content"`
	LookML    []LookMLFixture          `yaml:"lookml"`
	// NoManifest makes the manifest endpoint return 404.
	NoManifest bool `yaml:"no_manifest"`
}

// ImportFixture is a manifest import.
type ImportFixture struct {
	Name   string `yaml:"name"`
	Remote bool   `yaml:"remote"`
}

// BranchFixture is a non-production branch. Overrides replace matching
// production fields; a non-nil Content replaces production content errors.
type BranchFixture struct {
	Commit    string           `yaml:"commit"`
	Overrides []FieldOverride  `yaml:"overrides"`
	Content   []ContentFixture `yaml:"content"`
}

// FieldOverride changes one field on a branch.
type FieldOverride struct {
	Model   string `yaml:"model"`
	Explore string `yaml:"explore"`
	Field   string `yaml:"field"`
	SQL     string `yaml:"sql"`
	Error   string `yaml:"error"`
	// Fix clears the production error.
	Fix bool `yaml:"fix"`
}

// ModelFixture is a LookML model.
type ModelFixture struct {
	Name     string           `yaml:"name"`
	Explores []ExploreFixture `yaml:"explores"`
}

// ExploreFixture is an explore and its dimensions.
type ExploreFixture struct {
	Name   string         `yaml:"name"`
	Fields []FieldFixture `yaml:"fields"`
}

// FieldFixture is a dimension. A non-empty Error makes any query selecting
// it fail. Status forces a terminal task status such as killed or expired.
type FieldFixture struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	SQL     string   `yaml:"sql"`
	Tags    []string `yaml:"tags"`
	Hidden  bool     `yaml:"hidden"`
	Error   string   `yaml:"error"`
	Line    int      `yaml:"line"`
	Status  string   `yaml:"status"`
	Runtime float64  `yaml:"runtime"`
}

// TestFixture is a LookML data test. A non-empty Fail message fails it.
type TestFixture struct {
	Name           string `yaml:"name"`
	Model          string `yaml:"model"`
	Explore        string `yaml:"explore"`
	File           string `yaml:"file"`
	Line           int    `yaml:"line"`
	QueryURLParams string `yaml:"query_url_params"`
	Fail           string `yaml:"fail"`
}

// ContentFixture is a Look or dashboard tile with a broken reference.
type ContentFixture struct {
	Type     string `yaml:"type"`
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	FolderID string `yaml:"folder_id"`
	Tile     string `yaml:"tile"`
	TileType string `yaml:"tile_type"`
	Model    string `yaml:"model"`
	Explore  string `yaml:"explore"`
	Field    string `yaml:"field"`
	Message  string `yaml:"message"`
}

// FolderFixture is a content folder.
type FolderFixture struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	ParentID string `yaml:"parent_id"`
	Personal bool   `yaml:"personal"`
}

// LookMLFixture is a LookML validator issue.
type LookMLFixture struct {
	Message  string `yaml:"message"`
	Severity string `yaml:"severity"`
	Model    string `yaml:"model"`
	Explore  string `yaml:"explore"`
	Field    string `yaml:"field"`
	File     string `yaml:"file"`
	Line     int    `yaml:"line"`
	Stale    bool   `yaml:"stale"`
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return f, nil
}

// LoadFixture returns one of the embedded fixtures by name, e.g. "eye_exam".
func LoadFixture(name string) (Fixture, error) {
	data, err := fixtures.ReadFile("fixtures/" + name + ".yaml")
	if err != nil {
		return Fixture{}, fmt.Errorf("failed to read fixture %s: %w", name, err)
	}
	return ParseFixture(data)
}

// MustLoadFixture is LoadFixture for tests.
func MustLoadFixture(name string) Fixture {
	f, err := LoadFixture(name)
	if err != nil {
		panic(err)
	}
	return f
}
