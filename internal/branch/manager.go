// Package branch scopes a validation run to a git ref of a Looker project and
// restores the project's workspace and active branch afterwards.
package branch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/leapstack-labs/lookcheck/internal/dag"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

// TempBranchPrefix prefixes every branch the manager creates.
const TempBranchPrefix = "tmp_lookcheck_"

var commitPattern = regexp.MustCompile(`^[0-9a-f]{5,40}$`)

// IsCommit reports whether ref looks like a commit hash rather than a branch.
func IsCommit(ref string) bool {
	return commitPattern.MatchString(ref)
}

// Client is the Looker API surface needed to manage branches.
type Client interface {
	GetWorkspace(ctx context.Context) (looker.Workspace, error)
	UpdateWorkspace(ctx context.Context, workspace looker.Workspace) error
	GetActiveBranch(ctx context.Context, project string) (looker.Branch, error)
	CheckoutBranch(ctx context.Context, project, branch string) error
	CreateBranch(ctx context.Context, project, branch, ref string) error
	HardResetBranch(ctx context.Context, project, branch, ref string) error
	DeleteBranch(ctx context.Context, project, branch string) error
	ResetToRemote(ctx context.Context, project string) error
	GetManifest(ctx context.Context, project string) (looker.Manifest, error)
}

// Config configures a Manager.
type Config struct {
	Client  Client
	Project string
	// RemoteReset resets a checked out branch to its remote tip.
	RemoteReset bool
	Logger      *slog.Logger
}

// state is a checkpoint of a project's git state.
type state struct {
	project   string
	workspace looker.Workspace
	branch    string
	commit    string
}

// Manager moves a project to a ref for the duration of a run. Imported
// projects are moved to temporary branches off production while the primary
// project is in the dev workspace. A Manager is not safe for concurrent use.
type Manager struct {
	client      Client
	project     string
	remoteReset bool
	logger      *slog.Logger
	depth       int

	// shared by the whole manager tree during one Enter
	covered map[string]bool
	graph   *dag.Graph

	branch    string
	commit    string
	ephemeral bool

	workspace  looker.Workspace
	history    []state
	tempBranch string
	refBranch  string
	refCommit  string
	resolved   string
	imports    []*Manager
}

// New creates a manager that targets production until configured.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		client:      cfg.Client,
		project:     cfg.Project,
		remoteReset: cfg.RemoteReset,
		logger:      logger,
	}
}

// Configure sets the ref used by the next Enter. An empty ref targets
// production, a commit hash targets that commit and anything else is a branch
// name. ephemeral defaults to true for commits and false otherwise; runs set
// it for branches through the --ephemeral flag.
func (m *Manager) Configure(ref string, ephemeral *bool) error {
	m.branch, m.commit = "", ""
	switch {
	case ref == "":
		m.ephemeral = ephemeral != nil && *ephemeral
	case IsCommit(ref):
		if ephemeral != nil && !*ephemeral {
			return core.ConfigErrorf("ephemeral-commit",
				"Cannot check out a commit without a temporary branch.",
				"Commit %s can only be tested on an ephemeral branch.", ref)
		}
		m.commit = ref
		m.ephemeral = true
	default:
		m.branch = ref
		m.ephemeral = ephemeral != nil && *ephemeral
	}
	return nil
}

// Ref returns the short commit when running on a commit or on production,
// otherwise the branch name.
func (m *Manager) Ref() string {
	if m.refCommit != "" {
		return m.refCommit[:min(6, len(m.refCommit))]
	}
	return m.refBranch
}

// Commit returns the commit the project was on after Enter.
func (m *Manager) Commit() string {
	return m.resolved
}

// Workspace returns the workspace the manager last put the session in.
func (m *Manager) Workspace() looker.Workspace {
	return m.workspace
}

// Run enters the configured ref, calls fn and always exits. An error from fn
// is returned ahead of exit errors.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.Enter(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	exitErr := m.Exit(context.WithoutCancel(ctx))
	if err != nil {
		return errors.Join(err, exitErr)
	}
	return exitErr
}

// Enter records the project's state and moves it to the configured ref. If
// setup fails, whatever was set up is torn down before returning.
func (m *Manager) Enter(ctx context.Context) error {
	if m.covered == nil || m.depth == 0 {
		m.covered = map[string]bool{m.project: true}
		m.graph = dag.NewGraph()
		m.graph.AddProject(m.project)
	}

	if err := m.enter(ctx); err != nil {
		if exitErr := m.Exit(context.WithoutCancel(ctx)); exitErr != nil {
			return errors.Join(err, exitErr)
		}
		return err
	}
	return nil
}

func (m *Manager) enter(ctx context.Context) error {
	init, err := m.state(ctx)
	if err != nil {
		return err
	}
	m.history = []state{init}
	m.workspace = init.workspace
	m.tempBranch, m.refBranch, m.refCommit, m.resolved = "", "", "", ""

	switch {
	case m.branch != "":
		if err := m.updateWorkspace(ctx, looker.WorkspaceDev); err != nil {
			return err
		}
		m.refBranch = m.branch
		if m.ephemeral {
			remote := "origin/" + m.branch
			if err := m.checkoutTempBranch(ctx, ""); err != nil {
				return err
			}
			if err := m.client.HardResetBranch(ctx, m.project, m.tempBranch, remote); err != nil {
				return err
			}
		} else {
			if err := m.client.CheckoutBranch(ctx, m.project, m.branch); err != nil {
				return err
			}
			if m.remoteReset {
				if err := m.client.ResetToRemote(ctx, m.project); err != nil {
					return err
				}
			}
		}

	case m.commit != "":
		m.refCommit = m.commit
		if err := m.checkoutTempBranch(ctx, m.commit); err != nil {
			return err
		}

	default:
		if err := m.updateWorkspace(ctx, looker.WorkspaceProduction); err != nil {
			return err
		}
		prod, err := m.state(ctx)
		if err != nil {
			return err
		}
		m.refBranch, m.refCommit = prod.branch, prod.commit
		if m.ephemeral {
			if err := m.checkoutTempBranch(ctx, prod.commit); err != nil {
				return err
			}
		}
	}

	current, err := m.client.GetActiveBranch(ctx, m.project)
	if err != nil {
		return fmt.Errorf("failed to read state of project %s: %w", m.project, err)
	}
	m.resolved = current.Ref

	m.logger.Debug("entered ref",
		"project", m.project,
		"branch", current.Name,
		"commit", current.Ref,
		"workspace", m.workspace,
		"ephemeral", m.ephemeral,
	)

	if m.workspace == looker.WorkspaceDev {
		return m.enterImports(ctx)
	}
	return nil
}

// enterImports puts every local import that is not yet covered on a
// temporary branch off production, depth first.
func (m *Manager) enterImports(ctx context.Context) error {
	names, err := m.importNames(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := m.graph.AddImport(m.project, name); err != nil {
			m.logger.Warn("skipping self import", "import", name)
			continue
		}
		if m.covered[name] {
			if cyclic, path := m.graph.HasCycle(); cyclic {
				m.logger.Warn("skipping cyclic project import", "import", name, "cycle", strings.Join(path, " -> "))
			} else {
				m.logger.Debug("import already covered", "import", name)
			}
			continue
		}
		m.covered[name] = true

		child := &Manager{
			client:    m.client,
			project:   name,
			logger:    m.logger.With("depth", m.depth+1),
			depth:     m.depth + 1,
			covered:   m.covered,
			graph:     m.graph,
			ephemeral: true,
		}
		child.logger.Debug("creating temporary branch in imported project", "project", name, "importer", m.project)
		if err := child.Enter(ctx); err != nil {
			return fmt.Errorf("failed to set up imported project %s: %w", name, err)
		}
		m.imports = append(m.imports, child)
	}
	return nil
}

func (m *Manager) importNames(ctx context.Context) ([]string, error) {
	manifest, err := m.client.GetManifest(ctx, m.project)
	if err != nil {
		var apiErr *looker.APIError
		if errors.As(err, &apiErr) {
			m.logger.Debug("no manifest, assuming no imports", "status", apiErr.Status)
			return nil, nil
		}
		return nil, err
	}
	return manifest.LocalImports(), nil
}

// Exit restores the state recorded by Enter. Every step runs; failures are
// joined.
func (m *Manager) Exit(ctx context.Context) error {
	var errs []error

	for i := len(m.imports) - 1; i >= 0; i-- {
		errs = append(errs, m.imports[i].Exit(ctx))
	}
	m.imports = nil

	if m.tempBranch != "" && len(m.history) > 1 {
		dev := m.history[len(m.history)-1]
		m.logger.Debug("deleting temporary branch",
			"project", dev.project, "branch", m.tempBranch, "restore_branch", dev.branch)
		errs = append(errs,
			m.updateWorkspace(ctx, looker.WorkspaceDev),
			m.client.CheckoutBranch(ctx, m.project, dev.branch),
			m.client.DeleteBranch(ctx, m.project, m.tempBranch),
		)
		m.history = m.history[:len(m.history)-1]
	}
	m.tempBranch = ""

	if len(m.history) > 0 {
		init := m.history[0]
		m.logger.Debug("restoring project state",
			"project", init.project, "workspace", init.workspace, "branch", init.branch)
		errs = append(errs, m.updateWorkspace(ctx, init.workspace))
		if init.workspace == looker.WorkspaceDev {
			errs = append(errs, m.client.CheckoutBranch(ctx, m.project, init.branch))
		}
	}
	m.history = nil

	return errors.Join(errs...)
}

// checkoutTempBranch records the dev state and creates a temporary branch off
// ref, or off the current branch when ref is empty.
func (m *Manager) checkoutTempBranch(ctx context.Context, ref string) error {
	if err := m.updateWorkspace(ctx, looker.WorkspaceDev); err != nil {
		return err
	}
	dev, err := m.state(ctx)
	if err != nil {
		return err
	}
	m.history = append(m.history, dev)

	name := TempBranchPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	m.logger.Debug("creating temporary branch", "project", dev.project, "branch", name, "ref", ref)
	if err := m.client.CreateBranch(ctx, m.project, name, ref); err != nil {
		return err
	}
	m.tempBranch = name
	return nil
}

func (m *Manager) updateWorkspace(ctx context.Context, ws looker.Workspace) error {
	if m.workspace == ws {
		return nil
	}
	if err := m.client.UpdateWorkspace(ctx, ws); err != nil {
		return err
	}
	m.workspace = ws
	return nil
}

func (m *Manager) state(ctx context.Context) (state, error) {
	ws, err := m.client.GetWorkspace(ctx)
	if err != nil {
		return state{}, fmt.Errorf("failed to read state of project %s: %w", m.project, err)
	}
	b, err := m.client.GetActiveBranch(ctx, m.project)
	if err != nil {
		return state{}, fmt.Errorf("failed to read state of project %s: %w", m.project, err)
	}
	return state{project: m.project, workspace: ws, branch: b.Name, commit: b.Ref}, nil
}
