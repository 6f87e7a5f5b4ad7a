package branch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/leapstack-labs/lookcheck/internal/testutil"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
	"github.com/leapstack-labs/lookcheck/pkg/looker/lookertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	prodCommit    = "a1b2c3d4e5f60718293a4b5c6d7e8f9012345678"
	featureCommit = "f00dfeedcafe0123456789abcdef0123456789ab"
)

func newManager(t *testing.T, fixture, project string) (*lookertest.Server, *Manager) {
	t.Helper()
	srv := lookertest.New(t, lookertest.MustLoadFixture(fixture))
	m := New(Config{
		Client:  srv.Client(t),
		Project: project,
		Logger:  testutil.NewTestLogger(t),
	})
	return srv, m
}

func ptr[T any](v T) *T { return &v }

func TestIsCommit(t *testing.T) {
	assert.True(t, IsCommit("abcde"))
	assert.True(t, IsCommit(prodCommit))
	assert.False(t, IsCommit("abcd"))
	assert.False(t, IsCommit("feature"))
	assert.False(t, IsCommit("ABCDEF"))
	assert.False(t, IsCommit(prodCommit+"0"))
}

func TestConfigure_CommitMustBeEphemeral(t *testing.T) {
	m := New(Config{Project: "p"})
	err := m.Configure("abcdef", ptr(false))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfig))

	require.NoError(t, m.Configure("abcdef", nil))
	assert.True(t, m.ephemeral)
	require.NoError(t, m.Configure("feature", nil))
	assert.False(t, m.ephemeral)
	assert.Empty(t, m.commit)
}

func TestRun_Production(t *testing.T) {
	srv, m := newManager(t, "eye_exam", "eye_exam")
	ctx := context.Background()
	require.NoError(t, m.Configure("", nil))

	err := m.Run(ctx, func(ctx context.Context) error {
		assert.Equal(t, looker.WorkspaceProduction, srv.Workspace())
		assert.Equal(t, "master", srv.ActiveBranch("eye_exam"))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, prodCommit, m.Commit())
	assert.Equal(t, prodCommit[:6], m.Ref())
	assert.Empty(t, srv.CreatedBranches())
	assert.Equal(t, looker.WorkspaceProduction, srv.Workspace())
}

func TestRun_ProductionFromDevRestoresDevBranch(t *testing.T) {
	srv, m := newManager(t, "eye_exam", "eye_exam")
	ctx := context.Background()
	srv.SetWorkspace(looker.WorkspaceDev)
	require.NoError(t, m.Configure("", nil))

	err := m.Run(ctx, func(ctx context.Context) error {
		assert.Equal(t, looker.WorkspaceProduction, srv.Workspace())
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, looker.WorkspaceDev, srv.Workspace())
	assert.Equal(t, "dev-user", srv.ActiveBranch("eye_exam"))
}

func TestRun_CommitUsesOneTempBranch(t *testing.T) {
	srv, m := newManager(t, "eye_exam", "eye_exam")
	ctx := context.Background()
	require.NoError(t, m.Configure("f00dfeed", nil))

	var temp string
	err := m.Run(ctx, func(ctx context.Context) error {
		temp = srv.ActiveBranch("eye_exam")
		assert.Equal(t, looker.WorkspaceDev, srv.Workspace())
		return nil
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(temp, TempBranchPrefix))
	assert.Len(t, temp, len(TempBranchPrefix)+10)
	assert.Equal(t, featureCommit, m.Commit())
	assert.Equal(t, "f00dfe", m.Ref())
	assert.Equal(t, []string{"eye_exam/" + temp}, srv.CreatedBranches())
	assert.Equal(t, []string{"eye_exam/" + temp}, srv.DeletedBranches())
	assert.NotContains(t, srv.Branches("eye_exam"), temp)
	assert.Equal(t, looker.WorkspaceProduction, srv.Workspace())
	assert.Equal(t, "dev-user", srv.DevBranch("eye_exam"))
}

func TestRun_Branch(t *testing.T) {
	srv, m := newManager(t, "eye_exam", "eye_exam")
	ctx := context.Background()
	require.NoError(t, m.Configure("feature", nil))

	err := m.Run(ctx, func(ctx context.Context) error {
		assert.Equal(t, looker.WorkspaceDev, srv.Workspace())
		assert.Equal(t, "feature", srv.ActiveBranch("eye_exam"))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "feature", m.Ref())
	assert.Equal(t, featureCommit, m.Commit())
	assert.Empty(t, srv.CreatedBranches())
	assert.Equal(t, looker.WorkspaceProduction, srv.Workspace())
}

func TestRun_EphemeralBranch(t *testing.T) {
	srv, m := newManager(t, "eye_exam", "eye_exam")
	ctx := context.Background()
	srv.SetWorkspace(looker.WorkspaceDev)
	require.NoError(t, m.Configure("feature", ptr(true)))

	err := m.Run(ctx, func(ctx context.Context) error {
		assert.True(t, strings.HasPrefix(srv.ActiveBranch("eye_exam"), TempBranchPrefix))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, featureCommit, m.Commit())
	assert.Len(t, srv.DeletedBranches(), 1)
	assert.Equal(t, looker.WorkspaceDev, srv.Workspace())
	assert.Equal(t, "dev-user", srv.ActiveBranch("eye_exam"))
}

func TestRun_FnErrorStillExits(t *testing.T) {
	srv, m := newManager(t, "eye_exam", "eye_exam")
	ctx := context.Background()
	require.NoError(t, m.Configure("f00dfeed", nil))

	boom := errors.New("boom")
	err := m.Run(ctx, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Len(t, srv.DeletedBranches(), 1)
	assert.Equal(t, looker.WorkspaceProduction, srv.Workspace())
}

func TestEnter_RollsBackOnFailure(t *testing.T) {
	srv, m := newManager(t, "eye_exam", "eye_exam")
	ctx := context.Background()
	require.NoError(t, m.Configure("abcde", nil))

	err := m.Enter(ctx)
	require.Error(t, err)
	assert.True(t, looker.IsNotFound(err))
	assert.Empty(t, srv.CreatedBranches())
	assert.Equal(t, looker.WorkspaceProduction, srv.Workspace())
}

func TestEnter_DiamondImports(t *testing.T) {
	srv, m := newManager(t, "imports", "root")
	ctx := context.Background()
	require.NoError(t, m.Configure("", ptr(true)))

	require.NoError(t, m.Enter(ctx))

	require.Len(t, m.imports, 1)
	shared := m.imports[0]
	assert.Equal(t, "shared", shared.project)
	require.Len(t, shared.imports, 1)
	assert.Equal(t, "common", shared.imports[0].project)
	assert.Empty(t, shared.imports[0].imports)
	assert.Len(t, srv.CreatedBranches(), 3)

	for _, p := range []string{"root", "shared", "common"} {
		assert.True(t, strings.HasPrefix(srv.ActiveBranch(p), TempBranchPrefix), p)
	}

	require.NoError(t, m.Exit(ctx))

	deleted := srv.DeletedBranches()
	require.Len(t, deleted, 3)
	assert.True(t, strings.HasPrefix(deleted[0], "common/"))
	assert.True(t, strings.HasPrefix(deleted[1], "shared/"))
	assert.True(t, strings.HasPrefix(deleted[2], "root/"))
	assert.Equal(t, looker.WorkspaceProduction, srv.Workspace())
	assert.Empty(t, m.imports)
}

func TestExit_LogsRestoredProject(t *testing.T) {
	srv := lookertest.New(t, lookertest.MustLoadFixture("imports"))
	var buf bytes.Buffer
	m := New(Config{
		Client:  srv.Client(t),
		Project: "root",
		Logger:  slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	ctx := context.Background()
	require.NoError(t, m.Configure("", ptr(true)))

	require.NoError(t, m.Enter(ctx))
	require.Len(t, m.history, 2)
	assert.Equal(t, "root", m.history[0].project)
	assert.Equal(t, "root", m.history[1].project)
	require.Len(t, m.imports, 1)
	shared := m.imports[0]
	require.NotEmpty(t, shared.history)
	assert.Equal(t, "shared", shared.history[len(shared.history)-1].project)

	require.NoError(t, m.Exit(ctx))

	logs := buf.String()
	for _, p := range []string{"root", "shared", "common"} {
		assert.Regexp(t, `msg="deleting temporary branch" (depth=\d+ )?project=`+p+` branch=`+TempBranchPrefix, logs)
	}
	assert.Contains(t, logs, "msg=\"restoring project state\" project=root")
}

func TestEnter_ImportCycleIsSkipped(t *testing.T) {
	srv, m := newManager(t, "cycle", "left")
	ctx := context.Background()
	require.NoError(t, m.Configure("", ptr(true)))

	err := m.Run(ctx, func(ctx context.Context) error {
		require.Len(t, m.imports, 1)
		assert.Empty(t, m.imports[0].imports)
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, srv.CreatedBranches(), 2)
	assert.Len(t, srv.DeletedBranches(), 2)
	cyclic, path := m.graph.HasCycle()
	assert.True(t, cyclic)
	assert.Equal(t, []string{"left", "right", "left"}, path)
}

func TestEnter_NoImportsInProduction(t *testing.T) {
	srv, m := newManager(t, "imports", "root")
	ctx := context.Background()
	require.NoError(t, m.Configure("", nil))

	require.NoError(t, m.Run(ctx, func(ctx context.Context) error {
		assert.Empty(t, m.imports)
		return nil
	}))
	assert.Empty(t, srv.CreatedBranches())
}
