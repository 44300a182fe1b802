package repoid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/objgit/errors"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		owner      string
		repo       string
		wantPrefix string
		wantErr    bool
	}{
		{name: "plain", owner: "u1", repo: "demo", wantPrefix: "u1/demo.git/"},
		{name: "git suffix trimmed", owner: "u1", repo: "demo.git", wantPrefix: "u1/demo.git/"},
		{name: "lowercased", owner: "u1", repo: "Demo.GIT", wantPrefix: "u1/demo.git/"},
		{name: "dots and dashes", owner: "a-b_c", repo: "my.lib-v2", wantPrefix: "a-b_c/my.lib-v2.git/"},
		{name: "doubled suffix", owner: "u1", repo: "x.git.git", wantErr: true},
		{name: "doubled suffix mixed case", owner: "u1", repo: "X.Git.GIT", wantErr: true},
		{name: "empty name", owner: "u1", repo: "", wantErr: true},
		{name: "suffix only", owner: "u1", repo: ".git", wantErr: true},
		{name: "dot dot", owner: "u1", repo: "..", wantErr: true},
		{name: "hidden", owner: "u1", repo: ".hidden", wantErr: true},
		{name: "slash", owner: "u1", repo: "a/b", wantErr: true},
		{name: "space", owner: "u1", repo: "a b", wantErr: true},
		{name: "owner with slash", owner: "u1/x", repo: "demo", wantErr: true},
		{name: "owner in lock namespace", owner: ".locks", repo: "demo", wantErr: true},
		{name: "empty owner", owner: "", repo: "demo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := New(tt.owner, tt.repo)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrefix, id.Prefix())
		})
	}
}

func TestDeterministic(t *testing.T) {
	for range 3 {
		assert.Equal(t, MustNew("u1", "Demo.git").Prefix(), MustNew("u1", "demo").Prefix())
	}
}

func TestInjective(t *testing.T) {
	pairs := [][2]string{
		{"u1", "demo"},
		{"u1", "demo2"},
		{"u2", "demo"},
		{"u1", "demo.gitx"},
		{"u1", "git"},
		{"u1-x", "demo"},
		{"u1", "x-demo"},
		{"u1", "demo_"},
	}

	seen := make(map[string][2]string)
	for _, p := range pairs {
		id := MustNew(p[0], p[1])
		if prev, ok := seen[id.Prefix()]; ok {
			t.Fatalf("%v and %v collide on %s", prev, p, id.Prefix())
		}
		seen[id.Prefix()] = p
	}
}

func TestNormalizeNameIsFixedPoint(t *testing.T) {
	inputs := []string{"demo", "Demo.git", " tools.GIT ", "my.lib-v2", "a.gitx", "git", "x.git.git", "tools.git.git"}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			once, err := NormalizeName(in)
			if err != nil {
				assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
				return
			}
			twice, err := NormalizeName(once)
			require.NoError(t, err)
			assert.Equal(t, once, twice)

			id := MustNew("u1", in)
			assert.Equal(t, id.Prefix(), MustNew("u1", id.Name()).Prefix(), "rebuilding from Name keeps the prefix")
		})
	}
}

func TestDoubledSuffixCannotAliasRepository(t *testing.T) {
	tools := MustNew("alice", "tools")

	_, err := New("alice", "tools.git.git")
	require.Error(t, err)

	_, err = NormalizeNewName("tools.git.git")
	require.Error(t, err)

	id, err := New("alice", "tools.git")
	require.NoError(t, err)
	assert.Equal(t, tools, id)
}

func TestNormalizeNewName(t *testing.T) {
	got, err := NormalizeNewName("  My  Cool\tProject ")
	require.NoError(t, err)
	assert.Equal(t, "my-cool-project", got)

	_, err = NormalizeNewName("bad/name")
	assert.Error(t, err)
}

func TestAccessors(t *testing.T) {
	id := MustNew("u1", "Demo")
	assert.Equal(t, "u1", id.Owner())
	assert.Equal(t, "demo", id.Name())
	assert.Equal(t, "u1/demo", id.String())
	assert.Equal(t, ".locks/u1/demo.git", id.LockKey())
	assert.False(t, id.IsZero())
	assert.True(t, ID{}.IsZero())

	assert.Panics(t, func() { MustNew("", "x") })
}
