package process

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/phase"
)

func TestLoad_SiteAudit(t *testing.T) {
	reg := contract.NewRegistry()
	def, err := Load(filepath.Join("testdata", "site-audit.yaml"), reg)
	require.NoError(t, err)

	assert.True(t, reg.Sealed())
	assert.Equal(t, []string{"axe-scan", "crawl", "score", "vuln-scan"}, reg.Kinds())

	crawl, err := reg.Lookup("crawl")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, crawl.Execution.Timeout)
	assert.Equal(t, "crawler", crawl.Execution.Executor)

	assert.Equal(t, "site-audit", def.Name)
	require.Len(t, def.Phases, 3)

	scan := def.Phases[1]
	assert.Equal(t, phase.ModeParallel, scan.Mode)
	assert.Equal(t, 4, scan.MaxParallelism)
	assert.True(t, scan.Tasks[1].IsOptional())
	assert.Equal(t, 30*time.Second, scan.Tasks[1].Timeout)
	require.Len(t, scan.Gates, 1)
	assert.Equal(t, gate.EQ, scan.Gates[0].Comparator, "symbols are accepted")

	bp, ok := scan.OnBlock()
	require.True(t, ok)
	assert.Equal(t, "critical-review", bp.ID)
	assert.Empty(t, scan.Always())

	report := def.Phases[2]
	assert.Equal(t, "findings.critical", report.Tasks[0].Bind["critical"].From)
	assert.Equal(t, "score", report.Tasks[0].Export["complianceScore"])
	always := report.Always()
	require.Len(t, always, 1)
	assert.Equal(t, []breakpoint.Action{breakpoint.ActionApprove, breakpoint.ActionReject}, always[0].Actions)

	g, ok := def.Gate("level")
	require.True(t, ok)
	assert.Equal(t, []string{"AA", "AAA"}, g.Values)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("name: x\nphases:\n  - id: a\n    paralel: true\n"))
	require.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "paralel")

	_, err = Parse(nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestLoad_LeavesRegistryUnsealedOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: bad
phases:
  - id: a
    tasks:
      - {id: t, kind: nope}
`), 0o600))

	reg := contract.NewRegistry()
	_, err := Load(path, reg)
	require.ErrorIs(t, err, ErrInvalidDefinition)
	assert.ErrorIs(t, err, contract.ErrContractNotFound)
	assert.False(t, reg.Sealed())
}

func TestPrepare_DuplicateContract(t *testing.T) {
	def := &Definition{
		Name: "dup",
		Contracts: []ContractSpec{
			{Kind: "scan"},
			{Kind: "scan"},
		},
		Phases: []Stage{{Phase: phase.Phase{ID: "p", Tasks: []phase.Task{{ID: "t", Kind: "scan"}}}}},
	}
	err := Prepare(def, contract.NewRegistry())
	require.ErrorIs(t, err, contract.ErrDuplicateContract)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func validDef() *Definition {
	return &Definition{
		Name: "ok",
		Phases: []Stage{
			{Phase: phase.Phase{ID: "a", Tasks: []phase.Task{
				{ID: "crawl", Kind: "scan"},
				{ID: "audit", Kind: "scan", Bind: map[string]phase.Binding{
					"url":   {From: "crawl.pages[0].url"},
					"prior": {From: "metrics.score"},
				}},
			}}},
		},
	}
}

func kinds(t *testing.T, names ...string) *contract.Registry {
	t.Helper()
	reg := contract.NewRegistry()
	for _, n := range names {
		require.NoError(t, reg.Register(n, contract.Schema{AllowUnknown: true}, contract.Schema{AllowUnknown: true}, contract.Metadata{}, contract.Execution{}))
	}
	return reg
}

func TestValidate(t *testing.T) {
	reg := kinds(t, "scan")
	require.NoError(t, Validate(validDef(), reg))

	tests := []struct {
		name   string
		mutate func(d *Definition)
		want   string
	}{
		{
			name:   "missing name",
			mutate: func(d *Definition) { d.Name = "" },
			want:   "name is required",
		},
		{
			name: "duplicate phase",
			mutate: func(d *Definition) {
				d.Phases = append(d.Phases, Stage{Phase: phase.Phase{ID: "a", Tasks: []phase.Task{{ID: "x", Kind: "scan"}}}})
			},
			want: "duplicate phase id",
		},
		{
			name:   "unknown mode",
			mutate: func(d *Definition) { d.Phases[0].Mode = "random" },
			want:   `unknown mode "random"`,
		},
		{
			name:   "reserved task id",
			mutate: func(d *Definition) { d.Phases[0].Tasks[0].ID = "metrics" },
			want:   "id is reserved",
		},
		{
			name:   "dotted task id",
			mutate: func(d *Definition) { d.Phases[0].Tasks[0].ID = "a.b" },
			want:   "must not contain",
		},
		{
			name:   "duplicate task",
			mutate: func(d *Definition) { d.Phases[0].Tasks[1].ID = "crawl" },
			want:   "duplicate task id",
		},
		{
			name:   "unregistered kind",
			mutate: func(d *Definition) { d.Phases[0].Tasks[0].Kind = "lint" },
			want:   "contract not found",
		},
		{
			name:   "unknown criticality",
			mutate: func(d *Definition) { d.Phases[0].Tasks[0].Criticality = "maybe" },
			want:   `unknown criticality "maybe"`,
		},
		{
			name: "forward binding",
			mutate: func(d *Definition) {
				d.Phases[0].Tasks[0].Bind = map[string]phase.Binding{"x": {From: "audit.score"}}
			},
			want: `task "audit" does not run before this task`,
		},
		{
			name:   "binding in parallel phase",
			mutate: func(d *Definition) { d.Phases[0].Mode = phase.ModeParallel },
			want:   "parallel phase",
		},
		{
			name: "bad run state path",
			mutate: func(d *Definition) {
				d.Phases[0].Tasks[1].Bind = map[string]phase.Binding{"x": {From: "findings.nonsense"}}
			},
			want: "invalid metric path",
		},
		{
			name: "bad gate",
			mutate: func(d *Definition) {
				d.Phases[0].Gates = []gate.Gate{{ID: "g", Metric: "score"}}
			},
			want: "comparator is required",
		},
		{
			name: "duplicate gate",
			mutate: func(d *Definition) {
				g := gate.Gate{ID: "g", Metric: "score", Comparator: gate.GTE}
				d.Phases[0].Gates = []gate.Gate{g, g}
			},
			want: `gate "g" already declared`,
		},
		{
			name: "on_block without gates",
			mutate: func(d *Definition) {
				d.Phases[0].Breakpoints = []BreakpointSpec{{ID: "b"}}
			},
			want: "phase without gates",
		},
		{
			name: "unknown action",
			mutate: func(d *Definition) {
				d.Phases[0].Breakpoints = []BreakpointSpec{{ID: "b", When: WhenAlways, Actions: []breakpoint.Action{"escalate"}}}
			},
			want: `unknown action "escalate"`,
		},
		{
			name: "unknown when",
			mutate: func(d *Definition) {
				d.Phases[0].Breakpoints = []BreakpointSpec{{ID: "b", When: "sometimes"}}
			},
			want: `unknown when "sometimes"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDef()
			tt.mutate(def)
			err := Validate(def, reg)
			require.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	def := validDef()
	def.Name = ""
	def.Phases[0].Mode = "random"
	def.Phases[0].Tasks[0].Kind = ""

	err := Validate(def, nil)
	require.Error(t, err)
	lines := strings.Split(err.Error(), "\n")
	assert.Len(t, lines, 3)
}

func TestClone_IsDeep(t *testing.T) {
	def := validDef()
	def.Phases[0].Tasks[0].Input = map[string]any{"opts": map[string]any{"depth": 1}}
	def.Phases[0].Gates = []gate.Gate{{ID: "g", Metric: "level", Comparator: gate.In, Values: []string{"AA"}}}

	c := def.Clone()
	c.Phases[0].Tasks[0].Input["opts"].(map[string]any)["depth"] = 5
	c.Phases[0].Tasks[1].Bind["url"] = phase.Binding{From: "changed"}
	c.Phases[0].Gates[0].Values[0] = "A"
	c.Phases[0].ID = "renamed"

	assert.Equal(t, 1, def.Phases[0].Tasks[0].Input["opts"].(map[string]any)["depth"])
	assert.Equal(t, "crawl.pages[0].url", def.Phases[0].Tasks[1].Bind["url"].From)
	assert.Equal(t, "AA", def.Phases[0].Gates[0].Values[0])
	assert.Equal(t, "a", def.Phases[0].ID)
}
