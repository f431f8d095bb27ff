package drift

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `package svc

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
	"go.uber.org/zap"

	"example.com/app/internal/store"
)

const Version = "1"

var debug, Verbose bool

type Server struct{}

type handler func()

func New() *Server { return &Server{} }

func (s *Server) Run(ctx context.Context, n int) error {
	if n > 0 && ctx != nil {
		for i := 0; i < n; i++ {
			fmt.Println(i)
		}
	}
	switch n {
	case 1:
	case 2, 3:
	default:
	}
	return nil
}

func (s *Server) stop() {}

func helper(xs []int) bool {
	for range xs {
	}
	return len(xs) == 0 || xs[0] == 1
}
`

func TestParse(t *testing.T) {
	m, err := Parse("svc.go", []byte(sample), "example.com/app")
	require.NoError(t, err)

	assert.Equal(t, 6, m.Imports)
	assert.Equal(t, 2, m.ExternalDeps, "cobra and zap; cobra/doc shares a root, store is local")
	assert.Equal(t, 2, m.Types)
	assert.Equal(t, 4, m.Functions)

	// New=1, Run=1+if+&&+for+2 cases=6, stop=1, helper=1+range+||=3
	assert.InDelta(t, 11.0/4.0, m.AvgComplexity, 1e-9)

	want := []string{"New", "Server", "Server.Run", "Verbose", "Version"}
	if diff := cmp.Diff(want, m.ExportedNames); diff != "" {
		t.Errorf("exported names mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_InvalidSource(t *testing.T) {
	_, err := Parse("bad.go", []byte("package x\nfunc {"), "")
	assert.Error(t, err)
}

func TestNameChanges(t *testing.T) {
	added, removed := NameChanges([]string{"A", "B"}, []string{"B", "C"})
	assert.Equal(t, []string{"C"}, added)
	assert.Equal(t, []string{"A"}, removed)
}
