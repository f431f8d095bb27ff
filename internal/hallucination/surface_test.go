package hallucination

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlSource = `package toml

type Decoder struct{}

func (d *Decoder) Decode(v any) error { return nil }

func NewDecoder() *Decoder { return nil }

func helper() {}

const Version = "1"

var (
	ErrBad = error(nil)
	quiet  = 1
)
`

func TestDirSurface(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "decode.go"), tomlSource)
	writeFile(t, filepath.Join(dir, "decode_test.go"), "package toml\n\nfunc TestOnly() {}\n")

	got, err := DirSurface(dir)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"Decoder", "ErrBad", "NewDecoder", "Version"}, got); diff != "" {
		t.Errorf("surface mismatch (-want +got):\n%s", diff)
	}
}

func TestDirSurface_Unavailable(t *testing.T) {
	_, err := DirSurface(filepath.Join(t.TempDir(), "absent"))
	assert.True(t, errors.Is(err, ErrSurfaceUnavailable))

	empty := t.TempDir()
	_, err = DirSurface(empty)
	assert.True(t, errors.Is(err, ErrSurfaceUnavailable))
}

func TestModCacheSurface_EscapedLayout(t *testing.T) {
	cache := t.TempDir()
	writeFile(t, filepath.Join(cache, "github.com", "!burnt!sushi", "toml@v1.3.2", "decode.go"), tomlSource)
	writeFile(t, filepath.Join(cache, "github.com", "!burnt!sushi", "toml@v1.3.2", "internal", "x.go"), "package internal\n\nfunc Hidden() {}\n")

	p := NewModCacheSurface(cache)
	got, err := p.Surface(context.Background(), EcosystemGo, "github.com/BurntSushi/toml", "v1.3.2", "github.com/BurntSushi/toml")
	require.NoError(t, err)
	assert.Contains(t, got, "NewDecoder")
	assert.NotContains(t, got, "Hidden")

	sub, err := p.Surface(context.Background(), EcosystemGo, "github.com/BurntSushi/toml", "v1.3.2", "github.com/BurntSushi/toml/internal")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hidden"}, sub)

	_, err = p.Surface(context.Background(), EcosystemGo, "github.com/BurntSushi/toml", "v9.0.0", "github.com/BurntSushi/toml")
	assert.True(t, errors.Is(err, ErrSurfaceUnavailable))
	_, err = p.Surface(context.Background(), EcosystemPyPI, "requests", "2.0.0", "requests")
	assert.True(t, errors.Is(err, ErrSurfaceUnavailable))
}

func TestNewModCacheSurface_Env(t *testing.T) {
	t.Setenv("GOMODCACHE", "/tmp/modcache-test")
	assert.Equal(t, "/tmp/modcache-test", NewModCacheSurface("").Dir)
	assert.Equal(t, "/explicit", NewModCacheSurface("/explicit").Dir)
}
