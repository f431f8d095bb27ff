package hallucination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/telemetry"
)

// ErrRateLimited is returned when the outbound limiter has no tokens.
var ErrRateLimited = errors.New("registry rate limit exhausted")

// PackageInfo is what a registry knows about a package.
type PackageInfo struct {
	Exists   bool
	Latest   string
	Versions []string
}

// Registry looks packages up in a public registry.
type Registry interface {
	Lookup(ctx context.Context, eco Ecosystem, name string) (PackageInfo, error)
}

// RegistryConfig configures HTTPRegistry.
type RegistryConfig struct {
	GoProxyURL        string
	PyPIURL           string
	NPMURL            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// HTTPRegistry queries the Go module proxy, PyPI and npm over HTTPS with
// one GET per lookup and no retry. Concurrent identical lookups share one
// request.
type HTTPRegistry struct {
	cfg     RegistryConfig
	client  *http.Client
	limiter *rate.Limiter
	flight  singleflight.Group
}

// NewHTTPRegistry creates an HTTPRegistry.
func NewHTTPRegistry(cfg RegistryConfig) *HTTPRegistry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPRegistry{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Lookup fetches package metadata. Any transport failure, timeout,
// unexpected status or exhausted limiter is returned as
// errs.NetworkDegraded.
func (r *HTTPRegistry) Lookup(ctx context.Context, eco Ecosystem, name string) (PackageInfo, error) {
	key := eco.String() + ":" + name
	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.lookup(ctx, eco, name)
	})
	if err != nil {
		return PackageInfo{}, err
	}
	return v.(PackageInfo), nil
}

func (r *HTTPRegistry) lookup(ctx context.Context, eco Ecosystem, name string) (PackageInfo, error) {
	if !r.limiter.Allow() {
		telemetry.RegistryLookup(eco.String(), "rate_limited")
		return PackageInfo{}, errs.Degraded("registry lookup "+name, ErrRateLimited)
	}

	endpoint, err := r.endpoint(eco, name)
	if err != nil {
		return PackageInfo{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PackageInfo{}, errs.Degraded("registry lookup "+name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		telemetry.RegistryLookup(eco.String(), "error")
		return PackageInfo{}, errs.Degraded("registry lookup "+name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		telemetry.RegistryLookup(eco.String(), "missing")
		return PackageInfo{Exists: false}, nil
	default:
		telemetry.RegistryLookup(eco.String(), "error")
		return PackageInfo{}, errs.Degraded("registry lookup "+name, fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		telemetry.RegistryLookup(eco.String(), "error")
		return PackageInfo{}, errs.Degraded("registry lookup "+name, err)
	}

	var info PackageInfo
	switch eco {
	case EcosystemGo:
		info = parseGoVersionList(body)
	case EcosystemPyPI:
		info, err = parsePyPI(body)
	case EcosystemNPM:
		info, err = parseNPM(body)
	}
	if err != nil {
		telemetry.RegistryLookup(eco.String(), "error")
		return PackageInfo{}, errs.Degraded("registry lookup "+name, err)
	}
	telemetry.RegistryLookup(eco.String(), "found")
	return info, nil
}

func (r *HTTPRegistry) endpoint(eco Ecosystem, name string) (string, error) {
	switch eco {
	case EcosystemGo:
		escaped, err := module.EscapePath(name)
		if err != nil {
			return "", errs.Validation("import", "%v", err)
		}
		return strings.TrimRight(r.cfg.GoProxyURL, "/") + "/" + escaped + "/@v/list", nil
	case EcosystemPyPI:
		return strings.TrimRight(r.cfg.PyPIURL, "/") + "/pypi/" + url.PathEscape(name) + "/json", nil
	case EcosystemNPM:
		return strings.TrimRight(r.cfg.NPMURL, "/") + "/" + url.PathEscape(name), nil
	default:
		return "", errs.Validation("ecosystem", "unsupported ecosystem %v", eco)
	}
}

// parseGoVersionList reads the proxy's newline-separated version list. A
// module with only pseudo-versions has an empty list but still exists.
func parseGoVersionList(body []byte) PackageInfo {
	var versions []string
	for _, line := range strings.Split(string(body), "\n") {
		if v := strings.TrimSpace(line); semver.IsValid(v) {
			versions = append(versions, v)
		}
	}
	semver.Sort(versions)
	info := PackageInfo{Exists: true, Versions: versions}
	if len(versions) > 0 {
		info.Latest = versions[len(versions)-1]
	}
	return info
}

func parsePyPI(body []byte) (PackageInfo, error) {
	var doc struct {
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
		Releases map[string]json.RawMessage `json:"releases"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return PackageInfo{}, fmt.Errorf("decode pypi response: %w", err)
	}
	return PackageInfo{Exists: true, Latest: doc.Info.Version, Versions: sortedKeys(doc.Releases)}, nil
}

func parseNPM(body []byte) (PackageInfo, error) {
	var doc struct {
		DistTags struct {
			Latest string `json:"latest"`
		} `json:"dist-tags"`
		Versions map[string]json.RawMessage `json:"versions"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return PackageInfo{}, fmt.Errorf("decode npm response: %w", err)
	}
	return PackageInfo{Exists: true, Latest: doc.DistTags.Latest, Versions: sortedKeys(doc.Versions)}, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
