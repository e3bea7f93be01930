// Package feed adapts upstream oracle endpoints into the snapshot form the
// core engine consumes.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"stakeoracle/native/oracle"
)

// Source resolves a raw feed snapshot for one upstream feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (oracle.FeedSnapshot, error)
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource fetches scaled-decimal readings from a JSON endpoint.
type HTTPSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPSource constructs an HTTP feed adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewHTTPSource(name string, client HTTPDoer, endpoint, apiKey string) (*HTTPSource, error) {
	trimmedName := strings.ToLower(strings.TrimSpace(name))
	if trimmedName == "" {
		return nil, fmt.Errorf("feed: name required")
	}
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		return nil, fmt.Errorf("feed %s: endpoint required", trimmedName)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{name: trimmedName, client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey)}, nil
}

// Name returns the configured feed identifier.
func (s *HTTPSource) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// snapshotPayload is the wire shape of a feed reading. Mantissas travel as
// decimal strings because they may exceed int64.
type snapshotPayload struct {
	Mantissa       string `json:"mantissa"`
	Scale          int32  `json:"scale"`
	StdDevMantissa string `json:"std_dev_mantissa"`
	StdDevScale    int32  `json:"std_dev_scale"`
	Payload        string `json:"payload"`
	Timestamp      int64  `json:"timestamp"`
	Owner          string `json:"owner"`
}

// Fetch retrieves and decodes one reading from the endpoint.
func (s *HTTPSource) Fetch(ctx context.Context) (oracle.FeedSnapshot, error) {
	if s == nil {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed: source not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return oracle.FeedSnapshot{}, err
	}
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return oracle.FeedSnapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return oracle.FeedSnapshot{}, fmt.Errorf("feed %s: status %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload snapshotPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed %s: decode: %w", s.name, err)
	}
	return payload.snapshot(s.name)
}

func (p snapshotPayload) snapshot(name string) (oracle.FeedSnapshot, error) {
	snap := oracle.FeedSnapshot{
		Payload:   strings.TrimSpace(p.Payload),
		Timestamp: p.Timestamp,
		Owner:     strings.TrimSpace(p.Owner),
	}
	rawMantissa := strings.TrimSpace(p.Mantissa)
	if rawMantissa == "" && snap.Payload != "" {
		// Packed feeds publish text only; the decimal channel stays empty.
		return snap, nil
	}
	mantissa, ok := new(big.Int).SetString(rawMantissa, 10)
	if !ok {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed %s: invalid mantissa %q", name, p.Mantissa)
	}
	snap.Result = oracle.Decimal{Mantissa: mantissa, Scale: p.Scale}
	stdRaw := strings.TrimSpace(p.StdDevMantissa)
	if stdRaw == "" {
		stdRaw = "0"
	}
	stdDev, ok := new(big.Int).SetString(stdRaw, 10)
	if !ok {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed %s: invalid std dev mantissa %q", name, p.StdDevMantissa)
	}
	snap.StdDev = oracle.Decimal{Mantissa: stdDev, Scale: p.StdDevScale}
	return snap, nil
}

// StaticSource serves a fixed snapshot. It backs tests and manual overrides
// during incident response.
type StaticSource struct {
	mu   sync.RWMutex
	name string
	snap oracle.FeedSnapshot
	err  error
	set  bool
}

// NewStaticSource constructs an empty static source.
func NewStaticSource(name string) *StaticSource {
	return &StaticSource{name: strings.ToLower(strings.TrimSpace(name))}
}

// Name returns the configured feed identifier.
func (s *StaticSource) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Set installs the snapshot subsequent Fetch calls return.
func (s *StaticSource) Set(snap oracle.FeedSnapshot) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.snap = snap
	s.err = nil
	s.set = true
	s.mu.Unlock()
}

// Fail makes subsequent Fetch calls return err.
func (s *StaticSource) Fail(err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Fetch returns the stored snapshot.
func (s *StaticSource) Fetch(ctx context.Context) (oracle.FeedSnapshot, error) {
	_ = ctx
	if s == nil {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed: source not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return oracle.FeedSnapshot{}, s.err
	}
	if !s.set {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed %s: no snapshot installed", s.name)
	}
	return s.snap, nil
}

// ResultSource fetches scalar readings published as a bare JSON result
// envelope, {"result": "<decimal>"}. The envelope carries no metadata, so
// the source stamps the fetch time and the configured owner identity; the
// transport itself is the trust boundary for these feeds.
type ResultSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	apiKey   string
	owner    string
	now      func() time.Time
}

// NewResultSource constructs a result-envelope feed adapter. The owner is
// the feed authority identity the resulting snapshots declare.
func NewResultSource(name string, client HTTPDoer, endpoint, apiKey, owner string) (*ResultSource, error) {
	trimmedName := strings.ToLower(strings.TrimSpace(name))
	if trimmedName == "" {
		return nil, fmt.Errorf("feed: name required")
	}
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		return nil, fmt.Errorf("feed %s: endpoint required", trimmedName)
	}
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("feed %s: owner required", trimmedName)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ResultSource{
		name:     trimmedName,
		client:   client,
		endpoint: ep,
		apiKey:   strings.TrimSpace(apiKey),
		owner:    strings.TrimSpace(owner),
		now:      time.Now,
	}, nil
}

// Name returns the configured feed identifier.
func (s *ResultSource) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Fetch retrieves the result envelope and converts it into a snapshot. The
// reading is parsed twice: once as a float to reject non-finite values, and
// once into the exact scaled-decimal form the engine decodes.
func (s *ResultSource) Fetch(ctx context.Context) (oracle.FeedSnapshot, error) {
	if s == nil {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed: source not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return oracle.FeedSnapshot{}, err
	}
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return oracle.FeedSnapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed %s: read body: %w", s.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed %s: status %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	value, err := oracle.ParseResultPayload(string(body))
	if err != nil {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed %s: %w", s.name, err)
	}
	result, err := oracle.ParseDecimal(strconv.FormatFloat(value, 'f', -1, 64))
	if err != nil {
		return oracle.FeedSnapshot{}, fmt.Errorf("feed %s: %w", s.name, err)
	}
	return oracle.FeedSnapshot{
		Result:    result,
		StdDev:    oracle.NewDecimal(0, 0),
		Timestamp: s.now().Unix(),
		Owner:     s.owner,
	}, nil
}
