package usecase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"offlinecache/internal/domain"
	"offlinecache/internal/interface/repository/logger"
)

var errNetworkDown = errors.New("network down")

// eventLog は呼び出し順を記録する
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	status int
	header http.Header
	fail   bool
	gate   chan struct{}
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: make(map[string]string),
		status: http.StatusOK,
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) set(rawURL, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[rawURL] = body
}

func (f *fakeFetcher) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// hold は release が呼ばれるまで以降の取得を止める
func (f *fakeFetcher) hold() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	return func() {
		f.mu.Lock()
		f.gate = nil
		f.mu.Unlock()
		close(gate)
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[req.URL.String()]++
	if f.fail {
		return nil, errNetworkDown
	}

	body, ok := f.bodies[req.URL.String()]
	if !ok {
		return &domain.Response{StatusCode: http.StatusNotFound, Headers: http.Header{}}, nil
	}

	header := f.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &domain.Response{StatusCode: f.status, Headers: header, Body: []byte(body)}, nil
}

type fakePartition struct {
	mu      sync.Mutex
	name    string
	entries map[string]*domain.Response
	puts    int
	putErr  error
}

func (p *fakePartition) Name() string { return p.name }

func (p *fakePartition) Match(_ context.Context, req *domain.Request) (*domain.Response, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp, ok := p.entries[req.Key()]
	if !ok {
		return nil, false, nil
	}
	out := resp.Clone()
	out.FromCache = true
	return out, true, nil
}

func (p *fakePartition) Put(_ context.Context, req *domain.Request, resp *domain.Response) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.putErr != nil {
		return p.putErr
	}
	p.puts++
	p.entries[req.Key()] = resp.Clone()
	return nil
}

func (p *fakePartition) Keys(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (p *fakePartition) putCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.puts
}

type fakeStore struct {
	mu         sync.Mutex
	partitions map[string]*fakePartition
	openErr    error
	deleteErr  map[string]error
	deleteGate map[string]chan struct{}
	log        *eventLog
}

func newFakeStore(log *eventLog) *fakeStore {
	return &fakeStore{
		partitions: make(map[string]*fakePartition),
		deleteErr:  make(map[string]error),
		deleteGate: make(map[string]chan struct{}),
		log:        log,
	}
}

func (s *fakeStore) Open(_ context.Context, name string) (domain.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openErr != nil {
		return nil, s.openErr
	}
	if p, ok := s.partitions[name]; ok {
		return p, nil
	}
	p := &fakePartition{name: name, entries: make(map[string]*domain.Response)}
	s.partitions[name] = p
	return p, nil
}

func (s *fakeStore) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *fakeStore) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	gate := s.deleteGate[name]
	err := s.deleteErr[name]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	_, ok := s.partitions[name]
	delete(s.partitions, name)
	s.mu.Unlock()

	s.log.add("delete " + name)
	return ok, nil
}

func (s *fakeStore) partition(name string) *fakePartition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partitions[name]
}

type fakeController struct {
	log      *eventLog
	claimErr error
	claims   int
	releases int
	mu       sync.Mutex
}

func (c *fakeController) Claim(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return c.claimErr
	}
	c.claims++
	c.log.add("claim")
	return nil
}

func (c *fakeController) Release(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases++
	c.log.add("release")
	return nil
}

func (c *fakeController) claimCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims
}

type nopMetrics struct{}

func (nopMetrics) RecordRequest(domain.Strategy)   {}
func (nopMetrics) RecordCacheHit(string)           {}
func (nopMetrics) RecordCacheMiss(string)          {}
func (nopMetrics) RecordNetworkFetch(string, bool) {}
func (nopMetrics) RecordFallback(string)           {}
func (nopMetrics) RecordStoreError(string)         {}
func (nopMetrics) RecordActivation(int, error)     {}
func (nopMetrics) RecordError()                    {}
func (nopMetrics) AddBytesServed(int64)            {}
func (nopMetrics) GetSnapshot() *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{}
}

// harness はテスト用に組み立てたマネージャと偽物一式
type harness struct {
	manager    *CacheManager
	fetcher    *fakeFetcher
	store      *fakeStore
	controller *fakeController
	log        *eventLog
}

func newHarness(t *testing.T, mode domain.Mode) *harness {
	t.Helper()

	log := &eventLog{}
	h := &harness{
		fetcher:    newFakeFetcher(),
		store:      newFakeStore(log),
		controller: &fakeController{log: log},
		log:        log,
	}
	h.manager = NewCacheManager(
		h.store,
		h.fetcher,
		h.controller,
		StaticRules(domain.DefaultRoutingRules()),
		nopMetrics{},
		logger.NewStream(io.Discard, logger.DEBUG),
		CacheManagerConfig{Version: "v2", Mode: mode},
	)
	t.Cleanup(func() { _ = h.manager.Close() })
	return h
}

// activate はインストールと有効化を済ませる
func (h *harness) activate(t *testing.T) {
	t.Helper()
	require.NoError(t, h.manager.OnInstall(context.Background()))
	require.NoError(t, h.manager.OnActivate(context.Background()))
}

func getRequest(t *testing.T, rawURL string) *domain.Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &domain.Request{ID: "test", Method: http.MethodGet, URL: u}
}

func navigation(t *testing.T, rawURL string) *domain.Request {
	req := getRequest(t, rawURL)
	req.Navigate = true
	return req
}
