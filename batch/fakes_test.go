package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teranos/mintdoi/errors"
	mintdoitest "github.com/teranos/mintdoi/internal/testing"
	"github.com/teranos/mintdoi/internal/httpclient"
	"github.com/teranos/mintdoi/ratelimit"
	"github.com/teranos/mintdoi/transform"
)

func record(id string) transform.Metadata {
	v := func(s string) []transform.MetadataValue { return []transform.MetadataValue{{Value: s}} }
	return transform.Metadata{
		transform.FieldDateIssued: v("2023-11-02"),
		transform.FieldAbstract:   v("Abstract of " + id),
		transform.FieldURI:        v("https://hdl.handle.net/20.500.14038/" + id),
		transform.FieldPublisher:  v("Example University"),
		transform.FieldTitle:      v("Record " + id),
		transform.FieldType:       v("Dataset"),
		transform.FieldAuthor:     v("Smith, Jane"),
	}
}

// fakeRepository serves generated records; per-id errors override the record
type fakeRepository struct {
	mu       sync.Mutex
	records  map[string]transform.Metadata
	getErr   map[string]error
	authErr  error
	patchErr func(id string, call int) error

	gets    map[string]int
	patches map[string]string
	patchN  map[string]int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		records: make(map[string]transform.Metadata),
		getErr:  make(map[string]error),
		gets:    make(map[string]int),
		patches: make(map[string]string),
		patchN:  make(map[string]int),
	}
}

func (r *fakeRepository) GetRecord(ctx context.Context, id string) (transform.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets[id]++
	if err := r.getErr[id]; err != nil {
		return nil, err
	}
	if m, ok := r.records[id]; ok {
		return m, nil
	}
	return record(id), nil
}

func (r *fakeRepository) Authenticate(ctx context.Context) (string, error) {
	if r.authErr != nil {
		return "", r.authErr
	}
	return "Bearer test-token", nil
}

func (r *fakeRepository) PatchIdentifier(ctx context.Context, id, doi, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patchN[id]++
	if r.patchErr != nil {
		if err := r.patchErr(id, r.patchN[id]); err != nil {
			return err
		}
	}
	r.patches[id] = doi
	return nil
}

func (r *fakeRepository) patched(id string) (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.patches[id], r.patchN[id]
}

// fakeRegistrar mints sequential DOIs; fail decides per call whether to error
type fakeRegistrar struct {
	mu        sync.Mutex
	fail      func(payload transform.Payload, call int) error
	calls     int
	successes map[string]string // landing url -> doi
	block     chan struct{}
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{successes: make(map[string]string)}
}

func (r *fakeRegistrar) Mint(ctx context.Context, payload transform.Payload) (string, string, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail != nil {
		if err := r.fail(payload, r.calls); err != nil {
			return "", "", err
		}
	}
	doi := fmt.Sprintf("%s/mint.%04d", payload.Data.Attributes.Prefix, len(r.successes)+1)
	r.successes[payload.Data.Attributes.URL] = doi
	return doi, payload.Data.Attributes.URL, nil
}

func (r *fakeRegistrar) stats() (calls, successes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, len(r.successes)
}

func statusErr(code int) error {
	return errors.Mark(&httpclient.StatusError{Op: "test", StatusCode: code}, httpclient.KindForStatus(code))
}

type harness struct {
	store     *Store
	repo      *fakeRepository
	registrar *fakeRegistrar
	stages    Stages
	cfg       Config
	orch      *Orchestrator
}

// useRegistrar rebuilds the orchestrator around r
func (h *harness) useRegistrar(r Registrar) {
	h.stages.Registrar = r
	h.orch = NewOrchestrator(h.store, h.stages, h.cfg, nil)
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	if cfg.RPS == 0 {
		cfg.RPS = 1000
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 3
	}
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond

	tr, err := transform.New(transform.Options{
		Prefix:          "10.80000",
		AffiliationName: "Example University",
		AffiliationROR:  "https://ror.org/00example",
	})
	require.NoError(t, err)

	limiter, err := ratelimit.New(cfg.RPS)
	require.NoError(t, err)

	h := &harness{
		store:     NewStore(mintdoitest.CreateTestDB(t)),
		repo:      newFakeRepository(),
		registrar: newFakeRegistrar(),
	}
	h.cfg = cfg
	h.stages = Stages{
		Repository:  h.repo,
		Registrar:   h.registrar,
		Transformer: tr,
		Limiter:     limiter,
	}
	h.orch = NewOrchestrator(h.store, h.stages, cfg, nil)
	return h
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item-%03d", i)
	}
	return out
}
