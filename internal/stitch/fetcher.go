package stitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/twine-protocol/beacon-in-a-box/internal/beacon/types"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// Fetcher pulls the current tip of each active stitch entry over HTTP, in
// parallel, each request bounded by an individual deadline. A failing
// fetch is logged and omitted, never a reason to skip the whole pulse
// (spec.md §4.4).
type Fetcher struct {
	client *http.Client
	log    log.Logger
}

// NewFetcher returns a Fetcher using client for outbound requests (nil
// selects http.DefaultClient's transport with no timeout of its own — the
// per-request context deadline governs instead).
func NewFetcher(client *http.Client, logger log.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, log: logger}
}

type tipResponse struct {
	CID string `json:"cid"`
}

// Fetch resolves every entry in cfg concurrently, each capped at timeout,
// and returns the resulting stitches in cfg's stable order. Entries whose
// fetch fails are simply absent from the result.
func (f *Fetcher) Fetch(ctx context.Context, entries []Entry, timeout time.Duration) []types.Stitch {
	results := make([]*types.Stitch, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e Entry) {
			defer wg.Done()
			stitch, err := f.fetchOne(ctx, e, timeout)
			if err != nil {
				f.log.Warn("stitch fetch failed, omitting", "resolver", e.Resolver, "strand", e.Strand, "err", err)
				return
			}
			results[i] = stitch
		}(i, e)
	}
	wg.Wait()

	out := make([]types.Stitch, 0, len(entries))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (f *Fetcher) fetchOne(ctx context.Context, e Entry, timeout time.Duration) (*types.Stitch, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.Resolver, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, httpStatusError(resp.StatusCode)
	}
	var tr tipResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, err
	}
	return &types.Stitch{
		ForeignStrandID: types.CID(e.Strand),
		ForeignTixelCID: types.CID(tr.CID),
	}, nil
}

type httpStatusError int

func (e httpStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", int(e))
}
