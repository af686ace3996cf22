package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mellowdrifter/rtrsync/internal/rtrstate"
	"inet.af/netaddr"
)

// jsonROA is one entry of the rpki-client/Routinator JSON VRP feed.
// ASN is typed any because some publishers emit it as a string
// ("AS4608") and others as a bare number.
type jsonROA struct {
	Prefix string `json:"prefix"`
	Mask   uint8  `json:"maxLength"`
	ASN    any    `json:"asn"`
}

type jsonFeed struct {
	ROAs []jsonROA `json:"roas"`
}

// decodeASN accepts both encodings the public VRP feeds use in
// practice.
func decodeASN(v any) (uint32, error) {
	switch t := v.(type) {
	case string:
		return asnToUint32(t)
	case float64:
		return uint32(t), nil
	default:
		return 0, fmt.Errorf("server: unexpected asn encoding %T", v)
	}
}

// asnToUint32 strips a leading "AS" prefix if present before parsing.
func asnToUint32(s string) (uint32, error) {
	if len(s) > 2 && (s[0] == 'A' || s[0] == 'a') && (s[1] == 'S' || s[1] == 's') {
		s = s[2:]
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("server: invalid asn %q: %w", s, err)
	}
	return uint32(n), nil
}

// fetchROAs fetches and decodes one VRP feed URL.
func fetchROAs(ctx context.Context, url string) ([]jsonROA, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("server: build request for %s: %w", url, err)
	}

	client := http.Client{Timeout: time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server: %s returned %s", url, resp.Status)
	}

	var feed jsonFeed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("server: decode %s: %w", url, err)
	}
	return feed.ROAs, nil
}

// isValidVRP enforces RFC 6482 §3.3's basic sanity checks on a parsed
// VRP: a max length of zero, below the prefix length, or beyond the
// address family's width is never valid.
func isValidVRP(prefix netaddr.IPPrefix, maxLen uint8) bool {
	if maxLen == 0 || maxLen < prefix.Bits() {
		return false
	}
	if prefix.IP().Is4() {
		return maxLen <= 32
	}
	return maxLen <= 128
}

// vrpStateFromURLs fetches every url concurrently and folds the
// resulting VRPs into an rtrstate.State (VRPs only; Router Keys and
// ASPAs have no equivalent public feed; rpkiLoader overlays them from
// its fixture).
func vrpStateFromURLs(ctx context.Context, urls []string) (rtrstate.State, error) {
	type result struct {
		roas []jsonROA
		err  error
	}

	results := make([]result, len(urls))
	var wg sync.WaitGroup
	wg.Add(len(urls))
	for i, url := range urls {
		go func(i int, url string) {
			defer wg.Done()
			roas, err := fetchROAs(ctx, url)
			results[i] = result{roas: roas, err: err}
		}(i, url)
	}
	wg.Wait()

	state := rtrstate.Empty()
	for _, r := range results {
		if r.err != nil {
			return rtrstate.State{}, r.err
		}
		for _, jr := range r.roas {
			prefix, err := netaddr.ParseIPPrefix(jr.Prefix)
			if err != nil {
				return rtrstate.State{}, fmt.Errorf("server: invalid prefix %q: %w", jr.Prefix, err)
			}
			asn, err := decodeASN(jr.ASN)
			if err != nil {
				return rtrstate.State{}, err
			}
			if !isValidVRP(prefix, jr.Mask) {
				continue
			}
			key := rtrstate.VRPKey{ASN: asn, Prefix: prefix, MaxLength: jr.Mask}
			if state.VRPs[key] == 0 {
				state.VRPs[key] = 1
			}
		}
	}
	return state, nil
}

// rpkiLoader returns a LoadFn that refreshes VRPs from the configured
// JSON feed URLs on every call. Router Keys and ASPAs have no
// equivalent public feed, so fixture is overlaid on top of every
// fetched snapshot unchanged.
func rpkiLoader(urls []string, fixture rtrstate.State) LoadFn {
	return func(ctx context.Context) (rtrstate.State, error) {
		state, err := vrpStateFromURLs(ctx, urls)
		if err != nil {
			return rtrstate.State{}, err
		}
		for k, v := range fixture.RouterKeys {
			state.RouterKeys[k] = v
		}
		for k, v := range fixture.ASPAs {
			state.ASPAs[k] = v
		}
		return state, nil
	}
}
