// Package bundle moves ledger entries between stores as a deterministic TAR
// archive.
//
// Layout:
//
//	index.json        entry list with sha2-256 content digests, always first
//	entries/<cid>     raw entry bytes, lexicographic order
//
// Entry ids are arbitrary ledger ids (usually link CIDs), so the bytes cannot be
// checked against the id itself. Import checks them against the index digest
// instead.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/streams/cidutil"
	"xdao.co/streams/ledger"
)

// FormatVersion is the current bundle index schema version.
const FormatVersion = 1

const (
	indexName   = "index.json"
	entryPrefix = "entries/"
)

var (
	ErrDigestMismatch = errors.New("bundle: entry digest mismatch")
	ErrMissingIndex   = errors.New("bundle: index.json must be the first entry")
)

var epoch0 = time.Unix(0, 0).UTC()

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// Labels is optional, non-authoritative metadata mapping names to ids,
	// e.g. a channel name to its announcement link.
	Labels map[string]cid.Cid
}

// Export writes a deterministic TAR bundle containing the entries for ids.
func Export(ctx context.Context, w io.Writer, store ledger.Store, ids []cid.Cid, opts ExportOptions) error {
	if store == nil {
		return fmt.Errorf("bundle: nil store")
	}

	uniq := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return ledger.ErrInvalidID
		}
		uniq[id.String()] = id
	}
	names := make([]string, 0, len(uniq))
	for s := range uniq {
		names = append(names, s)
	}
	sort.Strings(names)

	payloads := make([][]byte, 0, len(names))
	idx := indexJSON{Version: FormatVersion, Digest: "sha2-256"}
	for _, s := range names {
		b, err := store.Get(ctx, uniq[s])
		if err != nil {
			return fmt.Errorf("bundle: export %s: %w", s, err)
		}
		payloads = append(payloads, b)
		idx.Entries = append(idx.Entries, indexEntry{ID: s, Size: len(b), Digest: cidutil.CIDv1RawSHA256(b)})
	}

	if len(opts.Labels) > 0 {
		keys := make([]string, 0, len(opts.Labels))
		for k := range opts.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "" {
				return fmt.Errorf("bundle: empty label key")
			}
			v := opts.Labels[k]
			if !v.Defined() {
				return ledger.ErrInvalidID
			}
			idx.Labels = append(idx.Labels, indexLabel{Name: k, ID: v.String()})
		}
	}

	ib, err := json.Marshal(idx)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	if err := writeFile(tw, indexName, append(ib, '\n')); err != nil {
		_ = tw.Close()
		return err
	}
	for i, s := range names {
		if err := writeFile(tw, entryPrefix+s, payloads[i]); err != nil {
			_ = tw.Close()
			return err
		}
	}
	return tw.Close()
}

// ExportAll exports every entry of a listable store.
func ExportAll(ctx context.Context, w io.Writer, store ledger.Store, opts ExportOptions) error {
	l, ok := store.(ledger.Lister)
	if !ok {
		return fmt.Errorf("bundle: store %T cannot list entries", store)
	}
	ids, err := l.List(ctx)
	if err != nil {
		return err
	}
	return Export(ctx, w, store, ids, opts)
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown skips unknown TAR entries instead of failing.
	IgnoreUnknown bool
}

// Result summarizes an import.
type Result struct {
	Imported []cid.Cid
	Labels   map[string]cid.Cid
}

// Import reads a bundle from r and puts all entries into store.
//
// Every entry must be listed in the index with a matching digest and size.
// Entries already present with identical bytes are accepted.
func Import(ctx context.Context, r io.Reader, store ledger.Store, opts ImportOptions) (Result, error) {
	if store == nil {
		return Result{}, fmt.Errorf("bundle: nil store")
	}

	tr := tar.NewReader(r)
	var idx map[string]indexEntry
	res := Result{Labels: map[string]cid.Cid{}}

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return res, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}

		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if idx == nil {
			if name != indexName {
				return res, ErrMissingIndex
			}
			idx, err = readIndex(tr, res.Labels)
			if err != nil {
				return res, err
			}
			continue
		}

		if !strings.HasPrefix(name, entryPrefix) {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return res, fmt.Errorf("bundle: unknown entry: %s", name)
		}

		key := strings.TrimPrefix(name, entryPrefix)
		id, derr := cid.Decode(key)
		if derr != nil || !id.Defined() {
			return res, ledger.ErrInvalidID
		}
		want, ok := idx[id.String()]
		if !ok {
			return res, fmt.Errorf("bundle: entry %s not in index", key)
		}
		delete(idx, id.String())

		payload, rerr := io.ReadAll(tr)
		if rerr != nil {
			return res, rerr
		}
		if len(payload) != want.Size || cidutil.CIDv1RawSHA256(payload) != want.Digest {
			return res, fmt.Errorf("%w: %s", ErrDigestMismatch, key)
		}
		if err := store.Put(ctx, id, payload); err != nil {
			return res, fmt.Errorf("bundle: import %s: %w", key, err)
		}
		res.Imported = append(res.Imported, id)
	}

	if idx == nil {
		return res, ErrMissingIndex
	}
	if len(idx) > 0 {
		missing := make([]string, 0, len(idx))
		for k := range idx {
			missing = append(missing, k)
		}
		sort.Strings(missing)
		return res, fmt.Errorf("bundle: index lists %d missing entries (first %s)", len(missing), missing[0])
	}
	return res, nil
}

func readIndex(r io.Reader, labels map[string]cid.Cid) (map[string]indexEntry, error) {
	var idx indexJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&idx); err != nil {
		return nil, fmt.Errorf("bundle: index: %w", err)
	}
	if idx.Version != FormatVersion {
		return nil, fmt.Errorf("bundle: unsupported index version %d", idx.Version)
	}
	out := make(map[string]indexEntry, len(idx.Entries))
	for _, e := range idx.Entries {
		if _, dup := out[e.ID]; dup {
			return nil, fmt.Errorf("bundle: duplicate index entry: %s", e.ID)
		}
		out[e.ID] = e
	}
	for _, l := range idx.Labels {
		id, err := cid.Decode(l.ID)
		if err != nil {
			return nil, ledger.ErrInvalidID
		}
		labels[l.Name] = id
	}
	return out, nil
}

type indexJSON struct {
	Version int          `json:"version"`
	Digest  string       `json:"digest"`
	Entries []indexEntry `json:"entries"`
	Labels  []indexLabel `json:"labels,omitempty"`
}

type indexEntry struct {
	ID     string `json:"id"`
	Size   int    `json:"size"`
	Digest string `json:"digest"`
}

type indexLabel struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return strings.Join(parts, "/")
}
