package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// Document is the good-server list published at goodserversurl and kept in
// goodserverscache.
type Document struct {
	GoodServers []string `json:"GoodDnsServers"`
}

// Lookup resolves a hostname to addresses.
type Lookup func(ctx context.Context, host string) ([]netip.Addr, error)

// SystemLookup resolves with the system resolver.
func SystemLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

const fetchTimeout = 10 * time.Second

// LoadGoodServers merges the inline good servers with the remote document.
// A successful fetch refreshes the local cache; a failed one falls back to
// it. Only an empty result is an error.
func LoadGoodServers(ctx context.Context, cfg *Config, lookup Lookup) ([]netip.AddrPort, error) {
	entries := append([]string(nil), cfg.GoodServers...)

	var fetched bool
	if cfg.GoodServersURL != "" {
		doc, raw, err := fetchDocument(ctx, cfg.GoodServersURL)
		if err != nil {
			zlog.Warn("Good servers fetch failed", "url", cfg.GoodServersURL, "error", err.Error())
		} else {
			fetched = true
			entries = append(entries, doc.GoodServers...)

			if cfg.GoodServersCache != "" {
				if err := writeCache(cfg.GoodServersCache, raw); err != nil {
					zlog.Warn("Good servers cache write failed", "path", cfg.GoodServersCache, "error", err.Error())
				}
			}
		}
	}

	if !fetched && cfg.GoodServersCache != "" {
		doc, err := ReadDocument(cfg.GoodServersCache)
		switch {
		case err == nil:
			entries = append(entries, doc.GoodServers...)
		case os.IsNotExist(err):
			zlog.Debug("Good servers cache not found", "path", cfg.GoodServersCache)
		default:
			zlog.Warn("Good servers cache read failed", "path", cfg.GoodServersCache, "error", err.Error())
		}
	}

	servers, err := ParseServers(ctx, entries, lookup)
	if err != nil {
		return nil, err
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("%w: no good servers available", ErrInvalid)
	}

	return servers, nil
}

// ParseServers parses ip, ip:port, [ipv6]:port and hostname entries. Port 53
// is used when none is given. Duplicates are dropped.
func ParseServers(ctx context.Context, entries []string, lookup Lookup) ([]netip.AddrPort, error) {
	var (
		servers []netip.AddrPort
		seen    = make(map[netip.AddrPort]struct{})
	)

	add := func(ap netip.AddrPort) {
		ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
		if _, ok := seen[ap]; ok {
			return
		}
		seen[ap] = struct{}{}
		servers = append(servers, ap)
	}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if ap, err := netip.ParseAddrPort(entry); err == nil {
			add(ap)
			continue
		}

		if addr, err := netip.ParseAddr(entry); err == nil {
			add(netip.AddrPortFrom(addr, 53))
			continue
		}

		host, port := entry, uint16(53)
		if h, p, err := net.SplitHostPort(entry); err == nil {
			n, err := strconv.ParseUint(p, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: server %q: bad port", ErrInvalid, entry)
			}
			host, port = h, uint16(n)
		}

		if lookup == nil {
			return nil, fmt.Errorf("%w: server %q is not an address", ErrInvalid, entry)
		}

		addrs, err := lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("lookup good server %s: %w", host, err)
		}

		for _, addr := range addrs {
			add(netip.AddrPortFrom(addr, port))
		}
	}

	return servers, nil
}

// ReadDocument reads a good-server document from path.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc := new(Document)
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return doc, nil
}

func fetchDocument(ctx context.Context, uri string) (*Document, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, err
	}

	doc := new(Document)
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, nil, fmt.Errorf("decode document: %w", err)
	}

	return doc, raw, nil
}

func writeCache(path string, raw []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// WatchGoodServers calls fn with the entries of the document at path every
// time it is written, until ctx is done. The directory is watched, not the
// file, so atomic replaces are seen too.
func WatchGoodServers(ctx context.Context, path string, fn func([]string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch good servers directory: %w", err)
	}

	name := filepath.Base(path)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Base(event.Name) != name || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				zlog.Debug("Good servers file event", "event", event.String())

				doc, err := ReadDocument(path)
				if err != nil {
					zlog.Warn("Good servers reload failed", "path", path, "error", err.Error())
					continue
				}

				fn(doc.GoodServers)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				zlog.Error("Good servers watcher error", "error", err.Error())
			}
		}
	}()

	return nil
}
