// Package registry caches bundle readers by file path. Concurrent requests
// for a bundle that is still being read share one reader, one parse and one
// verification; idle readers are evicted on a timer.
package registry

import (
	"context"
	"net/url"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/go-i2p/go-swbn/lib/bundle/files"
	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
	"github.com/go-i2p/go-swbn/lib/bundle/parser"
	"github.com/go-i2p/go-swbn/lib/bundle/reader"
	"github.com/go-i2p/go-swbn/lib/bundle/validator"
	"github.com/go-i2p/go-swbn/lib/bundle/verifier"
	"github.com/go-i2p/go-swbn/lib/util/sequence"
)

var log = logger.GetGoI2PLogger()

// DefaultCleanupInterval is how often idle readers are swept.
const DefaultCleanupInterval = 10 * time.Minute

// UntrustedKeysPrefix starts the abort message for a rejected signature stack.
const UntrustedKeysPrefix = "Public keys of the Isolated Web App are untrusted: "

// Options configures a Registry.
type Options struct {
	Files     files.Provider
	Parsers   parser.Factory
	Verifier  verifier.SignatureVerifier
	Validator validator.Validator
	// Verified is shared process state; nil means a private set.
	Verified *VerifiedSet

	CleanupInterval time.Duration
	// SkipVerifiedThisSession skips signature verification for paths in
	// Verified.
	SkipVerifiedThisSession bool

	OperationTimeout  time.Duration
	ReconnectInterval time.Duration
	ReconnectBurst    int
	ReconnectTimeout  time.Duration

	Clock func() time.Time
}

type entryState int

const (
	statePending entryState = iota
	stateReady
)

func (s entryState) String() string {
	if s == statePending {
		return "pending"
	}
	return "ready"
}

type pendingRequest struct {
	request  reader.Request
	callback reader.ResponseCallback
}

type cacheEntry struct {
	state  entryState
	id     identity.BundleID
	reader *reader.Reader
	queue  []pendingRequest
}

// Stats is a snapshot of the cache.
type Stats struct {
	Entries   int
	Pending   int
	Ready     int
	Evictions uint64
	Verified  int
}

// Registry owns the cache. All of its state lives on its own sequence.
type Registry struct {
	opts     Options
	seq      *sequence.Sequence
	verified *VerifiedSet

	// Owned by the sequence.
	entries   map[string]*cacheEntry
	timer     *time.Timer
	timerGen  uint64
	evictions uint64
	closed    bool
}

// New creates a registry. Files, Parsers, Verifier and Validator are required.
func New(opts Options) (*Registry, error) {
	if opts.Files == nil || opts.Parsers == nil || opts.Verifier == nil || opts.Validator == nil {
		return nil, oops.Errorf("registry options need a file provider, a parser factory, a verifier and a validator")
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = reader.DefaultReconnectInterval
	}
	if opts.ReconnectBurst <= 0 {
		opts.ReconnectBurst = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	verified := opts.Verified
	if verified == nil {
		verified = NewVerifiedSet()
	}
	return &Registry{
		opts:     opts,
		seq:      sequence.New("bundle-registry"),
		verified: verified,
		entries:  make(map[string]*cacheEntry),
	}, nil
}

// ReadResponse reads the response for request from the bundle at path,
// which must be the bundle of id. callback runs on the registry sequence
// and must not block. Safe to call from any goroutine.
func (r *Registry) ReadResponse(path string, id identity.BundleID, request reader.Request, callback reader.ResponseCallback) {
	if !r.seq.Post(func() { r.readResponse(path, id, request, callback) }) {
		callback(nil, shutdownError())
	}
}

// Fetch is ReadResponse for callers that want to block.
func (r *Registry) Fetch(ctx context.Context, path string, id identity.BundleID, request reader.Request) (*reader.Response, error) {
	type result struct {
		resp *reader.Response
		err  error
	}
	done := make(chan result, 1)
	r.ReadResponse(path, id, request, func(resp *reader.Response, err error) {
		done <- result{resp, err}
	})
	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) readResponse(path string, id identity.BundleID, request reader.Request, callback reader.ResponseCallback) {
	if r.closed {
		callback(nil, shutdownError())
		return
	}
	request.URL = stripQueryAndFragment(request.URL)

	if entry, ok := r.entries[path]; ok {
		switch entry.state {
		case statePending:
			entry.queue = append(entry.queue, pendingRequest{request, callback})
			log.WithFields(logger.Fields{
				"at":     "(Registry) ReadResponse",
				"path":   path,
				"queued": len(entry.queue),
			}).Debug("queued request on pending reader")
		case stateReady:
			entry.reader.ReadResponse(request, callback)
		}
		return
	}

	rd, err := reader.New(path, r.readerOptions())
	if err != nil {
		callback(nil, err)
		return
	}
	entry := &cacheEntry{
		state:  statePending,
		id:     id,
		reader: rd,
		queue:  []pendingRequest{{request, callback}},
	}
	r.entries[path] = entry
	r.startCleanupTimer()

	log.WithFields(logger.Fields{
		"at":        "(Registry) ReadResponse",
		"path":      path,
		"bundle_id": id.String(),
	}).Debug("creating reader")
	rd.StartReading(
		func(keys []integrity.Ed25519PublicKey, decide func(reader.Decision)) {
			decide(r.decide(path, id, keys))
		},
		func(err error) { r.onReaderDone(path, entry, err) },
	)
}

func (r *Registry) readerOptions() reader.Options {
	return reader.Options{
		Files:            r.opts.Files,
		Parsers:          r.opts.Parsers,
		Verifier:         r.opts.Verifier,
		Sequence:         r.seq,
		OperationTimeout: r.opts.OperationTimeout,
		ReconnectLimiter: rate.NewLimiter(rate.Every(r.opts.ReconnectInterval), r.opts.ReconnectBurst),
		ReconnectTimeout: r.opts.ReconnectTimeout,
		Clock:            r.opts.Clock,
	}
}

func (r *Registry) decide(path string, id identity.BundleID, keys []integrity.Ed25519PublicKey) reader.Decision {
	if err := r.opts.Validator.ValidateIntegrityBlock(id, keys); err != nil {
		return reader.Abort(UntrustedKeysPrefix + err.Error())
	}
	if r.opts.SkipVerifiedThisSession && r.verified.Contains(path) {
		log.WithFields(logger.Fields{
			"at":     "(Registry) decide",
			"path":   path,
			"reason": "verified earlier this session",
		}).Debug("skipping signature verification")
		return reader.ContinueAndSkipSignatureVerification()
	}
	return reader.ContinueAndVerifySignatures()
}

func (r *Registry) onReaderDone(path string, entry *cacheEntry, err error) {
	if r.entries[path] != entry {
		return
	}
	if err == nil {
		if verr := r.opts.Validator.ValidateMetadata(entry.id, entry.reader.PrimaryURL(), entry.reader.EntryURLs()); verr != nil {
			err = &reader.Error{Kind: reader.KindMetadataValidation, Message: verr.Error(), Err: verr}
		}
	}

	queue := entry.queue
	entry.queue = nil
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(Registry) onReaderDone",
			"path":   path,
			"queued": len(queue),
		}).Warn("failed to read bundle")
		delete(r.entries, path)
		entry.reader.Close()
		for _, p := range queue {
			p.callback(nil, err)
		}
		r.stopCleanupTimerIfEmpty()
		return
	}

	entry.state = stateReady
	r.verified.Add(path)
	log.WithFields(logger.Fields{
		"at":     "(Registry) onReaderDone",
		"path":   path,
		"queued": len(queue),
	}).Debug("reader ready")
	for _, p := range queue {
		entry.reader.ReadResponse(p.request, p.callback)
	}
}

func (r *Registry) startCleanupTimer() {
	if r.timer != nil {
		return
	}
	r.timerGen++
	gen := r.timerGen
	r.timer = time.AfterFunc(r.opts.CleanupInterval, func() {
		r.seq.Post(func() { r.onCleanupTimer(gen) })
	})
}

func (r *Registry) stopCleanupTimerIfEmpty() {
	if len(r.entries) == 0 && r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// onCleanupTimer runs a sweep for the timer of generation gen. A timer that
// fired after it was stopped or replaced is ignored.
func (r *Registry) onCleanupTimer(gen uint64) {
	if r.timer == nil || gen != r.timerGen {
		return
	}
	r.timer = nil
	r.sweep()
}

// sweep evicts ready readers not used within the last interval. An entry
// that goes idle right after a sweep is caught by the next one, so it may
// stay cached for up to twice the interval.
func (r *Registry) sweep() {
	if r.closed {
		return
	}
	cutoff := r.opts.Clock().Add(-r.opts.CleanupInterval)
	for path, entry := range r.entries {
		if entry.state != stateReady || entry.reader.LastUsed().After(cutoff) {
			continue
		}
		delete(r.entries, path)
		entry.reader.Close()
		r.evictions++
		log.WithFields(logger.Fields{
			"at":        "(Registry) sweep",
			"path":      path,
			"last_used": entry.reader.LastUsed(),
		}).Debug("evicted idle reader")
	}
	if len(r.entries) > 0 {
		r.startCleanupTimer()
	} else {
		r.stopCleanupTimerIfEmpty()
	}
}

// Stats returns a snapshot of the cache.
func (r *Registry) Stats() Stats {
	var s Stats
	r.seq.Sync(func() {
		s.Entries = len(r.entries)
		for _, entry := range r.entries {
			if entry.state == statePending {
				s.Pending++
			} else {
				s.Ready++
			}
		}
		s.Evictions = r.evictions
	})
	s.Verified = r.verified.Len()
	return s
}

// Close fails every queued request with a KindShutdown error, closes every
// reader and stops the registry. It must not be called from a callback.
func (r *Registry) Close() error {
	r.seq.Sync(func() {
		if r.closed {
			return
		}
		r.closed = true
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
		for path, entry := range r.entries {
			delete(r.entries, path)
			queue := entry.queue
			entry.queue = nil
			entry.reader.Close()
			for _, p := range queue {
				p.callback(nil, shutdownError())
			}
		}
		log.WithFields(logger.Fields{
			"at":        "(Registry) Close",
			"evictions": r.evictions,
		}).Debug("registry closed")
	})
	r.seq.Stop()
	r.seq.Wait()
	return nil
}

func stripQueryAndFragment(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""
	return &c
}

func shutdownError() *reader.Error {
	return reader.NewError(reader.KindShutdown, "The bundle registry was shut down.")
}
