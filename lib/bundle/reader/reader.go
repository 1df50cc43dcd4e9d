// Package reader implements the bundle reader: the state machine that opens a
// Signed Web Bundle, lets the caller decide on its signers, verifies it, reads
// its metadata and then serves responses from it.
//
// A Reader lives on a sequence.Sequence. StartReading, ReadResponse and Close
// must be called from tasks of that sequence, and every callback is invoked on
// it. File access, parsing and verification run on other goroutines and post
// their results back. ReadResponseBody and Response.ReadBody may be called
// from any goroutine.
package reader

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/go-i2p/go-swbn/lib/bundle/files"
	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
	"github.com/go-i2p/go-swbn/lib/bundle/parser"
	"github.com/go-i2p/go-swbn/lib/bundle/verifier"
	"github.com/go-i2p/go-swbn/lib/util"
	"github.com/go-i2p/go-swbn/lib/util/sequence"
)

var log = logger.GetGoI2PLogger()

// State of a Reader. Error is terminal.
type State int32

const (
	StateInitializing State = iota
	StateInitialized
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	DefaultOperationTimeout  = 30 * time.Second
	DefaultReconnectInterval = time.Second
	DefaultReconnectTimeout  = 30 * time.Second
)

var errReaderGone = errors.New("the bundle reader is no longer available")

// Options are the collaborators and limits of a Reader.
type Options struct {
	Files    files.Provider
	Parsers  parser.Factory
	Verifier verifier.SignatureVerifier
	Sequence *sequence.Sequence

	// OperationTimeout bounds each file, parser and verifier call.
	OperationTimeout time.Duration
	// ReconnectLimiter paces parser reconnection attempts.
	ReconnectLimiter *rate.Limiter
	// ReconnectTimeout bounds the wait for the limiter plus the reconnection.
	ReconnectTimeout time.Duration
	// Clock is used for last-use bookkeeping.
	Clock func() time.Time
}

func (o *Options) applyDefaults() error {
	if o.Files == nil || o.Parsers == nil || o.Verifier == nil || o.Sequence == nil {
		return oops.Errorf("reader options need a file provider, a parser factory, a verifier and a sequence")
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	if o.ReconnectLimiter == nil {
		o.ReconnectLimiter = rate.NewLimiter(rate.Every(DefaultReconnectInterval), 1)
	}
	if o.ReconnectTimeout <= 0 {
		o.ReconnectTimeout = DefaultReconnectTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return nil
}

type responseJob struct {
	location parser.ResponseLocation
	callback ResponseCallback
	retried  bool
}

// Reader serves one bundle file.
type Reader struct {
	path string
	opts Options
	seq  *sequence.Sequence

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	lastUsed atomic.Int64

	// Owned by the sequence.
	started      bool
	closed       bool
	onDone       DoneCallback
	parser       parser.Parser
	primaryURL   *url.URL
	entries      map[string]parser.ResponseLocation
	entryURLs    []*url.URL
	jobs         []*responseJob
	inflight     *responseJob
	reconnecting bool

	// file is the local handle used for verification and body reads. It is
	// nil once the reader is closed.
	fileMu sync.Mutex
	file   files.File
}

// New creates a reader for the bundle at path. Nothing is read until
// StartReading.
func New(path string, opts Options) (*Reader, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reader{
		path:   path,
		opts:   opts,
		seq:    opts.Sequence,
		ctx:    ctx,
		cancel: cancel,
	}
	r.state.Store(int32(StateInitializing))
	r.touch()
	return r, nil
}

func (r *Reader) Path() string { return r.path }

func (r *Reader) State() State { return State(r.state.Load()) }

// LastUsed is the last time a response or a body was read.
func (r *Reader) LastUsed() time.Time {
	return time.Unix(0, r.lastUsed.Load())
}

func (r *Reader) touch() {
	r.lastUsed.Store(r.opts.Clock().UnixNano())
}

func (r *Reader) mustBeInitialized(method string) {
	if s := r.State(); s != StateInitialized {
		panic("reader: " + method + " called in state " + s.String())
	}
}

// PrimaryURL returns the primary URL of the bundle, nil if it has none.
// Panics unless the reader is Initialized.
func (r *Reader) PrimaryURL() *url.URL {
	r.mustBeInitialized("PrimaryURL")
	if r.primaryURL == nil {
		return nil
	}
	u := *r.primaryURL
	return &u
}

// Entries returns a copy of the URL index. Panics unless Initialized.
func (r *Reader) Entries() map[string]parser.ResponseLocation {
	r.mustBeInitialized("Entries")
	out := make(map[string]parser.ResponseLocation, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// EntryURLs returns the URLs of the index sorted by their string form.
// Panics unless Initialized.
func (r *Reader) EntryURLs() []*url.URL {
	r.mustBeInitialized("EntryURLs")
	out := make([]*url.URL, len(r.entryURLs))
	for i, u := range r.entryURLs {
		c := *u
		out[i] = &c
	}
	return out
}

// background runs work off the sequence and posts the continuation it
// returns. When the sequence no longer accepts tasks, cleanup runs instead.
func (r *Reader) background(timeout time.Duration, work func(ctx context.Context) (then, cleanup func())) {
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, timeout)
		then, cleanup := work(ctx)
		cancel()
		if !r.seq.Post(then) && cleanup != nil {
			cleanup()
		}
	}()
}

// StartReading drives the reader to Initialized or Error. onIntegrity is
// asked how to continue once the integrity block is parsed; onDone reports
// the outcome. Must be called once.
func (r *Reader) StartReading(onIntegrity IntegrityBlockCallback, onDone DoneCallback) {
	if r.started {
		panic("reader: StartReading called twice")
	}
	r.started = true
	r.onDone = onDone
	log.WithFields(logger.Fields{
		"at":    "(Reader) StartReading",
		"path":  r.path,
		"phase": "open",
	}).Debug("opening bundle")

	r.background(r.opts.OperationTimeout, func(ctx context.Context) (func(), func()) {
		file, dup, err := r.openFiles()
		return func() { r.onFilesOpened(file, dup, err, onIntegrity) }, func() { closeAll(file, dup) }
	})
}

func (r *Reader) openFiles() (files.File, files.File, error) {
	file, err := r.opts.Files.Open(r.path)
	if err != nil {
		return nil, nil, err
	}
	dup, err := r.opts.Files.Duplicate(file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, dup, nil
}

func (r *Reader) onFilesOpened(file, dup files.File, err error, onIntegrity IntegrityBlockCallback) {
	if r.closed {
		closeAll(file, dup)
		r.finish(shutdownError())
		return
	}
	if err != nil {
		r.finish(&Error{Kind: KindOpenFile, Message: "Failed to open bundle file: " + err.Error(), Err: err})
		return
	}
	r.fileMu.Lock()
	r.file = file
	r.fileMu.Unlock()

	r.background(r.opts.OperationTimeout, func(ctx context.Context) (func(), func()) {
		p, err := r.opts.Parsers.Open(ctx, dup)
		if err != nil {
			dup.Close()
			return func() {
				r.finish(newParseKindError(KindIntegrityBlockParse, "Failed to parse integrity block: ", err))
			}, nil
		}
		raw, err := p.ParseIntegrityBlock(ctx)
		return func() { r.onIntegrityBlockParsed(p, raw, err, onIntegrity) }, func() { p.Close() }
	})
}

func (r *Reader) onIntegrityBlockParsed(p parser.Parser, raw *parser.RawIntegrityBlock, err error, onIntegrity IntegrityBlockCallback) {
	r.parser = p
	if r.closed {
		r.finish(shutdownError())
		return
	}
	if err != nil {
		r.finish(newParseKindError(KindIntegrityBlockParse, "Failed to parse integrity block: ", err))
		return
	}
	block, err := integrity.NewIntegrityBlock(raw)
	if err != nil {
		r.finish(&Error{
			Kind:           KindIntegrityBlockParse,
			ParseErrorType: parser.ParseErrorFormat,
			Message:        "Failed to parse integrity block: " + err.Error(),
			Err:            err,
		})
		return
	}

	log.WithFields(logger.Fields{
		"at":         "(Reader) onIntegrityBlockParsed",
		"path":       r.path,
		"phase":      "integrity-block",
		"signatures": len(block.PublicKeys()),
	}).Debug("asking caller how to continue")

	var once sync.Once
	onIntegrity(block.PublicKeys(), func(d Decision) {
		once.Do(func() {
			if !r.seq.Post(func() { r.onDecision(block, d) }) {
				log.WithFields(logger.Fields{
					"at":   "(Reader) StartReading",
					"path": r.path,
				}).Debug("decision arrived after shutdown")
			}
		})
	})
}

func (r *Reader) onDecision(block *integrity.IntegrityBlock, d Decision) {
	if r.closed {
		r.finish(shutdownError())
		return
	}
	log.WithFields(logger.Fields{
		"at":       "(Reader) onDecision",
		"path":     r.path,
		"decision": d.String(),
	}).Debug("caller decided")

	switch d.action {
	case actionAbort:
		r.finish(&Error{Kind: KindAbortedByCaller, Message: d.message})
	case actionSkipVerification:
		r.readMetadata(block.Size())
	default:
		file := r.file
		r.background(r.opts.OperationTimeout, func(ctx context.Context) (func(), func()) {
			err := r.opts.Verifier.VerifySignatures(ctx, file, block)
			return func() { r.onSignaturesVerified(block.Size(), err) }, nil
		})
	}
}

func (r *Reader) onSignaturesVerified(offset uint64, err error) {
	if r.closed {
		r.finish(shutdownError())
		return
	}
	if err != nil {
		r.finish(&Error{Kind: KindSignatureVerification, Message: "Failed to verify signatures: " + err.Error(), Err: err})
		return
	}
	r.readMetadata(offset)
}

func (r *Reader) readMetadata(offset uint64) {
	p := r.parser
	r.background(r.opts.OperationTimeout, func(ctx context.Context) (func(), func()) {
		metadata, err := p.ParseMetadata(ctx, offset)
		return func() { r.onMetadataParsed(metadata, err) }, nil
	})
}

func (r *Reader) onMetadataParsed(metadata *parser.Metadata, err error) {
	if r.closed {
		r.finish(shutdownError())
		return
	}
	if err != nil {
		r.finish(newParseKindError(KindMetadataParse, "Failed to parse metadata: ", err))
		return
	}

	r.primaryURL = metadata.PrimaryURL
	r.entries = metadata.Requests
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r.entryURLs = make([]*url.URL, 0, len(keys))
	for _, k := range keys {
		u, err := url.Parse(k)
		if err != nil {
			r.finish(&Error{
				Kind:           KindMetadataParse,
				ParseErrorType: parser.ParseErrorFormat,
				Message:        "Failed to parse metadata: " + err.Error(),
				Err:            err,
			})
			return
		}
		r.entryURLs = append(r.entryURLs, u)
	}

	r.watch(r.parser)
	r.finish(nil)
}

// finish ends initialization. A nil err moves the reader to Initialized.
func (r *Reader) finish(err *Error) {
	if err == nil {
		r.state.Store(int32(StateInitialized))
		log.WithFields(logger.Fields{
			"at":      "(Reader) finish",
			"path":    r.path,
			"entries": len(r.entries),
		}).Debug("reader initialized")
		r.onDone(nil)
		return
	}
	r.state.Store(int32(StateError))
	log.WithFields(logger.Fields{
		"at":     "(Reader) finish",
		"path":   r.path,
		"kind":   err.Kind.String(),
		"reason": err.Message,
	}).Warn("reader failed")
	r.release()
	r.onDone(err)
}

// watch notices when p disconnects.
func (r *Reader) watch(p parser.Parser) {
	go func() {
		select {
		case <-p.Done():
			r.seq.Post(func() { r.onDisconnected(p) })
		case <-r.ctx.Done():
		}
	}()
}

func (r *Reader) onDisconnected(p parser.Parser) {
	if r.parser != p {
		return
	}
	log.WithFields(logger.Fields{
		"at":   "(Reader) onDisconnected",
		"path": r.path,
	}).Info("bundle parser disconnected")
	r.parser = nil
}

// ReadResponse looks up request and parses the response head. The callback
// always runs asynchronously. Panics unless Initialized.
func (r *Reader) ReadResponse(request Request, callback ResponseCallback) {
	r.mustBeInitialized("ReadResponse")
	r.touch()

	key := normalizeRequestURL(request.URL)
	location, ok := r.entries[key]
	if !ok {
		err := NewError(KindResponseNotFound, "Failed to read response: no response found for "+key)
		r.seq.Post(func() { callback(nil, err) })
		return
	}
	if r.closed {
		r.seq.Post(func() { callback(nil, shutdownError()) })
		return
	}
	r.jobs = append(r.jobs, &responseJob{location: location, callback: callback})
	r.pump()
}

// normalizeRequestURL drops user info and fragment. The query is kept.
func normalizeRequestURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// pump starts the next parser job. One job runs at a time per session.
func (r *Reader) pump() {
	if r.inflight != nil || r.reconnecting || r.closed || len(r.jobs) == 0 {
		return
	}
	if r.parser == nil {
		r.reconnect()
		return
	}
	job := r.jobs[0]
	r.jobs[0] = nil
	r.jobs = r.jobs[1:]
	r.inflight = job
	p := r.parser
	r.background(r.opts.OperationTimeout, func(ctx context.Context) (func(), func()) {
		head, err := p.ParseResponse(ctx, job.location)
		return func() {
			// Close already failed the job.
			if r.inflight != job {
				return
			}
			r.inflight = nil
			r.onResponseParsed(p, job, head, err)
			r.pump()
		}, nil
	})
}

func (r *Reader) onResponseParsed(p parser.Parser, job *responseJob, head *parser.ResponseHead, err error) {
	if r.closed {
		job.callback(nil, shutdownError())
		return
	}
	if err != nil {
		if errors.Is(err, parser.ErrDisconnected) && !job.retried {
			job.retried = true
			if r.parser == p {
				r.parser = nil
			}
			p.Close()
			r.jobs = append([]*responseJob{job}, r.jobs...)
			return
		}
		job.callback(nil, newParseKindError(KindResponseParse, "Failed to parse response head: ", err))
		return
	}
	job.callback(newResponse(r, head), nil)
}

// reconnect opens a fresh parser session on a new duplicate of the file.
// Queued jobs wait for it and are replayed in order, or all fail.
func (r *Reader) reconnect() {
	r.reconnecting = true
	file := r.file
	log.WithFields(logger.Fields{
		"at":     "(Reader) reconnect",
		"path":   r.path,
		"queued": len(r.jobs),
	}).Info("reconnecting to bundle parser")

	r.background(r.opts.ReconnectTimeout, func(ctx context.Context) (func(), func()) {
		p, err := r.openParser(ctx, file)
		cleanup := func() {
			if p != nil {
				p.Close()
			}
		}
		return func() { r.onReconnected(p, err) }, cleanup
	})
}

func (r *Reader) openParser(ctx context.Context, file files.File) (parser.Parser, error) {
	if err := r.opts.ReconnectLimiter.Wait(ctx); err != nil {
		return nil, oops.Wrapf(err, "waiting to reconnect")
	}
	dup, err := r.opts.Files.Duplicate(file)
	if err != nil {
		return nil, err
	}
	p, err := r.opts.Parsers.Open(ctx, dup)
	if err != nil {
		dup.Close()
		return nil, err
	}
	return p, nil
}

func (r *Reader) onReconnected(p parser.Parser, err error) {
	r.reconnecting = false
	if r.closed {
		if p != nil {
			p.Close()
		}
		r.failJobs(shutdownError())
		return
	}
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(Reader) onReconnected",
			"path":   r.path,
			"queued": len(r.jobs),
		}).Warn("failed to reconnect to bundle parser")
		r.failJobs(&Error{
			Kind:           KindResponseParse,
			ParseErrorType: parser.ParseErrorInternal,
			Message:        "Failed to parse response head: failed to reconnect to the bundle parser: " + err.Error(),
			Err:            err,
		})
		return
	}
	r.parser = p
	r.watch(p)
	r.pump()
}

func (r *Reader) failJobs(err *Error) {
	jobs := r.jobs
	r.jobs = nil
	for _, job := range jobs {
		job.callback(nil, err)
	}
}

// ReadResponseBody copies the payload described by head to w from the local
// file handle. It does not use the parser. Panics unless Initialized.
func (r *Reader) ReadResponseBody(ctx context.Context, head *parser.ResponseHead, w io.Writer) error {
	r.mustBeInitialized("ReadResponseBody")
	r.touch()

	section := io.NewSectionReader(bodyReaderAt{r}, int64(head.PayloadOffset), int64(head.PayloadLength))
	n, err := io.Copy(w, util.NewContextReader(ctx, section))
	if err != nil {
		return bodyReadError(err)
	}
	if uint64(n) != head.PayloadLength {
		return bodyReadError(oops.Errorf("payload ended after %d of %d bytes", n, head.PayloadLength))
	}
	return nil
}

func bodyReadError(err error) *Error {
	return &Error{Kind: KindBodyRead, Message: "Failed to read response body: " + err.Error(), Err: err}
}

// bodyReaderAt serializes reads of the local file and fails once the
// reader is closed.
type bodyReaderAt struct {
	r *Reader
}

func (b bodyReaderAt) ReadAt(p []byte, off int64) (int, error) {
	b.r.fileMu.Lock()
	defer b.r.fileMu.Unlock()
	if b.r.file == nil {
		return 0, errReaderGone
	}
	return b.r.file.ReadAt(p, off)
}

// Close releases the parser session and the local file. Queued response
// reads fail with a KindShutdown error; later body reads fail with
// KindBodyRead. Close is idempotent.
func (r *Reader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if job := r.inflight; job != nil {
		r.inflight = nil
		job.callback(nil, shutdownError())
	}
	r.failJobs(shutdownError())
	r.release()
}

func (r *Reader) release() {
	r.cancel()
	if r.parser != nil {
		r.parser.Close()
		r.parser = nil
	}
	r.fileMu.Lock()
	file := r.file
	r.file = nil
	r.fileMu.Unlock()
	if file != nil {
		file.Close()
	}
}

func shutdownError() *Error {
	return NewError(KindShutdown, "The bundle reader was shut down.")
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			c.Close()
		}
	}
}
