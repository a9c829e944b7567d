package routeros

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/tzrikka/gorouteros/pkg/metrics"
	"github.com/tzrikka/gorouteros/pkg/proto"
)

// actorMsg is the only message a [Client] ever hands to the engine: a
// request to submit a new command and route its responses to sink,
// cancellable through cancelCh.
type actorMsg struct {
	submit   *proto.Command
	sink     chan proto.Response
	cancelCh chan struct{}
	errSlot  *error
}

// pendingEntry is the engine's bookkeeping for one in-flight tag. The
// engine is the only goroutine that ever reads or writes this map;
// nothing about it is synchronized, by design (see [engine.ownerLoop]).
type pendingEntry struct {
	sink     chan proto.Response
	cancelCh chan struct{}
	path     string
	started  time.Time
	// errSlot, if non-nil, is written once (before the sink is closed)
	// with any error that ended this command without a final
	// [proto.Response]. A closed channel happens-before any read that
	// observes it closed, so a [Stream.Err] read after <-C reports !ok
	// is race-free without its own synchronization.
	errSlot *error
}

// readResult is what the reader goroutine publishes to the owner
// loop. A malformed sentence that still parsed as a stream of words
// (recoverable == true) carries those words so the owner loop can try
// to route the failure to the one pending command it names, instead
// of tearing down the whole connection; any other error is a framing
// failure the connection can't recover from.
type readResult struct {
	resp        proto.Response
	err         error
	words       []proto.Word
	recoverable bool
}

// engine owns the TCP connection exclusively: it is the only
// goroutine (besides the reader it spawns, which only ever produces
// results onto a channel) that touches the socket or the pending
// table. Everything else communicates with it through actorCh and
// shutdownCh.
type engine struct {
	conn          net.Conn
	logger        zerolog.Logger
	actorCh       chan actorMsg
	shutdownGrace time.Duration
	metrics       bool
}

// run is the engine's owning goroutine. It reads from the socket via
// a reader goroutine it spawns, writes to the socket itself, and
// never shares the pending table with anything else.
func (e *engine) run(shutdownCh <-chan struct{}) {
	defer e.conn.Close()

	readerCh := make(chan readResult, 1)
	go e.readLoop(bufio.NewReaderSize(e.conn, 4096), readerCh)

	e.ownerLoop(readerCh, shutdownCh)

	// Best-effort half-close: let the router see EOF on its read side
	// before we tear down the whole socket.
	if wc, ok := e.conn.(interface{ CloseWrite() error }); ok {
		_ = wc.CloseWrite()
	}
}

func (e *engine) readLoop(r io.Reader, out chan<- readResult) {
	defer close(out)

	splitter := proto.NewSplitter()
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			splitter.Feed(buf[:n])
			for {
				words, ok, serr := splitter.Next()
				if serr != nil {
					out <- readResult{err: serr}
					return
				}
				if !ok {
					break
				}
				resp, perr := proto.ParseResponse(words)
				if perr != nil {
					out <- readResult{err: perr, words: words, recoverable: true}
					continue
				}
				out <- readResult{resp: resp}
			}
		}
		if err != nil {
			out <- readResult{err: err}
			return
		}
	}
}

// ownerLoop is the single-owner actor: it prefers draining readerCh
// (socket responses) over e.actorCh (new commands), mirroring a
// biased select. Go's select has no native bias, so preference is
// implemented as a non-blocking pre-check of readerCh before falling
// into the real, unbiased select.
func (e *engine) ownerLoop(readerCh <-chan readResult, shutdownCh <-chan struct{}) {
	pending := map[uint16]*pendingEntry{}
	shuttingDown := false
	var deadline <-chan time.Time

	for {
		if shuttingDown && len(pending) == 0 {
			return
		}

		select {
		case res, ok := <-readerCh:
			if e.handleReadResult(res, ok, pending) {
				return
			}
			continue
		default:
		}

		select {
		case res, ok := <-readerCh:
			if e.handleReadResult(res, ok, pending) {
				return
			}
		case msg := <-e.actorCh:
			e.handleSubmit(msg, pending)
		case <-shutdownCh:
			if !shuttingDown {
				shuttingDown = true
				e.logger.Debug().Int("pending", len(pending)).Msg("starting shutdown, cancelling pending commands")
				e.beginShutdown(pending)
				deadline = time.After(e.shutdownGrace)
			}
			shutdownCh = nil // already handled; never select it again
		case <-deadline:
			e.logger.Warn().Int("pending", len(pending)).Msg("shutdown grace period elapsed, dropping pending commands")
			e.forceShutdown(pending)
			return
		}
	}
}

func (e *engine) handleReadResult(res readResult, ok bool, pending map[uint16]*pendingEntry) (fatal bool) {
	if !ok {
		return false // readLoop already reported its terminal error before closing
	}
	if res.err != nil {
		if res.recoverable {
			e.handleParseError(res.err, res.words, pending)
			return false
		}
		e.logger.Error().Err(res.err).Msg("connection read failed")
		e.notifyAllError(pending, &Error{Kind: KindConnection, Err: res.err})
		return true
	}
	return e.handleResponse(res.resp, pending)
}

// handleParseError routes a malformed-but-framed sentence's error to
// the one pending command it names a tag for, if any; with no tag to
// go on, every pending command is told about it instead. Either way,
// the connection itself stays up: a bad sentence is not a reason to
// tear down every other in-flight command.
func (e *engine) handleParseError(perr error, words []proto.Word, pending map[uint16]*pendingEntry) {
	e.logger.Warn().Err(perr).Msg("received a malformed sentence")
	rerr := &Error{Kind: KindProtocol, Err: perr}

	for _, w := range words {
		if w.Kind != proto.WordKindTag {
			continue
		}
		if pe, found := pending[w.Tag]; found {
			delete(pending, w.Tag)
			e.recordCompletion(pe, w.Tag, "error", rerr)
			e.deliverError(pe, rerr)
		}
		return
	}

	for tag, pe := range pending {
		delete(pending, tag)
		e.recordCompletion(pe, tag, "error", rerr)
		e.deliverError(pe, rerr)
	}
}

func (e *engine) handleResponse(resp proto.Response, pending map[uint16]*pendingEntry) (fatal bool) {
	e.logger.Debug().Str("kind", resp.Kind.String()).Uint16("tag", resp.Tag).Msg("routing response")

	switch resp.Kind {
	case proto.ResponseDone, proto.ResponseTrap:
		pe, found := pending[resp.Tag]
		if !found {
			return false
		}
		delete(pending, resp.Tag)
		e.recordCompletion(pe, resp.Tag, resp.Kind.String(), nil)
		e.deliverAndClose(pe, resp)
		return false

	case proto.ResponseReply:
		pe, found := pending[resp.Tag]
		if !found {
			return false
		}
		select {
		case pe.sink <- resp:
		case <-pe.cancelCh:
			delete(pending, resp.Tag)
			close(pe.sink)
			e.writeCancel(resp.Tag)
		}
		return false

	case proto.ResponseEmpty:
		if resp.HasTag {
			if pe, found := pending[resp.Tag]; found {
				delete(pending, resp.Tag)
				close(pe.sink)
			}
		}
		return false

	case proto.ResponseFatal:
		e.logger.Error().Str("message", resp.FatalMessage).Msg("connection received a fatal response")
		for tag, pe := range pending {
			delete(pending, tag)
			e.recordCompletion(pe, tag, resp.Kind.String(), nil)
			e.deliverAndClose(pe, resp)
		}
		return true

	default:
		return false
	}
}

func (e *engine) handleSubmit(msg actorMsg, pending map[uint16]*pendingEntry) {
	if _, err := e.conn.Write(msg.submit.Data); err != nil {
		e.logger.Error().Err(err).Msg("failed to write command")
		pending[msg.submit.Tag] = &pendingEntry{sink: msg.sink, cancelCh: msg.cancelCh, errSlot: msg.errSlot}
		e.notifyAllError(pending, &Error{Kind: KindConnection, Err: err})
		return
	}

	pending[msg.submit.Tag] = &pendingEntry{
		sink:     msg.sink,
		cancelCh: msg.cancelCh,
		path:     msg.submit.Path,
		started:  time.Now(),
		errSlot:  msg.errSlot,
	}
	if e.metrics {
		metrics.RecordCommandSubmitted(time.Now(), msg.submit.Path, msg.submit.Tag)
	}
}

func (e *engine) writeCancel(tag uint16) {
	cmd, err := proto.CancelCommand(tag)
	if err != nil {
		e.logger.Error().Err(err).Uint16("tag", tag).Msg("failed to build /cancel command")
		return
	}
	if _, err := e.conn.Write(cmd.Data); err != nil {
		e.logger.Warn().Err(err).Uint16("tag", tag).Msg("failed to write /cancel command")
	}
}

func (e *engine) beginShutdown(pending map[uint16]*pendingEntry) {
	for tag := range pending {
		e.writeCancel(tag)
	}
}

func (e *engine) forceShutdown(pending map[uint16]*pendingEntry) {
	for tag, pe := range pending {
		delete(pending, tag)
		close(pe.sink)
	}
}

func (e *engine) notifyAllError(pending map[uint16]*pendingEntry, err *Error) {
	for tag, pe := range pending {
		delete(pending, tag)
		e.recordCompletion(pe, tag, "error", err)
		e.deliverError(pe, err)
	}
}

func (e *engine) deliverAndClose(pe *pendingEntry, resp proto.Response) {
	select {
	case pe.sink <- resp:
	case <-pe.cancelCh:
	}
	close(pe.sink)
}

// deliverError closes pe's sink without delivering a [proto.Response]
// value, recording err in its error slot first so [Stream.Err] can
// report why the stream ended early.
func (e *engine) deliverError(pe *pendingEntry, err error) {
	if pe.errSlot != nil {
		*pe.errSlot = err
	}
	close(pe.sink)
}

func (e *engine) recordCompletion(pe *pendingEntry, tag uint16, kind string, err error) {
	if !e.metrics {
		return
	}
	metrics.RecordCommandCompleted(time.Now(), pe.path, tag, kind, time.Since(pe.started), err)
}
