package jobcentre

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
)

const (
	statusOK     = "ok"
	statusNoJob  = "no-job"
	statusError  = "error"
	requestPut   = "put"
	requestGet   = "get"
	requestDel   = "delete"
	requestAbort = "abort"
)

// maxLineSize bounds a single request/response line. The protocol does
// not define a maximum job payload size; this is a defensive ceiling
// against unbounded memory growth from a single misbehaving connection.
const maxLineSize = 1 << 20

// clientRequest is the wire shape of every inbound line (spec §4.6). Both
// Pri and ID use pointers so a missing field can be distinguished from an
// explicit zero value — "pri":0 is a valid priority, and job id 0 never
// exists but must still be reported as "missing", not "zero".
type clientRequest struct {
	Request string          `json:"request"`
	Queue   string          `json:"queue,omitempty"`
	Queues  []string        `json:"queues,omitempty"`
	Job     json.RawMessage `json:"job,omitempty"`
	Pri     *int            `json:"pri,omitempty"`
	Wait    bool            `json:"wait,omitempty"`
	ID      *int64          `json:"id,omitempty"`
}

// jobResponse is the wire shape of every outbound line. Fields that don't
// apply to a given status are simply omitted.
type jobResponse struct {
	Status string          `json:"status"`
	ID     int64           `json:"id,omitempty"`
	Pri    int             `json:"pri,omitempty"`
	Queue  string          `json:"queue,omitempty"`
	Job    json.RawMessage `json:"job,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ClientSession is one TCP connection's worth of Job Centre protocol
// state: request parsing, dispatch to the shared Store, and the set of
// jobs this connection currently owns (spec §4.6 "Client Session").
//
// Grounded on eenblam-protohackers/9's per-connection handle09 dispatch
// loop, restructured around Store's exported operations and an explicit
// owned-job set instead of a package-level clientJobs map and global
// mutex.
type ClientSession struct {
	conn   net.Conn
	store  *Store
	logger *slog.Logger
	owned  map[int64]struct{}

	// onRequest, if non-nil, is called once per dispatched request with
	// the verb and resulting status, for metrics.
	onRequest func(verb, status string)
}

// NewClientSession constructs a session wrapping conn, dispatching
// against store.
func NewClientSession(conn net.Conn, store *Store, logger *slog.Logger, onRequest func(verb, status string)) *ClientSession {
	return &ClientSession{
		conn:      conn,
		store:     store,
		logger:    logger.With(slog.String("remote", conn.RemoteAddr().String())),
		owned:     make(map[int64]struct{}),
		onRequest: onRequest,
	}
}

// Serve reads and dispatches requests until the connection closes or ctx
// is cancelled, then reclaims every job this session still owns (spec
// §4.6: "on disconnect, the session iterates its owned-jobs set and
// invokes abort on each").
//
// Reading runs on its own goroutine, separate from dispatch: a blocking
// request (get wait=true) parks the dispatch goroutine inside store.Get,
// and only the reader — still pumping scanner.Scan() — can observe the
// peer hang up. The moment it does, it cancels reqCtx immediately, which
// is the same context handed to store.Get, so the waiter unregisters
// without waiting for a later put to wake and discard the dead connection
// (spec §5 "Cancellation semantics").
func (c *ClientSession) Serve(ctx context.Context) {
	defer c.reclaimOwned()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()

	lines := make(chan []byte)
	go func() {
		defer cancel()
		defer close(lines)

		scanner := bufio.NewScanner(c.conn)
		scanner.Buffer(make([]byte, 4096), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-reqCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if len(line) == 0 {
				continue
			}
			c.dispatch(reqCtx, line)
		case <-reqCtx.Done():
			return
		}
	}
}

func (c *ClientSession) reclaimOwned() {
	if len(c.owned) == 0 {
		return
	}
	ids := make([]int64, 0, len(c.owned))
	for id := range c.owned {
		ids = append(ids, id)
	}
	c.store.AbortAll(c, ids)
	c.logger.Debug("reclaimed owned jobs on disconnect", slog.Int("count", len(ids)))
}

func (c *ClientSession) dispatch(ctx context.Context, line []byte) {
	var req clientRequest
	if err := json.Unmarshal(line, &req); err != nil {
		c.reply(req.Request, jobResponse{Status: statusError, Error: fmt.Sprintf("invalid JSON: %s", err)})
		return
	}

	switch req.Request {
	case requestPut:
		c.handlePut(req)
	case requestGet:
		c.handleGet(ctx, req)
	case requestDel:
		c.handleDelete(req)
	case requestAbort:
		c.handleAbort(req)
	default:
		c.reply(req.Request, jobResponse{Status: statusError, Error: fmt.Sprintf("unknown request type %q", req.Request)})
	}
}

func (c *ClientSession) handlePut(req clientRequest) {
	if req.Queue == "" || req.Job == nil || req.Pri == nil || *req.Pri < 0 {
		c.reply(requestPut, jobResponse{Status: statusError, Error: "put requires queue, job, and a non-negative pri"})
		return
	}

	id := c.store.Put(req.Queue, *req.Pri, req.Job)
	c.onStatus(requestPut, statusOK)
	c.reply(requestPut, jobResponse{Status: statusOK, ID: id})
}

func (c *ClientSession) handleGet(ctx context.Context, req clientRequest) {
	if len(req.Queues) == 0 {
		c.reply(requestGet, jobResponse{Status: statusError, Error: "get requires a non-empty queues array"})
		return
	}

	job, ok := c.store.Get(ctx, req.Queues, req.Wait, c)
	if !ok {
		c.onStatus(requestGet, statusNoJob)
		c.reply(requestGet, jobResponse{Status: statusNoJob})
		return
	}

	c.owned[job.ID] = struct{}{}
	c.onStatus(requestGet, statusOK)
	c.reply(requestGet, job.response())
}

func (c *ClientSession) handleDelete(req clientRequest) {
	if req.ID == nil {
		c.reply(requestDel, jobResponse{Status: statusError, Error: "delete requires id"})
		return
	}

	ok := c.store.Delete(*req.ID)
	delete(c.owned, *req.ID)
	status := statusNoJob
	if ok {
		status = statusOK
	}
	c.onStatus(requestDel, status)
	c.reply(requestDel, jobResponse{Status: status})
}

func (c *ClientSession) handleAbort(req clientRequest) {
	if req.ID == nil {
		c.reply(requestAbort, jobResponse{Status: statusError, Error: "abort requires id"})
		return
	}

	ok := c.store.Abort(*req.ID, c)
	delete(c.owned, *req.ID)
	status := statusNoJob
	if ok {
		status = statusOK
	}
	c.onStatus(requestAbort, status)
	c.reply(requestAbort, jobResponse{Status: status})
}

func (c *ClientSession) onStatus(verb, status string) {
	if c.onRequest != nil {
		c.onRequest(verb, status)
	}
}

func (c *ClientSession) reply(verb string, resp jobResponse) {
	if resp.Status == statusError {
		c.onStatus(verb, statusError)
	}
	line, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to marshal response", slog.Any("error", err))
		return
	}
	line = append(line, '\n')
	if _, err := c.conn.Write(line); err != nil {
		c.logger.Debug("write failed", slog.Any("error", err))
	}
}
