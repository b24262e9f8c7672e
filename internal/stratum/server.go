package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of mining work broadcast to subscribed sessions via
// mining.notify.
type Job struct {
	ID             string
	Seq            uint64
	PrevHash       string
	Coinbase1      string
	Coinbase2      string
	MerkleBranches []string
	Version        string
	NBits          string
	NTime          string
	CleanJobs      bool
}

// Server is a Stratum v1 TCP server that also multiplexes a plain HTTP
// handler (used for the metrics endpoint) onto the same listening
// socket: connections are peeked and routed by their first byte.
type Server struct {
	logger     *zap.Logger
	vardiffMgr *Vardiff

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup

	httpHandler atomic.Pointer[http.Handler]

	sessionsMu sync.RWMutex
	sessions   map[string]*Session

	nextSessionID     atomic.Uint64
	extranonceCounter atomic.Uint32

	currentJobsMu sync.RWMutex
	currentJobs   map[string]*Job

	// OnShareSubmit, if set, is invoked for every mining.submit and
	// decides acceptance (the orchestrator wires sharechain/RPC here).
	OnShareSubmit func(*Session, *ShareSubmission) (bool, error)

	// OnDiffChanged, if set, is invoked whenever vardiff adjusts a
	// session's difficulty outside of an explicit request.
	OnDiffChanged func(*Session, float64)
}

// NewServer creates a Stratum server targeting shareRate shares/minute
// per session for vardiff.
func NewServer(shareRate float64, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:      logger,
		vardiffMgr:  NewVardiff(shareRate),
		stopCh:      make(chan struct{}),
		sessions:    make(map[string]*Session),
		currentJobs: make(map[string]*Job),
	}
}

// SetHTTPHandler installs an HTTP handler served on the same port for
// connections that don't look like Stratum JSON-RPC traffic.
func (s *Server) SetHTTPHandler(h http.Handler) {
	s.httpHandler.Store(&h)
}

// Start begins listening on addr and accepting connections.
func (s *Server) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and all active sessions.
func (s *Server) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.sessionsMu.Lock()
	for _, sess := range s.sessions {
		sess.Close()
	}
	s.sessionsMu.Unlock()

	s.wg.Wait()
}

// SessionCount returns the number of currently connected sessions.
func (s *Server) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// BroadcastJob sends job to every subscribed session as mining.notify.
func (s *Server) BroadcastJob(job *Job) {
	s.currentJobsMu.Lock()
	s.currentJobs[job.ID] = job
	s.currentJobsMu.Unlock()

	s.sessionsMu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.RUnlock()

	for _, sess := range sessions {
		sess.notifyJob(job)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				return
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	peek := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	n, err := conn.Read(peek)
	conn.SetReadDeadline(time.Time{})
	if err != nil || n == 0 {
		conn.Close()
		return
	}

	pc := &prefixConn{Conn: conn, prefix: peek[:n]}

	handlerPtr := s.httpHandler.Load()
	if peek[0] != '{' && handlerPtr != nil {
		s.serveHTTP(pc, *handlerPtr)
		return
	}
	s.serveStratum(pc)
}

func (s *Server) serveHTTP(conn net.Conn, handler http.Handler) {
	done := make(chan struct{})
	notifying := &closeNotifyConn{Conn: conn, onClose: func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}}
	l := &singleConnListener{conn: notifying, done: done}
	http.Serve(l, handler)
}

func (s *Server) serveStratum(conn net.Conn) {
	id := s.nextSessionID.Add(1)
	en1 := s.extranonceCounter.Add(1)
	en1Bytes := make([]byte, 4)
	binary.BigEndian.PutUint32(en1Bytes, en1)
	extranonce1 := hex.EncodeToString(en1Bytes)

	sessID := hex.EncodeToString([]byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)})
	sess := newSession(sessID, conn, s, extranonce1)

	s.sessionsMu.Lock()
	s.sessions[sess.id] = sess
	s.sessionsMu.Unlock()

	sess.Handle()
}

func (s *Server) removeSession(id string) {
	s.sessionsMu.Lock()
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
}

// closeNotifyConn calls onClose the first time Close is invoked, used
// to tear down the singleConnListener once the HTTP connection is done.
type closeNotifyConn struct {
	net.Conn
	onClose func()
}

func (c *closeNotifyConn) Close() error {
	c.onClose()
	return c.Conn.Close()
}

func parseParams(raw json.RawMessage, v interface{}) error {
	return json.Unmarshal(raw, v)
}
