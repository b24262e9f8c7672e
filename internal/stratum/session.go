package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	maxIdleRetargets = 10 // disconnect a session after this many consecutive idle retargets
	extranonce2Size  = 4

	// retargetShareBatch is how many submissions trigger a
	// vardiff re-evaluation independent of the idle timer, so a
	// continuously-submitting miner's difficulty adjusts upward without
	// ever going quiet long enough to hit the idle retarget path.
	retargetShareBatch = 3
)

// ShareSubmission is a single mining.submit decoded from a session,
// handed to the orchestrator for sharechain/block validation.
type ShareSubmission struct {
	WorkerName   string
	JobID        string
	Extranonce2  string
	NTime        string
	Nonce        string
	VersionBits  string
	Difficulty   float64
	JobTarget    float64 // not set by Session; Difficulty carries the value the submission is checked against
	SubmittedAt  time.Time
}

// Session represents one connected Stratum client.
type Session struct {
	id     string
	conn   net.Conn
	codec  *Codec
	server *Server
	logger *zap.Logger

	mu              sync.Mutex
	subscribed      bool
	authorized      bool
	workerName      string
	extranonce1     string
	extranonce2Size int
	currentDiff     float64
	suggestedDiff   float64
	versionRolling  bool
	versionMask     uint32
	lastJobID       string

	// oldDiff/diffChangeJobID preserve the target a submission must be
	// validated against when vardiff changes the session's difficulty
	// while a job is still in flight: a submit for lastJobID that
	// predates the change must still be checked against oldDiff, not
	// the freshly retargeted currentDiff.
	oldDiff         float64
	diffChangeJobID string

	vardiffState *VardiffState
	idleStreak   int

	sharesAccepted uint64
	sharesRejected uint64

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id string, conn net.Conn, server *Server, extranonce1 string) *Session {
	return &Session{
		id:              id,
		conn:            conn,
		codec:           NewCodec(conn),
		server:          server,
		logger:          server.logger,
		extranonce1:     extranonce1,
		extranonce2Size: extranonce2Size,
		currentDiff:     server.vardiffMgr.Difficulty(),
		vardiffState:    NewVardiffState(),
		closed:          make(chan struct{}),
	}
}

// Extranonce1 returns the session's assigned extranonce1, the prefix
// the orchestrator needs to reconstruct a submitted share's coinbase.
func (s *Session) Extranonce1() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extranonce1
}

// WorkerName returns the worker name from the most recent
// mining.authorize, or "" if the session never authorized.
func (s *Session) WorkerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workerName
}

// Close terminates the session's connection, idempotently.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.codec.Close()
	})
}

// Handle runs the session's read loop until the connection closes.
func (s *Session) Handle() {
	defer s.server.removeSession(s.id)
	defer s.Close()

	for {
		s.conn.SetReadDeadline(time.Now().Add(retargetInterval))
		req, err := s.codec.ReadRequest()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if s.handleIdleRetarget() {
					continue
				}
				return
			}
			return
		}
		s.idleStreak = 0

		resp := s.handleRequest(req)
		if resp != nil {
			if err := s.codec.SendResponse(resp); err != nil {
				return
			}
		}
	}
}

// handleIdleRetarget is invoked when no request arrived within the
// retarget interval. It halves the session's difficulty (vardiff's
// idle backoff) and disconnects only after a sustained silence.
func (s *Session) handleIdleRetarget() bool {
	s.mu.Lock()
	authorized := s.authorized
	s.mu.Unlock()

	if !authorized {
		s.idleStreak++
		return s.idleStreak < maxIdleRetargets
	}

	s.applyRetarget()

	s.idleStreak++
	return s.idleStreak < maxIdleRetargets
}

// maybeRetargetOnSubmit re-evaluates vardiff every retargetShareBatch
// submissions, independent of the idle timer. Without this, a
// session that never goes idle (the common case) would never retarget
// upward — only handleIdleRetarget would run, and only the idle/halving
// branch of Vardiff.Retarget fires on a timeout.
func (s *Session) maybeRetargetOnSubmit() {
	if s.vardiffState.shareCount < retargetShareBatch {
		return
	}
	s.applyRetarget()
}

// applyRetarget asks the pool's Vardiff for this session's next
// difficulty and, if it changed, updates session state and notifies the
// miner and orchestrator.
func (s *Session) applyRetarget() {
	s.mu.Lock()
	cur := s.currentDiff
	jobID := s.lastJobID
	s.mu.Unlock()

	next, changed := s.server.vardiffMgr.Retarget(s.vardiffState, cur)
	if !changed {
		return
	}

	s.mu.Lock()
	s.oldDiff = cur
	s.diffChangeJobID = jobID
	s.currentDiff = next
	s.mu.Unlock()
	s.sendSetDifficulty(next)
	if s.server.OnDiffChanged != nil {
		s.server.OnDiffChanged(s, next)
	}
}

func (s *Session) handleRequest(req *Request) *Response {
	switch req.Method {
	case "mining.configure":
		return s.handleConfigure(req)
	case "mining.subscribe":
		return s.handleSubscribe(req)
	case "mining.authorize":
		return s.handleAuthorize(req)
	case "mining.submit":
		return s.handleSubmit(req)
	case "mining.suggest_difficulty":
		return s.handleSuggestDifficulty(req)
	case "mining.extranonce.subscribe":
		return &Response{ID: req.ID, Result: true, Error: nil}
	default:
		return &Response{ID: req.ID, Result: nil, Error: []interface{}{20, "unknown method", nil}}
	}
}

func (s *Session) handleConfigure(req *Request) *Response {
	var params []interface{}
	_ = parseParams(req.Params, &params)

	result := map[string]interface{}{}
	if len(params) >= 2 {
		if exts, ok := params[0].([]interface{}); ok {
			for _, e := range exts {
				if e == "version-rolling" {
					mask := uint32(0x1fffe000)
					if extParams, ok := params[1].(map[string]interface{}); ok {
						if m, ok := extParams["version-rolling.mask"].(string); ok {
							if v, err := hexToUint32(m); err == nil {
								mask = v
							}
						}
					}
					s.mu.Lock()
					s.versionRolling = true
					s.versionMask = mask
					s.mu.Unlock()
					result["version-rolling"] = true
					result["version-rolling.mask"] = fmt.Sprintf("%08x", mask)
				}
			}
		}
	}
	return &Response{ID: req.ID, Result: result, Error: nil}
}

func (s *Session) handleSubscribe(req *Request) *Response {
	s.mu.Lock()
	s.subscribed = true
	diff := s.currentDiff
	s.mu.Unlock()

	subID := s.id
	subscriptions := []interface{}{
		[]interface{}{"mining.set_difficulty", subID},
		[]interface{}{"mining.notify", subID},
	}
	result := []interface{}{subscriptions, s.extranonce1, s.extranonce2Size}

	resp := &Response{ID: req.ID, Result: result, Error: nil}
	if err := s.codec.SendResponse(resp); err != nil {
		return nil
	}
	s.sendSetDifficulty(diff)
	return nil
}

func (s *Session) handleAuthorize(req *Request) *Response {
	var params []string
	_ = parseParams(req.Params, &params)

	s.mu.Lock()
	s.authorized = true
	if len(params) > 0 {
		s.workerName = params[0]
	}
	s.mu.Unlock()

	return &Response{ID: req.ID, Result: true, Error: nil}
}

func (s *Session) handleSuggestDifficulty(req *Request) *Response {
	var params []float64
	_ = parseParams(req.Params, &params)
	if len(params) > 0 {
		s.mu.Lock()
		s.suggestedDiff = params[0]
		s.mu.Unlock()
	}
	return &Response{ID: req.ID, Result: true, Error: nil}
}

func (s *Session) handleSubmit(req *Request) *Response {
	var params []string
	if err := parseParams(req.Params, &params); err != nil || len(params) < 5 {
		return &Response{ID: req.ID, Result: nil, Error: []interface{}{20, "malformed submit", nil}}
	}

	s.mu.Lock()
	jobID := params[1]
	target := s.currentDiff
	if s.diffChangeJobID != "" && s.diffChangeJobID == jobID {
		target = s.oldDiff
	}
	s.mu.Unlock()

	sub := &ShareSubmission{
		WorkerName:  params[0],
		JobID:       jobID,
		Extranonce2: params[2],
		NTime:       params[3],
		Nonce:       params[4],
		Difficulty:  target,
		SubmittedAt: time.Now(),
	}
	if len(params) >= 6 {
		sub.VersionBits = params[5]
	}

	s.vardiffState.RecordShare()
	s.maybeRetargetOnSubmit()

	accepted := true
	var errReason string
	if s.server.OnShareSubmit != nil {
		ok, err := s.server.OnShareSubmit(s, sub)
		accepted = ok
		if err != nil {
			errReason = err.Error()
		}
	}

	if accepted {
		atomic.AddUint64(&s.sharesAccepted, 1)
		return &Response{ID: req.ID, Result: true, Error: nil}
	}
	atomic.AddUint64(&s.sharesRejected, 1)
	return &Response{ID: req.ID, Result: nil, Error: []interface{}{23, errReason, nil}}
}

func (s *Session) sendSetDifficulty(diff float64) {
	s.codec.SendNotification(&Notification{
		Method: "mining.set_difficulty",
		Params: []interface{}{diff},
	})
}

// notifyJob sends a mining.notify for the given job if the session is
// subscribed, recording the job as the session's in-flight job.
func (s *Session) notifyJob(job *Job) {
	s.mu.Lock()
	subscribed := s.subscribed
	s.lastJobID = job.ID
	s.mu.Unlock()
	if !subscribed {
		return
	}

	params := []interface{}{
		job.ID,
		job.PrevHash,
		job.Coinbase1,
		job.Coinbase2,
		job.MerkleBranches,
		job.Version,
		job.NBits,
		job.NTime,
		job.CleanJobs,
	}
	s.codec.SendNotification(&Notification{Method: "mining.notify", Params: params})
}

func hexToUint32(s string) (uint32, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 4 {
		return 0, fmt.Errorf("invalid hex uint32")
	}
	return binary.BigEndian.Uint32(b), nil
}
