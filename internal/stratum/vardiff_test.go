package stratum

import (
	"net"
	"testing"
	"time"
)

func TestVardiff_RetargetsUpwardForFastSubmissions(t *testing.T) {
	v := NewVardiff(1.0) // target: 1 share/minute
	state := NewVardiffState()

	origNow := timeNow
	defer func() { timeNow = origNow }()

	base := time.Now()
	timeNow = func() time.Time { return base }

	for i := 0; i < retargetShareBatch; i++ {
		state.RecordShare()
	}

	// 3 shares in 1 second is wildly faster than the 1/min target rate,
	// so Retarget must raise difficulty well above the 0.25 tolerance band.
	timeNow = func() time.Time { return base.Add(time.Second) }
	next, changed := v.Retarget(state, 1.0)
	if !changed {
		t.Fatal("expected difficulty to change for a fast-submitting session")
	}
	if next <= 1.0 {
		t.Errorf("expected difficulty to increase above 1.0, got %f", next)
	}
}

// TestSession_RetargetsOnSubmissionBatchWithoutIdling exercises the
// non-idle path end to end: a session that keeps submitting shares
// (never triggering handleIdleRetarget's read timeout) must still have
// its difficulty re-evaluated every retargetShareBatch submissions.
func TestSession_RetargetsOnSubmissionBatchWithoutIdling(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := &Server{
		logger:     testLogger(),
		vardiffMgr: NewVardiff(1.0), // 1 share/minute target
	}
	srv.OnShareSubmit = func(*Session, *ShareSubmission) (bool, error) {
		return true, nil
	}

	var notifiedDiff float64
	diffChanged := make(chan struct{}, 1)
	srv.OnDiffChanged = func(_ *Session, diff float64) {
		notifiedDiff = diff
		select {
		case diffChanged <- struct{}{}:
		default:
		}
	}

	sess := newSession("test-session", serverConn, srv, "deadbeef")
	sess.authorized = true
	sess.subscribed = true

	origNow := timeNow
	defer func() { timeNow = origNow }()
	base := time.Now()
	timeNow = func() time.Time { return base }

	for i := 0; i < retargetShareBatch; i++ {
		sess.vardiffState.RecordShare()
	}

	// Submissions arriving in under a second, 3 at a time, are far
	// faster than the 1/min target — this should retarget upward
	// immediately, not wait for the idle timer.
	timeNow = func() time.Time { return base.Add(time.Second) }
	sess.maybeRetargetOnSubmit()

	select {
	case <-diffChanged:
	default:
		t.Fatal("expected OnDiffChanged to fire from submission-batch retarget")
	}
	if notifiedDiff <= sess.server.vardiffMgr.Difficulty() {
		t.Errorf("expected retargeted difficulty above initial, got %f", notifiedDiff)
	}
}
