package supervise

import (
	"bufio"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestGroupWriteBufferAttemptsEveryMember(t *testing.T) {
	skipOnWindows(t)
	first := newTestProcess(t, "first", []string{"cat"})
	broken := newTestProcess(t, "broken", []string{"cat"})
	last := newTestProcess(t, "last", []string{"cat"})

	g := NewGroup(first, broken, last)
	if err := first.Start(); err != nil {
		t.Fatalf("start first: %v", err)
	}
	if err := last.Start(); err != nil {
		t.Fatalf("start last: %v", err)
	}

	payload := []byte("xxframe-1\nyy")
	err := g.WriteBuffer(payload, 2, 8)
	if err == nil {
		t.Fatalf("expected an error for the stopped member")
	}
	if got := FailedMembers(err); !reflect.DeepEqual(got, []string{"broken"}) {
		t.Fatalf("unexpected failed members %v", got)
	}

	var memberErr *MemberError
	if !errors.As(err, &memberErr) || memberErr.Index != 1 {
		t.Fatalf("expected MemberError at index 1, got %v", err)
	}
	var transient *TransientWriteError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientWriteError, got %v", err)
	}
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning in chain, got %v", err)
	}

	for _, p := range []*Process{first, last} {
		line, err := bufio.NewReader(p.Stdout()).ReadString('\n')
		if err != nil {
			t.Fatalf("read %s: %v", p.Name(), err)
		}
		if line != "frame-1\n" {
			t.Fatalf("member %s echoed %q", p.Name(), line)
		}
	}
}

func TestGroupWriteBufferRejectsBadRange(t *testing.T) {
	g := NewGroup(New("idle", []string{"cat"}, WithLogger(quietLogger())))

	cases := []struct{ offset, length int }{
		{-1, 1},
		{0, -1},
		{3, 2},
		{5, 0},
	}
	for _, tc := range cases {
		if err := g.WriteBuffer([]byte("abcd"), tc.offset, tc.length); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("offset=%d length=%d: expected ErrInvalidRange, got %v", tc.offset, tc.length, err)
		}
	}
}

func TestGroupWriteReportsFullLength(t *testing.T) {
	g := NewGroup(New("idle", []string{"cat"}, WithLogger(quietLogger())))
	n, err := g.Write([]byte("chunk"))
	if n != 5 {
		t.Fatalf("expected 5 bytes reported, got %d", n)
	}
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestGroupStartAggregatesFailures(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	bad1 := newTestProcess(t, "bad1", []string{filepath.Join(dir, "missing-1")})
	good := newTestProcess(t, "good", []string{"cat"})
	bad2 := newTestProcess(t, "bad2", []string{filepath.Join(dir, "missing-2")})

	g := NewGroup(bad1, good, bad2)
	err := g.Start()

	if got := FailedMembers(err); !reflect.DeepEqual(got, []string{"bad1", "bad2"}) {
		t.Fatalf("unexpected failed members %v", got)
	}
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if !good.KeptAlive() || bad1.KeptAlive() || bad2.KeptAlive() {
		t.Fatalf("only the good member should be running")
	}
}

func TestGroupMonitorIsolatesMemberFailure(t *testing.T) {
	skipOnWindows(t)
	script := filepath.Join(t.TempDir(), "audio")
	writeScript(t, script, "exit 0")

	audio := newTestProcess(t, "audio", []string{script})
	video := newTestProcess(t, "video", []string{"/bin/sh", "-c", "exit 0"})
	g := NewGroup(audio, video)
	if err := g.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForExit(t, audio)
	waitForExit(t, video)

	removeFile(t, script)

	err := g.Monitor()
	if got := FailedMembers(err); !reflect.DeepEqual(got, []string{"audio"}) {
		t.Fatalf("unexpected failed members %v", got)
	}
	if got := video.Status().Restarts; got != 1 {
		t.Fatalf("expected video to restart once, got %d", got)
	}
	if got := audio.Status().Restarts; got != 0 {
		t.Fatalf("expected no audio restart, got %d", got)
	}
}

func TestGroupStopReachesEveryMember(t *testing.T) {
	skipOnWindows(t)
	a := newTestProcess(t, "a", []string{"cat"})
	idle := newTestProcess(t, "idle", []string{"cat"})
	b := newTestProcess(t, "b", []string{"cat"})
	g := NewGroup(a, idle)
	g.Add(b)
	if err := a.Start(); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("start b: %v", err)
	}

	g.Stop()
	g.Stop()

	for _, st := range g.Status() {
		if st.Running || st.PID != 0 {
			t.Errorf("member %s not stopped: %+v", st.Name, st)
		}
	}
	if g.Len() != 3 {
		t.Fatalf("expected 3 members, got %d", g.Len())
	}
}

func TestFailedMembersNil(t *testing.T) {
	if got := FailedMembers(nil); got != nil {
		t.Fatalf("expected nil for nil error, got %v", got)
	}
	if got := FailedMembers(errors.New("plain")); got != nil {
		t.Fatalf("expected nil for plain error, got %v", got)
	}
}
