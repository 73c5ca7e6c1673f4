package voice

import (
	"errors"
	"testing"
)

type fakeHolder struct {
	suspends int
	resumes  int
}

func (h *fakeHolder) Suspend() { h.suspends++ }
func (h *fakeHolder) Resume()  { h.resumes++ }

func TestArbiterExclusiveOwnership(t *testing.T) {
	a := NewArbiter(discardLogger())
	if err := a.Acquire(ConsumerCommands); err != nil {
		t.Fatalf("acquire free mic: %v", err)
	}
	if err := a.Acquire(ConsumerCommands); err != nil {
		t.Fatalf("re-acquire own mic: %v", err)
	}
	if a.Owner() != ConsumerCommands {
		t.Fatalf("owner = %q", a.Owner())
	}
	a.Release(ConsumerCommands)
	if a.Owner() != "" {
		t.Fatalf("expected free mic, owner = %q", a.Owner())
	}
}

func TestArbiterDetectionPreemptsCommands(t *testing.T) {
	a := NewArbiter(discardLogger())
	commands := &fakeHolder{}
	a.Register(ConsumerCommands, commands)
	var owners []Consumer
	a.OnOwnerChange(func(o Consumer) { owners = append(owners, o) })

	_ = a.Acquire(ConsumerCommands)
	if err := a.Acquire(ConsumerDetection); err != nil {
		t.Fatalf("detection acquire: %v", err)
	}
	if a.Owner() != ConsumerDetection {
		t.Fatalf("owner = %q", a.Owner())
	}
	if commands.suspends != 1 {
		t.Fatalf("expected commands suspended once, got %d", commands.suspends)
	}
	if !a.Pending(ConsumerCommands) {
		t.Fatal("expected commands pending")
	}

	a.Release(ConsumerDetection)
	if a.Owner() != ConsumerCommands || commands.resumes != 1 {
		t.Fatalf("expected commands resumed, owner=%q resumes=%d", a.Owner(), commands.resumes)
	}
	want := []Consumer{ConsumerCommands, ConsumerDetection, ConsumerCommands}
	if len(owners) != len(want) {
		t.Fatalf("owners = %v, want %v", owners, want)
	}
	for i := range want {
		if owners[i] != want[i] {
			t.Fatalf("owners = %v, want %v", owners, want)
		}
	}
}

func TestArbiterCommandsBusyWhileDetecting(t *testing.T) {
	a := NewArbiter(discardLogger())
	commands := &fakeHolder{}
	a.Register(ConsumerCommands, commands)
	_ = a.Acquire(ConsumerDetection)

	if err := a.Acquire(ConsumerCommands); !errors.Is(err, ErrMicBusy) {
		t.Fatalf("expected ErrMicBusy, got %v", err)
	}
	if !a.Pending(ConsumerCommands) {
		t.Fatal("refused consumer should be pending")
	}
	a.Release(ConsumerDetection)
	if a.Owner() != ConsumerCommands || commands.resumes != 1 {
		t.Fatal("expected pending commands to take over")
	}
}

func TestArbiterWithdrawnCommandsNotResumed(t *testing.T) {
	a := NewArbiter(discardLogger())
	commands := &fakeHolder{}
	a.Register(ConsumerCommands, commands)
	_ = a.Acquire(ConsumerCommands)
	_ = a.Acquire(ConsumerDetection)

	a.Release(ConsumerCommands)
	if a.Owner() != ConsumerDetection {
		t.Fatal("releasing a pending claim must not affect the owner")
	}
	a.Release(ConsumerDetection)
	if a.Owner() != "" || commands.resumes != 0 {
		t.Fatalf("expected free mic without resume, owner=%q resumes=%d", a.Owner(), commands.resumes)
	}
}

func TestClaim(t *testing.T) {
	a := NewArbiter(discardLogger())
	c := a.Claim(ConsumerDetection)
	if err := c.Acquire(); err != nil {
		t.Fatal(err)
	}
	if !c.Held() {
		t.Fatal("expected claim held")
	}
	c.Release()
	if c.Held() {
		t.Fatal("expected claim released")
	}
}
