package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/mkaancelik/chatwire/internal/protocol"
)

type nopPeer struct{ id int }

func (*nopPeer) Deliver(protocol.Envelope) error { return nil }
func (*nopPeer) Close() error                    { return nil }

func TestRegister_Suffixing(t *testing.T) {
	r := New()

	want := []string{"Bob", "Bob2", "Bob3", "Bob4"}
	for i, w := range want {
		got, err := r.Register("Bob", &nopPeer{id: i})
		if err != nil {
			t.Fatalf("Register #%d: %v", i, err)
		}
		if got != w {
			t.Errorf("Register #%d = %q, want %q", i, got, w)
		}
	}
}

func TestRegister_SmallestUnusedSuffix(t *testing.T) {
	r := New()
	for range 3 {
		r.Register("Bob", &nopPeer{}) // Bob, Bob2, Bob3
	}
	r.Unregister("Bob2")

	got, err := r.Register("Bob", &nopPeer{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got != "Bob2" {
		t.Errorf("assigned = %q, want reclaimed %q", got, "Bob2")
	}
}

func TestRegister_SuffixedNameRequestedDirectly(t *testing.T) {
	r := New()
	r.Register("Bob", &nopPeer{})
	r.Register("Bob", &nopPeer{}) // assigned Bob2

	// Requesting "Bob2" directly collides like any other name.
	got, err := r.Register("Bob2", &nopPeer{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got != "Bob22" {
		t.Errorf("assigned = %q, want %q", got, "Bob22")
	}
}

func TestRegister_CaseSensitive(t *testing.T) {
	r := New()
	r.Register("bob", &nopPeer{})
	got, _ := r.Register("Bob", &nopPeer{})
	if got != "Bob" {
		t.Errorf("assigned = %q, want distinct case-sensitive %q", got, "Bob")
	}
}

func TestRegister_EmptyNickname(t *testing.T) {
	r := New()
	if _, err := r.Register("", &nopPeer{}); !errors.Is(err, ErrEmptyNickname) {
		t.Errorf("err = %v, want ErrEmptyNickname", err)
	}
}

func TestRegister_ConcurrentDistinct(t *testing.T) {
	r := New()
	const n = 50

	var wg sync.WaitGroup
	assigned := make(chan string, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nick, err := r.Register("Bob", &nopPeer{})
			if err != nil {
				t.Errorf("Register: %v", err)
				return
			}
			assigned <- nick
		}()
	}
	wg.Wait()
	close(assigned)

	seen := make(map[string]bool)
	for nick := range assigned {
		if seen[nick] {
			t.Fatalf("duplicate assigned nickname %q", nick)
		}
		seen[nick] = true
	}
	if len(seen) != n {
		t.Errorf("got %d distinct nicknames, want %d", len(seen), n)
	}
}

func TestLookupUnregister(t *testing.T) {
	r := New()
	p := &nopPeer{id: 7}
	r.Register("alice", p)

	got, ok := r.Lookup("alice")
	if !ok || got != p {
		t.Fatalf("Lookup = %v, %v; want %v, true", got, ok, p)
	}

	r.Unregister("alice")
	if _, ok := r.Lookup("alice"); ok {
		t.Error("Lookup found unregistered nickname")
	}

	// Idempotent.
	r.Unregister("alice")
	r.Unregister("never-existed")
}

func TestNicknames_Sorted(t *testing.T) {
	r := New()
	for _, n := range []string{"carol", "alice", "bob"} {
		r.Register(n, &nopPeer{})
	}
	got := r.Nicknames()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("Nicknames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Nicknames = %v, want %v", got, want)
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}
