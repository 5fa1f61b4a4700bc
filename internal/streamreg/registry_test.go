package streamreg

import "testing"

func makeRegistry(t *testing.T, n int) (*Registry, []*Stream) {
	t.Helper()
	streams := make(map[string]*Stream, n)
	var all []*Stream
	for i := 0; i < n; i++ {
		key, err := GeneratePipKey()
		if err != nil {
			t.Fatalf("GeneratePipKey: %v", err)
		}
		name := "stream" + string(rune('a'+i))
		s := &Stream{
			PipKey:         key,
			ChatHost:       "irc.example.com",
			ChatUser:       "bot",
			ChatCredential: "oauth:token",
		}
		streams[name] = s
		all = append(all, s)
	}
	return NewRegistry(streams, "", ""), all
}

func TestLookupFindsCorrectStream(t *testing.T) {
	reg, all := makeRegistry(t, 5)
	for _, want := range all {
		got := reg.Lookup([]byte(want.PipKey))
		if got != want {
			t.Fatalf("Lookup(%q) = %v, want %v", want.PipKey, got, want)
		}
	}
}

func TestLookupUnknownKey(t *testing.T) {
	reg, _ := makeRegistry(t, 3)
	if got := reg.Lookup([]byte("00000000000000000000000000000000")); got != nil {
		t.Fatalf("Lookup(unknown) = %v, want nil", got)
	}
}

func TestLookupConstantWork(t *testing.T) {
	reg, all := makeRegistry(t, 10)

	count := func(key []byte) int {
		n := 0
		EqualityCounter = func() { n++ }
		defer func() { EqualityCounter = nil }()
		reg.Lookup(key)
		return n
	}

	firstCost := count([]byte(all[0].PipKey))
	lastCost := count([]byte(all[len(all)-1].PipKey))
	missCost := count([]byte("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"))

	if firstCost != 10 || lastCost != 10 || missCost != 10 {
		t.Fatalf("expected 10 comparisons regardless of match position, got first=%d last=%d miss=%d", firstCost, lastCost, missCost)
	}
}
