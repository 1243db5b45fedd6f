package hashing

import (
	"errors"
	"fmt"
	"testing"
)

func TestHash(t *testing.T) {
	f, err := New("")
	if err != nil {
		t.Fatal(err)
	}

	x := f.Hash([]byte("Object1"))
	y := f.Hash([]byte("Object2"))
	y2 := f.Hash([]byte("Object2"))

	if x == y {
		t.Errorf("hash of Object1 equals hash of Object2 (%s)", x)
	}
	if y != y2 {
		t.Errorf("got %s and %s for the same content", y, y2)
	}
	for _, h := range []string{string(x), string(y)} {
		if len(h) != 40 {
			t.Errorf("got length %d for %s, want 40", len(h), h)
		}
	}
}

func TestKnownDigests(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "sha1", in: "", want: "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
		{name: "sha1", in: "abc", want: "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{name: "sha256", in: "abc", want: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			f := MustNew(tc.name)
			got := f.Hash([]byte(tc.in))
			if string(got) != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
			if len(got) != f.Size() {
				t.Errorf("got length %d, want %d", len(got), f.Size())
			}
		})
	}
}

func TestUnavailable(t *testing.T) {
	_, err := New("md4")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}
