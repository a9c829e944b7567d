package proto_test

import (
	"testing"

	"github.com/tzrikka/gorouteros/pkg/proto"
)

func TestSplitterCompleteSentence(t *testing.T) {
	data := []byte{
		0x05, '!', 'd', 'o', 'n', 'e',
		0x08, '.', 't', 'a', 'g', '=', '1', '2', '3',
		0x0C, '=', 'n', 'a', 'm', 'e', '=', 'e', 't', 'h', 'e', 'r', '1',
		0x00,
	}

	s := proto.NewSplitter()
	s.Feed(data)

	words, ok, err := s.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = (%v, %v, %v), want a complete sentence", words, ok, err)
	}
	if len(words) != 3 {
		t.Fatalf("got %d words, want 3", len(words))
	}
	if words[0].Kind != proto.WordKindCategory || words[0].Category != proto.CategoryDone {
		t.Errorf("word[0] = %+v, want !done category", words[0])
	}
	if words[1].Kind != proto.WordKindTag || words[1].Tag != 123 {
		t.Errorf("word[1] = %+v, want tag 123", words[1])
	}
	if words[2].Kind != proto.WordKindAttribute || words[2].Key != "name" || words[2].Value != "ether1" {
		t.Errorf("word[2] = %+v, want name=ether1", words[2])
	}

	if _, ok, _ := s.Next(); ok {
		t.Error("Next() after draining buffer: want ok=false")
	}
}

func TestSplitterPartialReads(t *testing.T) {
	data := []byte{
		0x03, '!', 'r', 'e',
		0x04, '=', 'a', '=', 'b',
		0x00,
	}

	s := proto.NewSplitter()

	// Feed one byte at a time; only the final byte should complete the sentence.
	for i := 0; i < len(data)-1; i++ {
		s.Feed(data[i : i+1])
		if _, ok, err := s.Next(); ok || err != nil {
			t.Fatalf("Next() after %d bytes: (ok=%v, err=%v), want incomplete", i+1, ok, err)
		}
	}

	s.Feed(data[len(data)-1:])
	words, ok, err := s.Next()
	if err != nil || !ok {
		t.Fatalf("Next() after final byte = (%v, %v, %v), want complete", words, ok, err)
	}
	if len(words) != 2 {
		t.Fatalf("got %d words, want 2", len(words))
	}
}

func TestSplitterMultipleSentences(t *testing.T) {
	data := []byte{
		0x05, '!', 'd', 'o', 'n', 'e', 0x00,
		0x05, '!', 'd', 'o', 'n', 'e', 0x00,
	}

	s := proto.NewSplitter()
	s.Feed(data)

	for i := 0; i < 2; i++ {
		words, ok, err := s.Next()
		if err != nil || !ok || len(words) != 1 {
			t.Fatalf("sentence %d: Next() = (%v, %v, %v)", i, words, ok, err)
		}
	}

	if _, ok, _ := s.Next(); ok {
		t.Error("Next() after draining two sentences: want ok=false")
	}
}

func TestSplitterInvalidPrefix(t *testing.T) {
	s := proto.NewSplitter()
	s.Feed([]byte{0xF8, '.', 't', 'a', 'g'})

	if _, ok, err := s.Next(); err == nil || ok {
		t.Errorf("Next() with invalid prefix = (ok=%v, err=%v), want an error", ok, err)
	}
}
