package proto

// Splitter accumulates bytes read from a RouterOS connection and
// yields complete sentences (lists of [Word]s) as they become
// available, tolerating partial reads the way a stream-fed parser
// must (unlike a single complete in-memory buffer, which is all the
// wire format itself assumes).
type Splitter struct {
	buf []byte
}

// NewSplitter returns an empty [Splitter].
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Feed appends newly read bytes to the splitter's internal buffer.
func (s *Splitter) Feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// Next attempts to extract one complete sentence from the buffered
// data. It returns ok == false (with a nil error) if the buffer
// doesn't yet hold a complete sentence; the caller should [Splitter.Feed]
// more data and retry. A non-nil error means the buffered data itself
// is malformed, and the connection should be abandoned: the splitter
// does not attempt to resynchronize after a parse error.
func (s *Splitter) Next() (words []Word, ok bool, err error) {
	pos := 0
	for {
		length, n, err := DecodeLength(s.buf[pos:])
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			return nil, false, nil // need more data
		}

		if length == 0 {
			s.buf = s.buf[pos+n:]
			return words, true, nil
		}

		wordStart := pos + n
		wordEnd := wordStart + int(length)
		if wordEnd > len(s.buf) {
			return nil, false, nil // need more data
		}

		w, err := ParseWord(s.buf[wordStart:wordEnd])
		if err != nil {
			return nil, false, err
		}
		words = append(words, w)
		pos = wordEnd
	}
}
