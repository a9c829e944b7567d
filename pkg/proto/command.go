package proto

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
)

// Command is a finished, ready-to-send RouterOS API request: a tag to
// correlate its responses, and the raw framed bytes to write to the
// connection. Build one with [NewCommand] or [NewCommandWithTag].
type Command struct {
	Tag  uint16
	Data []byte
	// Path is the command's RouterOS path (e.g. "/interface/print"),
	// kept alongside the framed bytes purely for logging and metrics.
	Path string
}

// QueryOperator is one of the stack operators usable with
// [Builder.QueryOperations], per the RouterOS query-operations syntax.
type QueryOperator byte

const (
	QueryNot QueryOperator = '!'
	QueryAnd QueryOperator = '&'
	QueryOr  QueryOperator = '|'
	QueryDot QueryOperator = '.'
)

// UnstartedBuilder is a [Command] under construction that hasn't been
// given its command path yet. It can only become a [Builder] (and
// therefore buildable) via [UnstartedBuilder.Command]; this mirrors the
// two-stage typestate of the original implementation, where a command
// without any operation can't be built.
type UnstartedBuilder struct {
	tag uint16
	buf []byte
}

// NewCommand starts building a command with a random tag.
func NewCommand() *UnstartedBuilder {
	return &UnstartedBuilder{tag: randomTag()}
}

// NewCommandWithTag starts building a command with a caller-chosen
// tag. The tag must be unique among this connection's in-flight
// commands.
func NewCommandWithTag(tag uint16) *UnstartedBuilder {
	return &UnstartedBuilder{tag: tag}
}

func randomTag() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read on a fixed-size buffer practically never
		// fails; if it does, the process's entropy source is broken
		// and nothing downstream can be trusted either.
		panic("proto: failed to generate random tag: " + err.Error())
	}
	return binary.BigEndian.Uint16(b[:])
}

// Command sets the command path (e.g. "/interface/print") and
// transitions the builder into a state where attributes and queries
// can be added.
func (b *UnstartedBuilder) Command(path string) (*Builder, error) {
	buf := b.buf
	var err error
	buf, err = appendWord(buf, path)
	if err != nil {
		return nil, err
	}
	buf, err = appendWord(buf, ".tag="+strconv.FormatUint(uint64(b.tag), 10))
	if err != nil {
		return nil, err
	}
	return &Builder{tag: b.tag, buf: buf, path: path}, nil
}

// Builder accumulates attributes and queries for a command that has
// already been given its path via [UnstartedBuilder.Command].
type Builder struct {
	tag  uint16
	buf  []byte
	path string
	err  error
}

// Attribute adds a =key=value word. A command may carry any number of
// attributes.
func (b *Builder) Attribute(key, value string) *Builder {
	return b.appendOrFail(func() ([]byte, error) {
		return appendWord(b.buf, "="+key+"="+value)
	})
}

// FlagAttribute adds a valueless =key= word, RouterOS's way of passing
// a boolean-style flag.
func (b *Builder) FlagAttribute(key string) *Builder {
	return b.appendOrFail(func() ([]byte, error) {
		return appendWord(b.buf, "="+key+"=")
	})
}

// QueryIsPresent adds a query word that's true for items that have a
// value for the named property.
func (b *Builder) QueryIsPresent(name string) *Builder {
	return b.appendOrFail(func() ([]byte, error) {
		return appendWord(b.buf, "?"+name)
	})
}

// QueryNotPresent adds a query word that's true for items that lack a
// value for the named property.
func (b *Builder) QueryNotPresent(name string) *Builder {
	return b.appendOrFail(func() ([]byte, error) {
		return appendWord(b.buf, "?-"+name)
	})
}

// QueryEqual adds a query word that's true for items whose named
// property equals value.
func (b *Builder) QueryEqual(name, value string) *Builder {
	return b.appendOrFail(func() ([]byte, error) {
		return appendWord(b.buf, "?"+name+"="+value)
	})
}

// QueryGreaterThan adds a query word that's true for items whose named
// property is greater than value.
func (b *Builder) QueryGreaterThan(name, value string) *Builder {
	return b.appendOrFail(func() ([]byte, error) {
		return appendWord(b.buf, "?>"+name+"="+value)
	})
}

// QueryLessThan adds a query word that's true for items whose named
// property is less than value.
func (b *Builder) QueryLessThan(name, value string) *Builder {
	return b.appendOrFail(func() ([]byte, error) {
		return appendWord(b.buf, "?<"+name+"="+value)
	})
}

// QueryOperations adds a word combining previously pushed query
// results with the given stack operators.
func (b *Builder) QueryOperations(ops ...QueryOperator) *Builder {
	return b.appendOrFail(func() ([]byte, error) {
		s := make([]byte, 0, 2+len(ops))
		s = append(s, '?', '#')
		for _, op := range ops {
			s = append(s, byte(op))
		}
		return appendWordBytes(b.buf, s)
	})
}

func (b *Builder) appendOrFail(f func() ([]byte, error)) *Builder {
	if b.err != nil {
		return b
	}
	buf, err := f()
	if err != nil {
		b.err = err
		return b
	}
	b.buf = buf
	return b
}

// Build finalizes the command, appending its terminating zero-length
// word. It fails if any prior builder call rejected non-ASCII input.
func (b *Builder) Build() (*Command, error) {
	if b.err != nil {
		return nil, b.err
	}
	buf := append(b.buf, EncodeLength(0)...)
	return &Command{Tag: b.tag, Data: buf, Path: b.path}, nil
}

// LoginCommand builds a "/login" command for a plaintext-credential
// login, as supported by RouterOS v6.43+ and all of v7. Pre-v6.43
// challenge/response login is out of scope.
func LoginCommand(username, password string) (*Command, error) {
	b, err := NewCommand().Command("/login")
	if err != nil {
		return nil, err
	}
	b.Attribute("name", username)
	b.Attribute("password", password)
	return b.Build()
}

// CancelCommand builds a "/cancel" command that asks the router to
// stop streaming replies for the given tag.
func CancelCommand(tag uint16) (*Command, error) {
	b, err := NewCommandWithTag(tag).Command("/cancel")
	if err != nil {
		return nil, err
	}
	b.Attribute("tag", strconv.FormatUint(uint64(tag), 10))
	return b.Build()
}

func appendWord(buf []byte, s string) ([]byte, error) {
	return appendWordBytes(buf, []byte(s))
}

func appendWordBytes(buf []byte, word []byte) ([]byte, error) {
	for _, c := range word {
		if c >= 0x80 {
			return nil, newError(KindNonASCII, "word contains a non-ASCII byte")
		}
	}
	buf = append(buf, EncodeLength(uint32(len(word)))...)
	buf = append(buf, word...)
	return buf, nil
}
