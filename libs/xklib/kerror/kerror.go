package kerror

import (
	"encoding/hex"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

type Keypair struct {
	K string
	V interface{}
}

// Kerror is a typed error with ordered details, an optional stack and an optional cause.
// Type is the stable identifier (ModelInfeasible, BatchStale, ...); Msg is for humans.
type Kerror struct {
	Type      string
	Msg       string
	Details   []Keypair
	Stack     string // only the innermost kerror of a chain carries one
	CausedBy  error
	ErrorCode ErrorCode
}

func Create(errType string, msg string) *Kerror {
	return &Kerror{Type: errType, Msg: msg, ErrorCode: EC_UNKNOWN, Stack: GetCallStack(1)}
}

// Wrap keeps err as the cause. A retryable cause makes the wrapper retryable too.
// needStack is ignored when err already is a Kerror (it has its own stack).
func Wrap(err error, errType, msg string, needStack bool) *Kerror {
	code := EC_UNKNOWN
	if Retryable(err) {
		code = EC_RETRYABLE
	}
	ke := &Kerror{Type: errType, Msg: msg, CausedBy: err, ErrorCode: code}
	var inner *Kerror
	if needStack && !errors.As(err, &inner) {
		ke.Stack = GetCallStack(1)
	}
	return ke
}

func (ke *Kerror) Error() string { return ke.ShortString() }

func (ke *Kerror) String() string { return ke.FullString() }

func (ke *Kerror) Unwrap() error { return ke.CausedBy }

func (ke *Kerror) With(key string, val interface{}) *Kerror {
	ke.Details = append(ke.Details, Keypair{K: key, V: val})
	return ke
}

func (ke *Kerror) WithErrorCode(code ErrorCode) *Kerror {
	ke.ErrorCode = code
	return ke
}

func (ke *Kerror) WithoutStack() *Kerror {
	ke.Stack = ""
	return ke
}

// GetDetail returns the first value stored under key.
func (ke *Kerror) GetDetail(key string) (interface{}, bool) {
	for _, kp := range ke.Details {
		if kp.K == key {
			return kp.V, true
		}
	}
	return nil, false
}

func (ke *Kerror) GetHttpErrorCode() int {
	return ke.ErrorCode.ToHttpErrorCode()
}

// renderOpts: ShortString is the head of this error only, FullString walks the whole chain with stacks.
type renderOpts struct {
	stack bool
	chain bool
}

func (ke *Kerror) ShortString() string {
	return ke.render(renderOpts{})
}

func (ke *Kerror) FullString() string {
	return ke.render(renderOpts{stack: true, chain: true})
}

// CausedByString renders the cause chain without this error's head.
func (ke *Kerror) CausedByString() string {
	return renderErr(ke.CausedBy, renderOpts{chain: true})
}

func (ke *Kerror) render(opts renderOpts) string {
	var sb strings.Builder
	for cur := ke; cur != nil; {
		sb.WriteString(cur.Type + ": " + cur.Msg)
		for _, kp := range cur.Details {
			fmt.Fprintf(&sb, ", %s=%v", kp.K, printable(kp.V))
		}
		if opts.stack && cur.Stack != "" {
			sb.WriteString(", stack=" + cur.Stack)
		}
		if !opts.chain || cur.CausedBy == nil {
			break
		}
		sb.WriteString(";\n Caused by: ")
		next, ok := cur.CausedBy.(*Kerror)
		if !ok {
			sb.WriteString(cur.CausedBy.Error())
			break
		}
		cur = next
	}
	return sb.String()
}

func renderErr(err error, opts renderOpts) string {
	switch e := err.(type) {
	case nil:
		return ""
	case *Kerror:
		return e.render(opts)
	default:
		return e.Error()
	}
}

// printable hex encodes byte slices (etcd keys and values), everything else prints as is.
func printable(val interface{}) interface{} {
	if raw, ok := val.([]byte); ok {
		return hex.EncodeToString(raw)
	}
	return val
}

// GetCallStack returns the current goroutine's stack starting at the caller of GetCallStack,
// minus removeTop more frames.
func GetCallStack(removeTop int) string {
	// goroutine header, then two lines per frame: debug.Stack, GetCallStack, the removed ones
	parts := strings.SplitAfterN(string(debug.Stack()), "\n", 6+2*removeTop)
	return parts[len(parts)-1]
}

// IsType reports whether err, or any error in its cause chain, is a Kerror of the given type.
func IsType(err error, errType string) bool {
	var ke *Kerror
	for errors.As(err, &ke) {
		if ke.Type == errType {
			return true
		}
		err = ke.CausedBy
	}
	return false
}

func (ke *Kerror) Retryable() bool {
	return ke.ErrorCode == EC_RETRYABLE
}

// Retryable works on any error that has a Retryable() bool method.
func Retryable(err error) bool {
	r, ok := err.(interface{ Retryable() bool })
	return ok && r.Retryable()
}
