package lcbook

import (
	"fmt"

	opentracing "github.com/opentracing/opentracing-go"
)

// opTracer carries the opentracing spans for one Operation's lifetime: a
// root span covering retries plus a per-dispatch network span. It skips a
// zombie-response sampling logger — that's a diagnostics feature, not a
// routing/dispatch concern this core owns.
type opTracer struct {
	tracer       opentracing.Tracer
	rootContext  opentracing.SpanContext
	cmdSpan      opentracing.Span
	netSpan      opentracing.Span
}

func newOpTracer(tracer opentracing.Tracer, rootContext opentracing.SpanContext) *opTracer {
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	return &opTracer{tracer: tracer, rootContext: rootContext}
}

func (t *opTracer) startCmd(opName string, retryCount uint32) {
	if t == nil || t.rootContext == nil {
		return
	}
	t.cmdSpan = t.tracer.StartSpan(opName,
		opentracing.ChildOf(t.rootContext),
		opentracing.Tag{Key: "retry", Value: retryCount})
}

func (t *opTracer) stopCmd() {
	if t == nil || t.cmdSpan == nil {
		return
	}
	t.cmdSpan.Finish()
	t.cmdSpan = nil
}

func (t *opTracer) startNet() {
	if t == nil || t.cmdSpan == nil {
		return
	}
	t.netSpan = t.tracer.StartSpan("rpc",
		opentracing.ChildOf(t.cmdSpan.Context()),
		opentracing.Tag{Key: "span.kind", Value: "client"})
}

func (t *opTracer) stopNet(opaque uint32, localAddr, remoteAddr string) {
	if t == nil || t.netSpan == nil {
		return
	}
	t.netSpan.SetTag("couchbase.operation_id", fmt.Sprintf("0x%x", opaque))
	t.netSpan.SetTag("local.address", localAddr)
	t.netSpan.SetTag("peer.address", remoteAddr)
	t.netSpan.Finish()
	t.netSpan = nil
}

func (t *opTracer) cancel() {
	if t == nil {
		return
	}
	if t.netSpan != nil {
		t.netSpan.Finish()
		t.netSpan = nil
	}
	if t.cmdSpan != nil {
		t.cmdSpan.Finish()
		t.cmdSpan = nil
	}
}

// commandName gives each opcode a short name for span titles and logging.
func commandName(op commandCode) string {
	switch op {
	case cmdGet:
		return "get"
	case cmdSet:
		return "set"
	case cmdAdd:
		return "add"
	case cmdReplace:
		return "replace"
	case cmdDelete:
		return "delete"
	case cmdIncrement:
		return "increment"
	case cmdDecrement:
		return "decrement"
	case cmdAppend:
		return "append"
	case cmdPrepend:
		return "prepend"
	case cmdTouch:
		return "touch"
	case cmdGetReplica:
		return "getReplica"
	case cmdObserve:
		return "observe"
	case cmdObserveSeqNo:
		return "observeSeqNo"
	case cmdHello:
		return "hello"
	case cmdSASLAuth:
		return "saslAuth"
	case cmdSelectBucket:
		return "selectBucket"
	case cmdGetClusterConfig:
		return "getClusterConfig"
	default:
		return fmt.Sprintf("0x%02x", uint8(op))
	}
}
