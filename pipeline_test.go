package dbusclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingHandler appends its name to order on each inbound message
// and always propagates, so a chain of them traces traversal order.
type recordingHandler struct {
	BaseHandler
	name  string
	order *[]string
}

func (h recordingHandler) Name() string { return h.name }
func (h recordingHandler) HandleInbound(ctx *HandlerContext, msg *Message) {
	*h.order = append(*h.order, h.name)
	ctx.PropagateInbound(msg)
}

func TestPipelineInboundTraversalOrder(t *testing.T) {
	p := newPipeline(nil)
	var order []string

	require.NoError(t, p.AddLast(recordingHandler{name: "a", order: &order}))
	require.NoError(t, p.AddLast(recordingHandler{name: "b", order: &order}))
	require.NoError(t, p.AddFirst(recordingHandler{name: "first", order: &order}))

	p.fireInbound(&Message{})

	require.Equal(t, []string{"first", "a", "b"}, order)
}

func TestPipelineAddBeforeAndAfter(t *testing.T) {
	p := newPipeline(nil)
	var order []string

	require.NoError(t, p.AddLast(recordingHandler{name: "a", order: &order}))
	require.NoError(t, p.AddLast(recordingHandler{name: "c", order: &order}))
	require.NoError(t, p.AddBefore("c", recordingHandler{name: "b", order: &order}))
	require.NoError(t, p.AddAfter("c", recordingHandler{name: "d", order: &order}))

	p.fireInbound(&Message{})

	require.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestPipelineRejectsDuplicateNames(t *testing.T) {
	p := newPipeline(nil)
	require.NoError(t, p.AddLast(recordingHandler{name: "a"}))
	err := p.AddLast(recordingHandler{name: "a"})
	require.Error(t, err)
}

func TestPipelineRemove(t *testing.T) {
	p := newPipeline(nil)
	var order []string
	require.NoError(t, p.AddLast(recordingHandler{name: "a", order: &order}))
	require.NoError(t, p.AddLast(recordingHandler{name: "b", order: &order}))
	require.NoError(t, p.Remove("a"))

	p.fireInbound(&Message{})
	require.Equal(t, []string{"b"}, order)
}

func TestPipelineAddBeforeUnknownAnchorErrors(t *testing.T) {
	p := newPipeline(nil)
	err := p.AddBefore("missing", recordingHandler{name: "a"})
	require.Error(t, err)
}
