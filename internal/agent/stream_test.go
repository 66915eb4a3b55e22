package agent

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, input string) []Event {
	t.Helper()
	p := NewStreamParser(strings.NewReader(input))
	var events []Event
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestParseToolUseAndText(t *testing.T) {
	input := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit"},{"type":"text","text":"Updating the handler"}]}}
`
	events := collect(t, input)
	require.Len(t, events, 2)
	assert.Equal(t, EventToolUse, events[0].Kind)
	assert.Equal(t, "Edit", events[0].ToolName)
	assert.Equal(t, EventText, events[1].Kind)
	assert.Equal(t, "Updating the handler", events[1].Text)
}

func TestParseResultEvents(t *testing.T) {
	input := `{"type":"result","subtype":"success","result":"COMMIT_HASH: abc123"}
{"type":"result","subtype":"error_during_execution","error":"tool crashed"}
`
	events := collect(t, input)
	require.Len(t, events, 2)
	assert.Equal(t, EventResultSuccess, events[0].Kind)
	assert.Equal(t, "COMMIT_HASH: abc123", events[0].Text)
	assert.Equal(t, EventResultError, events[1].Kind)
	assert.Equal(t, "tool crashed", events[1].Text)
}

func TestNonJSONLinesSurfaceAsRaw(t *testing.T) {
	events := collect(t, "warning: something from stderr\n")
	require.Len(t, events, 1)
	assert.Equal(t, EventRaw, events[0].Kind)
	assert.Equal(t, "warning: something from stderr", events[0].Raw)
}

func TestUnknownEventTypesAreOpaque(t *testing.T) {
	events := collect(t, `{"type":"system","subtype":"init"}`+"\n")
	require.Len(t, events, 1)
	assert.Equal(t, EventOther, events[0].Kind)
}

func TestEmptyLinesSkipped(t *testing.T) {
	events := collect(t, "\n\n"+`{"type":"result","subtype":"success","result":"done"}`+"\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, EventResultSuccess, events[0].Kind)
}

func TestLongLinesWithinBuffer(t *testing.T) {
	big := strings.Repeat("x", 200*1024)
	input := `{"type":"assistant","message":{"content":[{"type":"text","text":"` + big + `"}]}}` + "\n"
	events := collect(t, input)
	require.Len(t, events, 1)
	assert.Len(t, events[0].Text, len(big))
}
