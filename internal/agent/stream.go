package agent

import (
	"bufio"
	"encoding/json"
	"io"
)

// EventKind classifies a parsed stream event.
type EventKind int

const (
	// EventToolUse is an assistant content block invoking a tool.
	EventToolUse EventKind = iota
	// EventText is an assistant content block of answer text.
	EventText
	// EventResultSuccess is the terminal success event; its payload, when
	// present, is authoritative over accumulated text.
	EventResultSuccess
	// EventResultError is the terminal error event.
	EventResultError
	// EventOther is any recognized-but-unhandled JSON event.
	EventOther
	// EventRaw is a non-JSON line.
	EventRaw
)

// Event is one unit of agent output.
type Event struct {
	Kind EventKind
	// ToolName for EventToolUse; Text for EventText and the result
	// events; Raw carries the original line for logging.
	ToolName string
	Text     string
	Raw      string
}

type streamMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Result  string `json:"result"`
	Error   string `json:"error"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// maxLineBytes bounds a single stream line. Agent events can embed whole
// file contents, so the default scanner buffer is far too small.
const maxLineBytes = 1 << 20

// StreamParser consumes the agent's line-delimited JSON output and
// yields typed events on demand. One input line can expand to several
// events when an assistant message carries multiple content blocks.
type StreamParser struct {
	scanner *bufio.Scanner
	pending []Event
}

// NewStreamParser wraps r, which delivers one JSON event per line.
func NewStreamParser(r io.Reader) *StreamParser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &StreamParser{scanner: sc}
}

// Next returns the next event, or io.EOF when the stream is exhausted.
func (p *StreamParser) Next() (Event, error) {
	if len(p.pending) > 0 {
		ev := p.pending[0]
		p.pending = p.pending[1:]
		return ev, nil
	}

	for p.scanner.Scan() {
		line := p.scanner.Text()
		if line == "" {
			continue
		}
		events := parseLine(line)
		if len(events) == 0 {
			continue
		}
		p.pending = events[1:]
		return events[0], nil
	}
	if err := p.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func parseLine(line string) []Event {
	var msg streamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return []Event{{Kind: EventRaw, Raw: line}}
	}

	switch msg.Type {
	case "assistant":
		var events []Event
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "tool_use":
				events = append(events, Event{Kind: EventToolUse, ToolName: block.Name, Raw: line})
			case "text":
				events = append(events, Event{Kind: EventText, Text: block.Text, Raw: line})
			}
		}
		if len(events) == 0 {
			return []Event{{Kind: EventOther, Raw: line}}
		}
		return events
	case "result":
		if msg.Subtype == "success" {
			return []Event{{Kind: EventResultSuccess, Text: msg.Result, Raw: line}}
		}
		errText := msg.Error
		if errText == "" {
			errText = msg.Result
		}
		return []Event{{Kind: EventResultError, Text: errText, Raw: line}}
	default:
		return []Event{{Kind: EventOther, Raw: line}}
	}
}
