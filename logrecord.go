package tally

import (
	"strconv"
	"time"

	"github.com/bytedance/sonic"
)

// Label names the stream a log record is shipped to.
type Label string

const (
	LabelDatabase        Label = "Database"
	LabelFactory         Label = "Factory"
	LabelUnhandledErrors Label = "Unhandled Errors"
	LabelHTTPRequests    Label = "HTTP Requests"
)

// Level is the severity of a log record.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LevelForStatus maps an HTTP status code to a severity: 5xx is an error, 4xx a
// warning and anything else info.
func LevelForStatus(status int) Level {
	switch {
	case status >= 500:
		return LevelError
	case status >= 400:
		return LevelWarn
	}
	return LevelInfo
}

// LogRecord is one structured event shipped to the log sink.
type LogRecord struct {
	Source     string
	Label      Label
	Level      Level
	Timestamp  time.Time
	Payload    string
	Attributes map[string]string
}

// streamEnvelope is the wire format of a log push.
type streamEnvelope struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream streamLabels `json:"stream"`
	Values [][]any      `json:"values"`
}

type streamLabels struct {
	Component string `json:"component"`
	Label     string `json:"label"`
	Level     string `json:"Level"`
}

// envelope wraps the record in a single-stream envelope with a single value. The value
// is [timestamp in ns as a string, payload] with the attributes appended when present.
func (r LogRecord) envelope() streamEnvelope {
	value := []any{strconv.FormatInt(r.Timestamp.UnixNano(), 10), r.Payload}
	if len(r.Attributes) > 0 {
		value = append(value, r.Attributes)
	}
	return streamEnvelope{
		Streams: []stream{{
			Stream: streamLabels{
				Component: r.Source,
				Label:     string(r.Label),
				Level:     string(r.Level),
			},
			Values: [][]any{value},
		}},
	}
}

func encodeRecord(r LogRecord) ([]byte, error) {
	return sonic.Marshal(r.envelope())
}
