package esl

import (
	"bufio"
	"bytes"
	"net/url"
	"strings"
)

// Event is a single switch event delivered over the event socket. Header
// values are stored decoded; the optional trailing body (e.g. DTMF payloads)
// is kept verbatim.
type Event struct {
	headers map[string]string
	Body    string
}

// Name returns the Event-Name header, e.g. "CHANNEL_EXECUTE_COMPLETE".
func (e *Event) Name() string {
	return e.headers["Event-Name"]
}

// Subclass returns the Event-Subclass header for CUSTOM events.
func (e *Event) Subclass() string {
	return e.headers["Event-Subclass"]
}

// Get returns the value of a header, or "" if absent. Header names are
// matched exactly as the switch sends them ("Caller-Destination-Number",
// "variable_originate_disposition", ...).
func (e *Event) Get(name string) string {
	return e.headers[name]
}

// GetAny returns the first non-empty value among the named headers. Parking
// events may carry their lot and slot fields either bare or with the
// channel-variable prefix depending on switch version.
func (e *Event) GetAny(names ...string) string {
	for _, n := range names {
		if v := e.headers[n]; v != "" {
			return v
		}
	}
	return ""
}

// Headers returns the decoded header map. The map is owned by the event and
// must not be mutated by callers that share the event.
func (e *Event) Headers() map[string]string {
	return e.headers
}

// ParseEvent parses a text/event-plain frame body. The body is a block of
// "Key: value" lines terminated by an empty line; anything after the empty
// line is the event body.
func ParseEvent(raw []byte) *Event {
	br := bufio.NewReader(bytes.NewReader(raw))
	headers, _ := readHeaders(br)

	ev := &Event{headers: headers}

	var body bytes.Buffer
	if _, err := body.ReadFrom(br); err == nil && body.Len() > 0 {
		ev.Body = body.String()
	}
	return ev
}

// readHeaders consumes "Key: value" lines from r until an empty line or
// EOF. Values are percent-decoded when encoded; the switch URL-encodes
// header values that contain reserved characters.
func readHeaders(r *bufio.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			// Blank line ends the block. EOF without a blank line ends it too,
			// which is how event bodies without a trailing payload arrive.
			return headers, err
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			headers[key] = decodeValue(strings.TrimSpace(value))
		}
		if err != nil {
			return headers, err
		}
	}
}

// decodeValue percent-decodes a header value. Literal '+' is preserved:
// phone numbers arrive in E.164 form.
func decodeValue(v string) string {
	if !strings.Contains(v, "%") {
		return v
	}
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}
