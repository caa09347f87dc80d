package sdk

import "encoding/json"

// Event is a decoded Slack payload. Field order carries no meaning and the
// map must be treated as read-only once it leaves the transport.
type Event map[string]interface{}

// DecodeEvent parses a JSON object into an Event.
func DecodeEvent(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Type returns the "type" discriminant, or "" when it is absent.
func (e Event) Type() string { return e.String("type") }

func (e Event) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// Int reads a JSON number field. Decoded numbers arrive as float64.
func (e Event) Int(key string) (int64, bool) {
	switch v := e[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// Clone returns a deep copy so each consumer owns its own view.
func (e Event) Clone() Event {
	if e == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(e)).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case Event:
		return Event(cloneValue(map[string]interface{}(t)).(map[string]interface{}))
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}
