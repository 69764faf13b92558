package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Decode parses one line written by a plugin into a Request.
func Decode(line []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}

	rawMethod, hasMethod := fields["method"]
	rawParams, hasParams := fields["params"]
	if !hasMethod || !hasParams {
		if _, ok := fields["result"]; ok {
			return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, ErrResponseUnsupported)
		}
		return nil, fmt.Errorf("%w: missing method or params", ErrMalformedMessage)
	}

	method, err := stringValue(rawMethod, "method")
	if err != nil {
		return nil, err
	}
	var params []json.RawMessage
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, fmt.Errorf("%w: params must be an array", ErrMalformedMessage)
	}
	rawID := fields["id"]

	switch method {
	case MethodSend:
		if err := checkArity(method, params, 2); err != nil {
			return nil, err
		}
		server, err := stringValue(params[0], "server address")
		if err != nil {
			return nil, err
		}
		text, err := stringValue(params[1], "text")
		if err != nil {
			return nil, err
		}
		id, hasID, err := decodeID(rawID)
		if err != nil {
			return nil, err
		}
		if !hasID {
			return nil, fmt.Errorf("%s: %w", method, ErrMissingCorrelationID)
		}
		return Send{Server: server, Text: text, ID: id}, nil

	case MethodCmdAdd:
		if err := checkArity(method, params, 1); err != nil {
			return nil, err
		}
		name, err := stringValue(params[0], "command name")
		if err != nil {
			return nil, err
		}
		id, hasID, err := decodeID(rawID)
		if err != nil {
			return nil, err
		}
		if !hasID {
			return nil, fmt.Errorf("%s: %w", method, ErrMissingCorrelationID)
		}
		return RegisterCommand{Name: name, ID: id}, nil

	case MethodPid:
		// pid never gets a reply, so whatever id it carries is ignored
		if err := checkArity(method, params, 1); err != nil {
			return nil, err
		}
		s, err := stringValue(params[0], "pid")
		if err != nil {
			return nil, err
		}
		pid, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: pid %q is not an integer", ErrMalformedMessage, s)
		}
		return ReportPid{Pid: pid}, nil
	}

	return nil, fmt.Errorf("%w %q", ErrUnknownMethod, method)
}

// Encode renders c as a single newline-terminated JSON line.
func Encode(c Command) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c.wire()); err != nil {
		return nil, fmt.Errorf("encoding %T: %w", c, err)
	}
	return buf.Bytes(), nil
}

func checkArity(method string, params []json.RawMessage, n int) error {
	if len(params) != n {
		return fmt.Errorf("%w: %s takes %d params, got %d", ErrMalformedMessage, method, n, len(params))
	}
	return nil
}

func stringValue(raw json.RawMessage, what string) (string, error) {
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformedMessage, what)
	}
	return *s, nil
}

// decodeID reports whether an id was present. Absent and null ids are the same thing.
// Integral floats such as 7.0 are accepted, anything with a fractional part is rejected.
func decodeID(raw json.RawMessage) (int64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false, fmt.Errorf("%w: id: %s", ErrMalformedMessage, err)
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, false, fmt.Errorf("%w: id must be a number, got %s", ErrMalformedMessage, raw)
	}
	if i, err := n.Int64(); err == nil {
		return i, true, nil
	}

	f, err := n.Float64()
	if err != nil {
		return 0, false, fmt.Errorf("%w: id %s: %s", ErrMalformedMessage, n, err)
	}
	if f != math.Trunc(f) {
		return 0, false, fmt.Errorf("%w: %s", ErrNonIntegralID, n)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false, fmt.Errorf("%w: id %s out of range", ErrMalformedMessage, n)
	}
	return int64(f), true, nil
}
