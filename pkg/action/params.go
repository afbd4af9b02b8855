package action

import "fmt"

// ErrInvalidParameters wraps a parameter validation failure (spec §7 InvalidInput).
type ErrInvalidParameters struct {
	Handler string
	Message string
}

func (e *ErrInvalidParameters) Error() string {
	return fmt.Sprintf("%s: invalid parameters: %s", e.Handler, e.Message)
}

func invalid(handler, format string, args ...any) error {
	return &ErrInvalidParameters{Handler: handler, Message: fmt.Sprintf(format, args...)}
}

func requireString(p Params, handler, key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", invalid(handler, "missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", invalid(handler, "parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func optString(p Params, key, def string) string {
	v, ok := p[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func optBool(p Params, key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func optInt(p Params, key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func optStringSlice(p Params, key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
