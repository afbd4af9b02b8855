package action

import (
	"strconv"
	"strings"
)

// Substitute recursively replaces the fixed set of placeholders (spec §4.1)
// into every string, map value, and slice element of params. Non-string
// leaves pass through unchanged.
func Substitute(params Params, actx Context) Params {
	out := make(Params, len(params))
	for k, v := range params {
		out[k] = substituteValue(v, actx)
	}
	return out
}

func substituteValue(v any, actx Context) any {
	switch val := v.(type) {
	case string:
		return substituteString(val, actx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = substituteValue(vv, actx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = substituteValue(vv, actx)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, actx Context) string {
	replacer := strings.NewReplacer(
		"{workspace_id}", actx.WorkspaceID.String(),
		"{workspace_name}", actx.WorkspaceName,
		"{workspace_linux_username}", actx.LinuxUsername,
		"{workspace_subdomain}", actx.Subdomain,
		"{user_email}", actx.UserEmail,
		"{user_id}", actx.UserID.String(),
		"{company_name}", actx.CompanyName,
		"{home_directory}", actx.HomeDirectory,
		"{port}", strconv.Itoa(actx.Port),
		"${HOME}", actx.HomeDirectory,
		"${USER}", actx.LinuxUsername,
	)
	s = replacer.Replace(s)

	if strings.HasPrefix(s, "~/") {
		s = actx.HomeDirectory + "/" + strings.TrimPrefix(s, "~/")
	} else if s == "~" {
		s = actx.HomeDirectory
	}

	return s
}
