package commands

import (
	"strings"

	"autorefill/internal/protocol"
)

const helpText = "on | off | toggle | status | set <actor> on|off|toggle | query [actor] | reload"

// Dispatch routes chat-style arguments to the matching command. An empty argument
// list reports status.
func (s *Service) Dispatch(c Caller, args []string) Reply {
	if len(args) == 0 {
		return s.Status(c)
	}
	verb := strings.ToLower(strings.TrimSpace(args[0]))
	rest := args[1:]
	switch verb {
	case "on", "enable":
		return s.Enable(c)
	case "off", "disable":
		return s.Disable(c)
	case "toggle":
		return s.Toggle(c)
	case "status":
		return s.Status(c)
	case "set":
		if len(rest) != 2 {
			if r, ok := s.requireAdmin(c); !ok {
				return r
			}
			return usage("set <actor> on|off|toggle")
		}
		return s.AdminSet(c, rest[0], rest[1])
	case "query":
		ident := ""
		if len(rest) > 0 {
			ident = strings.Join(rest, " ")
		}
		return s.AdminQuery(c, ident)
	case "reload":
		return s.AdminReload(c)
	case "help":
		return Reply{Code: protocol.CodeOK, Message: "Usage: " + helpText}
	default:
		return usage(helpText)
	}
}

// DispatchLine splits a raw command line on whitespace and dispatches it.
func (s *Service) DispatchLine(c Caller, line string) Reply {
	return s.Dispatch(c, strings.Fields(line))
}
