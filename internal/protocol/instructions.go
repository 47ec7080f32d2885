package protocol

import "strings"

const (
	instructionsOpen  = "#####INSTRUCTION_MSG("
	instructionsClose = "#####INSTRUCTION_MSG_END"
)

// Instructions renders the message that teaches the peer the protocol. It
// is sent at startup and after every scheduled refresh.
func Instructions(routes []Route, logsHint string) string {
	var b strings.Builder
	b.WriteString(instructionsOpen + "\n")
	b.WriteString("Hello! This is your server writing.\n\n")
	b.WriteString("Always answer using exactly one of the prefixes below. ")
	b.WriteString("Each prefix triggers a fixed reaction on the server:\n\n")

	for _, rt := range routes {
		b.WriteString(rt.Prefix)
		if rt.Summary != "" {
			b.WriteString(" - " + rt.Summary)
		}
		b.WriteString("\n")
		if rt.Effect != "" {
			b.WriteString("    -> Server: " + rt.Effect + "\n")
		}
		if rt.Reply != "" {
			b.WriteString("    -> Reply: " + Status(rt.Prefix, rt.Reply).String() + "\n")
			b.WriteString("        or: " + errorLead + "...\n")
		}
		if rt.Example != "" {
			b.WriteString("    -> Example: \"" + rt.Prefix + " " + rt.Example + "\"\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(ErrorSentinel + " - error report (unknown prefix, empty content, failed action)\n")
	if logsHint != "" {
		b.WriteString("    -> Server logs are kept in: '" + logsHint + "'\n")
	}
	b.WriteString("\nL:[notif] - server confirmation that a prefix was recognized\n\n")
	b.WriteString(StatusSentinel + " - server status reply\n")
	b.WriteString("Long messages arrive in several parts tagged [PART i/n]; read them in order.\n")
	b.WriteString(instructionsClose)
	return b.String()
}
