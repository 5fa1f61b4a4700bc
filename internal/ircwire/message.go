// Package ircwire implements the minimal slice of the IRCv3 wire format the
// chat client pool needs: tag/prefix/command/params parsing and encoding,
// plus the sender-rank derivation used to gate mod_only/sub_only commands
// (spec §4.4, §8 invariant 6).
package ircwire

import "strings"

// Message is a single parsed IRC line.
type Message struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string
}

// Trailing returns the last parameter (conventionally the ":"-prefixed
// trailing argument, e.g. PRIVMSG body), or "" if there are no params.
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Nick returns the nickname portion of Prefix ("nick!user@host" or just
// "nick"), or "" if Prefix is empty.
func (m Message) Nick() string {
	if m.Prefix == "" {
		return ""
	}
	if i := strings.IndexByte(m.Prefix, '!'); i >= 0 {
		return m.Prefix[:i]
	}
	if i := strings.IndexByte(m.Prefix, '@'); i >= 0 {
		return m.Prefix[:i]
	}
	return m.Prefix
}

// Parse parses a single raw IRC line (without the trailing CRLF) into a
// Message. The grammar handled is the IRCv3 subset:
//
//	[@tags ][:prefix ]command [param ...][ :trailing]
func Parse(raw string) Message {
	var m Message
	rest := raw

	if strings.HasPrefix(rest, "@") {
		sp := strings.IndexByte(rest, ' ')
		var tagStr string
		if sp < 0 {
			tagStr, rest = rest[1:], ""
		} else {
			tagStr, rest = rest[1:sp], strings.TrimPrefix(rest[sp:], " ")
		}
		m.Tags = parseTags(tagStr)
	}

	rest = strings.TrimLeft(rest, " ")
	if strings.HasPrefix(rest, ":") {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			m.Prefix, rest = rest[1:], ""
		} else {
			m.Prefix, rest = rest[1:sp], strings.TrimLeft(rest[sp:], " ")
		}
	}

	// Split remaining into command + params, honoring a ":"-prefixed
	// trailing argument that may contain spaces.
	if trailingIdx := strings.Index(rest, " :"); trailingIdx >= 0 {
		head := rest[:trailingIdx]
		trailing := rest[trailingIdx+2:]
		fields := strings.Fields(head)
		if len(fields) > 0 {
			m.Command = strings.ToUpper(fields[0])
			m.Params = append(m.Params, fields[1:]...)
		}
		m.Params = append(m.Params, trailing)
		return m
	}
	if strings.HasPrefix(rest, ":") {
		// the entire remainder is a trailing arg with no command (malformed,
		// but handled gracefully rather than panicking)
		m.Params = append(m.Params, rest[1:])
		return m
	}
	fields := strings.Fields(rest)
	if len(fields) > 0 {
		m.Command = strings.ToUpper(fields[0])
		m.Params = fields[1:]
	}
	return m
}

func parseTags(s string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		if pair == "" {
			continue
		}
		if i := strings.IndexByte(pair, '='); i >= 0 {
			tags[pair[:i]] = unescapeTagValue(pair[i+1:])
		} else {
			tags[pair] = ""
		}
	}
	return tags
}

var tagUnescaper = strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")

func unescapeTagValue(v string) string {
	return tagUnescaper.Replace(v)
}

// Encode renders m back into raw wire form, without a trailing CRLF.
func Encode(m Message) string {
	var b strings.Builder
	if len(m.Tags) > 0 {
		b.WriteByte('@')
		first := true
		for k, v := range m.Tags {
			if !first {
				b.WriteByte(';')
			}
			first = false
			b.WriteString(k)
			if v != "" {
				b.WriteByte('=')
				b.WriteString(v)
			}
		}
		b.WriteByte(' ')
	}
	if m.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}
	b.WriteString(m.Command)
	for i, p := range m.Params {
		b.WriteByte(' ')
		if i == len(m.Params)-1 && (strings.Contains(p, " ") || strings.HasPrefix(p, ":") || p == "") {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}

// Pass builds a PASS command line.
func Pass(credential string) string { return Encode(Message{Command: "PASS", Params: []string{credential}}) }

// Nick builds a NICK command line.
func Nick(nick string) string { return Encode(Message{Command: "NICK", Params: []string{nick}}) }

// Join builds a JOIN command line for one or more channels.
func Join(channels ...string) string {
	return Encode(Message{Command: "JOIN", Params: []string{strings.Join(channels, ",")}})
}

// Part builds a PART command line for one or more channels.
func Part(channels ...string) string {
	return Encode(Message{Command: "PART", Params: []string{strings.Join(channels, ",")}})
}

// Privmsg builds a PRIVMSG command line.
func Privmsg(target, text string) string {
	return Encode(Message{Command: "PRIVMSG", Params: []string{target, text}})
}

// Pong builds a PONG reply to a PING's trailing argument.
func Pong(token string) string {
	return Encode(Message{Command: "PONG", Params: []string{token}})
}
