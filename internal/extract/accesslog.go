package extract

import "strings"

// AccessLogPairs parses an Apache/Nginx Common or Combined Log Format line:
//
//	127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /index.html HTTP/1.1" 200 2326 "http://ref" "Mozilla/5.0"
//
// Fields are remote_host, remote_user, time, method, path, protocol,
// status, body_bytes, referer and user_agent; "-" placeholders are
// omitted. Text that is not an access log line yields nil.
func AccessLogPairs(text string) []Pair {
	s := scanner{text: text}
	host := s.word()
	_ = s.word() // ident
	user := s.word()
	ts := s.enclosed('[', ']')
	request := s.enclosed('"', '"')
	status := s.word()
	size := s.word()
	if s.failed || host == "" || !isNumeric(status) {
		return nil
	}
	method, path, protocol := splitRequest(request)
	if method == "" {
		return nil
	}

	var pairs []Pair
	add := func(key, value string) {
		if value != "" && value != "-" {
			pairs = append(pairs, Pair{Key: key, Value: value})
		}
	}
	add("remote_host", host)
	add("remote_user", user)
	add("time", ts)
	add("method", method)
	add("path", path)
	add("protocol", protocol)
	add("status", status)
	add("body_bytes", size)

	// Combined format trailer; a malformed trailer keeps the common fields.
	if referer := s.enclosed('"', '"'); !s.failed {
		add("referer", referer)
		if agent := s.enclosed('"', '"'); !s.failed {
			add("user_agent", agent)
		}
	}
	return pairs
}

// scanner reads access log tokens. Once failed, every read returns "".
type scanner struct {
	text   string
	pos    int
	failed bool
}

func (s *scanner) skipBlanks() {
	for s.pos < len(s.text) && (s.text[s.pos] == ' ' || s.text[s.pos] == '\t') {
		s.pos++
	}
}

func (s *scanner) word() string {
	s.skipBlanks()
	if s.failed || s.pos >= len(s.text) {
		s.failed = true
		return ""
	}
	start := s.pos
	for s.pos < len(s.text) && s.text[s.pos] != ' ' && s.text[s.pos] != '\t' {
		s.pos++
	}
	return s.text[start:s.pos]
}

func (s *scanner) enclosed(open, closing byte) string {
	s.skipBlanks()
	if s.failed || s.pos >= len(s.text) || s.text[s.pos] != open {
		s.failed = true
		return ""
	}
	end := strings.IndexByte(s.text[s.pos+1:], closing)
	if end < 0 {
		s.failed = true
		return ""
	}
	v := s.text[s.pos+1 : s.pos+1+end]
	s.pos += end + 2
	return v
}

// splitRequest splits "GET /path HTTP/1.1" into its parts.
func splitRequest(line string) (method, path, protocol string) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", "", ""
	}
	if len(parts) > 2 {
		protocol = strings.Join(parts[2:], " ")
	}
	return parts[0], parts[1], protocol
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
