package sniff

import (
	"bufio"
	"bytes"
	"net/textproto"
)

// HTTPSniffer extracts the Host header from the opening bytes of an HTTP/1.x
// request, without consuming the stream: the caller retains everything fed
// and must replay it verbatim to the tunnel once routing is resolved.
type HTTPSniffer struct {
	buffer []byte
	host   string
	found  bool
}

func NewHTTPSniffer() *HTTPSniffer {
	return &HTTPSniffer{}
}

func (s *HTTPSniffer) Feed(data []byte) {
	s.buffer = append(s.buffer, data...)
}

// Extract looks for a complete request head (terminated by a blank line)
// and scans its headers case-insensitively for Host. It returns ("", false)
// until enough bytes have arrived, and caches the result once found.
func (s *HTTPSniffer) Extract() (string, bool) {
	if s.found {
		return s.host, true
	}
	idx := bytes.Index(s.buffer, []byte("\r\n\r\n"))
	if idx < 0 {
		return "", false
	}
	head := s.buffer[:idx+4]
	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(head)))
	if _, err := reader.ReadLine(); err != nil {
		return "", false
	}
	header, err := reader.ReadMIMEHeader()
	if err != nil && header == nil {
		return "", false
	}
	host := header.Get("Host")
	if host == "" {
		return "", false
	}
	s.host = host
	s.found = true
	return s.host, true
}

func (s *HTTPSniffer) ConsumedBytes() []byte {
	return s.buffer
}
