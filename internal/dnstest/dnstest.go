// Package dnstest implements a trivial, in-process DNS server for testing
// the key provider's DNS lookups without reaching the real network.
//
// It only serves TXT records, and always answers with whatever was loaded
// for a name regardless of the query class, which is all DNSKeyProvider
// needs.
package dnstest

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/net/dns/dnsmessage"
)

// Server is a loopback-only DNS server that answers TXT queries from an
// in-memory zone map.
type Server struct {
	mu      sync.Mutex
	answers map[string][]dnsmessage.Resource

	conn net.PacketConn
	done chan struct{}
}

// NewServer starts a new Server listening on a random loopback UDP port.
func NewServer() (*Server, error) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening: %w", err)
	}

	s := &Server{
		answers: map[string][]dnsmessage.Resource{},
		conn:    conn,
		done:    make(chan struct{}),
	}

	go s.serve()
	return s, nil
}

// Addr returns the server's listening address, suitable for a
// net.Resolver's Dial override.
func (s *Server) Addr() string {
	return s.conn.LocalAddr().String()
}

// Resolver returns a *net.Resolver that sends all its queries to this
// server, for use as a DNSKeyProvider.Resolver in tests.
func (s *Server) Resolver() *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return net.Dial(network, s.Addr())
		},
	}
}

// AddTXT publishes one or more TXT record values for name, replacing any
// that were already set for it. name should NOT have a trailing dot.
func (s *Server) AddTXT(name string, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fqdn := strings.ToLower(name) + "."
	s.answers[fqdn] = []dnsmessage.Resource{{
		Header: dnsmessage.ResourceHeader{
			Name:  dnsmessage.MustNewName(fqdn),
			Type:  dnsmessage.TypeTXT,
			Class: dnsmessage.ClassINET,
		},
		Body: &dnsmessage.TXTResource{TXT: chunkTXT(values)},
	}}
}

// chunkTXT splits each value into <=255 byte chunks, as the wire format
// requires, mirroring the teacher's minidns zone loader.
func chunkTXT(values []string) []string {
	chunks := []string{}
	for _, v := range values {
		for len(v) > 254 {
			chunks = append(chunks, v[:254])
			v = v[254:]
		}
		chunks = append(chunks, v)
	}
	return chunks
}

// Close stops the server.
func (s *Server) Close() error {
	close(s.done)
	return s.conn.Close()
}

func (s *Server) serve() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}

		msg := &dnsmessage.Message{}
		if err := msg.Unpack(buf[:n]); err != nil {
			continue
		}
		if len(msg.Questions) != 1 {
			continue
		}

		reply := s.handle(msg)
		rbuf, err := reply.Pack()
		if err != nil {
			continue
		}
		s.conn.WriteTo(rbuf, addr)
	}
}

func (s *Server) handle(msg *dnsmessage.Message) *dnsmessage.Message {
	reply := &dnsmessage.Message{
		Header: dnsmessage.Header{
			ID:            msg.ID,
			Response:      true,
			RCode:         dnsmessage.RCodeSuccess,
			Authoritative: true,
		},
		Questions: msg.Questions,
	}

	q := msg.Questions[0]
	name := strings.ToLower(q.Name.String())

	s.mu.Lock()
	answers, ok := s.answers[name]
	s.mu.Unlock()

	if !ok {
		reply.Header.RCode = dnsmessage.RCodeNameError
		return reply
	}

	for _, ans := range answers {
		if q.Type == ans.Header.Type {
			reply.Answers = append(reply.Answers, ans)
		}
	}
	return reply
}
