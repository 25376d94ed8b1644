package resolver

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

func startDNSServer(t *testing.T, records map[string]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		ip, ok := records[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(m)
			return
		}
		if q.Qtype == dns.TypeA {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP(ip),
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestLookupHost(t *testing.T) {
	addr := startDNSServer(t, map[string]string{"upstream.test.": "127.0.0.1"})
	r := New(addr, zap.NewNop())

	addrs, err := r.LookupHost(context.Background(), "upstream.test")
	if err != nil {
		t.Fatalf("LookupHost failed: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "127.0.0.1" {
		t.Errorf("addrs = %v, want [127.0.0.1]", addrs)
	}
}

func TestLookupHostNXDOMAIN(t *testing.T) {
	addr := startDNSServer(t, nil)
	r := New(addr, zap.NewNop())

	_, err := r.LookupHost(context.Background(), "missing.test")
	if !errors.Is(err, ErrNoAddress) {
		t.Errorf("err = %v, want ErrNoAddress", err)
	}
}

func TestLookupHostLiteral(t *testing.T) {
	r := New("192.0.2.1", zap.NewNop())
	if r.Server != "192.0.2.1:53" {
		t.Errorf("Server = %q, want default port", r.Server)
	}
	addrs, err := r.LookupHost(context.Background(), "::1")
	if err != nil || len(addrs) != 1 || addrs[0] != "::1" {
		t.Errorf("LookupHost(::1) = %v, %v", addrs, err)
	}
}

func TestDialContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("hi"))
		_ = conn.Close()
	}()

	addr := startDNSServer(t, map[string]string{"upstream.test.": "127.0.0.1"})
	r := New(addr, zap.NewNop())

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	conn, err := r.DialContext(context.Background(), "tcp", net.JoinHostPort("upstream.test", port))
	if err != nil {
		t.Fatalf("DialContext failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	got, _ := io.ReadAll(conn)
	if string(got) != "hi" {
		t.Errorf("read %q, want hi", got)
	}
}
