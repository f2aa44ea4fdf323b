package probe

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// STARTTLSMode selects an optional plaintext upgrade dance before the TLS
// handshake.
type STARTTLSMode int

const (
	STARTTLSNone STARTTLSMode = iota
	STARTTLSSMTP
)

// TLSChecker opens a TCP connection, optionally performs a STARTTLS
// upgrade, completes a TLS handshake, and inspects the peer certificate's
// expiry. crypto/x509 exposes NotAfter as a time.Time directly, so the
// expiry comparison needs no manual ASN1_TIME parsing.
type TLSChecker struct {
	Host    string
	Port    int
	STARTTLS STARTTLSMode

	// ExpiryThreshold is how far in advance of expiry the check starts
	// failing. Defaults to 48h.
	ExpiryThreshold time.Duration
	// FailureMode is the result type returned when the certificate is
	// within ExpiryThreshold of expiring. Defaults to Warn.
	FailureMode ResultType
	// RootCAs, if non-nil, replaces the system trust store.
	RootCAs *x509.CertPool
	// FakeNow, if non-zero, is used instead of time.Now() for both
	// handshake-time verification and the expiry comparison, so tests can
	// exercise long-expired certificates meaningfully.
	FakeNow time.Time

	dialTimeout time.Duration
}

// NewTLSChecker builds a TLSChecker with sensible defaults.
func NewTLSChecker(host string, port int) *TLSChecker {
	return &TLSChecker{
		Host:            host,
		Port:            port,
		ExpiryThreshold: 48 * time.Hour,
		FailureMode:     Warn,
		dialTimeout:     10 * time.Second,
	}
}

func (c *TLSChecker) now() time.Time {
	if !c.FakeNow.IsZero() {
		return c.FakeNow
	}
	return time.Now()
}

// Check implements Checker.
func (c *TLSChecker) Check() Result {
	now := c.now()

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.dialTimeout)
	if err != nil {
		return errRes(fmt.Sprintf("unable to connect: %v", err))
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	if c.STARTTLS == STARTTLSSMTP {
		if res, failed := startTLSSMTP(conn); failed {
			conn.Close()
			return res
		}
	}

	cfg := &tls.Config{
		ServerName: c.Host,
		RootCAs:    c.RootCAs,
		Time:       func() time.Time { return now },
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return errRes(fmt.Sprintf("TLS handshake: %v", err))
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		tlsConn.Close()
		return errRes("no peer certificate")
	}
	notAfter := state.PeerCertificates[0].NotAfter
	compareWith := now.Add(c.ExpiryThreshold)

	// Close asynchronously; this check doesn't care whether the peer
	// acknowledges it.
	go func() {
		_ = tlsConn.Close()
	}()

	if !notAfter.Before(compareWith) {
		return up(fmt.Sprintf("Certificate valid until %s", notAfter.Format(time.RFC3339)))
	}

	remaining := notAfter.Sub(now)
	remainingDays := remaining.Hours() / 24
	return Result{
		Type: c.FailureMode,
		Info: fmt.Sprintf("Certificate expiring in %.1f days: Certificate valid until %s; current time is %s.",
			remainingDays, notAfter.Format(time.RFC3339), now.Format(time.RFC3339)),
	}
}

// startTLSSMTP performs the plaintext SMTP STARTTLS dance that precedes the
// TLS handshake. Returns (failure result, true) on any protocol violation.
func startTLSSMTP(conn net.Conn) (Result, bool) {
	r := bufio.NewReader(conn)

	line, err := readCRLFLine(r)
	if err != nil {
		return errRes(fmt.Sprintf("IO error reading banner: %v", err)), true
	}
	if !strings.HasPrefix(line, "220") {
		return errRes(fmt.Sprintf("unexpected welcome: %s", line)), true
	}

	if _, err := conn.Write([]byte("EHLO example.com\r\n")); err != nil {
		return errRes(fmt.Sprintf("IO error sending EHLO: %v", err)), true
	}

	hasStartTLS := false
	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return errRes(fmt.Sprintf("IO error reading EHLO response: %v", err)), true
		}
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "250-STARTTLS") {
			hasStartTLS = true
		}
		// The terminating line of the capability block is any "250 " line
		// (a space, not a dash), not necessarily the last-listed extension.
		if strings.HasPrefix(line, "250 ") {
			break
		}
	}
	if !hasStartTLS {
		return errRes("STARTTLS SMTP extension not present"), true
	}

	if _, err := conn.Write([]byte("STARTTLS\r\n")); err != nil {
		return errRes(fmt.Sprintf("IO error sending STARTTLS: %v", err)), true
	}
	line, err = readCRLFLine(r)
	if err != nil {
		return errRes(fmt.Sprintf("IO error reading STARTTLS response: %v", err)), true
	}
	if !strings.HasPrefix(line, "220") {
		return errRes(fmt.Sprintf("protocol error: expected 220, got %s", line)), true
	}
	if r.Buffered() > 0 {
		return errRes("protocol error: buffered data remains before TLS upgrade"), true
	}
	return Result{}, false
}

func readCRLFLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
