package device

import (
	"bufio"
	"net"
	"strings"
	"time"
)

const defaultIOTimeout = 2 * time.Second

// TCPTransport opens newline-framed SCPI sessions against a fixed set of
// host:port endpoints (LXI raw socket, typically port 5555 on Rigol and
// 5025 on Keysight gear).
type TCPTransport struct {
	endpoints []string
	timeout   time.Duration
}

func NewTCPTransport(endpoints []string, timeout time.Duration) *TCPTransport {
	if timeout <= 0 {
		timeout = defaultIOTimeout
	}
	return &TCPTransport{endpoints: append([]string(nil), endpoints...), timeout: timeout}
}

func (t *TCPTransport) Resources() []string {
	return append([]string(nil), t.endpoints...)
}

func (t *TCPTransport) Open(resource string) (Conn, error) {
	c, err := net.DialTimeout("tcp", resource, t.timeout)
	if err != nil {
		return nil, err
	}
	return &tcpConn{c: c, r: bufio.NewReader(c), timeout: t.timeout}, nil
}

type tcpConn struct {
	c       net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

func (c *tcpConn) Send(cmd string) error {
	if err := c.c.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	_, err := c.c.Write([]byte(cmd + "\n"))
	return err
}

func (c *tcpConn) Query(cmd string) (string, error) {
	if err := c.Send(cmd); err != nil {
		return "", err
	}
	if err := c.c.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *tcpConn) Close() error { return c.c.Close() }
