package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider against a Valkey/Redis-compatible server
// using a minimal RESP client: one short-lived connection per command, which
// is plenty for the low-rate cooldown traffic it carries.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// NewValkeyProvider creates a Provider and pings the target so that bad
// credentials or connectivity fail at startup instead of mid-recovery.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	p := &ValkeyProvider{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	reply, err := p.do(ctx, "PING")
	if err != nil {
		return nil, err
	}
	if reply.kind != '+' || !strings.EqualFold(string(reply.data), "PONG") {
		return nil, fmt.Errorf("unexpected PING response: %s", reply.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch reply.kind {
	case '_':
		return nil, ErrCacheMiss
	case '$':
		return reply.data, nil
	default:
		return nil, fmt.Errorf("unexpected valkey reply %q for GET", reply.kind)
	}
}

// SetNX claims the key only if it does not already exist, with a TTL.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	args := []string{key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	args = append(args, "NX")

	reply, err := p.do(ctx, "SET", args...)
	if err != nil {
		return false, err
	}
	switch reply.kind {
	case '+':
		return true, nil
	case '_':
		return false, nil
	default:
		return false, fmt.Errorf("unexpected valkey reply %q for SET NX", reply.kind)
	}
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Close is a no-op; connections are per-command.
func (p *ValkeyProvider) Close() error { return nil }

type reply struct {
	kind byte
	data []byte
}

// do dials, authenticates, issues one command, and reads its reply, retrying
// transient network errors with exponential backoff.
func (p *ValkeyProvider) do(ctx context.Context, command string, args ...string) (reply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return reply{}, ctx.Err()
		}
		r, err := p.roundTrip(ctx, command, args...)
		if err == nil {
			return r, nil
		}
		lastErr = err
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() || attempt == p.cfg.MaxRetries-1 {
			return reply{}, err
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return reply{}, lastErr
}

func (p *ValkeyProvider) roundTrip(ctx context.Context, command string, args ...string) (reply, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return reply{}, err
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	if p.cfg.Password != "" {
		auth := []string{p.cfg.Password}
		if p.cfg.Username != "" {
			auth = []string{p.cfg.Username, p.cfg.Password}
		}
		if err := p.command(conn, reader, "AUTH", auth...); err != nil {
			return reply{}, fmt.Errorf("auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if err := p.command(conn, reader, "SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return reply{}, fmt.Errorf("select db: %w", err)
		}
	}

	if err := p.send(conn, command, args...); err != nil {
		return reply{}, err
	}
	return p.read(conn, reader)
}

// command sends a bootstrap command and insists on an OK-style reply.
func (p *ValkeyProvider) command(conn net.Conn, reader *bufio.Reader, name string, args ...string) error {
	if err := p.send(conn, name, args...); err != nil {
		return err
	}
	r, err := p.read(conn, reader)
	if err != nil {
		return err
	}
	if r.kind != '+' {
		return fmt.Errorf("unexpected reply: %s", r.data)
	}
	return nil
}

func (p *ValkeyProvider) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	if p.cfg.TLS {
		host, _, err := net.SplitHostPort(p.cfg.Addr)
		if err != nil {
			host = p.cfg.Addr
		}
		return tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	}
	return dialer.DialContext(ctx, "tcp", p.cfg.Addr)
}

func (p *ValkeyProvider) send(conn net.Conn, command string, args ...string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args)+1)
	fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(command), command)
	for _, arg := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(arg), arg)
	}
	_, err := conn.Write([]byte(b.String()))
	return err
}

func (p *ValkeyProvider) read(conn net.Conn, reader *bufio.Reader) (reply, error) {
	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return reply{}, err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return reply{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return reply{}, fmt.Errorf("empty valkey reply")
	}

	kind, rest := line[0], line[1:]
	switch kind {
	case '+', ':':
		return reply{kind: kind, data: []byte(rest)}, nil
	case '-':
		return reply{}, errors.New(rest)
	case '$':
		size, err := strconv.Atoi(rest)
		if err != nil {
			return reply{}, fmt.Errorf("bad bulk length %q", rest)
		}
		if size < 0 {
			return reply{kind: '_'}, nil
		}
		buf := make([]byte, size+2)
		for n := 0; n < len(buf); {
			m, err := reader.Read(buf[n:])
			n += m
			if err != nil {
				return reply{}, err
			}
		}
		return reply{kind: '$', data: buf[:size]}, nil
	default:
		return reply{}, fmt.Errorf("unexpected RESP prefix %q", kind)
	}
}
