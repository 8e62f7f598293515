package connections

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/cams-platform/cams/internal/domain/connection"
)

// Tester probes a database endpoint. The password argument is the decrypted
// credential; implementations must not retain it.
type Tester interface {
	Test(ctx context.Context, conn connection.Connection, password string) connection.TestResult
}

// TesterFunc adapts a function to the Tester interface.
type TesterFunc func(ctx context.Context, conn connection.Connection, password string) connection.TestResult

func (f TesterFunc) Test(ctx context.Context, conn connection.Connection, password string) connection.TestResult {
	return f(ctx, conn, password)
}

// DialTester performs real connectivity checks. PostgreSQL targets get a full
// driver-level ping; other engines get a TCP reachability check since their
// drivers are not linked into the binary.
type DialTester struct {
	Timeout time.Duration
}

var _ Tester = DialTester{}

func (t DialTester) Test(ctx context.Context, conn connection.Connection, password string) connection.TestResult {
	timeout := t.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch conn.Driver {
	case connection.DriverPostgres:
		err = pingPostgres(ctx, conn, password, timeout)
	default:
		err = dialTCP(ctx, conn.Address())
	}

	result := connection.TestResult{
		ConnectionID: conn.ID,
		Passed:       err == nil,
		Latency:      time.Since(start),
		TestedAt:     time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func pingPostgres(ctx context.Context, conn connection.Connection, password string, timeout time.Duration) error {
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conn.Username, password),
		Host:   conn.Address(),
		Path:   conn.DatabaseName,
	}
	q := url.Values{}
	q.Set("connect_timeout", fmt.Sprintf("%d", int(timeout.Seconds())))
	sslmode := conn.Options["sslmode"]
	if sslmode == "" {
		sslmode = "prefer"
	}
	q.Set("sslmode", sslmode)
	dsn.RawQuery = q.Encode()

	db, err := sql.Open("postgres", dsn.String())
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

func dialTCP(ctx context.Context, address string) error {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return c.Close()
}
