// Package connection defines database connections owned by applications.
package connection

import (
	"fmt"
	"time"
)

// Driver identifies the target database engine.
type Driver string

const (
	DriverPostgres  Driver = "postgres"
	DriverMySQL     Driver = "mysql"
	DriverSQLServer Driver = "sqlserver"
	DriverOracle    Driver = "oracle"
)

// Valid reports whether the driver is supported.
func (d Driver) Valid() bool {
	switch d {
	case DriverPostgres, DriverMySQL, DriverSQLServer, DriverOracle:
		return true
	}
	return false
}

// TestStatus is the outcome of the most recent connection test.
type TestStatus string

const (
	TestNever  TestStatus = "never"
	TestPassed TestStatus = "passed"
	TestFailed TestStatus = "failed"
)

// Connection represents a database endpoint registered under an application.
// Password holds the plaintext only in transit; stores persist the encrypted
// form and API responses never include it.
type Connection struct {
	ID                  string            `json:"id"`
	ApplicationID       string            `json:"application_id"`
	Name                string            `json:"name"`
	Driver              Driver            `json:"driver"`
	Host                string            `json:"host"`
	Port                int               `json:"port"`
	DatabaseName        string            `json:"database_name"`
	Username            string            `json:"username"`
	Password            string            `json:"-"`
	Options             map[string]string `json:"options,omitempty"`
	IsActive            bool              `json:"is_active"`
	LastTestAt          time.Time         `json:"last_test_at,omitempty"`
	LastTestStatus      TestStatus        `json:"last_test_status"`
	LastTestLatencyMs   int64             `json:"last_test_latency_ms"`
	LastTestError       string            `json:"last_test_error,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Address returns host:port for logging and DSN construction.
func (c Connection) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TestResult captures the outcome of one connection test.
type TestResult struct {
	ConnectionID string        `json:"connection_id"`
	Passed       bool          `json:"passed"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
	TestedAt     time.Time     `json:"tested_at"`
}
