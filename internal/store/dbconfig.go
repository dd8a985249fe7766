package store

import (
	"fmt"
	"net/url"
	"strings"
)

// Config describes how to reach the relational store backing the Chain
// Store. Adapted from the teacher's cmd/clef/dbutil DSN-building
// convention, generalized from "kv password table" storage to the
// strand/tixel schema in schema.go.
type Config struct {
	Adapter  string // "sqlite3", "mysql", or "postgres"
	Username string
	Password string
	Protocol string // e.g. "tcp", mysql-only
	Host     string
	Port     string
	Database string // for sqlite3, the file path
	Params   map[string]string
}

// DataSourceName renders c into the DSN string accepted by sql.Open for
// the configured adapter.
func (c *Config) DataSourceName() string {
	switch c.Adapter {
	case "sqlite3", "":
		return c.Database
	case "mysql":
		return c.mysqlDSN()
	case "postgres":
		return c.postgresDSN()
	default:
		return c.Database
	}
}

func (c *Config) mysqlDSN() string {
	var b strings.Builder
	if c.Username != "" {
		b.WriteString(c.Username)
		if c.Password != "" {
			b.WriteString(":" + c.Password)
		}
		b.WriteString("@")
	}
	if c.Protocol != "" {
		b.WriteString(fmt.Sprintf("%s(%s:%s)", c.Protocol, c.Host, c.Port))
	}
	b.WriteString("/" + c.Database)
	if q := paramsQuery(c.Params); q != "" {
		b.WriteString("?" + q)
	}
	return b.String()
}

func (c *Config) postgresDSN() string {
	var b strings.Builder
	b.WriteString("postgresql://")
	if c.Username != "" {
		b.WriteString(c.Username)
		if c.Password != "" {
			b.WriteString(":" + c.Password)
		}
		b.WriteString("@")
	}
	b.WriteString(c.Host)
	if c.Port != "" {
		b.WriteString(":" + c.Port)
	}
	b.WriteString("/" + c.Database)
	if q := paramsQuery(c.Params); q != "" {
		b.WriteString("?" + q)
	}
	return b.String()
}

func paramsQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	vals := url.Values{}
	for k, v := range params {
		vals.Set(k, v)
	}
	return vals.Encode()
}

// DriverName returns the database/sql driver name registered for this
// adapter.
func (c *Config) DriverName() string {
	switch c.Adapter {
	case "mysql":
		return "mysql"
	case "postgres":
		return "postgres"
	default:
		return "sqlite3"
	}
}
