package domain

import (
	"fmt"
	"net/url"
)

// Endpoint is a typed connection descriptor for one logical database
// instance. Adapters build their tool arguments and driver DSNs from it
// instead of interpolating ad-hoc strings.
type Endpoint struct {
	Engine       string
	Host         string
	Port         int
	Username     string
	Password     string
	Database     string
	SSLMode      string
	AuthDatabase string

	// SurfaceID names the container or remote execution surface the
	// instance runs in, when it is not directly addressable from here.
	SurfaceID string
}

func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// WithDatabase returns a copy of the endpoint pointed at another
// logical database on the same instance. Used to address per-unit
// verification namespaces on the shared verification target.
func (e Endpoint) WithDatabase(name string) Endpoint {
	e.Database = name
	return e
}

// PostgresDSN renders a lib/pq connection string.
func (e Endpoint) PostgresDSN() string {
	sslMode := e.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		e.Host, e.Port, e.Username, e.Password, e.Database, sslMode)
}

// MySQLDSN renders a go-sql-driver/mysql DSN.
func (e Endpoint) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		e.Username, e.Password, e.Host, e.Port, e.Database)
}

// MongoURI renders a mongodb:// URI for the shell tools.
func (e Endpoint) MongoURI() string {
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d/%s",
		url.QueryEscape(e.Username), url.QueryEscape(e.Password),
		e.Host, e.Port, e.Database)
	if e.AuthDatabase != "" {
		uri += "?authSource=" + e.AuthDatabase
	}
	return uri
}
