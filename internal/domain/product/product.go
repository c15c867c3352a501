// Package product holds the Product data model: one logical analysis-results
// database behind one URL endpoint, and its connection spec / schema status.
package product

import "strconv"

// SchemaStatus reports the health of a product's underlying Result Store.
type SchemaStatus string

const (
	StatusOK           SchemaStatus = "ok"
	StatusNeedsUpgrade SchemaStatus = "needs_upgrade"
	StatusBroken       SchemaStatus = "broken"
	StatusDisconnected SchemaStatus = "disconnected"
)

// ConnKind discriminates the two connection spec shapes a product may carry.
type ConnKind string

const (
	ConnSQLite   ConnKind = "sqlite"
	ConnPostgres ConnKind = "postgres"
)

// ConnSpec is the discriminated connection spec of spec §3: either a SQLite
// file path, or PostgreSQL host/port/user/password/db.
type ConnSpec struct {
	Kind ConnKind

	// SQLite
	SQLitePath string

	// PostgreSQL
	PGHost     string
	PGPort     int
	PGUser     string
	PGPassword string
	PGDatabase string
	PGSSLMode  string
}

// DSN renders the connection spec's PostgreSQL DSN form. Only valid when
// Kind == ConnPostgres.
func (c ConnSpec) DSN() string {
	sslmode := c.PGSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return "host=" + c.PGHost +
		" port=" + strconv.Itoa(c.PGPort) +
		" user=" + c.PGUser +
		" password=" + c.PGPassword +
		" dbname=" + c.PGDatabase +
		" sslmode=" + sslmode
}

// Record is the Product entity of spec §3.
type Record struct {
	Endpoint    string
	DisplayName string
	Description string
	Conn        ConnSpec
	Schema      SchemaStatus
}

// Summary is the externally visible, access-filtered view of a Record
// returned by listProducts.
type Summary struct {
	Endpoint    string
	DisplayName string
	Description string
	Schema      SchemaStatus
}

// Patch carries optional field updates for editProduct; nil fields are left
// unchanged.
type Patch struct {
	DisplayName *string
	Description *string
	Conn        *ConnSpec
}
