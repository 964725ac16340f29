package database

import (
	"fmt"

	"veriback/internal/domain"
)

// New builds the adapter matching the endpoint's engine.
func New(name string, ep domain.Endpoint) (domain.Database, error) {
	switch ep.Engine {
	case "postgresql":
		return NewPostgres(name, ep)
	case "mysql":
		return NewMySQL(name, ep)
	case "mongodb":
		return NewMongo(name, ep), nil
	}
	return nil, fmt.Errorf("unsupported database engine: %s", ep.Engine)
}
