package models

import "fmt"

type DBType string

const (
	DBTypePostgres  DBType = "postgres"
	DBTypeSQLServer DBType = "sqlserver"
)

// DBConnectionConfig describes a connection to the target relational store.
type DBConnectionConfig struct {
	Type     DBType `json:"type"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

func (slf DBConnectionConfig) BuildConnectionString() string {
	switch slf.Type {
	case DBTypeSQLServer:
		return fmt.Sprintf("server=%s;port=%s;user id=%s;password=%s;database=%s",
			slf.Host, slf.Port, slf.Username, slf.Password, slf.Database)
	default:
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			slf.Host, slf.Port, slf.Username, slf.Password, slf.Database, slf.SSLMode)
	}
}
