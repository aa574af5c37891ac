package database

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}

// mysqlDefaultParams are applied unless the operator overrides them. parseTime
// is mandatory for gorm to scan DATETIME columns into time.Time.
var mysqlDefaultParams = map[string]string{
	"charset":   "utf8mb4",
	"parseTime": "True",
	"loc":       "Local",
}

func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	identity := cfg.User
	if cfg.Password != "" {
		identity += ":" + cfg.Password
	}

	params := make(map[string]string, len(mysqlDefaultParams)+len(cfg.Options))
	for k, v := range mysqlDefaultParams {
		params[k] = v
	}
	for k, v := range cfg.Options {
		params[k] = v
	}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return fmt.Sprintf("%s@tcp(%s)/%s?%s", identity, addr, cfg.Name, strings.Join(pairs, "&")), nil
}
