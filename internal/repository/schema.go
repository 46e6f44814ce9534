package repository

import "fmt"

// Schema returns the DDL for the price and decision tables.
func Schema(database, candlesTable, decisionsTable string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    bucket DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    vol Float64
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, bucket)`, database, candlesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    id String,
    symbol LowCardinality(String),
    source LowCardinality(String),
    action LowCardinality(String),
    score Float64,
    trade_executed UInt8,
    computed_at DateTime64(3, 'UTC'),
    payload String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(computed_at)
ORDER BY (symbol, computed_at, id)`, database, decisionsTable),
	}
}
