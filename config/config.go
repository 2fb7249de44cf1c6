package config

import "time"

type Config struct {
	DatabaseDSN      string
	MigrationDir     string
	KafkaHost        string
	OrderEventsTopic string
	RelayBatchSize   int
	RelayInterval    time.Duration
}

var DefaultConfig = Config{
	DatabaseDSN:      "root:1@tcp(localhost:3306)/commerce?parseTime=true",
	MigrationDir:     "migration/commerce",
	KafkaHost:        "localhost:29092",
	OrderEventsTopic: "ORDER_EVENTS_TOPIC",
	RelayBatchSize:   100,
	RelayInterval:    time.Second,
}
