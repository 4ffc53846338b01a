package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type statDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func() float64
}

func gauge(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(name, help, nil, nil)
}

// DatabaseStatsCollector exports sql.DB pool statistics for the postgres store
type DatabaseStatsCollector struct {
	db    *sql.DB
	descs []*prometheus.Desc
}

func NewDatabaseStatsCollector(db *sql.DB) *DatabaseStatsCollector {
	return &DatabaseStatsCollector{
		db: db,
		descs: []*prometheus.Desc{
			gauge("database_max_open_connections", "Maximum number of open connections to the database"),
			gauge("database_open_connections", "The number of established connections both in use and idle"),
			gauge("database_connections_in_use", "The number of connections currently in use"),
			gauge("database_connections_idle", "The number of idle connections"),
			gauge("database_wait_count_total", "The total number of connections waited for"),
			gauge("database_wait_duration_seconds_total", "The total time blocked waiting for a new connection"),
		},
	}
}

func (c *DatabaseStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *DatabaseStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.db.Stats()
	values := []statDesc{
		{c.descs[0], prometheus.GaugeValue, func() float64 { return float64(stats.MaxOpenConnections) }},
		{c.descs[1], prometheus.GaugeValue, func() float64 { return float64(stats.OpenConnections) }},
		{c.descs[2], prometheus.GaugeValue, func() float64 { return float64(stats.InUse) }},
		{c.descs[3], prometheus.GaugeValue, func() float64 { return float64(stats.Idle) }},
		{c.descs[4], prometheus.CounterValue, func() float64 { return float64(stats.WaitCount) }},
		{c.descs[5], prometheus.CounterValue, func() float64 { return stats.WaitDuration.Seconds() }},
	}
	for _, v := range values {
		ch <- prometheus.MustNewConstMetric(v.desc, v.kind, v.value())
	}
}

// RedisStatsCollector exports go-redis pool statistics
type RedisStatsCollector struct {
	client redis.UniversalClient
	descs  []*prometheus.Desc
}

func NewRedisStatsCollector(client redis.UniversalClient) *RedisStatsCollector {
	return &RedisStatsCollector{
		client: client,
		descs: []*prometheus.Desc{
			gauge("redis_pool_hits_total", "Number of times free connection was found in the pool"),
			gauge("redis_pool_misses_total", "Number of times free connection was NOT found in the pool"),
			gauge("redis_pool_timeouts_total", "Number of times a wait timeout occurred"),
			gauge("redis_pool_total_connections", "Number of total connections in the pool"),
			gauge("redis_pool_idle_connections", "Number of idle connections in the pool"),
		},
	}
}

func (c *RedisStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *RedisStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.client.PoolStats()
	values := []statDesc{
		{c.descs[0], prometheus.CounterValue, func() float64 { return float64(stats.Hits) }},
		{c.descs[1], prometheus.CounterValue, func() float64 { return float64(stats.Misses) }},
		{c.descs[2], prometheus.CounterValue, func() float64 { return float64(stats.Timeouts) }},
		{c.descs[3], prometheus.GaugeValue, func() float64 { return float64(stats.TotalConns) }},
		{c.descs[4], prometheus.GaugeValue, func() float64 { return float64(stats.IdleConns) }},
	}
	for _, v := range values {
		ch <- prometheus.MustNewConstMetric(v.desc, v.kind, v.value())
	}
}

// RegisterCollectors registers pool collectors for whichever clients are in use
func RegisterCollectors(db *sql.DB, redisClient redis.UniversalClient) {
	if db != nil {
		prometheus.MustRegister(NewDatabaseStatsCollector(db))
	}
	if redisClient != nil {
		prometheus.MustRegister(NewRedisStatsCollector(redisClient))
	}
}
