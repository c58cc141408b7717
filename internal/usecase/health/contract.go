package health

import "context"

// DBPinger checks vector database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// StoragePinger checks relational storage availability.
type StoragePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
