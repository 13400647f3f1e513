package repo

import "go.uber.org/zap"

type Repository struct {
	log    *zap.Logger
	client *RedisClient

	Sources    *SourceRepository
	Principals *PrincipalRepository
}

func NewRepository(log *zap.Logger, client *RedisClient) *Repository {
	log = log.Named("repo")

	return &Repository{
		log,
		client,
		newSourceRepository(log, client),
		newPrincipalRepository(log, client),
	}
}
