package sql

import (
	"go.uber.org/fx"

	"github.com/quayside/groupage/pkg/importer/core/config"
	"github.com/quayside/groupage/pkg/importer/core/domain/repository"
)

// NewJobRepositoryFromConfig builds the SQL job repository from the
// application configuration.
func NewJobRepositoryFromConfig(cfg *config.Config) (*SQLJobRepository, error) {
	return NewSQLJobRepository(cfg.Groupage.JobRepository.SQL)
}

// Module is an Fx module that provides the GORM-backed job repository.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewJobRepositoryFromConfig,
			fx.As(new(repository.JobRepository)),
		),
	),
)
