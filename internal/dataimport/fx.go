package dataimport

import (
	"github.com/smallbiznis/tokenlens/internal/dataimport/repository"
	"github.com/smallbiznis/tokenlens/internal/dataimport/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dataimport.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
