package intent

import (
	"github.com/smallbiznis/ensmarket/internal/intent/repository"
	"github.com/smallbiznis/ensmarket/internal/intent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("intent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
