//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/biz"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/data"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/server"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Probe, *conf.CircuitBreaker, *conf.Notifier, *conf.Metrics, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newMeterProvider,
		newApp,
	))
}
