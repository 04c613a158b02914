package main

import (
	_ "embed"

	"github.com/taldoflemis/pizzabox/pacchetto"
)

//go:embed base.yaml
var baseConfig []byte

type GatewaySettings struct {
	URL         string `mapstructure:"url" validate:"required,url"`
	AdminToken  string `mapstructure:"admintoken" validate:"required"`
	AdminHeader string `mapstructure:"adminheader" validate:"required"`
}

type MaestroSettings struct {
	Cooks                    int     `mapstructure:"cooks" validate:"required,min=1"`
	OrderBatchSize           int     `mapstructure:"order-batch-size" validate:"required,min=1"`
	FetchMaxWaitInSeconds    int     `mapstructure:"fetch-max-wait-in-seconds" validate:"required,min=1"`
	PrepDurationInSeconds    int     `mapstructure:"prep-duration-in-seconds" validate:"min=0"`
	OvenDurationInSeconds    int     `mapstructure:"oven-duration-in-seconds" validate:"min=0"`
	ProbabilityOfOversmoking float64 `mapstructure:"probability-of-oversmoking" validate:"gte=0,lte=1"`
	OversmokingFactor        float64 `mapstructure:"oversmoking-factor" validate:"required,gt=1"`
}

type Settings struct {
	App           pacchetto.AppSettings           `mapstructure:"app" validate:"required"`
	Maestro       MaestroSettings                 `mapstructure:"maestro" validate:"required"`
	Gateway       GatewaySettings                 `mapstructure:"gateway" validate:"required"`
	Nats          pacchetto.NatsSettings          `mapstructure:"nats" validate:"required"`
	OpenTelemetry pacchetto.OpenTelemetrySettings `mapstructure:"opentelemetry" validate:"required"`
}

func LoadConfig() (*Settings, error) {
	return pacchetto.LoadConfig[Settings]("MAESTRO", baseConfig)
}
