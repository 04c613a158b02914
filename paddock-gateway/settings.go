package main

import (
	_ "embed"

	"github.com/shopspring/decimal"
	"github.com/taldoflemis/pizzabox/pacchetto"
)

//go:embed base.yaml
var baseConfig []byte

type AdminSettings struct {
	Token  string `mapstructure:"token" validate:"required"`
	Header string `mapstructure:"header" validate:"required"`
}

type SeedPizzaSettings struct {
	ID          string  `mapstructure:"id" validate:"required"`
	Name        string  `mapstructure:"name" validate:"required"`
	Description string  `mapstructure:"description" validate:"required"`
	Price       float64 `mapstructure:"price" validate:"gt=0"`
}

type MenuSettings struct {
	Seed []SeedPizzaSettings `mapstructure:"seed" validate:"dive"`
}

// Pizzas converts the seed entries to catalog records.
func (m MenuSettings) Pizzas() []Pizza {
	pizzas := make([]Pizza, 0, len(m.Seed))
	for _, s := range m.Seed {
		pizzas = append(pizzas, Pizza{
			PizzaID:     s.ID,
			Name:        s.Name,
			Description: s.Description,
			Price:       decimal.NewFromFloat(s.Price),
		})
	}
	return pizzas
}

type Settings struct {
	App           pacchetto.AppSettings           `mapstructure:"app" validate:"required"`
	HTTP          pacchetto.HTTPSettings          `mapstructure:"http" validate:"required"`
	OpenTelemetry pacchetto.OpenTelemetrySettings `mapstructure:"opentelemetry" validate:"required"`
	Nats          pacchetto.NatsSettings          `mapstructure:"nats"`
	Admin         AdminSettings                   `mapstructure:"admin" validate:"required"`
	Menu          MenuSettings                    `mapstructure:"menu"`
}

func LoadConfig() (*Settings, error) {
	return pacchetto.LoadConfig[Settings]("PADDOCKGATEWAY", baseConfig)
}
