// Package version хранит сведения о сборке, заданные через -ldflags.
package version

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает коммит сборки.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// Fields возвращает поля сборки для стартовой записи журнала сервиса.
func Fields(component string) log.Fields {
	return log.Fields{
		"component": component,
		"version":   version,
		"commit":    commit,
		"built_at":  date,
	}
}

// RegisterBuildInfo публикует gauge foodorders_build_info со значением 1.
// Повторная регистрация того же сервиса не считается ошибкой.
func RegisterBuildInfo(registerer prometheus.Registerer, component string) error {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "foodorders_build_info",
		Help: "Build information of the running component",
		ConstLabels: prometheus.Labels{
			"component": component,
			"version":   version,
			"commit":    commit,
		},
	})
	if err := registerer.Register(gauge); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return fmt.Errorf("register build info: %w", err)
	}
	gauge.Set(1)
	return nil
}
