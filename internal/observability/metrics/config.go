package metrics

const (
	ExporterPrometheusRemoteWrite = "prometheus_remote_write"
	ExporterPrometheusPushgateway = "prometheus_pushgateway"
)

// Config carries the constant labels and the optional push target.
type Config struct {
	ServiceName string
	Environment string

	Exporter  string
	Endpoint  string
	AuthToken string
}
