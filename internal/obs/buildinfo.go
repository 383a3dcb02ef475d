package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildOnce sync.Once

	build = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taxagent_build_info",
			Help: "Always 1; labels carry the running build.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo publishes the running version once per label set.
func InitBuildInfo(version, commit string) {
	buildOnce.Do(func() { prometheus.MustRegister(build) })
	if commit == "" {
		commit = "unknown"
	}
	build.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
