package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// TextExport renders every registered metric family in Prometheus text
// exposition format. Embedders that want to mount a scrape endpoint
// should use Handler instead; TextExport exists for callers (tests,
// CLI output, log snapshots) that just need the rendered string
// without standing up an HTTP listener.
func (r *Registry) TextExport() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// Handler returns an http.Handler suitable for a caller-owned mux to
// mount as a scrape endpoint. This package never listens on a port
// itself.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
