package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain mencatat metrik ledger dan dokumen. Nilai nil aman dipakai.
type Domain struct {
	movements     *prometheus.CounterVec
	oversold      *prometheus.CounterVec
	documents     *prometheus.CounterVec
	createRetries *prometheus.CounterVec
	statusChanges *prometheus.CounterVec
}

// NewDomain mendaftarkan metrik domain pada registerer.
func NewDomain(registerer prometheus.Registerer) *Domain {
	d := &Domain{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_stock_movements_total",
			Help: "Stock movements recorded, by kind.",
		}, []string{"kind"}),
		oversold: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_oversell_total",
			Help: "Outbound movements larger than stock on hand, by oversell policy.",
		}, []string{"policy"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_documents_created_total",
			Help: "Documents committed, by kind.",
		}, []string{"kind"}),
		createRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_document_create_retries_total",
			Help: "Document create attempts retried, by kind and reason.",
		}, []string{"kind", "reason"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_document_status_changes_total",
			Help: "Document status transitions, by kind and target status.",
		}, []string{"kind", "status"}),
	}
	registerer.MustRegister(d.movements, d.oversold, d.documents, d.createRetries, d.statusChanges)
	return d
}

func (d *Domain) MovementRecorded(kind string) {
	if d != nil {
		d.movements.WithLabelValues(kind).Inc()
	}
}

func (d *Domain) Oversold(policy string) {
	if d != nil {
		d.oversold.WithLabelValues(policy).Inc()
	}
}

func (d *Domain) DocumentCreated(kind string) {
	if d != nil {
		d.documents.WithLabelValues(kind).Inc()
	}
}

func (d *Domain) CreateRetried(kind, reason string) {
	if d != nil {
		d.createRetries.WithLabelValues(kind, reason).Inc()
	}
}

func (d *Domain) StatusChanged(kind, status string) {
	if d != nil {
		d.statusChanges.WithLabelValues(kind, status).Inc()
	}
}
