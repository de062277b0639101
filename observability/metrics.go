package observability

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"escrowd/native/escrow"
)

// EscrowMetrics tracks the outcome of every escrow operation handled by the
// node, labelled by operation and by rejection reason.
type EscrowMetrics struct {
	operations *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the process-wide escrow metrics, registering the collectors
// on first use.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_operations_total",
				Help: "Count of escrow operations by operation and outcome.",
			}, []string{"operation", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_rejections_total",
				Help: "Count of rejected escrow operations by operation and reason.",
			}, []string{"operation", "reason"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.rejections,
		)
	})
	return escrowRegistry
}

// RecordOperation increments the outcome counter for the operation and, on
// failure, the rejection counter with the classified reason.
func (m *EscrowMetrics) RecordOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if err == nil {
		m.operations.WithLabelValues(op, "ok").Inc()
		return
	}
	m.operations.WithLabelValues(op, "rejected").Inc()
	m.rejections.WithLabelValues(op, rejectionReason(err)).Inc()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, escrow.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, escrow.ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, escrow.ErrInvalidInitializer):
		return "invalid_initializer"
	case errors.Is(err, escrow.ErrInvalidArbiter):
		return "invalid_arbiter"
	case errors.Is(err, escrow.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, escrow.ErrTimeoutExpired):
		return "timeout_expired"
	case errors.Is(err, escrow.ErrRefundNotAllowed):
		return "refund_not_allowed"
	case errors.Is(err, escrow.ErrCancelNotAllowed):
		return "cancel_not_allowed"
	case errors.Is(err, escrow.ErrOverflow):
		return "overflow"
	case errors.Is(err, escrow.ErrInvalidBump):
		return "invalid_bump"
	case errors.Is(err, escrow.ErrRecordExists):
		return "record_exists"
	case errors.Is(err, escrow.ErrNotFound):
		return "not_found"
	case errors.Is(err, escrow.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "internal"
	}
}
