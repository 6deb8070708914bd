package breaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/breaker"
)

var _ = Describe("Next", func() {
	var th breaker.Thresholds

	BeforeEach(func() {
		th = breaker.DefaultThresholds()
	})

	healthy := breaker.Signals{CallRate: 100, FailureRate: 1, AvgLatencyMs: 120}

	Context("when CLOSED", func() {
		It("stays closed when every signal is within bounds", func() {
			Expect(breaker.Next(breaker.Closed, healthy, th)).To(Equal(breaker.Closed))
		})

		It("opens when call rate and failure rate are both breached", func() {
			s := breaker.Signals{CallRate: 2500, FailureRate: 60}
			Expect(breaker.Next(breaker.Closed, s, th)).To(Equal(breaker.Open))
		})

		DescribeTable("degrades on a single breached condition",
			func(s breaker.Signals) {
				Expect(breaker.Next(breaker.Closed, s, th)).To(Equal(breaker.Degraded))
			},
			Entry("excessive calls", breaker.Signals{CallRate: 1500}),
			Entry("high failure rate", breaker.Signals{CallRate: 10, FailureRate: 75}),
			Entry("slow responses", breaker.Signals{CallRate: 10, AvgLatencyMs: 8000}),
		)

		It("degrades rather than opens on failures plus latency", func() {
			s := breaker.Signals{CallRate: 10, FailureRate: 90, AvgLatencyMs: 9000}
			Expect(breaker.Next(breaker.Closed, s, th)).To(Equal(breaker.Degraded))
		})
	})

	Context("when DEGRADED", func() {
		It("opens on the combined condition", func() {
			s := breaker.Signals{CallRate: 1200, FailureRate: 55}
			Expect(breaker.Next(breaker.Degraded, s, th)).To(Equal(breaker.Open))
		})

		It("closes once all conditions clear", func() {
			Expect(breaker.Next(breaker.Degraded, healthy, th)).To(Equal(breaker.Closed))
		})

		It("stays degraded while one condition holds", func() {
			s := breaker.Signals{CallRate: 10, AvgLatencyMs: 6000}
			Expect(breaker.Next(breaker.Degraded, s, th)).To(Equal(breaker.Degraded))
		})
	})

	Context("when OPEN", func() {
		It("stays open before the open timeout", func() {
			s := breaker.Signals{FailureRate: 100, SinceTransition: 4 * time.Minute}
			Expect(breaker.Next(breaker.Open, s, th)).To(Equal(breaker.Open))
		})

		It("moves to half-open after five minutes even with unchanged failures", func() {
			s := breaker.Signals{CallRate: 2500, FailureRate: 100, SinceTransition: 5 * time.Minute}
			Expect(breaker.Next(breaker.Open, s, th)).To(Equal(breaker.HalfOpen))
		})
	})

	Context("when HALF_OPEN", func() {
		It("closes when failures and latency are within bounds", func() {
			Expect(breaker.Next(breaker.HalfOpen, healthy, th)).To(Equal(breaker.Closed))
		})

		It("reopens while the failure rate is high", func() {
			s := breaker.Signals{FailureRate: 80}
			Expect(breaker.Next(breaker.HalfOpen, s, th)).To(Equal(breaker.Open))
		})

		It("remains half-open when only latency is high", func() {
			s := breaker.Signals{AvgLatencyMs: 7000}
			Expect(breaker.Next(breaker.HalfOpen, s, th)).To(Equal(breaker.HalfOpen))
		})
	})

	Context("when FORCE_OPEN", func() {
		DescribeTable("ignores every computed signal",
			func(s breaker.Signals) {
				Expect(breaker.Next(breaker.ForceOpen, s, th)).To(Equal(breaker.ForceOpen))
			},
			Entry("healthy", healthy),
			Entry("tripping", breaker.Signals{CallRate: 5000, FailureRate: 100}),
			Entry("long elapsed", breaker.Signals{SinceTransition: 24 * time.Hour}),
		)
	})

	It("is deterministic for identical inputs", func() {
		s := breaker.Signals{CallRate: 1100, FailureRate: 30, AvgLatencyMs: 100}
		first := breaker.Evaluate(breaker.Closed, s, th)
		for i := 0; i < 50; i++ {
			Expect(breaker.Evaluate(breaker.Closed, s, th)).To(Equal(first))
		}
	})

	It("treats an unknown state as CLOSED", func() {
		Expect(breaker.Next(breaker.State("BOGUS"), healthy, th)).To(Equal(breaker.Closed))
	})
})

var _ = Describe("Evaluate", func() {
	th := breaker.DefaultThresholds()

	It("classifies a call storm with failures as EXCESSIVE_CALLS", func() {
		tr := breaker.Evaluate(breaker.Closed, breaker.Signals{CallRate: 2500, FailureRate: 60}, th)
		Expect(tr.Changed()).To(BeTrue())
		Expect(tr.To).To(Equal(breaker.Open))
		Expect(tr.Trigger).To(Equal(breaker.TriggerExcessiveCalls))
		Expect(tr.Severity).To(Equal(breaker.SeverityCritical))
		Expect(tr.AutoRecoverable).To(BeTrue())
		Expect(tr.RequiresManualIntervention).To(BeFalse())
		Expect(tr.Reason).To(ContainSubstring("call rate"))
	})

	It("prefers HIGH_FAILURE_RATE when the call rate is below twice the threshold", func() {
		tr := breaker.Evaluate(breaker.Closed, breaker.Signals{CallRate: 1500, FailureRate: 60}, th)
		Expect(tr.To).To(Equal(breaker.Open))
		Expect(tr.Trigger).To(Equal(breaker.TriggerHighFailureRate))
		Expect(tr.Severity).To(Equal(breaker.SeverityHigh))
	})

	It("classifies slow responses", func() {
		tr := breaker.Evaluate(breaker.Closed, breaker.Signals{AvgLatencyMs: 9000}, th)
		Expect(tr.To).To(Equal(breaker.Degraded))
		Expect(tr.Trigger).To(Equal(breaker.TriggerSlowResponse))
		Expect(tr.Severity).To(Equal(breaker.SeverityMedium))
	})

	It("falls back to AUTO_RECOVERY when nothing is breached", func() {
		tr := breaker.Evaluate(breaker.Degraded, breaker.Signals{CallRate: 5}, th)
		Expect(tr.To).To(Equal(breaker.Closed))
		Expect(tr.Trigger).To(Equal(breaker.TriggerAutoRecovery))
		Expect(tr.Severity).To(Equal(breaker.SeverityLow))
	})

	It("labels the timed half-open promotion as AUTO_RECOVERY", func() {
		tr := breaker.Evaluate(breaker.Open, breaker.Signals{FailureRate: 90, SinceTransition: 6 * time.Minute}, th)
		Expect(tr.To).To(Equal(breaker.HalfOpen))
		Expect(tr.Trigger).To(Equal(breaker.TriggerAutoRecovery))
	})

	It("leaves trigger empty when nothing changes", func() {
		tr := breaker.Evaluate(breaker.Closed, breaker.Signals{}, th)
		Expect(tr.Changed()).To(BeFalse())
		Expect(tr.Trigger).To(BeEmpty())
	})
})

var _ = Describe("Manual and DependencyFailure", func() {
	It("marks forced opens as requiring manual intervention", func() {
		tr := breaker.Manual(breaker.Closed, breaker.ForceOpen, "vendor incident")
		Expect(tr.Trigger).To(Equal(breaker.TriggerManualOverride))
		Expect(tr.Severity).To(Equal(breaker.SeverityEmergency))
		Expect(tr.AutoRecoverable).To(BeFalse())
		Expect(tr.RequiresManualIntervention).To(BeTrue())
	})

	It("marks manual closes as not auto-recoverable", func() {
		tr := breaker.Manual(breaker.ForceOpen, breaker.Closed, "")
		Expect(tr.AutoRecoverable).To(BeFalse())
		Expect(tr.RequiresManualIntervention).To(BeFalse())
		Expect(tr.Reason).To(ContainSubstring("FORCE_OPEN -> CLOSED"))
	})

	It("trips closed breakers on dependency failure", func() {
		tr := breaker.DependencyFailure(breaker.Closed, "5 consecutive failed probes")
		Expect(tr.To).To(Equal(breaker.Open))
		Expect(tr.Trigger).To(Equal(breaker.TriggerDependencyFailure))
		Expect(tr.AutoRecoverable).To(BeFalse())
		Expect(tr.RequiresManualIntervention).To(BeTrue())
		Expect(tr.Severity).To(Equal(breaker.SeverityCritical))
	})

	It("does not touch forced or already open breakers", func() {
		Expect(breaker.DependencyFailure(breaker.ForceOpen, "x").Changed()).To(BeFalse())
		Expect(breaker.DependencyFailure(breaker.Open, "x").Changed()).To(BeFalse())
	})
})

var _ = Describe("ParseState", func() {
	It("accepts any case", func() {
		s, ok := breaker.ParseState("half_open")
		Expect(ok).To(BeTrue())
		Expect(s).To(Equal(breaker.HalfOpen))
	})

	It("rejects unknown names", func() {
		_, ok := breaker.ParseState("ajar")
		Expect(ok).To(BeFalse())
	})
})
