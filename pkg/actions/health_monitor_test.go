package actions_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/actions"
)

func TestActions(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Actions Suite")
}

type scriptedProber struct {
	mu      sync.Mutex
	results []bool
	calls   int
}

func (p *scriptedProber) Connected(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.results[min(p.calls, len(p.results)-1)]
	p.calls++
	return r
}

type recordingGauge struct {
	mu     sync.Mutex
	values []bool
}

func (g *recordingGauge) SetChainUp(up bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values = append(g.values, up)
}

func (g *recordingGauge) Values() []bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]bool(nil), g.values...)
}

var _ = Describe("HealthMonitor", func() {
	var logger *logrus.Logger

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)
	})

	It("rejects an interval outside the allowed range", func() {
		_, err := actions.NewHealthMonitor(&scriptedProber{results: []bool{true}}, nil, logger, actions.ActionConfig{Interval: time.Second})
		Expect(err).To(HaveOccurred())
	})

	It("feeds each probe to the gauge", func() {
		gauge := &recordingGauge{}
		m, err := actions.NewHealthMonitor(&scriptedProber{results: []bool{true, false}}, gauge, logger, actions.ActionConfig{})
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Name()).To(Equal("chain_health"))

		Expect(m.Probe(context.Background())).To(BeTrue())
		Expect(m.Probe(context.Background())).To(BeFalse())
		Expect(m.Up()).To(BeFalse())
		Expect(gauge.Values()).To(Equal([]bool{true, false}))
	})

	It("probes once at start and returns on Stop", func() {
		gauge := &recordingGauge{}
		m, err := actions.NewHealthMonitor(&scriptedProber{results: []bool{true}}, gauge, logger, actions.ActionConfig{Interval: time.Minute})
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error, 1)
		go func() { done <- m.Execute(context.Background()) }()

		Eventually(gauge.Values).Should(Equal([]bool{true}))
		m.Stop()
		m.Stop()
		Eventually(done).Should(Receive(BeNil()))
	})
})
