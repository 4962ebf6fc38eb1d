package eventbus

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

func TestEventBus(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "EventBus Suite")
}

func evt(id int64, typeName string) types.Event {
	return types.Event{EventType: types.EventCreated, ResourceID: id, ResourceTypeName: typeName, Timestamp: time.Now()}
}

var _ = Describe("Bus", func() {
	It("delivers an event to a matching subscriber", func() {
		b := New()
		_, ch := b.Subscribe(MatchAll)

		b.Publish(evt(1, "X"))

		Eventually(ch).Should(Receive(Equal(evt(1, "X"))))
	})

	It("never delivers events that fail the filter", func() {
		b := New()
		_, ch := b.Subscribe(ByResourceType("Y"))

		b.Publish(evt(1, "X"))

		Consistently(ch, "50ms").ShouldNot(Receive())
	})

	It("drops and counts when a subscriber's queue is full, without blocking the publisher", func() {
		b := New(WithQueueSize(1))
		id, ch := b.Subscribe(MatchAll)

		done := make(chan struct{})
		go func() {
			for i := 0; i < 100; i++ {
				b.Publish(evt(int64(i), "X"))
			}
			close(done)
		}()

		Eventually(done, "1s").Should(BeClosed())
		Expect(b.Dropped(id)).To(BeNumerically(">", 0))
		Expect(ch).To(Receive())
	})

	It("closes the subscriber channel on Unsubscribe", func() {
		b := New()
		id, ch := b.Subscribe(MatchAll)
		b.Unsubscribe(id)

		Eventually(ch).Should(BeClosed())
	})

	It("closes all subscribers on Close", func() {
		b := New()
		_, ch1 := b.Subscribe(MatchAll)
		_, ch2 := b.Subscribe(MatchAll)
		b.Close()

		Eventually(ch1).Should(BeClosed())
		Eventually(ch2).Should(BeClosed())
	})

	It("invokes the drop observer with the running total", func() {
		var lastTotal uint64
		b := New(WithQueueSize(1), WithDropObserver(func(_ string, total uint64) {
			lastTotal = total
		}))
		_, ch := b.Subscribe(MatchAll)
		_ = ch

		b.Publish(evt(1, "X"))
		b.Publish(evt(2, "X"))
		b.Publish(evt(3, "X"))

		Expect(lastTotal).To(BeNumerically(">=", 1))
	})
})
