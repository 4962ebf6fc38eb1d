package status

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wilsonge/no8s-operator/pkg/controlplane/types"
)

func TestStatusEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Status Engine Suite")
}

var _ = Describe("Apply", func() {
	var (
		cs  *types.ConditionSet
		t0  time.Time
	)

	BeforeEach(func() {
		cs = types.NewConditionSet()
		t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	})

	It("sets Reconciling=True and Ready=Unknown on reconcile start", func() {
		Apply(cs, TransitionStartReconciling, t0, 1, "", "")

		ready, _ := cs.Get(types.ConditionReady)
		Expect(ready.Status).To(Equal(types.ConditionUnknown))
		Expect(ready.Reason).To(Equal("ReconcileStarted"))

		reconciling, _ := cs.Get(types.ConditionReconciling)
		Expect(reconciling.Status).To(Equal(types.ConditionTrue))
	})

	It("advances lastTransitionTime when status changes across two transitions", func() {
		Apply(cs, TransitionStartReconciling, t0, 1, "", "")
		firstReconciling, _ := cs.Get(types.ConditionReconciling)

		t1 := t0.Add(time.Minute)
		Apply(cs, TransitionSuccess, t1, 1, "", "")
		secondReconciling, _ := cs.Get(types.ConditionReconciling)

		// Reconciling flips True -> False: the time must advance.
		Expect(secondReconciling.LastTransitionTime).To(Equal(t1))
		Expect(secondReconciling.LastTransitionTime).NotTo(Equal(firstReconciling.LastTransitionTime))
	})

	It("does not move lastTransitionTime when status repeats", func() {
		Apply(cs, TransitionSuccess, t0, 1, "", "")
		first, _ := cs.Get(types.ConditionDegraded)

		t1 := t0.Add(time.Hour)
		Apply(cs, TransitionSuccess, t1, 2, "", "")
		second, _ := cs.Get(types.ConditionDegraded)

		Expect(second.Status).To(Equal(first.Status))
		Expect(second.LastTransitionTime).To(Equal(first.LastTransitionTime))
		Expect(second.ObservedGeneration).To(Equal(int64(2)))
	})

	It("sets failure conditions from the reconciler's reported reason", func() {
		Apply(cs, TransitionFailure, t0, 3, "BoomError", "boom")

		ready, _ := cs.Get(types.ConditionReady)
		Expect(ready.Status).To(Equal(types.ConditionFalse))
		Expect(ready.Reason).To(Equal("BoomError"))

		degraded, _ := cs.Get(types.ConditionDegraded)
		Expect(degraded.Status).To(Equal(types.ConditionTrue))
		Expect(degraded.Message).To(Equal("boom"))
	})

	It("leaves Degraded untouched but stamps its observed generation on reconcile start", func() {
		Apply(cs, TransitionFailure, t0, 1, "Boom", "boom")
		before, _ := cs.Get(types.ConditionDegraded)

		Apply(cs, TransitionStartReconciling, t0.Add(time.Minute), 2, "", "")
		after, _ := cs.Get(types.ConditionDegraded)

		Expect(after.Status).To(Equal(before.Status))
		Expect(after.LastTransitionTime).To(Equal(before.LastTransitionTime))
		Expect(after.ObservedGeneration).To(Equal(int64(2)))
	})

	It("lists conditions from Slice in insertion order", func() {
		Apply(cs, TransitionStartReconciling, t0, 1, "", "")
		order := []string{}
		for _, c := range cs.Slice() {
			order = append(order, c.Type)
		}
		Expect(order).To(Equal([]string{types.ConditionReady, types.ConditionReconciling}))
	})
})
