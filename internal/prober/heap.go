package prober

import (
	"container/heap"
	"slices"
	"sync"
	"time"

	"github.com/edgegate/ingressd/internal/models"
	"github.com/edgegate/ingressd/pkg/healthcheck"
)

var _ heap.Interface = (*timeBasedHeap)(nil)

// Check is one scheduled probe cycle for one endpoint.
type Check struct {
	Group      models.GroupID
	Target     healthcheck.TargetAddr
	Settings   healthcheck.Settings
	Strategy   healthcheck.Strategy
	NextInvoke time.Time
}

func (c *Check) matches(group models.GroupID, target healthcheck.TargetAddr) bool {
	return c.Group == group && c.Target.Port == target.Port && c.Target.RealIP.Equal(target.RealIP)
}

type checkInvokeHeap struct {
	checkHeap timeBasedHeap
	guard     sync.Mutex
}

func newCheckInvokeHeap() *checkInvokeHeap {
	hp := &checkInvokeHeap{}
	heap.Init(&hp.checkHeap)
	return hp
}

func (h *checkInvokeHeap) updateAndGetTop() *Check {
	h.guard.Lock()
	defer h.guard.Unlock()

	if len(h.checkHeap) == 0 {
		return nil
	}
	h.checkHeap[0].NextInvoke = time.Now().Add(h.checkHeap[0].Settings.Interval)
	heap.Fix(&h.checkHeap, 0)
	return h.checkHeap[0]
}

func (h *checkInvokeHeap) getNextCheck() *Check {
	h.guard.Lock()
	defer h.guard.Unlock()

	if len(h.checkHeap) == 0 {
		return nil
	}
	return h.checkHeap[0]
}

func (h *checkInvokeHeap) find(group models.GroupID, target healthcheck.TargetAddr) int {
	return slices.IndexFunc(h.checkHeap, func(c *Check) bool {
		return c.matches(group, target)
	})
}

func (h *checkInvokeHeap) remove(group models.GroupID, target healthcheck.TargetAddr) bool {
	h.guard.Lock()
	defer h.guard.Unlock()

	index := h.find(group, target)
	if index < 0 {
		return false
	}
	heap.Remove(&h.checkHeap, index)
	return true
}

func (h *checkInvokeHeap) push(c *Check) bool {
	h.guard.Lock()
	defer h.guard.Unlock()

	if h.find(c.Group, c.Target) >= 0 {
		return false
	}
	heap.Push(&h.checkHeap, c)
	return true
}

type timeBasedHeap []*Check

func (t timeBasedHeap) Len() int {
	return len(t)
}

func (t timeBasedHeap) Less(i int, j int) bool {
	return t[i].NextInvoke.Before(t[j].NextInvoke)
}

func (t timeBasedHeap) Swap(i int, j int) {
	t[i], t[j] = t[j], t[i]
}

func (t *timeBasedHeap) Push(x any) {
	*t = append(*t, x.(*Check))
}

func (t *timeBasedHeap) Pop() any {
	if t.Len() == 0 {
		return nil
	}
	topVal := (*t)[t.Len()-1]
	*t = (*t)[:t.Len()-1]
	return topVal
}
